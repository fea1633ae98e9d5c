package domain

import "time"

// Plan describe un plan de suscripción del catálogo.
// El núcleo de auth sólo lo lee para asignar el plan "free" al registrarse.
type Plan struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	PriceMonthly int64     `json:"price_monthly"`
	PriceYearly  int64     `json:"price_yearly"`
	Currency     string    `json:"currency"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// FreePlanName es el plan asignado por defecto en el signup.
const FreePlanName = "free"
