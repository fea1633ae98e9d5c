package domain

import "time"

// User es el registro de credenciales; los campos sensibles
// nunca se serializan hacia afuera.
type User struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	CurrentPlanID  string     `json:"current_plan_id,omitempty"`
	RefreshToken   string     `json:"-"`
	ResetTokenHash string     `json:"-"`
	ResetExpiresAt *time.Time `json:"-"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
