package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`

	JWTSecret         string `env:"JWT_SECRET"`
	ResetTokenSecret  string `env:"RESET_TOKEN_SECRET"`
	AccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	RefreshTTLHours   int    `env:"REFRESH_TTL_HOURS" envDefault:"168"`
	ResetTTLMinutes   int    `env:"RESET_TTL_MINUTES" envDefault:"10"`
	MinPasswordLength int    `env:"MIN_PASSWORD_LENGTH" envDefault:"8"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"Pursuit Pal"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction indica si el servicio corre en modo producción.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// ResetSecret devuelve el secreto usado para hashear reset tokens,
// con fallback al secreto de JWT.
func (c *Config) ResetSecret() string {
	if c.ResetTokenSecret != "" {
		return c.ResetTokenSecret
	}
	return c.JWTSecret
}
