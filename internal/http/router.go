package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pursuitpal/internal/repository"
	"pursuitpal/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas de auth.
func NewRouter(
	logger *zap.Logger,
	authH *AuthHandler,
	tokens *service.TokenService,
	users repository.UserRepository,
	lookupCache service.UserLookupCache,
) *gin.Engine {
	r := gin.New()

	// Middlewares básicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	gate := AuthGate(logger, tokens, users, lookupCache)

	auth := r.Group("/api/v1/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)
	auth.POST("/refresh-token", authH.RefreshToken)
	auth.POST("/forgot-password", authH.ForgotPassword)
	auth.POST("/reset-password/:token", authH.ResetPassword)
	auth.GET("/check-reset-token/:token", authH.CheckResetToken)

	auth.POST("/logout", gate, authH.Logout)
	auth.GET("/me", gate, authH.Me)
	auth.PATCH("/update-password", gate, authH.UpdatePassword)
	auth.PATCH("/update-profile", gate, authH.UpdateProfile)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
