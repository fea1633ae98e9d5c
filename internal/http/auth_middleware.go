package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"pursuitpal/internal/repository"
	"pursuitpal/internal/service"
)

const authUserIDKey = "auth_user_id"

// userExistsTTL acota cuánto puede sobrevivir en caché la respuesta
// del re-chequeo de existencia.
const userExistsTTL = 30 * time.Second

// CodeTokenExpired permite al cliente disparar refresh-and-retry sin
// mostrar un error al usuario.
const CodeTokenExpired = "TOKEN_EXPIRED"

// AuthGate convierte la cookie de access token (o el header Bearer,
// para clientes no-browser) en la identidad verificada del caller.
func AuthGate(
	logger *zap.Logger,
	tokens *service.TokenService,
	users repository.UserRepository,
	cache service.UserLookupCache,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractAccessToken(c)
		if token == "" {
			respondError(c, http.StatusUnauthorized, "Access token not found")
			c.Abort()
			return
		}

		claims, err := tokens.ParseAccessToken(token)
		if err != nil {
			if errors.Is(err, service.ErrJWTExpired) {
				respondErrorCode(c, http.StatusUnauthorized, "Access token expired", CodeTokenExpired)
			} else {
				respondError(c, http.StatusUnauthorized, "Invalid access token")
			}
			c.Abort()
			return
		}

		exists, err := userStillExists(c, users, cache, claims.UserID)
		if err != nil {
			// Sólo fallos con forma de credencial son 401; esto es un 500.
			logger.Error("auth gate user lookup failed", zap.Error(err), zap.String("user_id", claims.UserID))
			respondError(c, http.StatusInternalServerError, "Token verification failed")
			c.Abort()
			return
		}
		if !exists {
			respondError(c, http.StatusUnauthorized, "User no longer exists")
			c.Abort()
			return
		}

		c.Set(authUserIDKey, claims.UserID)
		c.Next()
	}
}

func extractAccessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(accessTokenCookie); err == nil && cookie != "" {
		return cookie
	}
	// Compatibilidad con clientes viejos que mandan el header.
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

func userStillExists(c *gin.Context, users repository.UserRepository, cache service.UserLookupCache, userID string) (bool, error) {
	if cache != nil {
		if exists, ok := cache.Get(userID); ok {
			return exists, nil
		}
	}
	_, err := users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if cache != nil {
				cache.Set(userID, false, userExistsTTL)
			}
			return false, nil
		}
		return false, err
	}
	if cache != nil {
		cache.Set(userID, true, userExistsTTL)
	}
	return true, nil
}

// GetAuthUserID obtiene la identidad inyectada por AuthGate.
func GetAuthUserID(c *gin.Context) (string, bool) {
	val, ok := c.Get(authUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}
