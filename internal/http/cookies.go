package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Nombres de cookie heredados del contrato con el frontend.
const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
)

// CookieWriter coloca y limpia las cookies de sesión. HTTP-only siempre,
// Secure según el modo de despliegue, SameSite estricto.
type CookieWriter struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCookieWriter(secure bool, accessTTL, refreshTTL time.Duration) CookieWriter {
	return CookieWriter{
		secure:     secure,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (w CookieWriter) SetSession(c *gin.Context, accessToken, refreshToken string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(accessTokenCookie, accessToken, int(w.accessTTL.Seconds()), "/", "", w.secure, true)
	c.SetCookie(refreshTokenCookie, refreshToken, int(w.refreshTTL.Seconds()), "/", "", w.secure, true)
}

func (w CookieWriter) ClearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(accessTokenCookie, "", -1, "/", "", w.secure, true)
	c.SetCookie(refreshTokenCookie, "", -1, "/", "", w.secure, true)
}

func (w CookieWriter) ClearRefresh(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshTokenCookie, "", -1, "/", "", w.secure, true)
}
