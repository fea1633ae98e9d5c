package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pursuitpal/internal/service"
)

// CodeConcurrentRefresh marca al perdedor de una rotación concurrente;
// su "nuevo" token nunca llegó a ser válido.
const CodeConcurrentRefresh = "CONCURRENT_REFRESH"

// AuthHandler mantiene dependencias para los endpoints de auth.
type AuthHandler struct {
	logger     *zap.Logger
	authServ   *service.AuthService
	cookies    CookieWriter
	production bool
}

func NewAuthHandler(logger *zap.Logger, authServ *service.AuthService, cookies CookieWriter, production bool) *AuthHandler {
	return &AuthHandler{
		logger:     logger,
		authServ:   authServ,
		cookies:    cookies,
		production: production,
	}
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "Please provide name, email and password")
		return
	}

	session, err := h.authServ.Signup(c.Request.Context(), service.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateEmail):
			respondError(c, http.StatusBadRequest, "Email already in use")
		case errors.Is(err, service.ErrInvalidEmail):
			respondError(c, http.StatusBadRequest, "Please provide a valid email address")
		case errors.Is(err, service.ErrWeakPassword):
			respondError(c, http.StatusBadRequest, "Password does not meet the minimum length")
		case errors.Is(err, service.ErrFreePlanMissing):
			// Mala configuración del catálogo, no un error del usuario.
			h.logger.Error("free plan missing", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "System error: Free plan not available")
		default:
			h.logger.Error("registration failed", zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "Registration failed", err)
		}
		return
	}

	h.cookies.SetSession(c, session.AccessToken, session.RefreshToken)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "User registered successfully",
		"user":    session.User,
	})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "Please provide email and password")
		return
	}

	session, err := h.authServ.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "Login failed", err)
		return
	}

	h.cookies.SetSession(c, session.AccessToken, session.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful",
		"user":    session.User,
	})
}

// RefreshToken maneja POST /auth/refresh-token.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	refreshToken, err := c.Cookie(refreshTokenCookie)
	if err != nil || refreshToken == "" {
		respondError(c, http.StatusBadRequest, "Refresh token not found")
		return
	}

	session, err := h.authServ.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRefreshToken):
			// El valor presentado ya no es válido; se limpia la cookie
			// para que el cliente no lo reintente.
			h.cookies.ClearRefresh(c)
			respondError(c, http.StatusUnauthorized, "Invalid refresh token")
		case errors.Is(err, service.ErrConcurrentRefresh):
			respondErrorCode(c, http.StatusConflict, "Refresh token was rotated by a concurrent request", CodeConcurrentRefresh)
		default:
			h.logger.Error("refresh failed", zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "Failed to refresh token", err)
		}
		return
	}

	h.cookies.SetSession(c, session.AccessToken, session.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Token refreshed successfully",
	})
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Access token not found")
		return
	}

	if err := h.authServ.Logout(c.Request.Context(), userID); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "Failed to logout", err)
		return
	}

	h.cookies.ClearSession(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out successfully",
	})
}

// ForgotPassword maneja POST /auth/forgot-password. La respuesta es la
// misma exista o no el email: no se revela qué direcciones están
// registradas.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Please provide your email address")
		return
	}

	if err := h.authServ.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrEmailSendFailure) {
			respondError(c, http.StatusInternalServerError, "Could not send reset email")
			return
		}
		if errors.Is(err, service.ErrInvalidEmail) {
			respondError(c, http.StatusBadRequest, "Please provide a valid email address")
			return
		}
		h.logger.Error("forgot password failed", zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "Failed to process request", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "If your email is registered, you will receive a password reset link",
	})
}

// CheckResetToken maneja GET /auth/check-reset-token/:token.
func (h *AuthHandler) CheckResetToken(c *gin.Context) {
	err := h.authServ.CheckResetToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidResetToken) {
			respondError(c, http.StatusBadRequest, "Invalid or expired reset token")
			return
		}
		h.logger.Error("check reset token failed", zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "Failed to validate token", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Token is valid",
	})
}

// ResetPassword maneja POST /auth/reset-password/:token.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Please provide a new password")
		return
	}

	session, err := h.authServ.ResetPassword(c.Request.Context(), c.Param("token"), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidResetToken):
			respondError(c, http.StatusBadRequest, "Invalid or expired reset token")
		case errors.Is(err, service.ErrWeakPassword):
			respondError(c, http.StatusBadRequest, "Password does not meet the minimum length")
		default:
			h.logger.Error("reset password failed", zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "Failed to reset password", err)
		}
		return
	}

	h.cookies.SetSession(c, session.AccessToken, session.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password reset successful",
	})
}

// UpdatePassword maneja PATCH /auth/update-password.
func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Access token not found")
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword" binding:"required"`
		NewPassword     string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Please provide current and new password")
		return
	}

	session, err := h.authServ.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			respondError(c, http.StatusUnauthorized, "Current password is incorrect")
		case errors.Is(err, service.ErrWeakPassword):
			respondError(c, http.StatusBadRequest, "Password does not meet the minimum length")
		case errors.Is(err, service.ErrUserNotFound):
			respondError(c, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("update password failed", zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "Failed to update password", err)
		}
		return
	}

	h.cookies.SetSession(c, session.AccessToken, session.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password updated successfully",
	})
}

// UpdateProfile maneja PATCH /auth/update-profile.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Access token not found")
		return
	}

	var req struct {
		Name  string `json:"name"`
		Email string `json:"email" binding:"omitempty,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid profile data")
		return
	}

	user, err := h.authServ.UpdateProfile(c.Request.Context(), userID, req.Name, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateEmail):
			respondError(c, http.StatusBadRequest, "Email already in use by another account")
		case errors.Is(err, service.ErrUserNotFound):
			respondError(c, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("update profile failed", zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "Failed to update profile", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Profile updated successfully",
		"user":    user,
	})
}

// Me maneja GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "Access token not found")
		return
	}

	user, plan, err := h.authServ.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			respondError(c, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("get current user failed", zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "Failed to retrieve user profile", err)
		return
	}

	body := gin.H{
		"success": true,
		"user":    user,
	}
	if plan.ID != "" {
		body["current_plan"] = gin.H{"id": plan.ID, "name": plan.Name}
	}
	c.JSON(http.StatusOK, body)
}

func (h *AuthHandler) fail(c *gin.Context, status int, message string, err error) {
	c.JSON(status, errorBody(message, "", err, h.production))
}
