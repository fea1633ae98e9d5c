package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pursuitpal/internal/domain"
	"pursuitpal/internal/email"
	"pursuitpal/internal/repository"
)

// AuthService coordina el ciclo de vida de las sesiones: emisión y
// rotación del par access/refresh, y el flujo de recuperación de
// contraseña.
type AuthService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	plans       repository.PlanRepository
	tokens      *TokenService
	mailer      email.Mailer
	frontendURL string
	minPassword int
}

func NewAuthService(
	logger *zap.Logger,
	users repository.UserRepository,
	plans repository.PlanRepository,
	tokens *TokenService,
	mailer email.Mailer,
	frontendURL string,
	minPassword int,
) *AuthService {
	if minPassword <= 0 {
		minPassword = 8
	}
	return &AuthService{
		logger:      logger,
		users:       users,
		plans:       plans,
		tokens:      tokens,
		mailer:      mailer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		minPassword: minPassword,
	}
}

var (
	ErrInvalidEmail        = errors.New("invalid email")
	ErrWeakPassword        = errors.New("password too short")
	ErrDuplicateEmail      = errors.New("email already in use")
	ErrFreePlanMissing     = errors.New("free plan not available")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrConcurrentRefresh   = errors.New("refresh token rotated concurrently")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailSendFailure    = errors.New("email send failed")
)

// Session es el resultado de toda operación que emite cookies: el
// usuario saneado y el par de tokens a colocar en ellas.
type Session struct {
	User         domain.User
	AccessToken  string
	RefreshToken string
}

type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// Signup registra al usuario en el plan free y abre su primera sesión.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (Session, error) {
	emailAddr := normalizeEmail(input.Email)
	if emailAddr == "" {
		return Session{}, ErrInvalidEmail
	}
	if len(input.Password) < s.minPassword {
		return Session{}, ErrWeakPassword
	}

	freePlan, err := s.plans.GetByName(ctx, domain.FreePlanName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrFreePlanMissing
		}
		return Session{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}

	refreshToken, err := s.tokens.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}

	user := domain.User{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(input.Name),
		Email:         emailAddr,
		PasswordHash:  string(passwordHash),
		CurrentPlanID: freePlan.ID,
		RefreshToken:  refreshToken,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return Session{}, ErrDuplicateEmail
		}
		return Session{}, err
	}

	accessToken, err := s.tokens.SignAccessToken(user.ID)
	if err != nil {
		return Session{}, err
	}

	// El correo de bienvenida nunca bloquea ni falla el registro.
	s.mailer.Dispatch(email.Message{
		To:       user.Email,
		Template: email.TemplateWelcome,
		Data: map[string]string{
			"name":     user.Name,
			"planName": freePlan.Name,
			"loginUrl": s.frontendURL + "/login",
		},
	})

	return Session{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Login verifica credenciales y emite un par nuevo, invalidando
// cualquier refresh token anterior del usuario.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Mismo error que con contraseña incorrecta: no se
			// distingue email desconocido de password inválido.
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		// Best-effort: no es motivo para rechazar el login.
		s.logger.Warn("touch last login failed", zap.Error(err), zap.String("user_id", user.ID))
	} else {
		user.LastLoginAt = &now
	}

	return s.issueSession(ctx, user)
}

// Refresh valida el token presentado y rota: el token viejo queda
// inválido de forma permanente en cuanto el CAS reemplaza el slot.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, ErrInvalidRefreshToken
	}

	user, err := s.users.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, err
	}

	newRefresh, err := s.tokens.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.users.RotateRefreshToken(ctx, user.ID, refreshToken, newRefresh); err != nil {
		if errors.Is(err, repository.ErrStaleRefreshToken) {
			return Session{}, ErrConcurrentRefresh
		}
		return Session{}, err
	}

	accessToken, err := s.tokens.SignAccessToken(user.ID)
	if err != nil {
		return Session{}, err
	}

	user.RefreshToken = newRefresh
	return Session{User: user, AccessToken: accessToken, RefreshToken: newRefresh}, nil
}

// Logout limpia el refresh token del usuario. Es idempotente: cerrar
// una sesión ya cerrada no es un error.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.users.ClearRefreshToken(ctx, userID)
}

// ForgotPassword responde igual exista o no el email; cuando existe,
// guarda sólo el hash del token y envía el enlace por correo. Si el
// correo falla, los campos de reset se revierten para no dejar un
// estado atascado.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrInvalidEmail
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	plainToken, tokenHash, err := s.tokens.NewResetToken()
	if err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(s.tokens.ResetTTL())
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, expiresAt); err != nil {
		return err
	}

	msg := email.Message{
		To:       user.Email,
		Template: email.TemplateResetPassword,
		Data: map[string]string{
			"name":       user.Name,
			"resetUrl":   fmt.Sprintf("%s/reset-password/%s", s.frontendURL, plainToken),
			"ttlMinutes": fmt.Sprintf("%d", int(s.tokens.ResetTTL().Minutes())),
		},
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("reset email send failed", zap.Error(err), zap.String("user_id", user.ID))
		if clearErr := s.users.ClearResetToken(ctx, user.ID); clearErr != nil {
			s.logger.Error("reset token rollback failed", zap.Error(clearErr), zap.String("user_id", user.ID))
		}
		return ErrEmailSendFailure
	}
	return nil
}

// CheckResetToken valida el token sin consumirlo; chequeo previo para
// la UX del cliente.
func (s *AuthService) CheckResetToken(ctx context.Context, token string) error {
	_, err := s.lookupByResetToken(ctx, token)
	return err
}

// ResetPassword consume el token: fija el nuevo password, limpia ambos
// campos de reset en un solo UPDATE y abre sesión (reset exitoso cuenta
// como login implícito).
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (Session, error) {
	if len(newPassword) < s.minPassword {
		return Session{}, ErrWeakPassword
	}

	user, err := s.lookupByResetToken(ctx, token)
	if err != nil {
		return Session{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.ResetPassword(ctx, user.ID, string(passwordHash)); err != nil {
		return Session{}, err
	}
	user.PasswordHash = string(passwordHash)
	user.ResetTokenHash = ""
	user.ResetExpiresAt = nil

	return s.issueSession(ctx, user)
}

// ChangePassword exige el password actual y reemite el par de tokens.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (Session, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrUserNotFound
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if len(newPassword) < s.minPassword {
		return Session{}, ErrWeakPassword
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(passwordHash)); err != nil {
		return Session{}, err
	}
	user.PasswordHash = string(passwordHash)

	return s.issueSession(ctx, user)
}

// UpdateProfile actualiza nombre y/o email del usuario autenticado.
func (s *AuthService) UpdateProfile(ctx context.Context, userID, name, emailAddr string) (domain.User, error) {
	if emailAddr != "" {
		emailAddr = normalizeEmail(emailAddr)
		if emailAddr == "" {
			return domain.User{}, ErrInvalidEmail
		}
	}
	name = strings.TrimSpace(name)

	if err := s.users.UpdateProfile(ctx, userID, name, emailAddr); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

// CurrentUser devuelve el usuario saneado con su plan poblado.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (domain.User, domain.Plan, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.Plan{}, ErrUserNotFound
		}
		return domain.User{}, domain.Plan{}, err
	}

	var plan domain.Plan
	if user.CurrentPlanID != "" {
		plan, err = s.plans.GetByID(ctx, user.CurrentPlanID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.Plan{}, err
		}
	}
	return user, plan, nil
}

func (s *AuthService) lookupByResetToken(ctx context.Context, token string) (domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, ErrInvalidResetToken
	}
	hash := s.tokens.HashResetToken(token)
	user, err := s.users.GetByResetTokenHash(ctx, hash, time.Now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidResetToken
		}
		return domain.User{}, err
	}
	return user, nil
}

// issueSession firma un access token nuevo y reemplaza el refresh token
// almacenado (slot único: cualquier sesión previa queda invalidada).
func (s *AuthService) issueSession(ctx context.Context, user domain.User) (Session, error) {
	accessToken, err := s.tokens.SignAccessToken(user.ID)
	if err != nil {
		return Session{}, err
	}
	refreshToken, err := s.tokens.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return Session{}, err
	}
	user.RefreshToken = refreshToken
	return Session{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}
