package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"pursuitpal/internal/domain"
	"pursuitpal/internal/email"
	"pursuitpal/internal/repository"
)

type mockUserRepo struct {
	mu      sync.Mutex
	users   map[string]domain.User
	byEmail map[string]string

	// afterRefreshLookup corre tras un GetByRefreshToken exitoso;
	// permite simular una rotación concurrente en la ventana read-then-write.
	afterRefreshLookup func()
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		users:   make(map[string]domain.User),
		byEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[user.Email]; exists {
		return repository.ErrDuplicateEmail
	}
	m.users[user.ID] = user
	m.byEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, emailAddr string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[emailAddr]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.users[id], nil
}

func (m *mockUserRepo) GetByRefreshToken(_ context.Context, token string) (domain.User, error) {
	m.mu.Lock()
	var found *domain.User
	for _, user := range m.users {
		if user.RefreshToken != "" && user.RefreshToken == token {
			u := user
			found = &u
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return domain.User{}, pgx.ErrNoRows
	}
	if m.afterRefreshLookup != nil {
		m.afterRefreshLookup()
	}
	return *found, nil
}

func (m *mockUserRepo) GetByResetTokenHash(_ context.Context, hash string, now time.Time) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ResetTokenHash != "" && user.ResetTokenHash == hash &&
			user.ResetExpiresAt != nil && user.ResetExpiresAt.After(now) {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *mockUserRepo) SetRefreshToken(_ context.Context, id, token string) error {
	return m.mutate(id, func(u *domain.User) { u.RefreshToken = token })
}

func (m *mockUserRepo) RotateRefreshToken(_ context.Context, id, oldToken, newToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || user.RefreshToken != oldToken {
		return repository.ErrStaleRefreshToken
	}
	user.RefreshToken = newToken
	m.users[id] = user
	return nil
}

func (m *mockUserRepo) ClearRefreshToken(_ context.Context, id string) error {
	return m.mutate(id, func(u *domain.User) { u.RefreshToken = "" })
}

func (m *mockUserRepo) SetResetToken(_ context.Context, id, hash string, expiresAt time.Time) error {
	return m.mutate(id, func(u *domain.User) {
		u.ResetTokenHash = hash
		u.ResetExpiresAt = &expiresAt
	})
}

func (m *mockUserRepo) ClearResetToken(_ context.Context, id string) error {
	return m.mutate(id, func(u *domain.User) {
		u.ResetTokenHash = ""
		u.ResetExpiresAt = nil
	})
}

func (m *mockUserRepo) ResetPassword(_ context.Context, id, passwordHash string) error {
	return m.mutate(id, func(u *domain.User) {
		u.PasswordHash = passwordHash
		u.ResetTokenHash = ""
		u.ResetExpiresAt = nil
	})
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return m.mutate(id, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, id, name, emailAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if emailAddr != "" && emailAddr != user.Email {
		if _, taken := m.byEmail[emailAddr]; taken {
			return repository.ErrDuplicateEmail
		}
		delete(m.byEmail, user.Email)
		user.Email = emailAddr
		m.byEmail[emailAddr] = id
	}
	if name != "" {
		user.Name = name
	}
	m.users[id] = user
	return nil
}

func (m *mockUserRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return m.mutate(id, func(u *domain.User) { u.LastLoginAt = &at })
}

func (m *mockUserRepo) mutate(id string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(&user)
	m.users[id] = user
	return nil
}

type mockPlanRepo struct {
	plans map[string]domain.Plan
}

func newMockPlanRepo(plans ...domain.Plan) *mockPlanRepo {
	m := &mockPlanRepo{plans: make(map[string]domain.Plan)}
	for _, p := range plans {
		m.plans[p.Name] = p
	}
	return m
}

func (m *mockPlanRepo) GetByName(_ context.Context, name string) (domain.Plan, error) {
	plan, ok := m.plans[name]
	if !ok {
		return domain.Plan{}, pgx.ErrNoRows
	}
	return plan, nil
}

func (m *mockPlanRepo) GetByID(_ context.Context, id string) (domain.Plan, error) {
	for _, plan := range m.plans {
		if plan.ID == id {
			return plan, nil
		}
	}
	return domain.Plan{}, pgx.ErrNoRows
}

type mockMailer struct {
	mu         sync.Mutex
	sent       []email.Message
	dispatched []email.Message
	failSend   bool
}

func (m *mockMailer) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockMailer) Dispatch(msg email.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched = append(m.dispatched, msg)
}

func freePlan() domain.Plan {
	return domain.Plan{ID: "plan-free", Name: domain.FreePlanName, IsActive: true}
}

func newTestAuthService(users repository.UserRepository, plans repository.PlanRepository, mailer email.Mailer) *AuthService {
	tokens := NewTokenService("secret", "reset-secret", 15*time.Minute, 7*24*time.Hour, 10*time.Minute)
	return NewAuthService(zap.NewNop(), users, plans, tokens, mailer, "https://app.example.com", 8)
}

func TestAuthService_SignupAssignsFreePlanAndSession(t *testing.T) {
	users := newMockUserRepo()
	mailer := &mockMailer{}
	svc := newTestAuthService(users, newMockPlanRepo(freePlan()), mailer)

	session, err := svc.Signup(context.Background(), SignupInput{
		Name:     "Ada",
		Email:    "Ada@X.com",
		Password: "secret123",
	})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if session.User.Email != "ada@x.com" {
		t.Fatalf("expected normalized email, got %q", session.User.Email)
	}
	if session.User.CurrentPlanID != "plan-free" {
		t.Fatalf("expected free plan assigned, got %q", session.User.CurrentPlanID)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("expected access and refresh tokens")
	}

	stored, err := users.GetByEmail(context.Background(), "ada@x.com")
	if err != nil {
		t.Fatalf("get stored user: %v", err)
	}
	if stored.RefreshToken != session.RefreshToken {
		t.Fatalf("refresh token not persisted")
	}
	if stored.PasswordHash == "secret123" {
		t.Fatalf("password stored in plaintext")
	}

	if len(mailer.dispatched) != 1 || mailer.dispatched[0].Template != email.TemplateWelcome {
		t.Fatalf("expected welcome email dispatched, got %+v", mailer.dispatched)
	}
}

func TestAuthService_SignupDuplicateEmail(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()

	if _, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"}); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, err := svc.Signup(ctx, SignupInput{Name: "Eve", Email: "ada@x.com", Password: "secret456"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestAuthService_SignupMissingFreePlan(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(), &mockMailer{})

	_, err := svc.Signup(context.Background(), SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if !errors.Is(err, ErrFreePlanMissing) {
		t.Fatalf("expected ErrFreePlanMissing, got %v", err)
	}
}

func TestAuthService_SignupShortPassword(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), &mockMailer{})

	_, err := svc.Signup(context.Background(), SignupInput{Name: "Ada", Email: "ada@x.com", Password: "short"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestAuthService_LoginCredentialMatrix(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()
	if _, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"}); err != nil {
		t.Fatalf("signup: %v", err)
	}

	// Email desconocido y password incorrecto devuelven el mismo error.
	_, unknownErr := svc.Login(ctx, "nobody@x.com", "secret123")
	_, wrongErr := svc.Login(ctx, "ada@x.com", "wrong")
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", unknownErr, wrongErr)
	}
	if unknownErr != wrongErr {
		t.Fatalf("unknown-email and wrong-password must be indistinguishable")
	}

	session, err := svc.Login(ctx, "ada@x.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.User.LastLoginAt == nil {
		t.Fatalf("expected lastLoginAt set on login")
	}
}

func TestAuthService_LoginReplacesPreviousRefresh(t *testing.T) {
	users := newMockUserRepo()
	svc := newTestAuthService(users, newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()
	if _, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"}); err != nil {
		t.Fatalf("signup: %v", err)
	}

	first, err := svc.Login(ctx, "ada@x.com", "secret123")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := svc.Login(ctx, "ada@x.com", "secret123"); err != nil {
		t.Fatalf("second login: %v", err)
	}

	// El refresh token de la primera sesión quedó invalidado.
	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for replaced token, got %v", err)
	}
}

func TestAuthService_RefreshRotation(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()
	session, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken == session.RefreshToken {
		t.Fatalf("expected a rotated refresh token")
	}

	// El token original nunca vuelve a ser aceptado.
	if _, err := svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for used token, got %v", err)
	}

	// El nuevo sí, exactamente una vez.
	if _, err := svc.Refresh(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("refresh with rotated token: %v", err)
	}
	if _, err := svc.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected rotated token to be single-use, got %v", err)
	}
}

func TestAuthService_RefreshConcurrentLoser(t *testing.T) {
	users := newMockUserRepo()
	svc := newTestAuthService(users, newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()
	session, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	// Otra petición rota el token entre la lectura y el CAS.
	users.afterRefreshLookup = func() {
		users.afterRefreshLookup = nil
		_ = users.SetRefreshToken(ctx, session.User.ID, "rotated-elsewhere")
	}

	if _, err := svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrConcurrentRefresh) {
		t.Fatalf("expected ErrConcurrentRefresh, got %v", err)
	}
}

func TestAuthService_LogoutIsIdempotent(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()
	session, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	if err := svc.Logout(ctx, session.User.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(ctx, session.User.ID); err != nil {
		t.Fatalf("second logout: %v", err)
	}

	if _, err := svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected refresh token invalid after logout, got %v", err)
	}
}

var resetURLPattern = regexp.MustCompile(`/reset-password/([0-9a-f]+)$`)

func resetTokenFromMail(t *testing.T, mailer *mockMailer) string {
	t.Helper()
	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	if len(mailer.sent) == 0 {
		t.Fatalf("no reset email sent")
	}
	msg := mailer.sent[len(mailer.sent)-1]
	match := resetURLPattern.FindStringSubmatch(msg.Data["resetUrl"])
	if match == nil {
		t.Fatalf("reset url missing token: %q", msg.Data["resetUrl"])
	}
	return match[1]
}

func TestAuthService_ForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	mailer := &mockMailer{}
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), mailer)

	if err := svc.ForgotPassword(context.Background(), "nobody@x.com"); err != nil {
		t.Fatalf("expected silent success for unknown email, got %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("no email should be sent for unknown address")
	}
}

func TestAuthService_ResetTokenRoundTrip(t *testing.T) {
	users := newMockUserRepo()
	mailer := &mockMailer{}
	svc := newTestAuthService(users, newMockPlanRepo(freePlan()), mailer)
	ctx := context.Background()
	if _, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"}); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if err := svc.ForgotPassword(ctx, "ada@x.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	token := resetTokenFromMail(t, mailer)

	// El token en texto plano nunca se guarda del lado del servidor.
	stored, _ := users.GetByEmail(ctx, "ada@x.com")
	if stored.ResetTokenHash == token || stored.ResetTokenHash == "" {
		t.Fatalf("expected only a hash stored, got %q", stored.ResetTokenHash)
	}

	if err := svc.CheckResetToken(ctx, token); err != nil {
		t.Fatalf("check reset token: %v", err)
	}
	// El chequeo no consume el token.
	if err := svc.CheckResetToken(ctx, token); err != nil {
		t.Fatalf("check reset token twice: %v", err)
	}

	session, err := svc.ResetPassword(ctx, token, "newsecret456")
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("expected implicit login on successful reset")
	}

	// Consumido: ni check ni reset lo aceptan de nuevo.
	if err := svc.CheckResetToken(ctx, token); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected consumed token rejected on check, got %v", err)
	}
	if _, err := svc.ResetPassword(ctx, token, "another4567"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected consumed token rejected on reset, got %v", err)
	}

	if _, err := svc.Login(ctx, "ada@x.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should no longer work")
	}
	if _, err := svc.Login(ctx, "ada@x.com", "newsecret456"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAuthService_ResetTokenExpires(t *testing.T) {
	users := newMockUserRepo()
	mailer := &mockMailer{}
	svc := newTestAuthService(users, newMockPlanRepo(freePlan()), mailer)
	ctx := context.Background()
	session, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := svc.ForgotPassword(ctx, "ada@x.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	token := resetTokenFromMail(t, mailer)

	// Se fuerza la expiración del token almacenado.
	stored, _ := users.GetByID(ctx, session.User.ID)
	past := time.Now().UTC().Add(-time.Minute)
	if err := users.SetResetToken(ctx, session.User.ID, stored.ResetTokenHash, past); err != nil {
		t.Fatalf("force expiry: %v", err)
	}

	if err := svc.CheckResetToken(ctx, token); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected expired token rejected on check, got %v", err)
	}
	if _, err := svc.ResetPassword(ctx, token, "newsecret456"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected expired token rejected on reset, got %v", err)
	}
}

func TestAuthService_ForgotPasswordEmailFailureRollsBack(t *testing.T) {
	users := newMockUserRepo()
	mailer := &mockMailer{failSend: true}
	svc := newTestAuthService(users, newMockPlanRepo(freePlan()), mailer)
	ctx := context.Background()
	session, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	if err := svc.ForgotPassword(ctx, "ada@x.com"); !errors.Is(err, ErrEmailSendFailure) {
		t.Fatalf("expected ErrEmailSendFailure, got %v", err)
	}

	// Ambos campos de reset quedan limpios: no hay estado atascado.
	stored, _ := users.GetByID(ctx, session.User.ID)
	if stored.ResetTokenHash != "" || stored.ResetExpiresAt != nil {
		t.Fatalf("expected reset fields rolled back, got %+v", stored)
	}
}

func TestAuthService_ChangePassword(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()
	session, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, err := svc.ChangePassword(ctx, session.User.ID, "wrong", "newsecret456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong current password, got %v", err)
	}
	if _, err := svc.ChangePassword(ctx, session.User.ID, "secret123", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	changed, err := svc.ChangePassword(ctx, session.User.ID, "secret123", "newsecret456")
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if changed.RefreshToken == session.RefreshToken {
		t.Fatalf("expected a fresh refresh token after password change")
	}

	// La sesión anterior quedó invalidada.
	if _, err := svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected old refresh token invalidated, got %v", err)
	}
	if _, err := svc.Login(ctx, "ada@x.com", "newsecret456"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAuthService_UpdateProfileDuplicateEmail(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()
	ada, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup ada: %v", err)
	}
	if _, err := svc.Signup(ctx, SignupInput{Name: "Eve", Email: "eve@x.com", Password: "secret123"}); err != nil {
		t.Fatalf("signup eve: %v", err)
	}

	if _, err := svc.UpdateProfile(ctx, ada.User.ID, "", "eve@x.com"); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	updated, err := svc.UpdateProfile(ctx, ada.User.ID, "Ada L.", "")
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Name != "Ada L." || updated.Email != "ada@x.com" {
		t.Fatalf("unexpected profile after update: %+v", updated)
	}
}

func TestAuthService_CurrentUserPopulatesPlan(t *testing.T) {
	svc := newTestAuthService(newMockUserRepo(), newMockPlanRepo(freePlan()), &mockMailer{})
	ctx := context.Background()
	session, err := svc.Signup(ctx, SignupInput{Name: "Ada", Email: "ada@x.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	user, plan, err := svc.CurrentUser(ctx, session.User.ID)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if user.Email != "ada@x.com" || plan.Name != domain.FreePlanName {
		t.Fatalf("unexpected current user %+v plan %+v", user, plan)
	}

	if _, _, err := svc.CurrentUser(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
