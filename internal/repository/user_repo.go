package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pursuitpal/internal/domain"
)

var (
	// ErrDuplicateEmail se devuelve cuando el email ya está registrado.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrStaleRefreshToken indica que la rotación CAS no encontró el token esperado.
	ErrStaleRefreshToken = errors.New("stored refresh token no longer matches")
)

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByRefreshToken(ctx context.Context, token string) (domain.User, error)
	GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (domain.User, error)
	SetRefreshToken(ctx context.Context, id, token string) error
	RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error
	ClearRefreshToken(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, hash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id, passwordHash string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateProfile(ctx context.Context, id, name, email string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

const userColumns = `
	id, name, email, password_hash, current_plan_id,
	refresh_token, reset_token_hash, reset_expires_at,
	last_login_at, created_at
`

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, name, email, password_hash, current_plan_id, refresh_token, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.CurrentPlanID,
		user.RefreshToken,
		user.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(ctx, query, email)
}

func (r *PgUserRepository) GetByRefreshToken(ctx context.Context, token string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE refresh_token = $1`
	return r.scanOne(ctx, query, token)
}

func (r *PgUserRepository) GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (domain.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE reset_token_hash = $1 AND reset_expires_at > $2
	`
	return r.scanOne(ctx, query, hash, now)
}

func (r *PgUserRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	const query = `UPDATE users SET refresh_token = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, token)
	return err
}

// RotateRefreshToken reemplaza el token sólo si el valor guardado sigue
// siendo oldToken. Cero filas afectadas significa que otra petición
// concurrente ya rotó el token.
func (r *PgUserRepository) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error {
	const query = `UPDATE users SET refresh_token = $3 WHERE id = $1 AND refresh_token = $2`
	tag, err := r.pool.Exec(ctx, query, id, oldToken, newToken)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRefreshToken
	}
	return nil
}

func (r *PgUserRepository) ClearRefreshToken(ctx context.Context, id string) error {
	const query = `UPDATE users SET refresh_token = NULL WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PgUserRepository) SetResetToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	const query = `UPDATE users SET reset_token_hash = $2, reset_expires_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, hash, timeOrNil(expiresAt))
	return err
}

func (r *PgUserRepository) ClearResetToken(ctx context.Context, id string) error {
	const query = `UPDATE users SET reset_token_hash = NULL, reset_expires_at = NULL WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// ResetPassword fija el nuevo hash y limpia ambos campos de reset en un
// único UPDATE.
func (r *PgUserRepository) ResetPassword(ctx context.Context, id, passwordHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $2, reset_token_hash = NULL, reset_expires_at = NULL
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, passwordHash)
	return err
}

func (r *PgUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, passwordHash)
	return err
}

func (r *PgUserRepository) UpdateProfile(ctx context.Context, id, name, email string) error {
	const query = `
		UPDATE users
		SET name = COALESCE(NULLIF($2, ''), name),
		    email = COALESCE(NULLIF($3, ''), email)
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, name, email)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PgUserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE users SET last_login_at = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}

func (r *PgUserRepository) scanOne(ctx context.Context, query string, args ...any) (domain.User, error) {
	var (
		u            domain.User
		planID       *string
		refreshToken *string
		resetHash    *string
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&planID,
		&refreshToken,
		&resetHash,
		&u.ResetExpiresAt,
		&u.LastLoginAt,
		&u.CreatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	if planID != nil {
		u.CurrentPlanID = *planID
	}
	if refreshToken != nil {
		u.RefreshToken = *refreshToken
	}
	if resetHash != nil {
		u.ResetTokenHash = *resetHash
	}
	return u, nil
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
