package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"pursuitpal/internal/domain"
)

// PlanRepository da acceso de lectura al catálogo de planes.
type PlanRepository interface {
	GetByName(ctx context.Context, name string) (domain.Plan, error)
	GetByID(ctx context.Context, id string) (domain.Plan, error)
}

const planColumns = `
	id, name, description, price_monthly, price_yearly, currency, is_active, created_at
`

// PgPlanRepository implementa PlanRepository usando pgxpool.
type PgPlanRepository struct {
	pool *pgxpool.Pool
}

func NewPgPlanRepository(pool *pgxpool.Pool) *PgPlanRepository {
	return &PgPlanRepository{pool: pool}
}

func (r *PgPlanRepository) GetByName(ctx context.Context, name string) (domain.Plan, error) {
	const query = `SELECT ` + planColumns + ` FROM plans WHERE name = $1 AND is_active`
	return r.scanOne(ctx, query, name)
}

func (r *PgPlanRepository) GetByID(ctx context.Context, id string) (domain.Plan, error) {
	const query = `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *PgPlanRepository) scanOne(ctx context.Context, query string, args ...any) (domain.Plan, error) {
	var p domain.Plan
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.PriceMonthly,
		&p.PriceYearly,
		&p.Currency,
		&p.IsActive,
		&p.CreatedAt,
	)
	if err != nil {
		return domain.Plan{}, err
	}
	return p, nil
}
