package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nivello-hq/nivello-core/domains/tenants/be/service"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// PostgresRepository persists tenants in the exempt tenants table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository over the shared pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("pool is required")
	}
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, tenant service.Tenant) (service.Tenant, error) {
	var created service.Tenant
	err := pgxscan.Get(ctx, r.pool, &created, `
		INSERT INTO tenants (id, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, name, created_at`,
		tenant.ID, tenant.Name, tenant.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.Tenant{}, fmt.Errorf("%w: tenant %s already exists", persistence.ErrInvariantViolation, tenant.ID)
		}
		return service.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (service.Tenant, error) {
	var tenant service.Tenant
	err := pgxscan.Get(ctx, r.pool, &tenant, `
		SELECT id, name, created_at
		FROM tenants
		WHERE id = $1`, id)
	if pgxscan.NotFound(err) {
		return service.Tenant{}, fmt.Errorf("%w: tenant %s", persistence.ErrNotFound, id)
	}
	if err != nil {
		return service.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]service.Tenant, error) {
	var tenants []service.Tenant
	err := pgxscan.Select(ctx, r.pool, &tenants, `
		SELECT id, name, created_at
		FROM tenants
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}
