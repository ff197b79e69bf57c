package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startTestPool spins up a disposable Postgres container, applies the
// bootstrap DDL, and returns a connected pool. Callers must pair it with
// testing.Short checks; container startup dominates test time.
func startTestPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("nivello"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() {
		ClosePool(pool)
	})

	require.NoError(t, Bootstrap(ctx, pool))
	return pool
}

// seedTenants registers the given tenant ids directly against the exempt
// tenants table.
func seedTenants(t *testing.T, ctx context.Context, pool *pgxpool.Pool, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := pool.Exec(ctx,
			`INSERT INTO tenants (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			id, id)
		require.NoError(t, err)
	}
}

// recordTableDefs mirrors the bootstrap DDL's record tables.
func recordTableDefs() []TableDef {
	return []TableDef{
		{
			Name: "products",
			Columns: []Column{
				{Name: ColumnNameID, Type: ColumnText},
				{Name: ColumnNameTenantID, Type: ColumnText},
				{Name: ColumnNameCreatedAt, Type: ColumnTimestamp},
				{Name: ColumnNameUpdatedAt, Type: ColumnTimestamp},
				{Name: ColumnNameVersion, Type: ColumnInteger},
				{Name: "name", Type: ColumnText},
				{Name: "sku", Type: ColumnText},
				{Name: "price", Type: ColumnDecimal},
				{Name: "active", Type: ColumnBoolean},
				{Name: "attributes", Type: ColumnJSON},
			},
		},
		{
			Name: "customers",
			Columns: []Column{
				{Name: ColumnNameID, Type: ColumnText},
				{Name: ColumnNameTenantID, Type: ColumnText},
				{Name: ColumnNameCreatedAt, Type: ColumnTimestamp},
				{Name: ColumnNameUpdatedAt, Type: ColumnTimestamp},
				{Name: "name", Type: ColumnText},
				{Name: "email", Type: ColumnText},
				{Name: "phone", Type: ColumnText},
			},
		},
	}
}
