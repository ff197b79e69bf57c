package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nivello-hq/nivello-core/domains/schema-versions/be/repo"
	"github.com/nivello-hq/nivello-core/platform/go/merge"
	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

func startLifecycleService(t *testing.T, ctx context.Context) Service {
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

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() {
		persistence.ClosePool(pool)
	})
	require.NoError(t, persistence.Bootstrap(ctx, pool))

	_, err = pool.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ('acme', 'Acme')`)
	require.NoError(t, err)

	store, err := persistence.NewSchemaVersionStore(pool)
	require.NoError(t, err)
	return New(repo.NewPostgresRepository(store), persistence.NewDocumentValidator())
}

func TestLifecycleIntegration(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	svc := startLifecycleService(t, ctx)
	tenantID := "acme"

	globalDoc := json.RawMessage(`{
		"dataSource": {
			"tableName": "plans",
			"fields": [
				{"id": "name", "dbType": "string", "required": true},
				{"id": "price", "dbType": "decimal"}
			]
		}
	}`)
	globalDocV2 := json.RawMessage(`{
		"dataSource": {
			"tableName": "plans",
			"fields": [
				{"id": "name", "dbType": "string", "required": true},
				{"id": "price", "dbType": "decimal"},
				{"id": "billing_cycle", "dbType": "string"}
			]
		}
	}`)
	overrideDoc := json.RawMessage(`{
		"dataSource": {
			"tableName": "plans",
			"fields": [
				{"id": "price", "dbType": "decimal", "required": true}
			]
		}
	}`)

	// publish v1, then v2, then roll back to v1
	v1, err := svc.CreateDraft(ctx, CreateDraftInput{EntityKey: "plans", Scope: persistence.ScopeGlobal, Document: globalDoc})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, v1.ID)
	require.NoError(t, err)

	v2, err := svc.CreateDraft(ctx, CreateDraftInput{EntityKey: "plans", Scope: persistence.ScopeGlobal, Document: globalDocV2})
	require.NoError(t, err)
	require.Equal(t, 2, v2.VersionNumber)
	_, err = svc.Publish(ctx, v2.ID)
	require.NoError(t, err)

	restored, err := svc.Rollback(ctx, "plans", v1.ID, persistence.ScopeGlobal, nil)
	require.NoError(t, err)
	require.Equal(t, v1.ID, restored.ID)
	require.JSONEq(t, string(globalDoc), string(restored.Document))

	versions, err := svc.ListVersions(ctx, "plans", persistence.ScopeGlobal, nil)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	publishedCount := 0
	for _, version := range versions {
		if version.Status == persistence.StatusPublished {
			publishedCount++
		}
	}
	require.Equal(t, 1, publishedCount)

	// tenant override plus merge produce a new tenant draft derived from
	// the active global version
	override, err := svc.CreateDraft(ctx, CreateDraftInput{
		EntityKey: "plans", Scope: persistence.ScopeTenant, TenantID: &tenantID, Document: overrideDoc,
	})
	require.NoError(t, err)
	require.NotNil(t, override.BaseVersionID)
	require.Equal(t, v1.ID, *override.BaseVersionID)
	_, err = svc.Publish(ctx, override.ID)
	require.NoError(t, err)

	resolved, err := svc.ResolvePublished(ctx, "plans", &tenantID)
	require.NoError(t, err)
	require.Equal(t, override.ID, resolved.ID)

	merged, err := svc.MergeTenantOverride(ctx, "plans", tenantID)
	require.NoError(t, err)
	require.Equal(t, persistence.StatusDraft, merged.Status)
	require.Equal(t, 2, merged.VersionNumber)
	require.Equal(t, v1.ID, *merged.BaseVersionID)

	wantMerged, err := merge.Documents(globalDoc, overrideDoc)
	require.NoError(t, err)
	require.JSONEq(t, string(wantMerged), string(merged.Document))

	// the merged draft does not change what resolves until published
	resolved, err = svc.ResolvePublished(ctx, "plans", &tenantID)
	require.NoError(t, err)
	require.Equal(t, override.ID, resolved.ID)

	_, err = svc.Publish(ctx, merged.ID)
	require.NoError(t, err)
	resolved, err = svc.ResolvePublished(ctx, "plans", &tenantID)
	require.NoError(t, err)
	require.Equal(t, merged.ID, resolved.ID)
}
