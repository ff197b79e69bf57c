package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestSchemaVersionStoreIntegration(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := startTestPool(t, ctx)
	seedTenants(t, ctx, pool, "tenant-a")

	store, err := NewSchemaVersionStore(pool)
	require.NoError(t, err)

	doc := json.RawMessage(`{"dataSource": {"tableName": "widgets", "fields": [{"id": "label", "dbType": "string"}]}}`)
	tenantA := "tenant-a"

	t.Run("insert and read back", func(t *testing.T) {
		var stored SchemaVersion
		err := store.WithTx(ctx, func(tx pgx.Tx) error {
			var txErr error
			stored, txErr = store.InsertTx(ctx, tx, SchemaVersion{
				EntityKey:     "widgets",
				Scope:         ScopeGlobal,
				VersionNumber: 1,
				Document:      doc,
				Status:        StatusDraft,
			})
			return txErr
		})
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, stored.ID)
		require.False(t, stored.CreatedAt.IsZero())

		fetched, err := store.GetByID(ctx, stored.ID)
		require.NoError(t, err)
		require.Equal(t, stored.ID, fetched.ID)
		require.JSONEq(t, string(doc), string(fetched.Document))

		_, err = store.GetByID(ctx, uuid.New())
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("version numbers and listing are per coordinate", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx pgx.Tx) error {
			for _, version := range []SchemaVersion{
				{EntityKey: "gadgets", Scope: ScopeGlobal, VersionNumber: 1, Document: doc, Status: StatusArchived},
				{EntityKey: "gadgets", Scope: ScopeGlobal, VersionNumber: 2, Document: doc, Status: StatusDraft},
				{EntityKey: "gadgets", Scope: ScopeTenant, TenantID: &tenantA, VersionNumber: 1, Document: doc, Status: StatusDraft},
			} {
				if _, txErr := store.InsertTx(ctx, tx, version); txErr != nil {
					return txErr
				}
			}
			return nil
		})
		require.NoError(t, err)

		err = store.WithTx(ctx, func(tx pgx.Tx) error {
			latest, txErr := store.LatestVersionNumberTx(ctx, tx, "gadgets", ScopeGlobal, nil)
			require.NoError(t, txErr)
			require.Equal(t, 2, latest)

			latest, txErr = store.LatestVersionNumberTx(ctx, tx, "gadgets", ScopeTenant, &tenantA)
			require.NoError(t, txErr)
			require.Equal(t, 1, latest)

			latest, txErr = store.LatestVersionNumberTx(ctx, tx, "unknown", ScopeGlobal, nil)
			require.NoError(t, txErr)
			require.Equal(t, 0, latest)
			return nil
		})
		require.NoError(t, err)

		versions, err := store.ListVersions(ctx, "gadgets", ScopeGlobal, nil)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		require.Equal(t, 2, versions[0].VersionNumber)
		require.Equal(t, 1, versions[1].VersionNumber)
	})

	t.Run("partial index allows one published row per coordinate", func(t *testing.T) {
		var first, second SchemaVersion
		err := store.WithTx(ctx, func(tx pgx.Tx) error {
			var txErr error
			first, txErr = store.InsertTx(ctx, tx, SchemaVersion{
				EntityKey: "plans", Scope: ScopeGlobal, VersionNumber: 1, Document: doc, Status: StatusPublished,
			})
			if txErr != nil {
				return txErr
			}
			second, txErr = store.InsertTx(ctx, tx, SchemaVersion{
				EntityKey: "plans", Scope: ScopeGlobal, VersionNumber: 2, Document: doc, Status: StatusDraft,
			})
			return txErr
		})
		require.NoError(t, err)

		// promoting the draft while the first row is still published
		// trips the unique index
		err = store.WithTx(ctx, func(tx pgx.Tx) error {
			_, txErr := store.UpdateStatusTx(ctx, tx, second.ID, StatusPublished)
			return txErr
		})
		require.ErrorIs(t, err, ErrInvariantViolation)

		// archive first, then the promotion goes through
		err = store.WithTx(ctx, func(tx pgx.Tx) error {
			if _, txErr := store.UpdateStatusTx(ctx, tx, first.ID, StatusArchived); txErr != nil {
				return txErr
			}
			_, txErr := store.UpdateStatusTx(ctx, tx, second.ID, StatusPublished)
			return txErr
		})
		require.NoError(t, err)

		err = store.WithTx(ctx, func(tx pgx.Tx) error {
			published, txErr := store.GetPublishedTx(ctx, tx, "plans", ScopeGlobal, nil)
			require.NoError(t, txErr)
			require.Equal(t, second.ID, published.ID)
			return nil
		})
		require.NoError(t, err)

		// the same coordinate under a tenant is an independent group
		err = store.WithTx(ctx, func(tx pgx.Tx) error {
			_, txErr := store.InsertTx(ctx, tx, SchemaVersion{
				EntityKey: "plans", Scope: ScopeTenant, TenantID: &tenantA,
				VersionNumber: 1, Document: doc, Status: StatusPublished,
			})
			return txErr
		})
		require.NoError(t, err)
	})

	t.Run("published documents feed the registry by scope", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx pgx.Tx) error {
			published, txErr := store.ListPublishedDocumentsTx(ctx, tx, ScopeGlobal)
			require.NoError(t, txErr)
			require.Len(t, published, 1)
			require.Equal(t, "plans", published[0].EntityKey)
			return nil
		})
		require.NoError(t, err)
	})
}
