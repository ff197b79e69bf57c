package repo

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// Repository exposes persistence operations for schema versions. Lifecycle
// operations compose several calls inside one transaction, so every accessor
// takes the transaction explicitly and WithTx owns its boundaries.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Insert(ctx context.Context, tx pgx.Tx, version persistence.SchemaVersion) (persistence.SchemaVersion, error)
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (persistence.SchemaVersion, error)
	GetPublished(ctx context.Context, tx pgx.Tx, entityKey string, scope persistence.VersionScope, tenantID *string) (persistence.SchemaVersion, error)
	LatestVersionNumber(ctx context.Context, tx pgx.Tx, entityKey string, scope persistence.VersionScope, tenantID *string) (int, error)
	ListVersions(ctx context.Context, tx pgx.Tx, entityKey string, scope persistence.VersionScope, tenantID *string) ([]persistence.SchemaVersion, error)
	ListPublishedDocuments(ctx context.Context, tx pgx.Tx, scope persistence.VersionScope) ([]persistence.SchemaVersion, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status persistence.VersionStatus) (persistence.SchemaVersion, error)
	UpdateDocument(ctx context.Context, tx pgx.Tx, id uuid.UUID, document json.RawMessage) (persistence.SchemaVersion, error)
}

type postgresRepository struct {
	store *persistence.SchemaVersionStore
}

// NewPostgresRepository constructs a Repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.SchemaVersionStore) Repository {
	if store == nil {
		panic("schema version store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.store.WithTx(ctx, fn)
}

func (r *postgresRepository) Insert(ctx context.Context, tx pgx.Tx, version persistence.SchemaVersion) (persistence.SchemaVersion, error) {
	return r.store.InsertTx(ctx, tx, version)
}

func (r *postgresRepository) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (persistence.SchemaVersion, error) {
	return r.store.GetByIDTx(ctx, tx, id)
}

func (r *postgresRepository) GetPublished(ctx context.Context, tx pgx.Tx, entityKey string, scope persistence.VersionScope, tenantID *string) (persistence.SchemaVersion, error) {
	return r.store.GetPublishedTx(ctx, tx, entityKey, scope, tenantID)
}

func (r *postgresRepository) LatestVersionNumber(ctx context.Context, tx pgx.Tx, entityKey string, scope persistence.VersionScope, tenantID *string) (int, error) {
	return r.store.LatestVersionNumberTx(ctx, tx, entityKey, scope, tenantID)
}

func (r *postgresRepository) ListVersions(ctx context.Context, tx pgx.Tx, entityKey string, scope persistence.VersionScope, tenantID *string) ([]persistence.SchemaVersion, error) {
	return r.store.ListVersionsTx(ctx, tx, entityKey, scope, tenantID)
}

func (r *postgresRepository) ListPublishedDocuments(ctx context.Context, tx pgx.Tx, scope persistence.VersionScope) ([]persistence.SchemaVersion, error) {
	return r.store.ListPublishedDocumentsTx(ctx, tx, scope)
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status persistence.VersionStatus) (persistence.SchemaVersion, error) {
	return r.store.UpdateStatusTx(ctx, tx, id, status)
}

func (r *postgresRepository) UpdateDocument(ctx context.Context, tx pgx.Tx, id uuid.UUID, document json.RawMessage) (persistence.SchemaVersion, error) {
	return r.store.UpdateDocumentTx(ctx, tx, id, document)
}
