package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VersionScope distinguishes shared documents from tenant-specific ones.
type VersionScope string

const (
	ScopeGlobal VersionScope = "global"
	ScopeTenant VersionScope = "tenant"
)

// ParseVersionScope validates a scope name.
func ParseVersionScope(raw string) (VersionScope, error) {
	scope := VersionScope(strings.ToLower(strings.TrimSpace(raw)))
	switch scope {
	case ScopeGlobal, ScopeTenant:
		return scope, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidArgument, raw)
	}
}

// VersionStatus is the lifecycle state of a schema version.
type VersionStatus string

const (
	StatusDraft     VersionStatus = "draft"
	StatusPublished VersionStatus = "published"
	StatusArchived  VersionStatus = "archived"
)

// SchemaVersion is one immutable-once-published revision of an entity
// configuration document, scoped globally or to a single tenant.
type SchemaVersion struct {
	ID            uuid.UUID       `db:"id"`
	EntityKey     string          `db:"entity_key"`
	Scope         VersionScope    `db:"scope"`
	TenantID      *string         `db:"tenant_id"`
	BaseVersionID *uuid.UUID      `db:"base_version_id"`
	VersionNumber int             `db:"version_number"`
	Document      json.RawMessage `db:"document"`
	Status        VersionStatus   `db:"status"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

const schemaVersionColumns = `
	id, entity_key, scope, tenant_id, base_version_id,
	version_number, document, status, created_at, updated_at`

const publishedVersionUniqueIndex = "schema_versions_published_unique"

// SchemaVersionStore provides PostgreSQL-backed access to the
// schema_versions table. Lifecycle rules live in the domain service; the
// store only persists rows and surfaces the single-published invariant
// when the partial unique index rejects a second published row.
type SchemaVersionStore struct {
	pool *pgxpool.Pool
}

// NewSchemaVersionStore returns a store over the given pool.
func NewSchemaVersionStore(pool *pgxpool.Pool) (*SchemaVersionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SchemaVersionStore{pool: pool}, nil
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *SchemaVersionStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InsertTx persists a new version row.
func (s *SchemaVersionStore) InsertTx(ctx context.Context, tx pgx.Tx, version SchemaVersion) (SchemaVersion, error) {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if strings.TrimSpace(version.EntityKey) == "" {
		return SchemaVersion{}, fmt.Errorf("%w: entity key is required", ErrInvalidArgument)
	}
	if len(version.Document) == 0 {
		return SchemaVersion{}, fmt.Errorf("%w: document is required", ErrInvalidArgument)
	}

	var stored SchemaVersion
	err := pgxscan.Get(ctx, tx, &stored, `
		INSERT INTO schema_versions (
			id, entity_key, scope, tenant_id, base_version_id,
			version_number, document, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING`+schemaVersionColumns,
		version.ID, version.EntityKey, version.Scope, version.TenantID,
		version.BaseVersionID, version.VersionNumber, []byte(version.Document), version.Status)
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("insert schema version: %w", mapVersionStoreError(err))
	}
	return stored, nil
}

// GetByIDTx fetches one version by primary key.
func (s *SchemaVersionStore) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (SchemaVersion, error) {
	var version SchemaVersion
	err := pgxscan.Get(ctx, tx, &version, `
		SELECT`+schemaVersionColumns+`
		FROM schema_versions
		WHERE id = $1`, id)
	if pgxscan.NotFound(err) {
		return SchemaVersion{}, fmt.Errorf("%w: schema version %s", ErrNotFound, id)
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// GetByID fetches one version outside any caller transaction.
func (s *SchemaVersionStore) GetByID(ctx context.Context, id uuid.UUID) (SchemaVersion, error) {
	var version SchemaVersion
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		found, txErr := s.GetByIDTx(ctx, tx, id)
		if txErr != nil {
			return txErr
		}
		version = found
		return nil
	})
	return version, err
}

// GetPublishedTx fetches the published version for an (entity, scope,
// tenant) coordinate. TenantID must be nil for the global scope.
func (s *SchemaVersionStore) GetPublishedTx(ctx context.Context, tx pgx.Tx, entityKey string, scope VersionScope, tenantID *string) (SchemaVersion, error) {
	var version SchemaVersion
	err := pgxscan.Get(ctx, tx, &version, `
		SELECT`+schemaVersionColumns+`
		FROM schema_versions
		WHERE entity_key = $1
		  AND scope = $2
		  AND tenant_id IS NOT DISTINCT FROM $3
		  AND status = 'published'`, entityKey, scope, tenantID)
	if pgxscan.NotFound(err) {
		return SchemaVersion{}, fmt.Errorf("%w: no published version of %s (%s)", ErrNotFound, entityKey, scope)
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("get published version: %w", err)
	}
	return version, nil
}

// LatestVersionNumberTx returns the highest version number recorded for the
// coordinate, zero when no versions exist.
func (s *SchemaVersionStore) LatestVersionNumberTx(ctx context.Context, tx pgx.Tx, entityKey string, scope VersionScope, tenantID *string) (int, error) {
	var latest int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_number), 0)
		FROM schema_versions
		WHERE entity_key = $1
		  AND scope = $2
		  AND tenant_id IS NOT DISTINCT FROM $3`, entityKey, scope, tenantID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest version number: %w", err)
	}
	return latest, nil
}

// ListVersionsTx returns all versions for the coordinate, newest first.
func (s *SchemaVersionStore) ListVersionsTx(ctx context.Context, tx pgx.Tx, entityKey string, scope VersionScope, tenantID *string) ([]SchemaVersion, error) {
	var versions []SchemaVersion
	err := pgxscan.Select(ctx, tx, &versions, `
		SELECT`+schemaVersionColumns+`
		FROM schema_versions
		WHERE entity_key = $1
		  AND scope = $2
		  AND tenant_id IS NOT DISTINCT FROM $3
		ORDER BY version_number DESC`, entityKey, scope, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list schema versions: %w", err)
	}
	return versions, nil
}

// ListVersions is the pool-level variant of ListVersionsTx.
func (s *SchemaVersionStore) ListVersions(ctx context.Context, entityKey string, scope VersionScope, tenantID *string) ([]SchemaVersion, error) {
	var versions []SchemaVersion
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		found, txErr := s.ListVersionsTx(ctx, tx, entityKey, scope, tenantID)
		if txErr != nil {
			return txErr
		}
		versions = found
		return nil
	})
	return versions, err
}

// UpdateStatusTx transitions one version to the given status.
func (s *SchemaVersionStore) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status VersionStatus) (SchemaVersion, error) {
	var version SchemaVersion
	err := pgxscan.Get(ctx, tx, &version, `
		UPDATE schema_versions
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING`+schemaVersionColumns, id, status)
	if pgxscan.NotFound(err) {
		return SchemaVersion{}, fmt.Errorf("%w: schema version %s", ErrNotFound, id)
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("update schema version status: %w", mapVersionStoreError(err))
	}
	return version, nil
}

// UpdateDocumentTx replaces the document on one version row.
func (s *SchemaVersionStore) UpdateDocumentTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, document json.RawMessage) (SchemaVersion, error) {
	if len(document) == 0 {
		return SchemaVersion{}, fmt.Errorf("%w: document is required", ErrInvalidArgument)
	}

	var version SchemaVersion
	err := pgxscan.Get(ctx, tx, &version, `
		UPDATE schema_versions
		SET document = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING`+schemaVersionColumns, id, []byte(document))
	if pgxscan.NotFound(err) {
		return SchemaVersion{}, fmt.Errorf("%w: schema version %s", ErrNotFound, id)
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("update schema version document: %w", err)
	}
	return version, nil
}

// ListPublishedDocumentsTx returns the published document per entity for a
// scope, used to seed the table registry on startup.
func (s *SchemaVersionStore) ListPublishedDocumentsTx(ctx context.Context, tx pgx.Tx, scope VersionScope) ([]SchemaVersion, error) {
	var versions []SchemaVersion
	err := pgxscan.Select(ctx, tx, &versions, `
		SELECT`+schemaVersionColumns+`
		FROM schema_versions
		WHERE scope = $1 AND status = 'published'
		ORDER BY entity_key`, scope)
	if err != nil {
		return nil, fmt.Errorf("list published documents: %w", err)
	}
	return versions, nil
}

// mapVersionStoreError surfaces partial-unique-index violations as the
// single-published invariant.
func mapVersionStoreError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == publishedVersionUniqueIndex {
		return fmt.Errorf("%w: another published version already exists", ErrInvariantViolation)
	}
	return err
}
