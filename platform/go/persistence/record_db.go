package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nivello-hq/nivello-core/platform/go/tenant"
)

// txBeginner exposes the minimal pool behaviour needed by RecordDB.
type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// RecordDB opens units of work over dynamic record tables. Each unit of
// work is one transaction carrying an optional tenant marker; every
// statement issued through its Session passes through the tenant filter
// before reaching the database.
type RecordDB struct {
	pool   txBeginner
	filter *TenantFilter
}

// RecordDBConfig wires the pool and the tenant filter.
type RecordDBConfig struct {
	Pool   *pgxpool.Pool
	Filter *TenantFilter
}

// NewRecordDB builds a RecordDB. Both the pool and filter are required.
func NewRecordDB(cfg RecordDBConfig) *RecordDB {
	if cfg.Pool == nil {
		panic("RecordDB requires pool")
	}
	if cfg.Filter == nil {
		panic("RecordDB requires tenant filter")
	}
	return &RecordDB{pool: cfg.Pool, filter: cfg.Filter}
}

// newRecordDB is the injectable constructor used by unit tests with a mock
// transaction beginner.
func newRecordDB(pool txBeginner, filter *TenantFilter) *RecordDB {
	return &RecordDB{pool: pool, filter: filter}
}

// WithTenant executes fn inside one transaction whose session carries the
// tenant marker. The transaction is rolled back when fn errors and
// committed otherwise; the filter itself never commits or rolls back.
func (db *RecordDB) WithTenant(ctx context.Context, tenantID string, fn func(sess *Session) error) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidArgument)
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	sess := &Session{tx: tx, filter: db.filter, tenantID: tenantID, hasTenant: true}
	if err := fn(sess); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// WithContextTenant runs WithTenant using the marker on the context.
func (db *RecordDB) WithContextTenant(ctx context.Context, fn func(sess *Session) error) error {
	tenantID, ok := tenant.FromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no tenant marker on context", ErrInvalidArgument)
	}
	return db.WithTenant(ctx, tenantID, fn)
}

// WithAdmin executes fn inside one unfiltered transaction. Reserved for
// privileged operations that legitimately cross tenants.
func (db *RecordDB) WithAdmin(ctx context.Context, fn func(sess *Session) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	sess := &Session{tx: tx, filter: db.filter}
	if err := fn(sess); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Session is one unit of work. Statements issued through it execute in
// issue order on a single transaction, each rewritten synchronously before
// it is sent.
type Session struct {
	tx        pgx.Tx
	filter    *TenantFilter
	tenantID  string
	hasTenant bool
}

// TenantID returns the session's tenant marker, if any.
func (s *Session) TenantID() (string, bool) {
	return s.tenantID, s.hasTenant
}

// Exec runs a statement after tenant rewriting.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sql, args = s.rewrite(sql, args)
	return s.tx.Exec(ctx, sql, args...)
}

// Query runs a query after tenant rewriting.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	sql, args = s.rewrite(sql, args)
	return s.tx.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query after tenant rewriting.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	sql, args = s.rewrite(sql, args)
	return s.tx.QueryRow(ctx, sql, args...)
}

func (s *Session) rewrite(sql string, args []any) (string, []any) {
	if !s.hasTenant {
		return sql, args
	}
	return s.filter.Rewrite(sql, args, s.tenantID)
}
