package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/nivello-hq/nivello-core/database"
)

// Bootstrap applies the bootstrap DDL in a single transaction, in this
// order:
//  1. schema/tenants.sql
//  2. schema/schema_versions.sql
//  3. schema/records.sql
//
// SQL is embedded at build time so binaries stay self-contained. The helper
// is idempotent and intended for startup and tests.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.TenantsSQL)...)
	statements = append(statements, splitStatements(sqlassets.SchemaVersionsSQL)...)
	statements = append(statements, splitStatements(sqlassets.RecordsSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements cuts an embedded DDL file into individual statements on
// top-level semicolons. The bootstrap files contain no string literals with
// semicolons, so a plain split is sufficient.
func splitStatements(ddl string) []string {
	var statements []string
	for _, raw := range strings.Split(ddl, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
