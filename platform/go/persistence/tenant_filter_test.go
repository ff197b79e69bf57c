package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testFilter(t *testing.T) *TenantFilter {
	t.Helper()

	registry, err := NewTableRegistry(
		TableDef{
			Name: "products",
			Columns: []Column{
				{Name: ColumnNameID, Type: ColumnText},
				{Name: ColumnNameTenantID, Type: ColumnText},
				{Name: ColumnNameCreatedAt, Type: ColumnTimestamp},
				{Name: ColumnNameUpdatedAt, Type: ColumnTimestamp},
				{Name: "name", Type: ColumnText},
			},
		},
		TableDef{
			Name: "customers",
			Columns: []Column{
				{Name: ColumnNameID, Type: ColumnText},
				{Name: ColumnNameTenantID, Type: ColumnText},
				{Name: ColumnNameCreatedAt, Type: ColumnTimestamp},
				{Name: ColumnNameUpdatedAt, Type: ColumnTimestamp},
			},
		},
		TableDef{
			Name: "tenants",
			Columns: []Column{
				{Name: ColumnNameID, Type: ColumnText},
				{Name: ColumnNameTenantID, Type: ColumnText},
				{Name: ColumnNameCreatedAt, Type: ColumnTimestamp},
				{Name: ColumnNameUpdatedAt, Type: ColumnTimestamp},
			},
		},
	)
	require.NoError(t, err)

	return NewTenantFilter(registry, "tenants")
}

func TestTenantFilterScopedTables(t *testing.T) {
	filter := testFilter(t)
	require.Equal(t, []string{"customers", "products"}, filter.ScopedTables())
}

func TestTenantFilterRewrite(t *testing.T) {
	filter := testFilter(t)

	cases := []struct {
		name    string
		sql     string
		args    []any
		want    string
		wantArg bool
	}{
		{
			name:    "select without where",
			sql:     "SELECT id, name FROM products",
			want:    "SELECT id, name FROM products WHERE products.tenant_id = $1",
			wantArg: true,
		},
		{
			name:    "select wraps existing where",
			sql:     "SELECT id, name FROM products WHERE name = $1",
			args:    []any{"trowel"},
			want:    "SELECT id, name FROM products WHERE (name = $1) AND products.tenant_id = $2",
			wantArg: true,
		},
		{
			name:    "predicate lands before order and limit",
			sql:     "SELECT id FROM products ORDER BY created_at DESC LIMIT 10",
			want:    "SELECT id FROM products WHERE products.tenant_id = $1 ORDER BY created_at DESC LIMIT 10",
			wantArg: true,
		},
		{
			name:    "where with trailing clauses",
			sql:     "SELECT id FROM products WHERE name = $1 ORDER BY name ASC",
			args:    []any{"trowel"},
			want:    "SELECT id FROM products WHERE (name = $1) AND products.tenant_id = $2 ORDER BY name ASC",
			wantArg: true,
		},
		{
			name:    "update keeps returning",
			sql:     "UPDATE products SET name = $1 WHERE id = $2 RETURNING id, name",
			args:    []any{"trowel", "p1"},
			want:    "UPDATE products SET name = $1 WHERE (id = $2) AND products.tenant_id = $3 RETURNING id, name",
			wantArg: true,
		},
		{
			name:    "delete",
			sql:     "DELETE FROM products WHERE id = $1",
			args:    []any{"p1"},
			want:    "DELETE FROM products WHERE (id = $1) AND products.tenant_id = $2",
			wantArg: true,
		},
		{
			name:    "aggregate select",
			sql:     "SELECT COUNT(*) FROM products",
			want:    "SELECT COUNT(*) FROM products WHERE products.tenant_id = $1",
			wantArg: true,
		},
		{
			name: "insert passes through",
			sql:  "INSERT INTO products (id, name) VALUES ($1, $2)",
			args: []any{"p1", "trowel"},
			want: "INSERT INTO products (id, name) VALUES ($1, $2)",
		},
		{
			name: "exempt table passes through",
			sql:  "SELECT id FROM tenants",
			want: "SELECT id FROM tenants",
		},
		{
			name: "unknown table passes through",
			sql:  "SELECT id FROM schema_versions WHERE entity_key = $1",
			args: []any{"products"},
			want: "SELECT id FROM schema_versions WHERE entity_key = $1",
		},
		{
			name:    "join filters both scoped tables",
			sql:     "SELECT p.id FROM products p JOIN customers c ON c.id = p.id",
			want:    "SELECT p.id FROM products p JOIN customers c ON c.id = p.id WHERE products.tenant_id = $1 AND customers.tenant_id = $1",
			wantArg: true,
		},
		{
			name:    "string literal with keyword is not a table",
			sql:     "SELECT id FROM products WHERE name = 'from customers'",
			want:    "SELECT id FROM products WHERE (name = 'from customers') AND products.tenant_id = $1",
			wantArg: true,
		},
		{
			name: "subquery table is not a top level target",
			sql:  "SELECT * FROM (SELECT id FROM schema_versions) sv",
			want: "SELECT * FROM (SELECT id FROM schema_versions) sv",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, args := filter.Rewrite(tc.sql, tc.args, "tenant-a")
			require.Equal(t, tc.want, got)
			if tc.wantArg {
				require.Len(t, args, len(tc.args)+1)
				require.Equal(t, "tenant-a", args[len(args)-1])
			} else {
				require.Len(t, args, len(tc.args))
			}
		})
	}
}

func TestTenantFilterRewriteCaseInsensitiveKeywords(t *testing.T) {
	filter := testFilter(t)

	got, args := filter.Rewrite("select id from products where name = $1", []any{"trowel"}, "tenant-a")
	require.Equal(t, "select id from products where (name = $1) AND products.tenant_id = $2", got)
	require.Equal(t, []any{"trowel", "tenant-a"}, args)
}
