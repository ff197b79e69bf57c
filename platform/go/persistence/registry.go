package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ColumnType enumerates the storage types a dynamic record column can have.
type ColumnType string

const (
	ColumnText      ColumnType = "text"
	ColumnDecimal   ColumnType = "decimal"
	ColumnInteger   ColumnType = "integer"
	ColumnBoolean   ColumnType = "boolean"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnJSON      ColumnType = "jsonb"
)

// Column names every dynamic record table must carry. The version column is
// optional and enables optimistic locking when present.
const (
	ColumnNameID        = "id"
	ColumnNameTenantID  = "tenant_id"
	ColumnNameCreatedAt = "created_at"
	ColumnNameUpdatedAt = "updated_at"
	ColumnNameVersion   = "version"
)

// Column describes one column of a dynamic record table.
type Column struct {
	Name string
	Type ColumnType
}

// TableDef describes a dynamic record table: its validated name and the
// columns the generic repository may read or write.
type TableDef struct {
	Name    string
	Columns []Column
}

// HasColumn reports whether the table declares the named column.
func (d TableDef) HasColumn(name string) bool {
	_, ok := d.ColumnType(name)
	return ok
}

// ColumnType returns the declared type of the named column.
func (d TableDef) ColumnType(name string) (ColumnType, bool) {
	for _, col := range d.Columns {
		if col.Name == name {
			return col.Type, true
		}
	}
	return "", false
}

// HasVersion reports whether the table participates in optimistic locking.
func (d TableDef) HasVersion() bool {
	return d.HasColumn(ColumnNameVersion)
}

// ColumnNames returns the declared column names in declaration order.
func (d TableDef) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		names[i] = col.Name
	}
	return names
}

// TableRegistry maps table names to their column descriptors. It is built
// once at startup and is read-only afterwards, so it may be shared across
// concurrent requests without locking.
type TableRegistry struct {
	tables map[string]TableDef
}

// NewTableRegistry validates and indexes the provided table definitions.
// Every definition must use a safe snake_case name, declare the implicit
// record columns, and declare each remaining column with a valid type.
func NewTableRegistry(defs ...TableDef) (*TableRegistry, error) {
	tables := make(map[string]TableDef, len(defs))
	for _, def := range defs {
		name, err := normalizeTableName(def.Name)
		if err != nil {
			return nil, err
		}
		if _, exists := tables[name]; exists {
			return nil, fmt.Errorf("duplicate table definition %q", name)
		}

		seen := make(map[string]bool, len(def.Columns))
		for _, col := range def.Columns {
			if _, err := normalizeTableName(col.Name); err != nil {
				return nil, fmt.Errorf("table %q: invalid column name %q", name, col.Name)
			}
			if seen[col.Name] {
				return nil, fmt.Errorf("table %q: duplicate column %q", name, col.Name)
			}
			seen[col.Name] = true
			switch col.Type {
			case ColumnText, ColumnDecimal, ColumnInteger, ColumnBoolean, ColumnTimestamp, ColumnJSON:
			default:
				return nil, fmt.Errorf("table %q: column %q has unknown type %q", name, col.Name, col.Type)
			}
		}

		for _, required := range []string{ColumnNameID, ColumnNameTenantID, ColumnNameCreatedAt, ColumnNameUpdatedAt} {
			if !seen[required] {
				return nil, fmt.Errorf("table %q: missing required column %q", name, required)
			}
		}

		def.Name = name
		tables[name] = def
	}

	return &TableRegistry{tables: tables}, nil
}

// Lookup resolves a table definition by name. Unknown tables fail before
// any SQL is issued.
func (r *TableRegistry) Lookup(name string) (TableDef, error) {
	normalized, err := normalizeTableName(name)
	if err != nil {
		return TableDef{}, err
	}
	def, ok := r.tables[normalized]
	if !ok {
		return TableDef{}, fmt.Errorf("%w: table %q is not registered", ErrNotFound, normalized)
	}
	return def, nil
}

// TenantScopedTables returns the registered tables that carry a tenant id
// column, minus the provided exemption set, sorted by name.
func (r *TableRegistry) TenantScopedTables(exempt ...string) []string {
	exempted := make(map[string]bool, len(exempt))
	for _, name := range exempt {
		exempted[strings.TrimSpace(name)] = true
	}

	var scoped []string
	for name, def := range r.tables {
		if exempted[name] || !def.HasColumn(ColumnNameTenantID) {
			continue
		}
		scoped = append(scoped, name)
	}
	sort.Strings(scoped)
	return scoped
}

// dataSourceDocument is the subset of a schema document the registry needs.
type dataSourceDocument struct {
	DataSource struct {
		TableName string `json:"tableName"`
		Versioned bool   `json:"versioned"`
		Fields    []struct {
			ID     string `json:"id"`
			DBType string `json:"dbType"`
		} `json:"fields"`
	} `json:"dataSource"`
}

// TableDefFromDocument derives a table definition from a schema document's
// dataSource section. The implicit record columns are always added; a
// version column is added when the data source declares versioned=true.
func TableDefFromDocument(document json.RawMessage) (TableDef, error) {
	var doc dataSourceDocument
	if err := json.Unmarshal(document, &doc); err != nil {
		return TableDef{}, fmt.Errorf("%w: decode schema document: %v", ErrInvalidArgument, err)
	}

	name, err := normalizeTableName(doc.DataSource.TableName)
	if err != nil {
		return TableDef{}, fmt.Errorf("dataSource.tableName: %w", err)
	}

	columns := []Column{
		{Name: ColumnNameID, Type: ColumnText},
		{Name: ColumnNameTenantID, Type: ColumnText},
		{Name: ColumnNameCreatedAt, Type: ColumnTimestamp},
		{Name: ColumnNameUpdatedAt, Type: ColumnTimestamp},
	}
	if doc.DataSource.Versioned {
		columns = append(columns, Column{Name: ColumnNameVersion, Type: ColumnInteger})
	}

	for _, field := range doc.DataSource.Fields {
		colType, err := columnTypeForDBType(field.DBType)
		if err != nil {
			return TableDef{}, fmt.Errorf("%w: field %q: %v", ErrInvalidArgument, field.ID, err)
		}
		columns = append(columns, Column{Name: field.ID, Type: colType})
	}

	return TableDef{Name: name, Columns: columns}, nil
}

func columnTypeForDBType(dbType string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "string", "text", "":
		return ColumnText, nil
	case "decimal", "number", "numeric":
		return ColumnDecimal, nil
	case "integer", "int":
		return ColumnInteger, nil
	case "boolean", "bool":
		return ColumnBoolean, nil
	case "datetime", "timestamp":
		return ColumnTimestamp, nil
	case "json", "jsonb":
		return ColumnJSON, nil
	default:
		return "", fmt.Errorf("unknown dbType %q", dbType)
	}
}
