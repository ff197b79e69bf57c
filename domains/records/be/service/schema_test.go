package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

func TestParseEntitySchema(t *testing.T) {
	document := json.RawMessage(`{
		"dataSource": {
			"tableName": "products",
			"versioned": true,
			"defaultSort": "-created_at",
			"filters": [
				{"field": "name", "operator": "like"},
				{"field": "active"}
			],
			"fields": [
				{"id": "name", "dbType": "string", "required": true},
				{"id": "price", "dbType": "decimal", "defaultValue": 0},
				{"id": "active", "dbType": "boolean"}
			]
		}
	}`)

	schema, err := parseEntitySchema(document)
	require.NoError(t, err)
	require.Equal(t, "products", schema.TableName)
	require.True(t, schema.Versioned)
	require.Equal(t, "-created_at", schema.DefaultSort)

	field, ok := schema.field("price")
	require.True(t, ok)
	require.Equal(t, "decimal", field.DBType)
	_, ok = schema.field("missing")
	require.False(t, ok)

	rule, ok := schema.filterRuleFor("name")
	require.True(t, ok)
	require.Equal(t, "like", rule.Operator)
	_, ok = schema.filterRuleFor("price")
	require.False(t, ok)
	require.Equal(t, "active, name", schema.allowedFilterFields())
}

func TestParseEntitySchemaRejectsMissingTable(t *testing.T) {
	_, err := parseEntitySchema(json.RawMessage(`{"dataSource": {"fields": []}}`))
	require.ErrorIs(t, err, persistence.ErrInvalidArgument)

	_, err = parseEntitySchema(json.RawMessage(`not json`))
	require.ErrorIs(t, err, persistence.ErrInvalidArgument)
}

func TestCoerceValue(t *testing.T) {
	when := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		name   string
		dbType string
		in     any
		want   any
	}{
		{"string passthrough", "string", "widget", "widget"},
		{"string from number", "string", 42, "42"},
		{"untyped defaults to string", "", "widget", "widget"},
		{"decimal from float", "decimal", 19.99, 19.99},
		{"decimal from string", "decimal", "19.99", 19.99},
		{"integer from float", "integer", float64(7), int64(7)},
		{"integer from string", "int", "7", int64(7)},
		{"boolean from bool", "boolean", true, true},
		{"boolean from string", "bool", "true", true},
		{"timestamp from string", "datetime", "2026-03-14T09:30:00Z", when},
		{"json passthrough", "jsonb", map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerceValue(fieldSpec{ID: "f", DBType: tc.dbType}, tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		got, err := coerceValue(fieldSpec{ID: "f", DBType: "decimal"}, nil)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	rejections := []struct {
		name   string
		dbType string
		in     any
	}{
		{"decimal from garbage", "decimal", "not-a-number"},
		{"integer with fraction", "integer", 7.5},
		{"integer from garbage", "integer", "seven"},
		{"boolean from garbage", "boolean", "maybe"},
		{"timestamp from garbage", "datetime", "yesterday"},
		{"decimal from bool", "decimal", true},
	}
	for _, tc := range rejections {
		t.Run(tc.name, func(t *testing.T) {
			_, err := coerceValue(fieldSpec{ID: "f", DBType: tc.dbType}, tc.in)
			require.ErrorIs(t, err, persistence.ErrInvalidArgument)
		})
	}
}
