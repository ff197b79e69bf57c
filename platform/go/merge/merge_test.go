package merge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeepScalarOverride(t *testing.T) {
	t.Parallel()

	base := map[string]any{"title": "Products", "layout": "grid", "keep": true}
	override := map[string]any{"title": "Produtos"}

	merged := Deep(base, override)

	require.Equal(t, "Produtos", merged["title"])
	require.Equal(t, "grid", merged["layout"])
	require.Equal(t, true, merged["keep"])
}

func TestDeepNestedObjects(t *testing.T) {
	t.Parallel()

	base := map[string]any{
		"dataSource": map[string]any{
			"tableName": "products",
			"method":    "GET",
		},
	}
	override := map[string]any{
		"dataSource": map[string]any{
			"method": "POST",
		},
	}

	merged := Deep(base, override)

	dataSource := merged["dataSource"].(map[string]any)
	require.Equal(t, "products", dataSource["tableName"])
	require.Equal(t, "POST", dataSource["method"])
}

func TestDeepIdempotent(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"title": "X",
		"items": []any{
			map[string]any{"id": "a", "v": float64(1)},
			map[string]any{"id": "b", "v": float64(2)},
		},
		"nested": map[string]any{"flag": true},
	}

	require.Equal(t, doc, Deep(doc, doc))
}

func TestDeepArrayMergeByID(t *testing.T) {
	t.Parallel()

	base := map[string]any{"items": []any{
		map[string]any{"id": float64(1), "a": float64(1)},
		map[string]any{"id": float64(2), "a": float64(2)},
	}}
	override := map[string]any{"items": []any{
		map[string]any{"id": float64(2), "a": float64(9)},
		map[string]any{"id": float64(3), "a": float64(3)},
	}}

	merged := Deep(base, override)

	require.Equal(t, []any{
		map[string]any{"id": float64(1), "a": float64(1)},
		map[string]any{"id": float64(2), "a": float64(9)},
		map[string]any{"id": float64(3), "a": float64(3)},
	}, merged["items"])
}

func TestDeepArrayReplacedWithoutIDs(t *testing.T) {
	t.Parallel()

	base := map[string]any{"tags": []any{"a", "b", "c"}}
	override := map[string]any{"tags": []any{"x"}}

	merged := Deep(base, override)
	require.Equal(t, []any{"x"}, merged["tags"])

	// A single element missing the id disqualifies the whole list.
	base = map[string]any{"items": []any{
		map[string]any{"id": "a"},
		map[string]any{"name": "no-id"},
	}}
	override = map[string]any{"items": []any{
		map[string]any{"id": "b"},
	}}

	merged = Deep(base, override)
	require.Equal(t, []any{map[string]any{"id": "b"}}, merged["items"])
}

func TestDeepArrayReplacedWithCompositeIDs(t *testing.T) {
	t.Parallel()

	// Array and object ids cannot key the merge; the override list must
	// replace the base list instead of crashing.
	base := map[string]any{"items": []any{
		map[string]any{"id": []any{"composite"}, "v": "base"},
	}}
	override := map[string]any{"items": []any{
		map[string]any{"id": []any{"composite"}, "v": "override"},
	}}

	merged := Deep(base, override)
	require.Equal(t, []any{
		map[string]any{"id": []any{"composite"}, "v": "override"},
	}, merged["items"])

	base = map[string]any{"items": []any{
		map[string]any{"id": map[string]any{"k": "a"}},
		map[string]any{"id": "plain"},
	}}
	override = map[string]any{"items": []any{
		map[string]any{"id": "plain", "v": "override"},
	}}

	merged = Deep(base, override)
	require.Equal(t, []any{
		map[string]any{"id": "plain", "v": "override"},
	}, merged["items"])
}

func TestDeepDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	base := map[string]any{
		"nested": map[string]any{"value": "base"},
		"items":  []any{map[string]any{"id": "a", "v": "base"}},
	}
	override := map[string]any{
		"nested": map[string]any{"value": "override"},
		"items":  []any{map[string]any{"id": "a", "v": "override"}},
	}

	merged := Deep(base, override)
	merged["nested"].(map[string]any)["value"] = "tampered"
	merged["items"].([]any)[0].(map[string]any)["v"] = "tampered"

	require.Equal(t, "base", base["nested"].(map[string]any)["value"])
	require.Equal(t, "base", base["items"].([]any)[0].(map[string]any)["v"])
	require.Equal(t, "override", override["nested"].(map[string]any)["value"])
	require.Equal(t, "override", override["items"].([]any)[0].(map[string]any)["v"])
}

func TestDocumentsDeterministic(t *testing.T) {
	t.Parallel()

	base := []byte(`{"title":"Products","dataSource":{"tableName":"products","fields":[{"id":"name","dbType":"string"},{"id":"price","dbType":"decimal"}]}}`)
	override := []byte(`{"dataSource":{"fields":[{"id":"price","dbType":"decimal","required":true},{"id":"sku","dbType":"string"}]}}`)

	first, err := Documents(base, override)
	require.NoError(t, err)
	second, err := Documents(base, override)
	require.NoError(t, err)
	require.Equal(t, first, second)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(first, &doc))
	fields := doc["dataSource"].(map[string]any)["fields"].([]any)
	require.Len(t, fields, 3)
	require.Equal(t, "name", fields[0].(map[string]any)["id"])
	require.Equal(t, "price", fields[1].(map[string]any)["id"])
	require.Equal(t, true, fields[1].(map[string]any)["required"])
	require.Equal(t, "sku", fields[2].(map[string]any)["id"])
}

func TestDocumentsRejectsNonObjects(t *testing.T) {
	t.Parallel()

	_, err := Documents([]byte(`[]`), []byte(`{}`))
	require.Error(t, err)

	_, err = Documents([]byte(`{}`), []byte(``))
	require.Error(t, err)
}
