// Package merge implements deterministic deep merging of schema documents.
//
// Merge strategy:
//   - Objects are merged recursively; override values win on scalar conflicts.
//   - Arrays whose elements are all objects carrying a stable "id" field are
//     merged by id: matching elements merge recursively, override-only
//     elements are appended, base order is preserved.
//   - Any other array is replaced wholesale by the override.
//
// The merge never mutates its inputs; the result is a freshly built tree
// that is safe to share across concurrent callers.
package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Deep merges override into base and returns a new document tree.
func Deep(base, override map[string]any) map[string]any {
	result := copyMap(base)
	mergeInto(result, override)
	return result
}

// Documents merges two raw JSON objects. The output is deterministic for a
// given input pair: encoding/json sorts object keys, so identical inputs
// yield byte-identical output.
func Documents(base, override []byte) ([]byte, error) {
	baseDoc, err := decodeObject(base)
	if err != nil {
		return nil, fmt.Errorf("decode base document: %w", err)
	}
	overrideDoc, err := decodeObject(override)
	if err != nil {
		return nil, fmt.Errorf("decode override document: %w", err)
	}

	merged, err := json.Marshal(Deep(baseDoc, overrideDoc))
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	return merged, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("document is required")
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func mergeInto(target, source map[string]any) {
	for key, sourceVal := range source {
		targetVal, exists := target[key]
		if !exists {
			target[key] = copyValue(sourceVal)
			continue
		}

		targetMap, targetIsMap := targetVal.(map[string]any)
		sourceMap, sourceIsMap := sourceVal.(map[string]any)
		if targetIsMap && sourceIsMap {
			mergeInto(targetMap, sourceMap)
			continue
		}

		targetList, targetIsList := targetVal.([]any)
		sourceList, sourceIsList := sourceVal.([]any)
		if targetIsList && sourceIsList {
			target[key] = mergeArrays(targetList, sourceList)
			continue
		}

		target[key] = copyValue(sourceVal)
	}
}

// mergeArrays merges by stable element ids when both sides qualify,
// otherwise the override list replaces the base list.
func mergeArrays(base, override []any) []any {
	if len(base) == 0 {
		return copySlice(override)
	}
	if len(override) == 0 {
		return copySlice(base)
	}
	if !allHaveIDs(base) || !allHaveIDs(override) {
		return copySlice(override)
	}

	merged := make(map[any]map[string]any, len(base))
	for _, item := range base {
		element := item.(map[string]any)
		merged[element["id"]] = copyMap(element)
	}
	for _, item := range override {
		element := item.(map[string]any)
		id := element["id"]
		if existing, ok := merged[id]; ok {
			mergeInto(existing, element)
		} else {
			merged[id] = copyMap(element)
		}
	}

	// Base elements first in original order, then override-only elements
	// in their original order.
	result := make([]any, 0, len(merged))
	seen := make(map[any]bool, len(merged))
	for _, item := range base {
		id := item.(map[string]any)["id"]
		if !seen[id] {
			result = append(result, merged[id])
			seen[id] = true
		}
	}
	for _, item := range override {
		id := item.(map[string]any)["id"]
		if !seen[id] {
			result = append(result, merged[id])
			seen[id] = true
		}
	}
	return result
}

func allHaveIDs(list []any) bool {
	for _, item := range list {
		element, ok := item.(map[string]any)
		if !ok {
			return false
		}
		id, ok := element["id"]
		if !ok || !usableID(id) {
			return false
		}
	}
	return true
}

// usableID reports whether an id value can key the merge map. Decoded JSON
// ids are scalars here; object or array ids disqualify the list from
// id-keyed merging so it falls back to wholesale replacement.
func usableID(id any) bool {
	switch id.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return copyMap(typed)
	case []any:
		return copySlice(typed)
	default:
		return typed
	}
}

func copyMap(source map[string]any) map[string]any {
	result := make(map[string]any, len(source))
	for key, value := range source {
		result[key] = copyValue(value)
	}
	return result
}

func copySlice(source []any) []any {
	result := make([]any, len(source))
	for i, value := range source {
		result[i] = copyValue(value)
	}
	return result
}
