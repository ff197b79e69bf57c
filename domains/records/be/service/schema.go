package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// entitySchema is the dataSource section of a published schema document,
// decoded into what the records service needs: the backing table, the
// filter whitelist, and per-field coercion/transform metadata.
type entitySchema struct {
	TableName   string
	Versioned   bool
	DefaultSort string
	Filters     []filterRule
	Fields      []fieldSpec
	fieldsByID  map[string]fieldSpec
}

type filterRule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
}

type transformSpec struct {
	Fn string `json:"fn"`
	On string `json:"on"`
}

type fieldSpec struct {
	ID           string           `json:"id"`
	Label        string           `json:"label"`
	DBType       string           `json:"dbType"`
	Required     bool             `json:"required"`
	DefaultValue any              `json:"defaultValue"`
	Transforms   []transformSpec  `json:"transforms"`
	Validations  []validationRule `json:"validations"`
}

func parseEntitySchema(document json.RawMessage) (entitySchema, error) {
	var doc struct {
		DataSource struct {
			TableName   string       `json:"tableName"`
			Versioned   bool         `json:"versioned"`
			DefaultSort string       `json:"defaultSort"`
			Filters     []filterRule `json:"filters"`
			Fields      []fieldSpec  `json:"fields"`
		} `json:"dataSource"`
	}
	if err := json.Unmarshal(document, &doc); err != nil {
		return entitySchema{}, fmt.Errorf("%w: decode schema document: %v", persistence.ErrInvalidArgument, err)
	}
	if doc.DataSource.TableName == "" {
		return entitySchema{}, fmt.Errorf("%w: schema document has no dataSource.tableName", persistence.ErrInvalidArgument)
	}

	schema := entitySchema{
		TableName:   doc.DataSource.TableName,
		Versioned:   doc.DataSource.Versioned,
		DefaultSort: doc.DataSource.DefaultSort,
		Filters:     doc.DataSource.Filters,
		Fields:      doc.DataSource.Fields,
		fieldsByID:  make(map[string]fieldSpec, len(doc.DataSource.Fields)),
	}
	for _, field := range doc.DataSource.Fields {
		schema.fieldsByID[field.ID] = field
	}
	return schema, nil
}

func (s entitySchema) field(id string) (fieldSpec, bool) {
	field, ok := s.fieldsByID[id]
	return field, ok
}

// filterRuleFor returns the whitelist entry for a field. List filtering is
// allowed only for whitelisted fields.
func (s entitySchema) filterRuleFor(field string) (filterRule, bool) {
	for _, rule := range s.Filters {
		if rule.Field == field {
			return rule, true
		}
	}
	return filterRule{}, false
}

func (s entitySchema) allowedFilterFields() string {
	fields := make([]string, 0, len(s.Filters))
	for _, rule := range s.Filters {
		fields = append(fields, rule.Field)
	}
	sort.Strings(fields)
	return strings.Join(fields, ", ")
}

// coerceValue converts a JSON- or query-sourced value into the Go type the
// field's dbType expects.
func coerceValue(field fieldSpec, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch strings.ToLower(field.DBType) {
	case "string", "text", "":
		if text, ok := value.(string); ok {
			return text, nil
		}
		return fmt.Sprintf("%v", value), nil
	case "decimal", "number", "numeric":
		switch typed := value.(type) {
		case float64:
			return typed, nil
		case int:
			return float64(typed), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %q is not a decimal", persistence.ErrInvalidArgument, field.ID, typed)
			}
			return parsed, nil
		}
	case "integer", "int":
		switch typed := value.(type) {
		case float64:
			if typed != float64(int64(typed)) {
				return nil, fmt.Errorf("%w: field %q: %v is not an integer", persistence.ErrInvalidArgument, field.ID, typed)
			}
			return int64(typed), nil
		case int:
			return int64(typed), nil
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %q is not an integer", persistence.ErrInvalidArgument, field.ID, typed)
			}
			return parsed, nil
		}
	case "boolean", "bool":
		switch typed := value.(type) {
		case bool:
			return typed, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %q is not a boolean", persistence.ErrInvalidArgument, field.ID, typed)
			}
			return parsed, nil
		}
	case "datetime", "timestamp":
		switch typed := value.(type) {
		case time.Time:
			return typed, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(typed))
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %q is not an RFC 3339 timestamp", persistence.ErrInvalidArgument, field.ID, typed)
			}
			return parsed, nil
		}
	case "json", "jsonb":
		return value, nil
	}

	return nil, fmt.Errorf("%w: field %q: cannot coerce %T to %s", persistence.ErrInvalidArgument, field.ID, value, field.DBType)
}
