package service

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// parseQuery maps request query parameters onto repository list parameters.
// Filters use the filter[field]=value form; the operator comes from the
// schema's whitelist entry, and filtering a non-whitelisted field is
// rejected naming the allowed set. Sorting accepts sort=field and
// sort=-field, with the schema's defaultSort as fallback.
func parseQuery(schema entitySchema, query url.Values) (persistence.ListParams, error) {
	params := persistence.ListParams{}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return persistence.ListParams{}, fmt.Errorf("%w: invalid offset %q", persistence.ErrInvalidArgument, raw)
		}
		params.Offset = offset
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return persistence.ListParams{}, fmt.Errorf("%w: invalid limit %q", persistence.ErrInvalidArgument, raw)
		}
		params.Limit = limit
	}

	for key, values := range query {
		field, ok := filterField(key)
		if !ok || len(values) == 0 {
			continue
		}

		rule, allowed := schema.filterRuleFor(field)
		if !allowed {
			return persistence.ListParams{}, fmt.Errorf("%w: field %q is not filterable, allowed: %s",
				persistence.ErrInvalidArgument, field, schema.allowedFilterFields())
		}

		op := persistence.OpEq
		if rule.Operator != "" {
			parsed, err := persistence.ParseFilterOp(rule.Operator)
			if err != nil {
				return persistence.ListParams{}, err
			}
			op = parsed
		}

		value, err := filterValue(schema, field, op, values[0])
		if err != nil {
			return persistence.ListParams{}, err
		}

		params.Filters = append(params.Filters, persistence.Filter{Field: field, Op: op, Value: value})
	}

	sortExpr := query.Get("sort")
	if sortExpr == "" {
		sortExpr = schema.DefaultSort
	}
	if sortExpr != "" {
		params.Sort = parseSort(sortExpr)
	}

	return params, nil
}

func filterField(key string) (string, bool) {
	if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
		return "", false
	}
	field := key[len("filter[") : len(key)-1]
	return field, field != ""
}

func filterValue(schema entitySchema, field string, op persistence.FilterOp, raw string) (any, error) {
	spec, ok := schema.field(field)
	if !ok {
		// whitelisted but undeclared, treat as text
		spec = fieldSpec{ID: field}
	}

	if op == persistence.OpIn {
		parts := strings.Split(raw, ",")
		values := make([]any, 0, len(parts))
		for _, part := range parts {
			coerced, err := coerceValue(spec, strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			values = append(values, coerced)
		}
		return values, nil
	}

	return coerceValue(spec, raw)
}

func parseSort(expr string) *persistence.Sort {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	if strings.HasPrefix(expr, "-") {
		return &persistence.Sort{Field: expr[1:], Descending: true}
	}
	return &persistence.Sort{Field: expr}
}
