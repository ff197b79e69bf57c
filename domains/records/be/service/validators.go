package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

// validationRule is one declared rule from a field's validations list:
// minLength, maxLength, min, max, pattern (with an optional custom
// message), or an explicit required. `required: true` on the field itself
// is shorthand for the latter.
type validationRule struct {
	Rule    string `json:"rule"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// validateRecord checks data against every field's declared rules. On
// update, absent fields are skipped entirely: a missing field means
// "don't change it". Unknown rule names are ignored.
func validateRecord(schema entitySchema, data persistence.Record, creating bool) error {
	for _, field := range schema.Fields {
		value, supplied := data[field.ID]
		if !creating && !supplied {
			continue
		}

		rules := field.Validations
		if field.Required && !declaresRequired(rules) {
			rules = append([]validationRule{{Rule: "required"}}, rules...)
		}

		label := field.Label
		if label == "" {
			label = field.ID
		}

		for _, rule := range rules {
			if msg := checkRule(rule, value, label); msg != "" {
				return fmt.Errorf("%w: field %q: %s", persistence.ErrInvalidArgument, field.ID, msg)
			}
		}
	}
	return nil
}

func declaresRequired(rules []validationRule) bool {
	for _, rule := range rules {
		if rule.Rule == "required" {
			return true
		}
	}
	return false
}

// checkRule evaluates one rule against a coerced value and returns the
// failure message, or "" when the rule passes or does not apply to the
// value's type.
func checkRule(rule validationRule, value any, label string) string {
	switch rule.Rule {
	case "required":
		if value == nil {
			return label + " is required"
		}
		if text, ok := value.(string); ok && strings.TrimSpace(text) == "" {
			return label + " is required"
		}
	case "minLength":
		text, isText := value.(string)
		if bound, ok := toNumber(rule.Value); ok && isText && float64(len([]rune(text))) < bound {
			return fmt.Sprintf("%s must be at least %v characters", label, rule.Value)
		}
	case "maxLength":
		text, isText := value.(string)
		if bound, ok := toNumber(rule.Value); ok && isText && float64(len([]rune(text))) > bound {
			return fmt.Sprintf("%s must be at most %v characters", label, rule.Value)
		}
	case "min":
		number, isNumber := toNumber(value)
		if bound, ok := toNumber(rule.Value); ok && isNumber && number < bound {
			return fmt.Sprintf("%s must be at least %v", label, rule.Value)
		}
	case "max":
		number, isNumber := toNumber(value)
		if bound, ok := toNumber(rule.Value); ok && isNumber && number > bound {
			return fmt.Sprintf("%s must be at most %v", label, rule.Value)
		}
	case "pattern":
		text, isText := value.(string)
		pattern, _ := rule.Value.(string)
		if !isText || pattern == "" {
			return ""
		}
		// match from the start of the value, like the usual form-field
		// pattern semantics
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			return fmt.Sprintf("invalid pattern %q", pattern)
		}
		if !re.MatchString(text) {
			if rule.Message != "" {
				return rule.Message
			}
			return label + " does not match the required format"
		}
	}
	return ""
}

// toNumber widens the numeric shapes a coerced value or rule bound can
// take. Non-numeric values report false so rules skip them, the same way
// length rules skip non-strings.
func toNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
