package persistence

import (
	"fmt"
	"regexp"
	"strings"
)

// Record tables and their columns are resolved by name at runtime and the
// names end up embedded in SQL text, so everything is vetted against this
// identifier shape first.
var sqlIdentPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// normalizeTableName trims and validates a lowercase snake_case
// identifier. Rejections carry ErrInvalidArgument so callers surface them
// through the shared taxonomy without extra wrapping.
func normalizeTableName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: table name is required", ErrInvalidArgument)
	}
	if !sqlIdentPattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid table name %q", ErrInvalidArgument, name)
	}
	return name, nil
}
