package persistence

import (
	"fmt"
	"sort"
	"strings"
)

// TenantFilter rewrites outgoing SQL so that every SELECT, UPDATE, and
// DELETE against a tenant-scoped table carries an equality predicate on its
// tenant id column. It sits between the query builder and pgx: the Session
// passes each statement through Rewrite before execution, so repositories
// never add tenant predicates themselves.
//
// INSERT statements are never rewritten; writers must supply the tenant id
// explicitly. Statements issued on a session without a tenant marker are
// never rewritten either, which is the escape hatch for privileged
// operations (seeding, login, schema resolution).
//
// Known limitation, joins: when a statement touches several tenant-scoped
// tables, each matched table is filtered by its qualified column name. That
// is a column-name match, not a semantic guarantee; any new join across
// tenant-scoped tables must be audited by hand. Predicates qualify the
// bare table name, so a scoped table referenced through an alias makes the
// qualifier unresolvable and the statement errors instead of running
// unfiltered. The repositories here never alias scoped tables.
type TenantFilter struct {
	scoped map[string]bool
	column string
}

// NewTenantFilter builds a filter over the registry's tenant-scoped tables
// minus the exempt set. Exempt tables (tenants, users, the schema version
// store) need cross-tenant access and are never filtered even though some
// carry a tenant id column.
func NewTenantFilter(registry *TableRegistry, exempt ...string) *TenantFilter {
	scoped := make(map[string]bool)
	for _, name := range registry.TenantScopedTables(exempt...) {
		scoped[name] = true
	}
	return &TenantFilter{scoped: scoped, column: ColumnNameTenantID}
}

// ScopedTables returns the filtered table set, sorted. Used by logs and tests.
func (f *TenantFilter) ScopedTables() []string {
	return sortedKeys(f.scoped)
}

// Rewrite returns the statement with tenant predicates injected and the
// tenant id appended to the argument list. Statements that do not target a
// scoped table, and statement kinds other than SELECT/UPDATE/DELETE, are
// returned unchanged.
func (f *TenantFilter) Rewrite(sql string, args []any, tenantID string) (string, []any) {
	tokens := tokenizeSQL(sql)
	if len(tokens) == 0 {
		return sql, args
	}

	verb := strings.ToUpper(tokens[0].text)
	if verb != "SELECT" && verb != "UPDATE" && verb != "DELETE" {
		return sql, args
	}

	targets := targetTables(tokens, verb)
	var matched []string
	seen := make(map[string]bool)
	for _, table := range targets {
		if f.scoped[table] && !seen[table] {
			matched = append(matched, table)
			seen[table] = true
		}
	}
	if len(matched) == 0 {
		return sql, args
	}

	placeholder := len(args) + 1
	predicates := make([]string, len(matched))
	for i, table := range matched {
		predicates[i] = fmt.Sprintf("%s.%s = $%d", table, f.column, placeholder)
	}
	predicate := strings.Join(predicates, " AND ")

	rewritten := spliceWhere(sql, tokens, predicate)
	return rewritten, append(args, tenantID)
}

// sqlToken is a word-like token with its byte offsets and paren depth.
type sqlToken struct {
	text  string
	start int
	end   int
	depth int
}

// tokenizeSQL extracts identifier/keyword tokens at their paren depth,
// skipping string literals and tracking quoted identifiers verbatim.
func tokenizeSQL(sql string) []sqlToken {
	var tokens []sqlToken
	depth := 0
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case c == '\'':
			// string literal, '' escapes a quote
			i++
			for i < len(sql) {
				if sql[i] == '\'' {
					if i+1 < len(sql) && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '"':
			start := i
			i++
			for i < len(sql) && sql[i] != '"' {
				i++
			}
			if i < len(sql) {
				i++
			}
			tokens = append(tokens, sqlToken{text: sql[start:i], start: start, end: i, depth: depth})
		case isWordByte(c):
			start := i
			for i < len(sql) && isWordByte(sql[i]) {
				i++
			}
			tokens = append(tokens, sqlToken{text: sql[start:i], start: start, end: i, depth: depth})
		default:
			i++
		}
	}
	return tokens
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// targetTables extracts the top-level tables a statement reads or writes:
// the token after UPDATE, after FROM, and after every JOIN. Subqueries sit
// at a deeper paren depth and are left alone.
func targetTables(tokens []sqlToken, verb string) []string {
	var tables []string
	appendNext := func(idx int) {
		if idx+1 >= len(tokens) {
			return
		}
		next := tokens[idx+1]
		if next.depth != tokens[idx].depth {
			return // derived table / subquery
		}
		if name := cleanIdentifier(next.text); name != "" {
			tables = append(tables, name)
		}
	}

	for i, tok := range tokens {
		if tok.depth != 0 {
			continue
		}
		switch strings.ToUpper(tok.text) {
		case "UPDATE":
			if verb == "UPDATE" && i == 0 {
				appendNext(i)
			}
		case "FROM":
			appendNext(i)
		case "JOIN":
			appendNext(i)
		}
	}
	return tables
}

func cleanIdentifier(raw string) string {
	name := strings.Trim(raw, `"`)
	if name == "" {
		return ""
	}
	// Reserved words following FROM/JOIN in compound clauses are not tables.
	switch strings.ToUpper(name) {
	case "SELECT", "LATERAL", "ONLY":
		return ""
	}
	return strings.ToLower(name)
}

// trailing keywords that end a WHERE clause at the top level.
var clauseBoundaries = map[string]bool{
	"GROUP":     true,
	"ORDER":     true,
	"LIMIT":     true,
	"OFFSET":    true,
	"FETCH":     true,
	"RETURNING": true,
	"FOR":       true,
	"UNION":     true,
}

// spliceWhere injects the predicate into the statement: existing top-level
// WHERE conditions are parenthesized and AND-ed with the predicate; absent
// a WHERE clause one is inserted before the first trailing clause keyword.
func spliceWhere(sql string, tokens []sqlToken, predicate string) string {
	whereIdx := -1
	for i, tok := range tokens {
		if tok.depth == 0 && strings.EqualFold(tok.text, "WHERE") {
			whereIdx = i
			break
		}
	}

	boundary := len(sql)
	searchFrom := 0
	if whereIdx >= 0 {
		searchFrom = whereIdx + 1
	}
	for _, tok := range tokens[searchFrom:] {
		if tok.depth == 0 && clauseBoundaries[strings.ToUpper(tok.text)] {
			boundary = tok.start
			break
		}
	}

	tail := sql[boundary:]
	if tail != "" {
		tail = " " + tail
	}

	if whereIdx >= 0 {
		where := tokens[whereIdx]
		conditions := strings.TrimSpace(sql[where.end:boundary])
		return sql[:where.end] + " (" + conditions + ") AND " + predicate + tail
	}

	head := strings.TrimRight(sql[:boundary], " \n\t")
	return head + " WHERE " + predicate + tail
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
