package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// FilterOp enumerates the comparison operators the record store supports.
type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNeq  FilterOp = "neq"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpLike FilterOp = "like" // case-insensitive substring
	OpIn   FilterOp = "in"
)

// ParseFilterOp validates an operator name.
func ParseFilterOp(raw string) (FilterOp, error) {
	op := FilterOp(strings.ToLower(strings.TrimSpace(raw)))
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpLike, OpIn:
		return op, nil
	default:
		return "", fmt.Errorf("%w: unknown filter operator %q", ErrInvalidArgument, raw)
	}
}

// Filter is one (field, operator, value) predicate. For OpIn the value is
// a slice of candidate values.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Sort names the order column and direction for listings.
type Sort struct {
	Field      string
	Descending bool
}

// ListParams bundle pagination, filtering and ordering for List.
type ListParams struct {
	Offset  int
	Limit   int
	Filters []Filter
	Sort    *Sort
}

// ListResult is one page of records plus the unpaginated total.
type ListResult struct {
	Items  []Record
	Total  int64
	Offset int
	Limit  int
}

// Record is a dynamic row: column name to scalar/JSON value.
type Record map[string]any

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// RecordRepository performs CRUD against any table registered in the
// table-metadata registry. It resolves the table definition by name at call
// time and runs inside a Session, so tenant scoping is enforced by the
// session's statement rewriting rather than by predicates built here. The
// only place a tenant id is written explicitly is Create, because INSERT
// statements are never rewritten.
type RecordRepository struct {
	registry *TableRegistry
}

// NewRecordRepository builds a repository over the shared registry.
func NewRecordRepository(registry *TableRegistry) *RecordRepository {
	if registry == nil {
		panic("RecordRepository requires table registry")
	}
	return &RecordRepository{registry: registry}
}

// List returns one page of rows plus the total count. Filters referencing
// unknown fields are silently ignored (callers whitelist beforehand); the
// sort falls back to created_at descending when absent or unknown.
func (r *RecordRepository) List(ctx context.Context, sess *Session, table string, params ListParams) (ListResult, error) {
	def, err := r.registry.Lookup(table)
	if err != nil {
		return ListResult{}, err
	}

	limit := params.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	conditions, err := buildConditions(def, params.Filters)
	if err != nil {
		return ListResult{}, err
	}

	countQuery := builder.Select("COUNT(*)").From(def.Name)
	for _, cond := range conditions {
		countQuery = countQuery.Where(cond)
	}
	countSQL, countArgs, err := countQuery.ToSql()
	if err != nil {
		return ListResult{}, fmt.Errorf("build count query: %w", err)
	}

	var total int64
	if err := sess.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count %s: %w", def.Name, err)
	}

	dataQuery := builder.Select(def.ColumnNames()...).
		From(def.Name).
		OrderBy(orderClause(def, params.Sort)).
		Limit(uint64(limit)).
		Offset(uint64(offset))
	for _, cond := range conditions {
		dataQuery = dataQuery.Where(cond)
	}
	dataSQL, dataArgs, err := dataQuery.ToSql()
	if err != nil {
		return ListResult{}, fmt.Errorf("build list query: %w", err)
	}

	rows, err := sess.Query(ctx, dataSQL, dataArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list %s: %w", def.Name, err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return ListResult{}, scanErr
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate %s: %w", def.Name, err)
	}

	return ListResult{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

// GetByID fetches a single row.
func (r *RecordRepository) GetByID(ctx context.Context, sess *Session, table, id string) (Record, error) {
	def, err := r.registry.Lookup(table)
	if err != nil {
		return nil, err
	}

	query, args, err := builder.Select(def.ColumnNames()...).
		From(def.Name).
		Where(sq.Eq{ColumnNameID: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	rows, err := sess.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", def.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get %s: %w", def.Name, err)
		}
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, def.Name, id)
	}
	record, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Create inserts a new row, assigning id, timestamps, and the initial
// version when the table is version-bearing and none was supplied. The
// tenant id is written explicitly because inserts bypass the tenant filter.
func (r *RecordRepository) Create(ctx context.Context, sess *Session, table, tenantID string, data Record) (Record, error) {
	def, err := r.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidArgument)
	}

	now := time.Now().UTC()
	row := Record{}
	for key, value := range data {
		if def.HasColumn(key) {
			row[key] = value
		}
	}
	row[ColumnNameID] = uuid.NewString()
	row[ColumnNameTenantID] = tenantID
	row[ColumnNameCreatedAt] = now
	row[ColumnNameUpdatedAt] = now
	if def.HasVersion() {
		if _, supplied := row[ColumnNameVersion]; !supplied {
			row[ColumnNameVersion] = 1
		}
	}

	query, args, err := builder.Insert(def.Name).SetMap(toSetMap(row)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	if _, err := sess.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", def.Name, err)
	}

	return row, nil
}

// Update applies a partial update with the optimistic-concurrency contract:
// when the table has a version column and expectedVersion is supplied, the
// version check and the bump ride on the same statement (no read-then-write
// window). Zero affected rows are disambiguated by a follow-up existence
// check: row present means Conflict, row absent means NotFound. Without an
// expected version the counter still increments but no check occurs.
func (r *RecordRepository) Update(ctx context.Context, sess *Session, table, id string, data Record, expectedVersion *int) (Record, error) {
	def, err := r.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	hasVersion := def.HasVersion()

	updates := Record{}
	for key, value := range data {
		if value == nil || !def.HasColumn(key) {
			continue
		}
		switch key {
		case ColumnNameID, ColumnNameTenantID, ColumnNameCreatedAt, ColumnNameVersion:
			continue // never client-writable on update
		}
		updates[key] = value
	}
	updates[ColumnNameUpdatedAt] = time.Now().UTC()

	update := builder.Update(def.Name).
		SetMap(toSetMap(updates)).
		Where(sq.Eq{ColumnNameID: id})

	switch {
	case hasVersion && expectedVersion != nil:
		update = update.
			Set(ColumnNameVersion, *expectedVersion+1).
			Where(sq.Eq{ColumnNameVersion: *expectedVersion})
	case hasVersion:
		update = update.Set(ColumnNameVersion, sq.Expr(ColumnNameVersion+" + 1"))
	}

	update = update.Suffix("RETURNING " + strings.Join(def.ColumnNames(), ", "))
	query, args, err := update.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	rows, err := sess.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", def.Name, err)
	}
	defer rows.Close()

	if rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		return record, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("update %s: %w", def.Name, err)
	}
	rows.Close()

	if hasVersion && expectedVersion != nil {
		exists, existsErr := r.exists(ctx, sess, def, id)
		if existsErr != nil {
			return nil, existsErr
		}
		if exists {
			return nil, &ConflictError{EntityID: id, ExpectedVersion: *expectedVersion}
		}
	}

	return nil, fmt.Errorf("%w: %s %s", ErrNotFound, def.Name, id)
}

// Delete removes a row. It reports whether a row was deleted.
func (r *RecordRepository) Delete(ctx context.Context, sess *Session, table, id string) (bool, error) {
	def, err := r.registry.Lookup(table)
	if err != nil {
		return false, err
	}

	query, args, err := builder.Delete(def.Name).Where(sq.Eq{ColumnNameID: id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete: %w", err)
	}

	tag, err := sess.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", def.Name, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RecordRepository) exists(ctx context.Context, sess *Session, def TableDef, id string) (bool, error) {
	query, args, err := builder.Select("1").From(def.Name).Where(sq.Eq{ColumnNameID: id}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build existence check: %w", err)
	}

	var one int
	err = sess.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s existence: %w", def.Name, err)
	}
	return true, nil
}

func buildConditions(def TableDef, filters []Filter) ([]sq.Sqlizer, error) {
	var conditions []sq.Sqlizer
	for _, filter := range filters {
		if !def.HasColumn(filter.Field) {
			continue
		}
		switch filter.Op {
		case OpEq:
			conditions = append(conditions, sq.Eq{filter.Field: filter.Value})
		case OpNeq:
			conditions = append(conditions, sq.NotEq{filter.Field: filter.Value})
		case OpGt:
			conditions = append(conditions, sq.Gt{filter.Field: filter.Value})
		case OpGte:
			conditions = append(conditions, sq.GtOrEq{filter.Field: filter.Value})
		case OpLt:
			conditions = append(conditions, sq.Lt{filter.Field: filter.Value})
		case OpLte:
			conditions = append(conditions, sq.LtOrEq{filter.Field: filter.Value})
		case OpLike:
			conditions = append(conditions, sq.ILike{filter.Field: fmt.Sprintf("%%%v%%", filter.Value)})
		case OpIn:
			conditions = append(conditions, sq.Eq{filter.Field: filter.Value})
		default:
			return nil, fmt.Errorf("%w: unknown filter operator %q", ErrInvalidArgument, filter.Op)
		}
	}
	return conditions, nil
}

func orderClause(def TableDef, sort *Sort) string {
	field := ColumnNameCreatedAt
	descending := true
	if sort != nil && def.HasColumn(sort.Field) {
		field = sort.Field
		descending = sort.Descending
	}
	if descending {
		return field + " DESC"
	}
	return field + " ASC"
}

func toSetMap(record Record) map[string]any {
	values := make(map[string]any, len(record))
	for key, value := range record {
		values[key] = value
	}
	return values
}

func scanRecord(rows pgx.Rows) (Record, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("read row values: %w", err)
	}

	record := make(Record, len(values))
	for i, desc := range rows.FieldDescriptions() {
		record[desc.Name] = normalizeValue(values[i])
	}
	return record, nil
}

// normalizeValue maps driver-level values onto plain Go values that
// round-trip through JSON.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case pgtype.Numeric:
		if v, err := typed.Value(); err == nil {
			return v
		}
		return typed
	case [16]byte:
		return uuid.UUID(typed).String()
	default:
		return typed
	}
}
