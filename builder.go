package tinyorm

import (
	"context"
	"strconv"
	"strings"
)

// =====================================
// Query Builder
// =====================================

// QueryBuilder provides a fluent interface for reading rows of T.
// Supports method chaining for convenient query construction.
type QueryBuilder[T any] struct {
	db     *DB
	meta   *TableMeta
	where  Query
	orders []string
	limit  *int
	offset *int
	err    error
}

// Paginated is one page of a paginated search.
type Paginated[T any] struct {
	Rows           []*Row[T]
	EntriesPerPage int
	CurrentPage    int
	HasNextPage    bool
}

// Select creates a query builder reading the table of T.
// Example: rows, err := Select[Member](db).Where("name LIKE ?", "m%").All(ctx)
func Select[T any](db *DB) *QueryBuilder[T] {
	qb := &QueryBuilder[T]{db: db}
	qb.meta, qb.err = metaOf[T](db)
	return qb
}

// SearchWithPager creates a query builder meant to be finished with Page.
func SearchWithPager[T any](db *DB) *QueryBuilder[T] {
	return Select[T](db)
}

// Where adds a raw WHERE fragment, AND-ed with the previous ones.
// Returns the same QueryBuilder instance for method chaining.
// Example: qb.Where("age > ?", 18).Where("status = ?", "active")
func (qb *QueryBuilder[T]) Where(fragment string, params ...interface{}) *QueryBuilder[T] {
	return qb.WhereQuery(NewQuery(fragment, params...))
}

// WhereQuery adds a prebuilt fragment, AND-ed with the previous ones.
func (qb *QueryBuilder[T]) WhereQuery(q Query) *QueryBuilder[T] {
	qb.where = qb.where.And(q)
	return qb
}

// WhereCond adds a comparison on column. The column is quoted.
// Returns the same QueryBuilder instance for method chaining.
// Example: qb.WhereCond("status", OpIn, []string{"active", "pending"})
func (qb *QueryBuilder[T]) WhereCond(column string, op Operator, value interface{}) *QueryBuilder[T] {
	if qb.err != nil {
		return qb
	}
	if !qb.meta.HasColumn(column) {
		qb.err = schemaErrorf("table %q has no column %q", qb.meta.Name, column)
		return qb
	}
	return qb.WhereQuery(Cond(qb.db.Quote(column), op, value))
}

// OrderBy adds a raw ORDER BY expression.
// Example: qb.OrderBy("id DESC")
func (qb *QueryBuilder[T]) OrderBy(expr string) *QueryBuilder[T] {
	qb.orders = append(qb.orders, expr)
	return qb
}

// OrderByColumn adds a quoted column to the ORDER BY clause.
// Example: qb.OrderByColumn("created_at", OrderDesc)
func (qb *QueryBuilder[T]) OrderByColumn(column string, direction OrderDirection) *QueryBuilder[T] {
	if qb.err != nil {
		return qb
	}
	if !qb.meta.HasColumn(column) {
		qb.err = schemaErrorf("table %q has no column %q", qb.meta.Name, column)
		return qb
	}
	return qb.OrderBy(qb.db.Quote(column) + " " + string(direction))
}

// Limit sets the maximum number of results to return.
// Returns the same QueryBuilder instance for method chaining.
// Example: qb.Limit(10)
func (qb *QueryBuilder[T]) Limit(count int) *QueryBuilder[T] {
	qb.limit = &count
	return qb
}

// Offset sets the number of results to skip.
// Returns the same QueryBuilder instance for method chaining.
// Example: qb.Offset(20)
func (qb *QueryBuilder[T]) Offset(count int) *QueryBuilder[T] {
	qb.offset = &count
	return qb
}

// Err returns the first error recorded by a builder method.
func (qb *QueryBuilder[T]) Err() error {
	return qb.err
}

// First returns the first matching row, or a not found error.
func (qb *QueryBuilder[T]) First(ctx context.Context) (*Row[T], error) {
	one := 1
	rows, err := qb.run(ctx, "*", &one, qb.offset)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(qb.meta, qb.where)
	}
	return rows[0], nil
}

// All returns every matching row.
func (qb *QueryBuilder[T]) All(ctx context.Context) ([]*Row[T], error) {
	return qb.run(ctx, "*", qb.limit, qb.offset)
}

// Page returns page number page (starting at 1) of perPage rows. One extra
// row is read to tell whether a next page exists. Limit and Offset set on
// the builder are ignored.
func (qb *QueryBuilder[T]) Page(ctx context.Context, page, perPage int) (*Paginated[T], error) {
	if page < 1 {
		return nil, NewError(ErrorTypeValidation, "page must be >= 1, got "+strconv.Itoa(page))
	}
	if perPage < 1 {
		return nil, NewError(ErrorTypeValidation, "entries per page must be > 0, got "+strconv.Itoa(perPage))
	}
	limit := perPage + 1
	offset := (page - 1) * perPage
	rows, err := qb.run(ctx, "*", &limit, &offset)
	if err != nil {
		return nil, err
	}
	hasNext := len(rows) > perPage
	if hasNext {
		rows = rows[:perPage]
	}
	return &Paginated[T]{
		Rows:           rows,
		EntriesPerPage: perPage,
		CurrentPage:    page,
		HasNextPage:    hasNext,
	}, nil
}

// Count returns the number of matching rows. Order, limit and offset are
// ignored.
func (qb *QueryBuilder[T]) Count(ctx context.Context) (int64, error) {
	if err := qb.check(); err != nil {
		return 0, err
	}
	query := qb.build("COUNT(*)", false, nil, nil)
	rows, err := qb.db.QueryRows(ctx, query, qb.where.Params...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, asExecution(err, query, qb.where.Params)
		}
	}
	return n, asExecution(rows.Err(), query, qb.where.Params)
}

// String returns the SELECT statement All would send.
func (qb *QueryBuilder[T]) String() string {
	if qb.meta == nil {
		return ""
	}
	return qb.build("*", true, qb.limit, qb.offset)
}

func (qb *QueryBuilder[T]) check() error {
	if qb.err != nil {
		return qb.err
	}
	return qb.where.Validate()
}

func (qb *QueryBuilder[T]) run(ctx context.Context, columns string, limit, offset *int) ([]*Row[T], error) {
	if err := qb.check(); err != nil {
		return nil, err
	}
	query := qb.build(columns, true, limit, offset)
	return fetch[T](ctx, qb.db, qb.meta, query, qb.where.Params)
}

func (qb *QueryBuilder[T]) build(columns string, ordered bool, limit, offset *int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(columns)
	b.WriteString(" FROM ")
	b.WriteString(qb.db.Quote(qb.meta.Name))
	if !qb.where.IsEmpty() {
		b.WriteString(" WHERE ")
		b.WriteString(qb.where.SQL)
	}
	if !ordered {
		return b.String()
	}
	if len(qb.orders) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(qb.orders, ", "))
	}
	b.WriteString(limitClause(qb.db.dialect, len(qb.orders) > 0, limit, offset))
	return b.String()
}

// limitClause renders LIMIT/OFFSET for dialect. SQL Server has no LIMIT
// and only accepts OFFSET/FETCH after an ORDER BY.
func limitClause(dialect string, ordered bool, limit, offset *int) string {
	if limit == nil && offset == nil {
		return ""
	}
	off := 0
	if offset != nil {
		off = *offset
	}
	if dialect == DialectMsSQL {
		clause := ""
		if !ordered {
			clause = " ORDER BY (SELECT NULL)"
		}
		clause += " OFFSET " + strconv.Itoa(off) + " ROWS"
		if limit != nil {
			clause += " FETCH NEXT " + strconv.Itoa(*limit) + " ROWS ONLY"
		}
		return clause
	}
	clause := ""
	switch {
	case limit != nil:
		clause = " LIMIT " + strconv.Itoa(*limit)
	case dialect == DialectMySQL:
		// MySQL and SQLite need a LIMIT before OFFSET.
		clause = " LIMIT 18446744073709551615"
	case dialect == DialectSQLite:
		clause = " LIMIT -1"
	}
	if offset != nil {
		clause += " OFFSET " + strconv.Itoa(off)
	}
	return clause
}

// =====================================
// Shorthands
// =====================================

// Single returns the first row of T matching the WHERE fragment where, or
// a not found error.
// Example: row, err := Single[Member](ctx, db, "name=?", "m2")
func Single[T any](ctx context.Context, db *DB, where string, params ...interface{}) (*Row[T], error) {
	return Select[T](db).Where(where, params...).First(ctx)
}

// Search returns every row of T matching where. The fragment may end with
// an ORDER BY clause; a fragment that only orders returns every row.
// Example: rows, err := Search[Member](ctx, db, "name LIKE ? ORDER BY id DESC", "m%")
func Search[T any](ctx context.Context, db *DB, where string, params ...interface{}) ([]*Row[T], error) {
	meta, err := metaOf[T](db)
	if err != nil {
		return nil, err
	}
	q := NewQuery(where, params...)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query := "SELECT * FROM " + db.Quote(meta.Name)
	trimmed := strings.TrimSpace(where)
	switch {
	case trimmed == "":
	case strings.HasPrefix(strings.ToUpper(trimmed), "ORDER BY"):
		query += " " + trimmed
	default:
		query += " WHERE " + trimmed
	}
	return fetch[T](ctx, db, meta, query, params)
}

// SingleBySQL runs a complete SELECT statement and returns its first row.
// Example: row, err := SingleBySQL[Member](ctx, db, "SELECT * FROM member WHERE name=?", "m2")
func SingleBySQL[T any](ctx context.Context, db *DB, query string, params ...interface{}) (*Row[T], error) {
	rows, err := SearchBySQL[T](ctx, db, query, params...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		meta, _ := metaOf[T](db)
		return nil, Error{Type: ErrorTypeNotFound, Message: "no row in " + meta.Name, SQL: query, Params: params}
	}
	return rows[0], nil
}

// SearchBySQL runs a complete SELECT statement and maps every row onto T.
// Result columns that match no field of T are ignored.
func SearchBySQL[T any](ctx context.Context, db *DB, query string, params ...interface{}) ([]*Row[T], error) {
	meta, err := metaOf[T](db)
	if err != nil {
		return nil, err
	}
	return fetch[T](ctx, db, meta, query, params)
}

func fetch[T any](ctx context.Context, db *DB, meta *TableMeta, query string, params []interface{}) ([]*Row[T], error) {
	rows, err := db.QueryRows(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	entities, err := scanAll[T](ctx, rows, meta)
	if err != nil {
		return nil, asExecution(err, query, params)
	}
	out := make([]*Row[T], len(entities))
	for i, e := range entities {
		out[i] = newRow(db, meta, e)
	}
	return out, nil
}
