package tinyorm

import (
	"context"
	"reflect"
	"strings"
)

// InsertStatement builds an INSERT of a single row of T.
//
//	row, err := tinyorm.Insert[Member](db).
//		Value("name", "John").
//		ExecuteSelect(ctx)
type InsertStatement[T any] struct {
	db     *DB
	meta   *TableMeta
	values []pendingChange
	err    error
}

// Insert starts an INSERT into the table of T.
func Insert[T any](db *DB) *InsertStatement[T] {
	s := &InsertStatement[T]{db: db}
	s.meta, s.err = metaOf[T](db)
	return s
}

// Value stages column = value.
func (s *InsertStatement[T]) Value(column string, value interface{}) *InsertStatement[T] {
	if s.err != nil {
		return s
	}
	f, ok := s.meta.byColumn[column]
	if !ok {
		s.err = schemaErrorf("table %q has no column %q", s.meta.Name, column)
		return s
	}
	if err := assign(reflect.New(f.typ).Elem(), value); err != nil {
		s.err = schemaErrorf("cannot set %s.%s: %v", s.meta.Name, column, err)
		return s
	}
	deflated, err := s.meta.Deflate(column, value)
	if err != nil {
		s.err = schemaErrorf("deflate %s.%s: %v", s.meta.Name, column, err)
		return s
	}
	ch := pendingChange{Change: Change{Column: column, Value: value}, deflated: deflated}
	for i := range s.values {
		if s.values[i].Column == column {
			s.values[i] = ch
			return s
		}
	}
	s.values = append(s.values, ch)
	return s
}

// ValueFrom stages every column found in source, a struct, a pointer to a
// struct or a map[string]interface{}. A zero or null auto-increment key is
// left out so the database generates it.
func (s *InsertStatement[T]) ValueFrom(source interface{}) *InsertStatement[T] {
	if s.err != nil {
		return s
	}
	stage := func(column string, v interface{}) {
		if column == s.meta.AutoIncrement && (isNull(v) || isZeroInteger(v)) {
			return
		}
		s.Value(column, v)
	}

	if m, ok := source.(map[string]interface{}); ok {
		for _, column := range s.meta.Columns {
			if v, ok := m[column]; ok {
				stage(column, v)
			}
		}
		return s
	}

	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			s.err = schemaErrorf("cannot insert from a nil %s", rv.Type())
			return s
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		s.err = schemaErrorf("cannot insert from %T: want a struct or map[string]interface{}", source)
		return s
	}
	index := s.db.registry.sourceIndex(rv.Type())
	for _, column := range s.meta.Columns {
		if idx, ok := index[column]; ok {
			stage(column, rv.FieldByIndex(idx).Interface())
		}
	}
	return s
}

// Values returns a copy of the staged values.
func (s *InsertStatement[T]) Values() Changes {
	out := make(Changes, len(s.values))
	for i, ch := range s.values {
		out[i] = ch.Change
	}
	return out
}

// Err returns the first error recorded by a builder method.
func (s *InsertStatement[T]) Err() error {
	return s.err
}

// Execute sends the INSERT and returns the generated key, or 0 when the
// table has no auto-increment key.
func (s *InsertStatement[T]) Execute(ctx context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(s.values) == 0 {
		return 0, schemaErrorf("no values to insert into %s", s.meta.Name)
	}
	entity, err := s.entity()
	if err != nil {
		return 0, err
	}
	if hook, ok := interface{}(entity).(BeforeInsertHook); ok {
		if err := hook.BeforeInsert(ctx, s.Values()); err != nil {
			return 0, err
		}
	}

	columns := make([]string, len(s.values))
	params := make([]interface{}, len(s.values))
	for i, ch := range s.values {
		columns[i] = s.db.Quote(ch.Column)
		params[i] = ch.deflated
	}
	into := "INSERT INTO " + s.db.Quote(s.meta.Name) + " (" + strings.Join(columns, ", ") + ")"
	values := " VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(s.values)), ", ") + ")"
	query := into + values

	if s.meta.AutoIncrement == "" {
		_, err := s.db.Exec(ctx, query, params...)
		return 0, err
	}

	// go-mssqldb has no LastInsertId.
	switch s.db.dialect {
	case DialectPgSQL:
		query += " RETURNING " + s.db.Quote(s.meta.AutoIncrement)
	case DialectMsSQL:
		query = into + " OUTPUT INSERTED." + s.db.Quote(s.meta.AutoIncrement) + values
	}

	if s.db.dialect == DialectPgSQL || s.db.dialect == DialectMsSQL {
		rows, err := s.db.QueryRows(ctx, query, params...)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		var id int64
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				return 0, asExecution(err, query, params)
			}
		}
		return id, asExecution(rows.Err(), query, params)
	}

	res, err := s.db.Exec(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, executionError("last insert id unavailable", query, params, err)
	}
	return id, nil
}

// ExecuteSelect sends the INSERT and reads the new row back by its primary
// key. Every primary key column other than the auto-increment one must
// have been staged.
func (s *InsertStatement[T]) ExecuteSelect(ctx context.Context) (*Row[T], error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, pk := range s.meta.PrimaryKeys {
		if _, staged := s.Values().Get(pk); !staged && pk != s.meta.AutoIncrement {
			return nil, schemaErrorf("cannot read back %s: primary key %q was not set", s.meta.Name, pk)
		}
	}
	id, err := s.Execute(ctx)
	if err != nil {
		return nil, err
	}

	entity, err := s.entity()
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(entity).Elem()
	if s.meta.AutoIncrement != "" {
		if err := assign(rv.FieldByIndex(s.meta.byColumn[s.meta.AutoIncrement].index), id); err != nil {
			return nil, schemaErrorf("set generated key of %s: %v", s.meta.Name, err)
		}
	}

	row, err := newRow(s.db, s.meta, entity).Refetch(ctx)
	if err != nil {
		return nil, err
	}
	if hook, ok := interface{}(row.entity).(AfterInsertHook); ok {
		if err := hook.AfterInsert(ctx); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// entity builds a T holding the staged values.
func (s *InsertStatement[T]) entity() (*T, error) {
	entity := new(T)
	rv := reflect.ValueOf(entity).Elem()
	for _, ch := range s.values {
		if err := assign(rv.FieldByIndex(s.meta.byColumn[ch.Column].index), ch.Value); err != nil {
			return nil, schemaErrorf("cannot assign %s.%s: %v", s.meta.Name, ch.Column, err)
		}
	}
	return entity, nil
}
