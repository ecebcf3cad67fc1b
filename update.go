package tinyorm

import (
	"context"
	"reflect"
	"strings"
)

// =====================================
// Change Tracking
// =====================================

// Change is one staged column assignment. A nil Value is an explicit
// NULL.
type Change struct {
	Column string
	Value  interface{}
}

// Changes is an ordered set of staged assignments, in the order the
// columns were first staged.
type Changes []Change

// Get returns the value staged for column.
func (c Changes) Get(column string) (interface{}, bool) {
	for _, ch := range c {
		if ch.Column == column {
			return ch.Value, true
		}
	}
	return nil, false
}

// Columns returns the staged column names in order.
func (c Changes) Columns() []string {
	out := make([]string, len(c))
	for i, ch := range c {
		out[i] = ch.Column
	}
	return out
}

// Map returns the staged assignments keyed by column.
func (c Changes) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(c))
	for _, ch := range c {
		out[ch.Column] = ch.Value
	}
	return out
}

type pendingChange struct {
	Change
	deflated interface{}
}

// UpdateStatement builds an UPDATE of a single row that only sends the
// columns whose value differs from what was read. It is not safe for
// concurrent use.
//
// Builder methods record the first error instead of returning it; Execute
// and Err report it.
//
//	err := row.Update().
//		Set("name", "John").
//		ApplyFrom(form).
//		Execute(ctx)
type UpdateStatement[T any] struct {
	row      *Row[T]
	snapshot map[string]interface{}
	keys     []interface{}
	pending  []pendingChange
	err      error
}

func newUpdateStatement[T any](row *Row[T]) *UpdateStatement[T] {
	s := &UpdateStatement[T]{row: row}
	if err := row.bound(); err != nil {
		s.err = err
		return s
	}
	rv := reflect.ValueOf(row.entity).Elem()
	s.snapshot = row.meta.values(rv)
	s.keys = row.meta.primaryKeyValues(rv)
	return s
}

// Set stages column = value. Setting the same column twice keeps the last
// value.
func (s *UpdateStatement[T]) Set(column string, value interface{}) *UpdateStatement[T] {
	if s.err != nil {
		return s
	}
	meta := s.row.meta
	f, ok := meta.byColumn[column]
	if !ok {
		s.err = schemaErrorf("table %q has no column %q", meta.Name, column)
		return s
	}
	// The value must fit the field so applying it after the statement
	// succeeded cannot fail.
	if err := assign(reflect.New(f.typ).Elem(), value); err != nil {
		s.err = schemaErrorf("cannot set %s.%s: %v", meta.Name, column, err)
		return s
	}
	deflated, err := meta.Deflate(column, value)
	if err != nil {
		s.err = schemaErrorf("deflate %s.%s: %v", meta.Name, column, err)
		return s
	}

	ch := pendingChange{Change: Change{Column: column, Value: value}, deflated: deflated}
	for i := range s.pending {
		if s.pending[i].Column == column {
			s.pending[i] = ch
			return s
		}
	}
	s.pending = append(s.pending, ch)
	return s
}

// ApplyFrom stages every column of source whose value differs from the
// row's current value, taking values already staged into account. source
// is a struct, a pointer to a struct or a map[string]interface{}; its
// fields are matched to columns with the same naming rules as entities,
// and fields that match no column are ignored.
//
// A null source value stages an explicit NULL unless the current value is
// null as well.
func (s *UpdateStatement[T]) ApplyFrom(source interface{}) *UpdateStatement[T] {
	if s.err != nil {
		return s
	}
	meta := s.row.meta

	if m, ok := source.(map[string]interface{}); ok {
		for _, column := range meta.Columns {
			if v, ok := m[column]; ok {
				s.stageIfChanged(column, v)
			}
		}
		return s
	}

	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			s.err = schemaErrorf("cannot apply a nil %s", rv.Type())
			return s
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		s.err = schemaErrorf("cannot apply %T: want a struct or map[string]interface{}", source)
		return s
	}
	index := s.row.db.registry.sourceIndex(rv.Type())
	for _, column := range meta.Columns {
		if idx, ok := index[column]; ok {
			s.stageIfChanged(column, rv.FieldByIndex(idx).Interface())
		}
	}
	return s
}

func (s *UpdateStatement[T]) stageIfChanged(column string, v interface{}) {
	if s.err != nil {
		return
	}
	current := s.snapshot[column]
	for _, ch := range s.pending {
		if ch.Column == column {
			current = ch.Value
			break
		}
	}
	if isNull(v) {
		if !isNull(current) {
			s.Set(column, nil)
		}
		return
	}
	if !valuesEqual(v, current) {
		s.Set(column, v)
	}
}

// HasPendingChanges reports whether Execute would send a statement.
func (s *UpdateStatement[T]) HasPendingChanges() bool {
	return len(s.pending) > 0
}

// Changes returns a copy of the staged assignments.
func (s *UpdateStatement[T]) Changes() Changes {
	out := make(Changes, len(s.pending))
	for i, ch := range s.pending {
		out[i] = ch.Change
	}
	return out
}

// Err returns the first error recorded by a builder method.
func (s *UpdateStatement[T]) Err() error {
	return s.err
}

// Execute sends the UPDATE. Without pending changes no statement is sent,
// but the row must still carry a valid primary key. The row is identified by the key values it had when the statement was
// created.
//
// The entity is only modified once the database reports exactly one
// affected row; on any error it keeps its previous values and the pending
// changes stay available through Changes.
func (s *UpdateStatement[T]) Execute(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	row := s.row
	where, err := row.whereFor(s.keys)
	if err != nil {
		return err
	}
	if len(s.pending) == 0 {
		row.db.logger.Info(ctx, "no changes for %s, skipping update", row)
		return nil
	}
	if hook, ok := interface{}(row.entity).(BeforeUpdateHook); ok {
		if err := hook.BeforeUpdate(ctx, s.Changes()); err != nil {
			return err
		}
	}

	sets := make([]string, len(s.pending))
	params := make([]interface{}, 0, len(s.pending)+len(where.Params))
	for i, ch := range s.pending {
		sets[i] = row.db.Quote(ch.Column) + "=?"
		params = append(params, ch.deflated)
	}
	params = append(params, where.Params...)
	query := "UPDATE " + row.db.Quote(row.meta.Name) +
		" SET " + strings.Join(sets, ", ") +
		" WHERE " + where.SQL

	if err := row.db.expectOne(ctx, "cannot update row", query, params); err != nil {
		return err
	}

	rv := reflect.ValueOf(row.entity).Elem()
	for _, ch := range s.pending {
		if err := assign(rv.FieldByIndex(row.meta.byColumn[ch.Column].index), ch.Value); err != nil {
			return schemaErrorf("apply %s.%s: %v", row.meta.Name, ch.Column, err)
		}
	}
	s.snapshot = row.meta.values(rv)
	s.keys = row.meta.primaryKeyValues(rv)
	s.pending = nil

	if hook, ok := interface{}(row.entity).(AfterUpdateHook); ok {
		return hook.AfterUpdate(ctx)
	}
	return nil
}
