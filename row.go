package tinyorm

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// =====================================
// Row
// =====================================

// Row is an entity loaded from (or bound to) a table row. It carries the
// connection it was read through and the shared metadata of T.
//
// A Row does not notice changes made to the database row by others; use
// Refetch to read the current state.
type Row[T any] struct {
	entity *T
	db     *DB
	meta   *TableMeta
}

// NewRow binds a hand-built entity to db, for example to delete a row
// whose key is known without reading it first.
func NewRow[T any](db *DB, entity *T) (*Row[T], error) {
	if entity == nil {
		return nil, schemaErrorf("entity is nil")
	}
	r := &Row[T]{entity: entity}
	if err := r.Bind(db); err != nil {
		return nil, err
	}
	return r, nil
}

func newRow[T any](db *DB, meta *TableMeta, entity *T) *Row[T] {
	return &Row[T]{entity: entity, db: db, meta: meta}
}

// Bind attaches the row to db, replacing the previous connection.
func (r *Row[T]) Bind(db *DB) error {
	meta, err := metaOf[T](db)
	if err != nil {
		return err
	}
	r.db = db
	r.meta = meta
	return nil
}

// Entity returns the wrapped entity.
func (r *Row[T]) Entity() *T { return r.entity }

// DB returns the connection the row is bound to.
func (r *Row[T]) DB() *DB { return r.db }

// Meta returns the table metadata of T.
func (r *Row[T]) Meta() *TableMeta { return r.meta }

// TableName returns the table the row belongs to.
func (r *Row[T]) TableName() string {
	if r.meta == nil {
		return ""
	}
	return r.meta.Name
}

// PrimaryKeyValues returns the current primary key values in declaration
// order.
func (r *Row[T]) PrimaryKeyValues() []interface{} {
	if r.meta == nil || r.entity == nil {
		return nil
	}
	return r.meta.primaryKeyValues(reflect.ValueOf(r.entity).Elem())
}

func (r *Row[T]) String() string {
	return fmt.Sprintf("%s%v", r.TableName(), r.PrimaryKeyValues())
}

func (r *Row[T]) bound() error {
	if r == nil || r.db == nil || r.meta == nil || r.entity == nil {
		return errUnbound
	}
	return nil
}

// Where returns the fragment identifying this row by its primary key:
//
//	("id"=?)
//	("tenant"=?) AND ("id"=?)
//
// The key values are validated with ValidatePrimaryKeysForSelect first.
func (r *Row[T]) Where() (Query, error) {
	if err := r.bound(); err != nil {
		return Query{}, err
	}
	return r.whereFor(r.PrimaryKeyValues())
}

func (r *Row[T]) whereFor(values []interface{}) (Query, error) {
	if len(r.meta.PrimaryKeys) == 0 {
		return Query{}, schemaErrorf("table %q has no primary key", r.meta.Name)
	}
	if err := r.validatePrimaryKeys(values); err != nil {
		return Query{}, err
	}
	parts := make([]string, len(r.meta.PrimaryKeys))
	for i, pk := range r.meta.PrimaryKeys {
		parts[i] = "(" + r.db.Quote(pk) + "=?)"
	}
	params := make([]interface{}, len(values))
	for i, v := range values {
		d, err := r.meta.Deflate(r.meta.PrimaryKeys[i], v)
		if err != nil {
			return Query{}, schemaErrorf("deflate %s.%s: %v", r.meta.Name, r.meta.PrimaryKeys[i], err)
		}
		params[i] = d
	}
	return Query{SQL: strings.Join(parts, " AND "), Params: params}, nil
}

func (r *Row[T]) validatePrimaryKeys(values []interface{}) error {
	if v, ok := interface{}(r.entity).(PrimaryKeyValidator); ok {
		return v.ValidatePrimaryKeys(values)
	}
	if r.meta.allowZeroPK {
		return validateNotNull(values)
	}
	return ValidatePrimaryKeysForSelect(values)
}

// ValidatePrimaryKeysForSelect applies the default primary key rules: no
// value may be null, and a single-column key must not be the integer 0,
// which in practice means an entity that was never loaded.
//
// Entity types where 0 is a legitimate key register with
// AllowZeroPrimaryKey or implement PrimaryKeyValidator.
func ValidatePrimaryKeysForSelect(values []interface{}) error {
	if err := validateNotNull(values); err != nil {
		return err
	}
	if len(values) == 1 && isZeroInteger(values[0]) {
		return primaryKeyErrorf("primary key must not be zero: %v", values[0])
	}
	return nil
}

func validateNotNull(values []interface{}) error {
	for i, v := range values {
		if isNull(v) {
			return primaryKeyErrorf("primary key must not be null (position %d of %v)", i, values)
		}
	}
	return nil
}

// Delete deletes the row. Exactly one row must be affected; anything else
// is reported as a consistency error.
func (r *Row[T]) Delete(ctx context.Context) error {
	where, err := r.Where()
	if err != nil {
		return err
	}
	if hook, ok := interface{}(r.entity).(BeforeDeleteHook); ok {
		if err := hook.BeforeDelete(ctx); err != nil {
			return err
		}
	}

	query := "DELETE FROM " + r.db.Quote(r.meta.Name) + " WHERE " + where.SQL
	if err := r.db.expectOne(ctx, "cannot delete row", query, where.Params); err != nil {
		return err
	}

	if hook, ok := interface{}(r.entity).(AfterDeleteHook); ok {
		return hook.AfterDelete(ctx)
	}
	return nil
}

// Refetch reads the current state of the row into a new Row. The receiver
// is left untouched. A row that no longer exists is reported as a not
// found error.
func (r *Row[T]) Refetch(ctx context.Context) (*Row[T], error) {
	where, err := r.Where()
	if err != nil {
		return nil, err
	}
	query := "SELECT * FROM " + r.db.Quote(r.meta.Name) + " WHERE " + where.SQL
	rows, err := fetch[T](ctx, r.db, r.meta, query, where.Params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(r.meta, where)
	}
	return rows[0], nil
}

// Update starts a change-tracked UPDATE of the row.
func (r *Row[T]) Update() *UpdateStatement[T] {
	return newUpdateStatement(r)
}

// expectOne runs an identity-keyed statement that must affect exactly one
// row.
func (db *DB) expectOne(ctx context.Context, message, query string, params []interface{}) error {
	res, err := db.Exec(ctx, query, params...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return executionError("rows affected unavailable", query, params, err)
	}
	if n != 1 {
		db.logger.Warn(ctx, "%s: %d rows affected by %s %v", message, n, query, params)
		return consistencyError(fmt.Sprintf("%s: %d rows affected", message, n), query, params)
	}
	return nil
}

func notFound(meta *TableMeta, where Query) error {
	return Error{
		Type:    ErrorTypeNotFound,
		Message: "no row in " + meta.Name,
		SQL:     where.SQL,
		Params:  where.Params,
	}
}
