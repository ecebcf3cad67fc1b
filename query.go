package tinyorm

import (
	"fmt"
	"reflect"
	"strings"
)

// =====================================
// Query Fragments
// =====================================

// Query is a WHERE-shaped SQL boolean expression together with the values
// bound to its "?" placeholders. It is never a full statement.
//
// Query is an immutable value: combinators return new values and never
// touch their operands.
type Query struct {
	SQL    string
	Params []interface{}
}

// NewQuery creates a fragment. The number of placeholders in sql is not
// checked here; use Validate when the fragment comes from user input.
func NewQuery(sql string, params ...interface{}) Query {
	return Query{SQL: sql, Params: params}
}

// IsEmpty reports whether q carries no SQL. The empty Query is the
// identity element of And.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.SQL) == ""
}

// And returns "(q) AND (other)" with the parameters of both operands in
// order. If either side is empty the other one is returned as is.
func (q Query) And(other Query) Query {
	if q.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return q
	}
	params := make([]interface{}, 0, len(q.Params)+len(other.Params))
	params = append(params, q.Params...)
	params = append(params, other.Params...)
	return Query{
		SQL:    "(" + q.SQL + ") AND (" + other.SQL + ")",
		Params: params,
	}
}

// Validate checks that the number of placeholders matches the number of
// parameters. Question marks inside quoted literals are ignored.
func (q Query) Validate() error {
	if n := countPlaceholders(q.SQL); n != len(q.Params) {
		return NewError(ErrorTypeValidation,
			fmt.Sprintf("query %q has %d placeholders but %d params", q.SQL, n, len(q.Params)))
	}
	return nil
}

// String returns a string representation of the query
func (q Query) String() string {
	return fmt.Sprintf("%s %v", q.SQL, q.Params)
}

// Cond builds a single comparison fragment on column. The column is
// inserted verbatim; quote it with DB.Quote when it is not a plain
// identifier.
//
//	Cond("age", OpGreaterThan, 18)              // age > ?
//	Cond("status", OpIn, []string{"a", "b"})    // status IN (?, ?)
//	Cond("deleted_at", OpIsNull, nil)           // deleted_at IS NULL
func Cond(column string, op Operator, value interface{}) Query {
	switch op {
	case OpIsNull, OpIsNotNull:
		return Query{SQL: column + " " + string(op)}
	case OpIn, OpNotIn:
		values := expandSlice(value)
		if len(values) == 0 {
			// Nothing is IN an empty set; everything is NOT IN it.
			if op == OpIn {
				return Query{SQL: "1=0"}
			}
			return Query{SQL: "1=1"}
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return Query{
			SQL:    column + " " + string(op) + " (" + marks + ")",
			Params: values,
		}
	}
	return Query{SQL: column + " " + string(op) + " ?", Params: []interface{}{value}}
}

func expandSlice(value interface{}) []interface{} {
	if value == nil {
		return nil
	}
	if vs, ok := value.([]interface{}); ok {
		return vs
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{value}
	}
	// []byte is a single value, not a list.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return []interface{}{value}
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func countPlaceholders(sql string) int {
	var (
		n     int
		quote rune
	)
	for _, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
		}
	}
	return n
}
