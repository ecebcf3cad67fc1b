package tinyorm

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
)

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// isNull reports whether v is a SQL NULL: nil, a nil pointer, or a
// driver.Valuer producing nil (for example an invalid sql.NullInt64).
func isNull(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return true
		}
	}
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		return err == nil && dv == nil
	}
	return false
}

// normalize converts v to its driver representation so values of
// different Go types can be compared: int32(3) and int64(3) normalize to
// the same value.
func normalize(v interface{}) (interface{}, bool) {
	dv, err := driver.DefaultParameterConverter.ConvertValue(v)
	if err != nil {
		return v, false
	}
	return dv, true
}

func valuesEqual(a, b interface{}) bool {
	an, bn := isNull(a), isNull(b)
	if an || bn {
		return an == bn
	}
	na, okA := normalize(a)
	nb, okB := normalize(b)
	if okA && okB {
		if ba, ok := na.([]byte); ok {
			if bb, ok := nb.([]byte); ok {
				return string(ba) == string(bb)
			}
		}
		return reflect.DeepEqual(na, nb)
	}
	return reflect.DeepEqual(a, b)
}

// isZeroInteger reports whether v is an integer of any width equal to 0.
func isZeroInteger(v interface{}) bool {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 0
	}
	if valuer, ok := rv.Interface().(driver.Valuer); ok {
		if dv, err := valuer.Value(); err == nil {
			if n, ok := dv.(int64); ok {
				return n == 0
			}
		}
	}
	return false
}

// assign stores v into dst, converting between compatible types.
func assign(dst reflect.Value, v interface{}) error {
	if isNull(v) {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(v)
	for src.Kind() == reflect.Ptr && !src.Type().AssignableTo(dst.Type()) {
		src = src.Elem()
	}
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), src.Interface()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		dv, _ := normalize(src.Interface())
		return dst.Addr().Interface().(sql.Scanner).Scan(dv)
	}
	if convertible(src.Type(), dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %s to %s", src.Type(), dst.Type())
}

// convertible is reflect's ConvertibleTo without the integer to string
// conversion, which would produce a rune rather than digits.
func convertible(from, to reflect.Type) bool {
	if to.Kind() == reflect.String && from.Kind() != reflect.String {
		if from.Kind() != reflect.Slice || from.Elem().Kind() != reflect.Uint8 {
			return false
		}
	}
	return from.ConvertibleTo(to)
}

// scanAll maps every row of rows onto a new T and closes rows.
func scanAll[T any](ctx context.Context, rows *sql.Rows, meta *TableMeta) ([]*T, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	fields := make([]*field, len(columns))
	for i, c := range columns {
		f, ok := meta.byColumn[c]
		if !ok {
			f = meta.byColumn[strings.ToLower(c)]
		}
		fields[i] = f
	}

	var result []*T
	for rows.Next() {
		entity := new(T)
		rv := reflect.ValueOf(entity).Elem()
		dest := make([]interface{}, len(columns))
		for i, f := range fields {
			if f == nil || f.transform.Inflate != nil {
				dest[i] = new(interface{})
				continue
			}
			dest[i] = rv.FieldByIndex(f.index).Addr().Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, f := range fields {
			if f == nil || f.transform.Inflate == nil {
				continue
			}
			v, err := f.transform.Inflate(*(dest[i].(*interface{})))
			if err != nil {
				return nil, schemaErrorf("inflate %s.%s: %v", meta.Name, f.column, err)
			}
			if err := assign(rv.FieldByIndex(f.index), v); err != nil {
				return nil, schemaErrorf("inflate %s.%s: %v", meta.Name, f.column, err)
			}
		}
		if hook, ok := interface{}(entity).(AfterFindHook); ok {
			if err := hook.AfterFind(ctx); err != nil {
				return nil, err
			}
		}
		result = append(result, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
