package tinyorm

import (
	"reflect"
	"strings"

	"github.com/go-openapi/inflect"
	"github.com/uptrace/bun"
	"github.com/vmihailenco/tagparser/v2"
)

// =====================================
// Entity Metadata
// =====================================

// TableMeta describes how an entity type maps onto a table. It is built
// once per type by a Registry and is read-only afterwards, so it can be
// shared by every Row of that type.
type TableMeta struct {
	Name        string
	Columns     []string
	PrimaryKeys []string

	// AutoIncrement names the primary-key column generated by the
	// database, if any.
	AutoIncrement string

	typ         reflect.Type
	fields      []*field
	byColumn    map[string]*field
	allowZeroPK bool
}

// Transform converts a column value on its way out of (Inflate) or into
// (Deflate) the database. A nil function is the identity.
type Transform struct {
	Inflate func(interface{}) (interface{}, error)
	Deflate func(interface{}) (interface{}, error)
}

// TableNamer lets an entity choose its own table name.
type TableNamer interface {
	TableName() string
}

// field is the typed accessor of one column.
type field struct {
	column        string
	goName        string
	index         []int
	typ           reflect.Type
	pk            bool
	autoIncrement bool
	transform     Transform
}

// Type returns the entity type described by m.
func (m *TableMeta) Type() reflect.Type {
	return m.typ
}

// HasColumn reports whether column is a persisted column of the entity.
func (m *TableMeta) HasColumn(column string) bool {
	_, ok := m.byColumn[column]
	return ok
}

// IsPrimaryKey reports whether column is part of the primary key.
func (m *TableMeta) IsPrimaryKey(column string) bool {
	f, ok := m.byColumn[column]
	return ok && f.pk
}

// AllowsZeroPrimaryKey reports whether zero is accepted as a single
// primary-key value for this entity type.
func (m *TableMeta) AllowsZeroPrimaryKey() bool {
	return m.allowZeroPK
}

// Inflate applies the read transform of column to v.
func (m *TableMeta) Inflate(column string, v interface{}) (interface{}, error) {
	f, ok := m.byColumn[column]
	if !ok {
		return nil, schemaErrorf("table %q has no column %q", m.Name, column)
	}
	if f.transform.Inflate == nil {
		return v, nil
	}
	return f.transform.Inflate(v)
}

// Deflate applies the write transform of column to v.
func (m *TableMeta) Deflate(column string, v interface{}) (interface{}, error) {
	f, ok := m.byColumn[column]
	if !ok {
		return nil, schemaErrorf("table %q has no column %q", m.Name, column)
	}
	if f.transform.Deflate == nil || isNull(v) {
		return v, nil
	}
	return f.transform.Deflate(v)
}

// ColumnValue reads column from entity, which must be a pointer to (or a
// value of) the entity type.
func (m *TableMeta) ColumnValue(entity interface{}, column string) (interface{}, error) {
	f, ok := m.byColumn[column]
	if !ok {
		return nil, schemaErrorf("table %q has no column %q", m.Name, column)
	}
	rv := reflect.Indirect(reflect.ValueOf(entity))
	if rv.Type() != m.typ {
		return nil, schemaErrorf("%s is not a %s", rv.Type(), m.typ)
	}
	return rv.FieldByIndex(f.index).Interface(), nil
}

// values returns every column value of rv keyed by column name.
func (m *TableMeta) values(rv reflect.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m.fields))
	for _, f := range m.fields {
		out[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return out
}

func (m *TableMeta) primaryKeyValues(rv reflect.Value) []interface{} {
	out := make([]interface{}, 0, len(m.PrimaryKeys))
	for _, pk := range m.PrimaryKeys {
		out = append(out, rv.FieldByIndex(m.byColumn[pk].index).Interface())
	}
	return out
}

// =====================================
// Metadata Resolution
// =====================================

// MetaOption customizes the TableMeta built for an entity type.
type MetaOption func(*metaBuilder)

type metaBuilder struct {
	table       string
	transforms  map[string]Transform
	primaryKeys []string
	allowZeroPK bool
}

// WithTableName overrides the table name of the entity.
func WithTableName(name string) MetaOption {
	return func(b *metaBuilder) { b.table = name }
}

// WithTransform attaches an inflate/deflate pair to column.
func WithTransform(column string, t Transform) MetaOption {
	return func(b *metaBuilder) { b.transforms[column] = t }
}

// WithPrimaryKeys declares the primary key columns instead of reading the
// pk tag option.
func WithPrimaryKeys(columns ...string) MetaOption {
	return func(b *metaBuilder) { b.primaryKeys = columns }
}

// AllowZeroPrimaryKey accepts 0 as a single primary-key value for schemas
// where it is a legitimate key. Null keys are still rejected.
func AllowZeroPrimaryKey() MetaOption {
	return func(b *metaBuilder) { b.allowZeroPK = true }
}

var (
	naming        = newNamingRuleset()
	baseModelType = reflect.TypeOf(bun.BaseModel{})
)

func newNamingRuleset() *inflect.Ruleset {
	rs := inflect.NewDefaultRuleset()
	// Longer acronyms first: they are applied in order.
	for _, acronym := range []string{"UUID", "JSON", "HTTP", "URL", "API", "SQL", "ID"} {
		rs.AddAcronym(acronym)
	}
	return rs
}

// underscore converts a Go identifier to the snake_case naming convention.
func underscore(name string) string {
	return naming.Underscore(name)
}

func buildTableMeta(t reflect.Type, opts ...MetaOption) (*TableMeta, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, schemaErrorf("entity must be a struct, got %s", t)
	}

	b := &metaBuilder{transforms: make(map[string]Transform)}
	for _, opt := range opts {
		opt(b)
	}

	meta := &TableMeta{
		typ:         t,
		byColumn:    make(map[string]*field),
		allowZeroPK: b.allowZeroPK,
	}
	if err := collectFields(meta, t, nil, &meta.Name); err != nil {
		return nil, err
	}
	if len(meta.fields) == 0 {
		return nil, schemaErrorf("%s has no persisted fields", t)
	}

	switch {
	case b.table != "":
		meta.Name = b.table
	case meta.Name != "":
		// from bun.BaseModel
	default:
		meta.Name = tableNameOf(t)
	}

	if b.primaryKeys != nil {
		for _, f := range meta.fields {
			f.pk = false
		}
		for _, pk := range b.primaryKeys {
			f, ok := meta.byColumn[pk]
			if !ok {
				return nil, schemaErrorf("primary key %q is not a column of %s", pk, meta.Name)
			}
			f.pk = true
		}
	}

	for column, tr := range b.transforms {
		f, ok := meta.byColumn[column]
		if !ok {
			return nil, schemaErrorf("transform for unknown column %q of %s", column, meta.Name)
		}
		f.transform = tr
	}

	for _, f := range meta.fields {
		meta.Columns = append(meta.Columns, f.column)
	}
	if b.primaryKeys != nil {
		meta.PrimaryKeys = append(meta.PrimaryKeys, b.primaryKeys...)
	} else {
		for _, f := range meta.fields {
			if f.pk {
				meta.PrimaryKeys = append(meta.PrimaryKeys, f.column)
			}
		}
	}
	for _, f := range meta.fields {
		if f.pk && f.autoIncrement {
			meta.AutoIncrement = f.column
			break
		}
	}
	return meta, nil
}

func tableNameOf(t reflect.Type) string {
	if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
		if name := namer.TableName(); name != "" {
			return name
		}
	}
	return underscore(t.Name())
}

func collectFields(meta *TableMeta, t reflect.Type, parent []int, table *string) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), parent...), i)

		if sf.Anonymous && sf.Type == baseModelType {
			tag := tagparser.Parse(sf.Tag.Get("bun"))
			if name, ok := tag.Options["table"]; ok && name != "" {
				*table = name
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}

		raw, hasTag := sf.Tag.Lookup("bun")
		if raw == "-" {
			continue
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && !hasTag {
			if err := collectFields(meta, sf.Type, index, table); err != nil {
				return err
			}
			continue
		}
		tag := tagparser.Parse(raw)
		if tag.HasOption("rel") || tag.HasOption("m2m") {
			continue
		}

		name := tag.Name
		if name == "" {
			name = underscore(sf.Name)
		}
		if _, dup := meta.byColumn[name]; dup {
			return schemaErrorf("column %q is declared twice in %s", name, t)
		}
		f := &field{
			column:        name,
			goName:        sf.Name,
			index:         index,
			typ:           sf.Type,
			pk:            tag.HasOption("pk"),
			autoIncrement: tag.HasOption("autoincrement") || tag.HasOption("identity"),
		}
		meta.fields = append(meta.fields, f)
		meta.byColumn[name] = f
	}
	return nil
}

// sourceFields maps the column names of an arbitrary struct type to field
// indexes, using the same naming rules as entities.
func sourceFields(t reflect.Type) map[string][]int {
	out := make(map[string][]int)
	var walk func(t reflect.Type, parent []int)
	walk = func(t reflect.Type, parent []int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			index := append(append([]int(nil), parent...), i)
			if !sf.IsExported() || sf.Type == baseModelType {
				continue
			}
			raw, hasTag := sf.Tag.Lookup("bun")
			if raw == "-" {
				continue
			}
			if sf.Anonymous && sf.Type.Kind() == reflect.Struct && !hasTag {
				walk(sf.Type, index)
				continue
			}
			name := tagparser.Parse(raw).Name
			if name == "" {
				name = underscore(sf.Name)
			}
			if _, dup := out[name]; !dup {
				out[name] = index
			}
		}
	}
	walk(t, nil)
	return out
}

// String returns a short description of the table.
func (m *TableMeta) String() string {
	return m.Name + "(" + strings.Join(m.Columns, ", ") + ")"
}
