package tinyorm

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Registry holds the TableMeta of every entity type known to an
// application. Build it once at startup and share it between DB handles;
// lookups are safe for concurrent use.
type Registry struct {
	mutex   sync.RWMutex
	tables  map[reflect.Type]*TableMeta
	sources map[reflect.Type]map[string][]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:  make(map[reflect.Type]*TableMeta),
		sources: make(map[reflect.Type]map[string][]int),
	}
}

// Register resolves the metadata of entity's type and stores it. entity
// may be a value, a pointer or a reflect.Type. Registering a type twice
// returns the metadata built the first time; options of later calls are
// ignored.
func (r *Registry) Register(entity interface{}, opts ...MetaOption) (*TableMeta, error) {
	t := entityType(entity)
	if t == nil {
		return nil, schemaErrorf("cannot register a nil entity")
	}

	r.mutex.RLock()
	meta, ok := r.tables[t]
	r.mutex.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := buildTableMeta(t, opts...)
	if err != nil {
		return nil, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if existing, ok := r.tables[t]; ok {
		return existing, nil
	}
	r.tables[t] = meta
	return meta, nil
}

// MustRegister is like Register but panics on error. It is meant for
// package-level registration at startup.
func (r *Registry) MustRegister(entity interface{}, opts ...MetaOption) *TableMeta {
	meta, err := r.Register(entity, opts...)
	if err != nil {
		panic(err)
	}
	return meta
}

// Lookup returns the metadata registered for t.
func (r *Registry) Lookup(t reflect.Type) (*TableMeta, bool) {
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	meta, ok := r.tables[t]
	return meta, ok
}

// Tables returns the names of all registered tables, sorted.
func (r *Registry) Tables() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.tables))
	for _, meta := range r.tables {
		names = append(names, meta.Name)
	}
	sort.Strings(names)
	return names
}

// MetaFor returns the metadata of T, registering T with default options
// when it is not known yet. T must be the struct type itself, not a
// pointer to it.
func MetaFor[T any](r *Registry) (*TableMeta, error) {
	if r == nil {
		return nil, schemaErrorf("no registry")
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, schemaErrorf("entity type %s is not a struct", t)
	}
	if meta, ok := r.Lookup(t); ok {
		return meta, nil
	}
	return r.Register(t)
}

// sourceIndex returns the column to field index mapping of a struct type
// used as the source of ApplyFrom or ValueFrom. The mapping is computed
// once per type.
func (r *Registry) sourceIndex(t reflect.Type) map[string][]int {
	r.mutex.RLock()
	idx, ok := r.sources[t]
	r.mutex.RUnlock()
	if ok {
		return idx
	}
	idx = sourceFields(t)
	r.mutex.Lock()
	r.sources[t] = idx
	r.mutex.Unlock()
	return idx
}

func entityType(entity interface{}) reflect.Type {
	switch e := entity.(type) {
	case nil:
		return nil
	case reflect.Type:
		if e.Kind() == reflect.Ptr {
			return e.Elem()
		}
		return e
	}
	t := reflect.TypeOf(entity)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry%v", r.Tables())
}
