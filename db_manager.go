package tinyorm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultConnection is the name Get falls back to.
const DefaultConnection = "default"

// ErrConnectionNotFound is returned when a named connection is not known.
var ErrConnectionNotFound = errors.New("database connection not found")

// Manager holds named database handles
type Manager struct {
	mutex       sync.RWMutex
	connections map[string]*DB
}

// NewManager creates an empty Manager
func NewManager() *Manager {
	return &Manager{connections: make(map[string]*DB)}
}

// SetDefault sets the given connection as default
func (m *Manager) SetDefault(db *DB) {
	m.Add(DefaultConnection, db)
}

// Add adds a new database connection to the manager, replacing one with
// the same name
func (m *Manager) Add(name string, db *DB) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connections[name] = db
}

// Get retrieves a database connection from the manager.
// If no name is provided, it defaults to "default"
func (m *Manager) Get(name ...string) (*DB, bool) {
	connName := DefaultConnection
	if len(name) > 0 {
		connName = name[0]
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	db, found := m.connections[connName]
	return db, found
}

// MustGet is like Get but panics when the connection is unknown
func (m *Manager) MustGet(name ...string) *DB {
	db, found := m.Get(name...)
	if !found {
		connName := DefaultConnection
		if len(name) > 0 {
			connName = name[0]
		}
		panic(fmt.Sprintf("db connection '%s' not found", connName))
	}
	return db
}

// Names returns the names of all connections, sorted
func (m *Manager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove closes and removes a database connection from the manager
func (m *Manager) Remove(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	db, found := m.connections[name]
	if !found {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}
	if err := db.Close(); err != nil {
		return err
	}
	delete(m.connections, name)
	return nil
}

// RemoveAll closes and removes all the existing connections. It stops at
// the first connection that fails to close.
func (m *Manager) RemoveAll() error {
	for _, name := range m.Names() {
		if err := m.Remove(name); err != nil {
			return err
		}
	}
	return nil
}
