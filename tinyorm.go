// Package tinyorm is a small row-oriented data access layer: it maps Go
// structs to table rows, builds parameterized SQL for reads, inserts,
// updates and deletes, and tracks field changes so an UPDATE only sends
// the columns that actually changed.
//
// Connections are provided by the tinybun and tinygorm packages, or by any
// *sql.DB / *sql.Tx passed to New.
package tinyorm

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm/logger"
)

// =====================================
// Executor
// =====================================

// ExecQuerier runs statements. *sql.DB, *sql.Tx, *sql.Conn, *bun.DB,
// bun.Tx and gorm's ConnPool all satisfy it.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// DB binds an executor to a dialect, an entity registry and a logger. A
// DB wrapping a transaction must not be shared between goroutines.
type DB struct {
	exec     ExecQuerier
	dialect  string
	registry *Registry
	logger   logger.Interface
	rebind   bool
	closer   io.Closer
}

// Option configures a DB.
type Option func(*DB)

// WithRegistry shares an entity registry between handles. Without it every
// DB gets its own registry.
func WithRegistry(r *Registry) Option {
	return func(db *DB) { db.registry = r }
}

// WithLogger sets the statement logger.
func WithLogger(l logger.Interface) Option {
	return func(db *DB) { db.logger = l }
}

// WithBindVars rewrites "?" placeholders to the bind syntax of the
// dialect ($1 for pgsql, @p1 for mssql) before a statement is sent.
// Executors that format "?" themselves, like bun, must not enable it.
func WithBindVars(enabled bool) Option {
	return func(db *DB) { db.rebind = enabled }
}

// WithCloser registers what Close releases.
func WithCloser(c io.Closer) Option {
	return func(db *DB) { db.closer = c }
}

// New creates a DB on top of exec. dialect is one of the Dialect
// constants.
func New(exec ExecQuerier, dialect string, opts ...Option) (*DB, error) {
	if exec == nil {
		return nil, NewError(ErrorTypeConnection, "no executor")
	}
	if !IsDialectSupported(dialect) {
		return nil, NewError(ErrorTypeUnsupported, "unsupported dialect: "+dialect)
	}
	db := &DB{
		exec:    exec,
		dialect: dialect,
		logger:  logger.Default.LogMode(logger.Warn),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.registry == nil {
		db.registry = NewRegistry()
	}
	return db, nil
}

// With returns a copy of db running its statements on exec, typically a
// transaction. The copy shares the registry and the logger but does not
// own a closer.
func (db *DB) With(exec ExecQuerier) *DB {
	clone := *db
	clone.exec = exec
	clone.closer = nil
	return &clone
}

// Dialect returns the dialect name of the handle.
func (db *DB) Dialect() string { return db.dialect }

// Registry returns the entity registry of the handle.
func (db *DB) Registry() *Registry { return db.registry }

// Logger returns the statement logger of the handle.
func (db *DB) Logger() logger.Interface { return db.logger }

// Executor returns the underlying executor.
func (db *DB) Executor() ExecQuerier { return db.exec }

// Quote quotes identifier with the quote character of the handle's
// dialect.
func (db *DB) Quote(identifier string) string {
	return QuoteIdentifier(identifier, QuoteChar(db.dialect))
}

// Close releases the resource registered with WithCloser, if any.
func (db *DB) Close() error {
	if db.closer == nil {
		return nil
	}
	return db.closer.Close()
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, query string, params ...interface{}) (sql.Result, error) {
	begin := time.Now()
	stmt := db.bind(query)
	res, err := db.exec.ExecContext(ctx, stmt, params...)
	affected := int64(-1)
	if err == nil {
		if n, rerr := res.RowsAffected(); rerr == nil {
			affected = n
		}
	}
	db.logger.Trace(ctx, begin, func() (string, int64) { return stmt, affected }, err)
	if err != nil {
		return nil, executionError("statement failed", stmt, params, err)
	}
	return res, nil
}

// QueryRows runs a statement returning rows. The caller closes them.
func (db *DB) QueryRows(ctx context.Context, query string, params ...interface{}) (*sql.Rows, error) {
	begin := time.Now()
	stmt := db.bind(query)
	rows, err := db.exec.QueryContext(ctx, stmt, params...)
	db.logger.Trace(ctx, begin, func() (string, int64) { return stmt, -1 }, err)
	if err != nil {
		return nil, executionError("query failed", stmt, params, err)
	}
	return rows, nil
}

func (db *DB) bind(query string) string {
	if !db.rebind {
		return query
	}
	return sqlx.Rebind(bindType(db.dialect), query)
}

// metaOf resolves the metadata of T through the handle's registry.
func metaOf[T any](db *DB) (*TableMeta, error) {
	if db == nil {
		return nil, errUnbound
	}
	return MetaFor[T](db.registry)
}

var errUnbound = NewError(ErrorTypeSchema, "row is not bound to a connection")

// asExecution wraps a driver error that escaped Exec or QueryRows, such
// as one reported while iterating rows.
func asExecution(err error, query string, params []interface{}) error {
	if err == nil {
		return nil
	}
	var e Error
	if errors.As(err, &e) {
		return err
	}
	return executionError("query failed", query, params, err)
}
