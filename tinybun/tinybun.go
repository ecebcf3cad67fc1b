// Package tinybun opens tinyorm connections with Bun.
//
// Importing the package registers the "bun" provider:
//
//	import _ "github.com/lemmego/tinyorm/tinybun"
//
//	db, err := tinyorm.Open("bun", cfg)
package tinybun

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/lemmego/tinyorm"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// ProviderName is the name the package registers with tinyorm.
const ProviderName = "bun"

func init() {
	tinyorm.RegisterProvider(ProviderName, func(cfg tinyorm.Config, opts ...tinyorm.Option) (*tinyorm.DB, error) {
		p, err := Open(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return p.DB(), nil
	})
}

// =====================================
// Provider Implementation
// =====================================

// Provider pairs a Bun database with the tinyorm handle running on it.
type Provider struct {
	bun    *bun.DB
	db     *tinyorm.DB
	config tinyorm.Config
}

// Open connects to the database described by cfg.
func Open(cfg tinyorm.Config, opts ...tinyorm.Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var sqlDB *sql.DB
	var err error

	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql":
		sqlDB, err = sql.Open("postgres", cfg.DSN())
	case "pgdriver", "pg":
		sqlDB = sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN())))
	case "mysql":
		sqlDB, err = sql.Open("mysql", cfg.DSN())
	case "sqlite", "sqlite3":
		sqlDB, err = sql.Open("sqlite3", cfg.DSN())
	default:
		return nil, tinyorm.NewError(tinyorm.ErrorTypeUnsupported,
			fmt.Sprintf("unsupported driver: %s", cfg.Driver))
	}
	if err != nil {
		return nil, tinyorm.NewErrorWithCause(tinyorm.ErrorTypeConnection, "failed to connect to database", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if isMemorySQLite(cfg) {
		sqlDB.SetMaxOpenConns(1)
	}

	var bunDB *bun.DB
	switch cfg.Dialect() {
	case tinyorm.DialectPgSQL:
		bunDB = bun.NewDB(sqlDB, pgdialect.New())
	case tinyorm.DialectMySQL:
		bunDB = bun.NewDB(sqlDB, mysqldialect.New())
	default:
		bunDB = bun.NewDB(sqlDB, sqlitedialect.New())
	}

	level := strings.ToLower(cfg.LogLevel)
	if level == "info" || level == "debug" {
		bunDB.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(level == "debug"),
		))
	}

	opts = append([]tinyorm.Option{tinyorm.WithLogger(tinyorm.NewLogger(cfg.LogLevel))}, opts...)
	p, err := Wrap(bunDB, opts...)
	if err != nil {
		_ = bunDB.Close()
		return nil, err
	}
	p.config = cfg
	return p, nil
}

// Wrap builds a Provider on an existing Bun database. Closing the
// provider closes bunDB.
func Wrap(bunDB *bun.DB, opts ...tinyorm.Option) (*Provider, error) {
	d, err := dialectOf(bunDB)
	if err != nil {
		return nil, err
	}
	// Bun formats "?" placeholders itself, so no rebinding.
	opts = append(opts, tinyorm.WithBindVars(false), tinyorm.WithCloser(bunDB))
	db, err := tinyorm.New(bunDB, d, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{bun: bunDB, db: db}, nil
}

// DB returns the tinyorm handle.
func (p *Provider) DB() *tinyorm.DB { return p.db }

// Bun returns the underlying Bun database.
func (p *Provider) Bun() *bun.DB { return p.bun }

// Config returns the configuration the provider was opened with.
func (p *Provider) Config() tinyorm.Config { return p.config }

// Health checks the database connection health
func (p *Provider) Health(ctx context.Context) error {
	if err := p.bun.PingContext(ctx); err != nil {
		return tinyorm.NewErrorWithCause(tinyorm.ErrorTypeConnection, "ping failed", err)
	}
	return nil
}

// Close closes the database connection
func (p *Provider) Close() error {
	return p.db.Close()
}

// RunInTx runs fn in a transaction. fn receives a handle bound to the
// transaction; returning an error rolls it back.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *tinyorm.DB) error) error {
	return p.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, p.db.With(tx))
	})
}

// CreateTable creates the table of every model from its bun tags, if it
// does not exist yet. It is meant for tests and demos.
func (p *Provider) CreateTable(ctx context.Context, models ...interface{}) error {
	for _, model := range models {
		if _, err := p.bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return tinyorm.NewErrorWithCause(tinyorm.ErrorTypeExecution,
				fmt.Sprintf("create table for %T", model), err)
		}
	}
	return nil
}

// DropTable drops the table of every model, if it exists.
func (p *Provider) DropTable(ctx context.Context, models ...interface{}) error {
	for _, model := range models {
		if _, err := p.bun.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return tinyorm.NewErrorWithCause(tinyorm.ErrorTypeExecution,
				fmt.Sprintf("drop table for %T", model), err)
		}
	}
	return nil
}

// =====================================
// Connection Helpers
// =====================================

// isMemorySQLite reports whether cfg names an in-memory SQLite database.
// Every connection to such a database gets its own copy, so the pool is
// limited to one connection.
func isMemorySQLite(cfg tinyorm.Config) bool {
	if cfg.Dialect() != tinyorm.DialectSQLite {
		return false
	}
	dsn := cfg.DSN()
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func dialectOf(bunDB *bun.DB) (string, error) {
	switch bunDB.Dialect().Name() {
	case dialect.PG:
		return tinyorm.DialectPgSQL, nil
	case dialect.MySQL:
		return tinyorm.DialectMySQL, nil
	case dialect.SQLite:
		return tinyorm.DialectSQLite, nil
	case dialect.MSSQL:
		return tinyorm.DialectMsSQL, nil
	}
	return "", tinyorm.NewError(tinyorm.ErrorTypeUnsupported,
		fmt.Sprintf("unsupported bun dialect: %s", bunDB.Dialect().Name()))
}
