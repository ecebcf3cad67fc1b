// Package tinygorm opens tinyorm connections with GORM. tinyorm statements
// run on GORM's connection pool and are logged through GORM's logger.
//
// Importing the package registers the "gorm" provider.
package tinygorm

import (
	"context"
	"fmt"
	"strings"

	"github.com/lemmego/tinyorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
)

// ProviderName is the name the package registers with tinyorm.
const ProviderName = "gorm"

// init registers the GORM provider
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

// Provider pairs a GORM database with the tinyorm handle running on it.
type Provider struct {
	gorm   *gorm.DB
	db     *tinyorm.DB
	config tinyorm.Config
}

// Open connects to the database described by cfg.
func Open(cfg tinyorm.Config, opts ...tinyorm.Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Dialect() {
	case tinyorm.DialectPgSQL:
		dialector = postgres.Open(cfg.DSN())
	case tinyorm.DialectMySQL:
		dialector = mysql.Open(cfg.DSN())
	case tinyorm.DialectSQLite:
		dialector = sqlite.Open(cfg.DSN())
	case tinyorm.DialectMsSQL:
		dialector = sqlserver.Open(cfg.DSN())
	default:
		return nil, tinyorm.NewError(tinyorm.ErrorTypeUnsupported,
			fmt.Sprintf("unsupported driver: %s", cfg.Driver))
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: tinyorm.NewLogger(cfg.LogLevel),
	})
	if err != nil {
		return nil, tinyorm.NewErrorWithCause(tinyorm.ErrorTypeConnection, "failed to connect to database", err)
	}

	// Configure connection pool
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, tinyorm.NewErrorWithCause(tinyorm.ErrorTypeConnection, "failed to get underlying sql.DB", err)
	}
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
	if cfg.Dialect() == tinyorm.DialectSQLite && strings.Contains(cfg.DSN(), ":memory:") {
		// One copy of the database per connection.
		sqlDB.SetMaxOpenConns(1)
	}

	p, err := Wrap(gdb, opts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	p.config = cfg
	return p, nil
}

// Wrap builds a Provider on an existing GORM database, reusing its logger.
// Closing the provider closes the underlying sql.DB.
func Wrap(gdb *gorm.DB, opts ...tinyorm.Option) (*Provider, error) {
	d := tinyorm.DialectForDriver(gdb.Dialector.Name())
	if d == "" {
		return nil, tinyorm.NewError(tinyorm.ErrorTypeUnsupported,
			fmt.Sprintf("unsupported gorm dialector: %s", gdb.Dialector.Name()))
	}
	base := []tinyorm.Option{tinyorm.WithLogger(gdb.Logger)}
	if sqlDB, err := gdb.DB(); err == nil {
		base = append(base, tinyorm.WithCloser(sqlDB))
	}
	// The drivers behind GORM expect their native bind syntax.
	opts = append(append(base, opts...), tinyorm.WithBindVars(true))
	db, err := tinyorm.New(gdb.Statement.ConnPool, d, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{gorm: gdb, db: db}, nil
}

// DB returns the tinyorm handle.
func (p *Provider) DB() *tinyorm.DB { return p.db }

// Gorm returns the underlying GORM database.
func (p *Provider) Gorm() *gorm.DB { return p.gorm }

// Config returns the configuration the provider was opened with.
func (p *Provider) Config() tinyorm.Config { return p.config }

// Health checks the database connection health
func (p *Provider) Health(ctx context.Context) error {
	sqlDB, err := p.gorm.DB()
	if err != nil {
		return tinyorm.NewErrorWithCause(tinyorm.ErrorTypeConnection, "failed to get underlying sql.DB", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return tinyorm.NewErrorWithCause(tinyorm.ErrorTypeConnection, "ping failed", err)
	}
	return nil
}

// Close closes the database connection
func (p *Provider) Close() error {
	return p.db.Close()
}

// Transaction runs fn in a GORM transaction. fn receives a handle bound
// to the transaction; returning an error rolls it back.
func (p *Provider) Transaction(ctx context.Context, fn func(ctx context.Context, tx *tinyorm.DB) error) error {
	return p.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, p.db.With(tx.Statement.ConnPool))
	})
}
