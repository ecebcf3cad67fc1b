package tinyorm

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm/logger"
)

// =====================================
// Configuration
// =====================================

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, NewErrorWithCause(ErrorTypeValidation, "cannot read config "+path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration and validates it.
//
//	driver: sqlite3
//	database: ":memory:"
//	log_level: info
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, NewErrorWithCause(ErrorTypeValidation, "invalid config", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dialect returns the dialect name of the configured driver.
func (c Config) Dialect() string {
	return DialectForDriver(c.Driver)
}

// Validate checks that the configuration names a supported driver and a
// database to connect to.
func (c Config) Validate() error {
	if c.Driver == "" {
		return NewError(ErrorTypeValidation, "driver is required")
	}
	if c.Dialect() == "" {
		return NewError(ErrorTypeUnsupported, "unsupported driver: "+c.Driver)
	}
	if c.ConnectionURL == "" && c.Database == "" {
		return NewError(ErrorTypeValidation, "either connection_url or database is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "silent", "error", "warn", "info", "debug":
	default:
		return NewError(ErrorTypeValidation, "unknown log_level: "+c.LogLevel)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return NewError(ErrorTypeValidation, "pool sizes must not be negative")
	}
	return nil
}

// DSN returns the data source name for the configured driver. An explicit
// ConnectionURL wins over the individual fields.
func (c Config) DSN() string {
	if c.ConnectionURL != "" {
		return c.ConnectionURL
	}
	switch c.Dialect() {
	case DialectPgSQL:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.Username, c.Password),
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.Database,
		}
		mode := "disable"
		if c.SSL.Enabled {
			mode = c.SSL.Mode
			if mode == "" {
				mode = "require"
			}
		}
		q := url.Values{"sslmode": {mode}}
		if c.SSL.CAFile != "" {
			q.Set("sslrootcert", c.SSL.CAFile)
		}
		if c.SSL.CertFile != "" {
			q.Set("sslcert", c.SSL.CertFile)
			q.Set("sslkey", c.SSL.KeyFile)
		}
		u.RawQuery = q.Encode()
		return u.String()
	case DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
		mc.DBName = c.Database
		mc.ParseTime = true
		if c.SSL.Enabled {
			mc.TLSConfig = "true"
			if c.SSL.Mode == "skip-verify" {
				mc.TLSConfig = "skip-verify"
			}
		}
		return mc.FormatDSN()
	case DialectMsSQL:
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.Username, c.Password),
			Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
			RawQuery: url.Values{"database": {c.Database}}.Encode(),
		}
		return u.String()
	}
	return c.Database
}

// NewLogger returns the statement logger for a log level name: silent,
// error, warn (the default) or info. debug logs like info.
func NewLogger(level string) logger.Interface {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Default.LogMode(logger.Silent)
	case "error":
		return logger.Default.LogMode(logger.Error)
	case "info", "debug":
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Warn)
}
