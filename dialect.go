package tinyorm

import (
	"strings"

	"github.com/jmoiron/sqlx"
)

// Dialect constants
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
	DialectPgSQL  = "pgsql"
	DialectMsSQL  = "mssql"
)

// SupportedDialects is a list of all supported database dialects
var SupportedDialects = []string{
	DialectSQLite,
	DialectMySQL,
	DialectPgSQL,
	DialectMsSQL,
}

// IsDialectSupported checks if the given dialect is supported
func IsDialectSupported(dialect string) bool {
	for _, d := range SupportedDialects {
		if d == dialect {
			return true
		}
	}
	return false
}

// DialectForDriver maps a driver name as used in Config.Driver to one of
// the dialect constants. Unknown drivers map to the empty string.
func DialectForDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite
	case "mysql":
		return DialectMySQL
	case "postgres", "postgresql", "pgsql", "pg", "pgdriver", "pgx":
		return DialectPgSQL
	case "sqlserver", "mssql":
		return DialectMsSQL
	}
	return ""
}

// QuoteChar returns the identifier quote character of dialect.
func QuoteChar(dialect string) string {
	if dialect == DialectMySQL {
		return "`"
	}
	return `"`
}

// bindType returns the sqlx bind variable style used by dialect.
func bindType(dialect string) int {
	switch dialect {
	case DialectPgSQL:
		return sqlx.DOLLAR
	case DialectMsSQL:
		return sqlx.AT
	}
	return sqlx.QUESTION
}
