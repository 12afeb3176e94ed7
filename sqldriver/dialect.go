/*
Package sqldriver – SQL backing resource over database/sql.

Queries are rendered as literal SQL with escaped identifiers and values, so
the statement text logged and attached to errors is exactly what ran.
*/
package sqldriver

import (
	"strings"
)

// Dialect holds the syntax differences between SQL databases.
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver registered for the dialect.
	DriverName() string
	QuoteIdent(name string) string
	QuoteString(s string) string
	Bool(b bool) string
	// LimitOffset renders the paging clause, "" for none.
	LimitOffset(limit, offset int) string
	// Returning reports whether inserts read the new id with RETURNING.
	Returning() bool
}

// quoteIdent double-quotes an identifier, qualifying "schema.table" parts.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ─── SQLite ─────────────────────────────────────────────────────────────────

type sqliteDialect struct{}

// SQLite is the dialect of modernc.org/sqlite.
var SQLite Dialect = sqliteDialect{}

func (sqliteDialect) Name() string                  { return "sqlite" }
func (sqliteDialect) DriverName() string            { return "sqlite" }
func (sqliteDialect) QuoteIdent(name string) string { return quoteIdent(name) }
func (sqliteDialect) QuoteString(s string) string   { return quoteString(s) }
func (sqliteDialect) Returning() bool               { return false }

func (sqliteDialect) Bool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (sqliteDialect) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return " LIMIT " + itoa(limit) + " OFFSET " + itoa(offset)
	case limit > 0:
		return " LIMIT " + itoa(limit)
	case offset > 0:
		// SQLite only accepts OFFSET after a LIMIT
		return " LIMIT -1 OFFSET " + itoa(offset)
	}
	return ""
}

// ─── Postgres ───────────────────────────────────────────────────────────────

type postgresDialect struct{}

// Postgres is the dialect of github.com/jackc/pgx/v5/stdlib.
var Postgres Dialect = postgresDialect{}

func (postgresDialect) Name() string                  { return "postgres" }
func (postgresDialect) DriverName() string            { return "pgx" }
func (postgresDialect) QuoteIdent(name string) string { return quoteIdent(name) }
func (postgresDialect) Returning() bool               { return true }

// QuoteString assumes standard_conforming_strings, the default since 9.1.
func (postgresDialect) QuoteString(s string) string { return quoteString(s) }

func (postgresDialect) Bool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func (postgresDialect) LimitOffset(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		b.WriteString(" LIMIT " + itoa(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + itoa(offset))
	}
	return b.String()
}

// DialectByName resolves "sqlite", "postgres" (or "pgx").
func DialectByName(name string) (Dialect, bool) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "postgres", "postgresql", "pgx":
		return Postgres, true
	}
	return nil, false
}
