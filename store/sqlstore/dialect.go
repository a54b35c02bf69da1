package sqlstore

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures a table name contains only safe characters for SQL.
func validateIdentifier(name string) error {
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("table name must start with a letter and contain only letters, numbers, and underscores (got: %q)", name)
	}

	return nil
}

// Dialect holds the SQL differences between the supported databases.
type Dialect struct {
	// Name is the database/sql driver name the dialect is meant for.
	Name string

	placeholder     func(n int) string
	createTable     func(table string) string
	likeSpecials    string
	uniqueViolation func(err error) bool
	busy            func(err error) bool
}

// Built-in dialects.
var (
	Postgres = Dialect{
		Name:        "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		createTable: func(table string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(450) PRIMARY KEY,
    etag VARCHAR(36) NOT NULL,
    body BYTEA NOT NULL
)`, table)
		},
		likeSpecials: "%_",
		uniqueViolation: func(err error) bool {
			var pqErr *pq.Error
			return errors.As(err, &pqErr) && pqErr.Code == "23505"
		},
		busy: func(err error) bool {
			var pqErr *pq.Error
			// 40001 serialization_failure, 40P01 deadlock_detected, 57P03 cannot_connect_now
			return errors.As(err, &pqErr) && (pqErr.Code == "40001" || pqErr.Code == "40P01" || pqErr.Code == "57P03")
		},
	}

	MySQL = Dialect{
		Name:        "mysql",
		placeholder: func(int) string { return "?" },
		createTable: func(table string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(450) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL PRIMARY KEY,
    etag VARCHAR(36) NOT NULL,
    body LONGBLOB NOT NULL
)`, table)
		},
		likeSpecials: "%_",
		uniqueViolation: func(err error) bool {
			var myErr *mysql.MySQLError
			return errors.As(err, &myErr) && myErr.Number == 1062
		},
		busy: func(err error) bool {
			var myErr *mysql.MySQLError
			// 1205 lock wait timeout, 1213 deadlock
			return errors.As(err, &myErr) && (myErr.Number == 1205 || myErr.Number == 1213)
		},
	}

	SQLite = Dialect{
		Name:        "sqlite3",
		placeholder: func(int) string { return "?" },
		createTable: func(table string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    etag TEXT NOT NULL,
    body BLOB NOT NULL
)`, table)
		},
		likeSpecials: "%_",
		uniqueViolation: func(err error) bool {
			var liteErr sqlite3.Error
			return errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint
		},
		busy: func(err error) bool {
			var liteErr sqlite3.Error
			return errors.As(err, &liteErr) && (liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked)
		},
	}

	SQLServer = Dialect{
		Name:        "sqlserver",
		placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
		createTable: func(table string) string {
			return fmt.Sprintf(`IF OBJECT_ID(N'%[1]s', N'U') IS NULL
CREATE TABLE %[1]s (
    id VARCHAR(450) COLLATE Latin1_General_BIN2 NOT NULL PRIMARY KEY,
    etag VARCHAR(36) NOT NULL,
    body VARBINARY(MAX) NOT NULL
)`, table)
		},
		likeSpecials: "%_[",
		uniqueViolation: func(err error) bool {
			var msErr mssql.Error
			return errors.As(err, &msErr) && (msErr.Number == 2627 || msErr.Number == 2601)
		},
		busy: func(err error) bool {
			var msErr mssql.Error
			// 1205 deadlock victim, 1222 lock request timeout
			return errors.As(err, &msErr) && (msErr.Number == 1205 || msErr.Number == 1222)
		},
	}
)

// DialectFor returns the built-in dialect for a database/sql driver name.
//
// Accepted names: "postgres", "pgx", "mysql", "sqlite3", "sqlite",
// "sqlserver", "mssql".
func DialectFor(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported SQL driver %q", driverName)
	}
}

// escapeLike escapes prefix for a LIKE pattern using '!' as escape character.
func (d Dialect) escapeLike(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 1)

	for _, r := range prefix {
		if r == '!' || strings.ContainsRune(d.likeSpecials, r) {
			b.WriteByte('!')
		}
		b.WriteRune(r)
	}
	b.WriteByte('%')

	return b.String()
}

// bind rewrites the '?' placeholders of query for the dialect.
func (d Dialect) bind(query string) string {
	if d.placeholder(1) == "?" {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}
