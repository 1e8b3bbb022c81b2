package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour behind a *sql.DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

func ParseDialect(v string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(v))); d {
	case DialectSQLite, DialectPostgres, DialectMySQL:
		return d, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", v)
}

// Open connects to the configured datastore. For sqlite, dsn is a file path.
func Open(dialect Dialect, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	switch dialect {
	case DialectSQLite:
		return OpenSQLite(dsn, maxOpen, maxIdle, maxLifetime)
	case DialectPostgres:
		return openPool("pgx", dsn, maxOpen, maxIdle, maxLifetime)
	case DialectMySQL:
		return openPool("mysql", dsn, maxOpen, maxIdle, maxLifetime)
	}
	return nil, fmt.Errorf("unsupported database driver %q", dialect)
}

func OpenSQLite(path string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	return openPool("sqlite", dsn, maxOpen, maxIdle, maxLifetime)
}

func openPool(driver, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
