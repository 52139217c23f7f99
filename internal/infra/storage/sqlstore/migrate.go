package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect identifies the SQL flavor behind a connection.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectPgx      Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect maps a configured driver name to a Dialect. Empty means postgres.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "", "postgres", "postgresql":
		return DialectPostgres, nil
	case "pgx":
		return DialectPgx, nil
	case "sqlite", "sqlite3", "d1":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q (supported: postgres, pgx, sqlite, mysql)", driver)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

func (d Dialect) gooseDialect() goose.Dialect {
	switch d {
	case DialectSQLite:
		return goose.DialectSQLite3
	case DialectMySQL:
		return goose.DialectMySQL
	default:
		return goose.DialectPostgres
	}
}

func (d Dialect) migrationsDir() string {
	switch d {
	case DialectSQLite:
		return "migrations/sqlite"
	case DialectMySQL:
		return "migrations/mysql"
	default:
		return "migrations/postgres"
	}
}

// Migrate applies the embedded schema migrations for the connection's dialect.
func (db *DB) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, db.dialect.migrationsDir())
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	provider, err := goose.NewProvider(db.dialect.gooseDialect(), db.DB.DB, fsys)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	for _, r := range results {
		slog.Debug("Applied migration", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}
