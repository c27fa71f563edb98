package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationURL converts a driver DSN into the database URL understood by
// golang-migrate.
func MigrationURL(driver, dsn string) (string, error) {
	switch driver {
	case DriverPostgres:
		if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
			return "", fmt.Errorf("postgres DSN must be a URL to run migrations")
		}
		return dsn, nil
	case DriverSqlite:
		return "sqlite3://" + dsn, nil
	default:
		return "", fmt.Errorf("driver %q does not support migrations", driver)
	}
}

// Migrate applies all pending up migrations. The memory driver has no
// schema and is a no-op.
func Migrate(driver, dsn string) error {
	if driver == DriverMemory {
		return nil
	}

	dbURL, err := MigrationURL(driver, dsn)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("new migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}
