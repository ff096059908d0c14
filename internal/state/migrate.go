package state

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const capturesMigrationsPath = "migrations/captures"

//go:embed migrations/captures/*.sql
var migrationsFS embed.FS

// MigrateCapturesDB applies captures.db migrations.
func MigrateCapturesDB(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate %s: nil db", capturesMigrationsPath)
	}

	sourceDriver, err := iofs.New(migrationsFS, capturesMigrationsPath)
	if err != nil {
		return fmt.Errorf("migrate %s: init source: %w", capturesMigrationsPath, err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("migrate %s: init db driver: %w", capturesMigrationsPath, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate %s: init migrator: %w", capturesMigrationsPath, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: up: %w", capturesMigrationsPath, err)
	}
	return nil
}
