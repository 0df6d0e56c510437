package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations applies every pending, forward-only migration in
// migrations/ against db, using the golang-migrate driver matching
// dialect. Migrations are ordered by filename, and golang-migrate's
// version table keeps each one from being applied twice, satisfying
// §4.A.
func runMigrations(db *sql.DB, dialect string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("store: open migration source: %w", err)
	}

	var dbDriver database.Driver
	switch dialect {
	case "postgres":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite":
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return fmt.Errorf("store: unknown dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("store: create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, dbDriver)
	if err != nil {
		return fmt.Errorf("store: create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: apply migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("store: read migration version: %w", err)
	}

	// Mirror the migration version into the config table so the
	// supervisor can refuse to start against a schema the binary
	// doesn't understand (§4.A, §6, §7 Fatal).
	_, err = db.Exec(rebind(dialect, `
		INSERT INTO config (key, value, type) VALUES (?, ?, 'int')
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`), ConfigKeySchemaVersion, fmt.Sprintf("%d", version))
	if err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}

	return nil
}
