package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Schema migrations plus the seed data the importer depends on: the two
// business units, the partner accounts and the academy's teachers carry
// fixed ids referenced by the alias tables in the rules file.
//
//go:embed migrations/*.sql
var schemaFS embed.FS

// RunMigrations brings the finanzas database at dbPath up to the latest
// schema version. It opens its own connection so the repository's pool is
// not disturbed mid-flight; both the loader's ensure-schema step and the
// binaries' startup path run through here, so it must stay idempotent.
func RunMigrations(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database for migration: %w", err)
	}
	defer db.Close()

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("prepare sqlite migration driver: %w", err)
	}

	src, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded schema migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "finanzas", driver)
	if err != nil {
		return fmt.Errorf("prepare schema migration: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply schema migrations: %w", err)
	}

	return nil
}
