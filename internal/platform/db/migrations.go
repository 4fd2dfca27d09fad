package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies migrations from migrationsPath (a directory, e.g. ./migrations/postgres).
// steps of zero applies everything pending; negative steps roll back.
func Migrate(databaseURL, migrationsPath string, steps int) error {
	if migrationsPath == "" {
		return errors.New("platform/db: migrations path cannot be empty")
	}
	if databaseURL == "" {
		return errors.New("platform/db: database URL cannot be empty")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return fmt.Errorf("platform/db: create migrate instance: %w", err)
	}

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_, _ = m.Close()
		return fmt.Errorf("platform/db: apply migrations: %w", err)
	}

	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return fmt.Errorf("platform/db: migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("platform/db: migration database: %w", dbErr)
	}
	return nil
}
