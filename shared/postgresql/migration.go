package postgresql

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFs embed.FS

const resourcePath = "migrations"

func newMigrator(connURL string) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFs, resourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migration source: %w", err)
	}

	return migrate.NewWithSourceInstance("iofs", sourceDriver, connURL)
}

// Migrate applies every pending up migration
func Migrate(config *Config, logger *slog.Logger) error {
	m, err := newMigrator(config.URL())
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("Database migrated", slog.Uint64("version", uint64(version)))
	return nil
}

// Rollback reverts the last count migrations
func Rollback(config *Config, count int) error {
	if count < 1 {
		return fmt.Errorf("invalid rollback count: %d", count)
	}

	m, err := newMigrator(config.URL())
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Steps(-count); err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}
