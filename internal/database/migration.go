// internal/database/migration.go
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"card-service/internal/config"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded customer and card history schema
type Migrator struct {
	db     *DB
	logger *zap.Logger
	config *config.DatabaseConfig
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *DB, logger *zap.Logger, config *config.DatabaseConfig) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger.With(zap.String("component", "migrator")),
		config: config,
	}
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	err := m.withMigrator(func(mg *migrate.Migrate) error {
		return ignoreNoChange(mg.Up())
	})
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	m.logger.Info("Database migrations applied")
	return nil
}

// Down rolls back every applied migration
func (m *Migrator) Down() error {
	err := m.withMigrator(func(mg *migrate.Migrate) error {
		return ignoreNoChange(mg.Down())
	})
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}

	m.logger.Info("Database migrations rolled back")
	return nil
}

// Version returns the applied schema version; zero when nothing is applied
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	err = m.withMigrator(func(mg *migrate.Migrate) error {
		version, dirty, err = mg.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Force marks version as applied and clears the dirty flag, for recovering
// from a failed migration
func (m *Migrator) Force(version int) error {
	err := m.withMigrator(func(mg *migrate.Migrate) error {
		return mg.Force(version)
	})
	if err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}

	m.logger.Warn("Migration version forced", zap.Int("version", version))
	return nil
}

// withMigrator runs fn against a migrate instance over the embedded SQL
// files. The instance owns a dedicated connection so closing it leaves the
// pool open.
func (m *Migrator) withMigrator(fn func(*migrate.Migrate) error) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	ctx := context.Background()
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		DatabaseName: m.config.DBName,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer mg.Close()

	return fn(mg)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// MigrationNames lists the embedded migration files
func MigrationNames() ([]string, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
