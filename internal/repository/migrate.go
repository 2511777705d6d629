package repository

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Supported database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Migrate applies all pending schema migrations for the driver. The memory
// driver needs none.
func Migrate(driver, dsn string) error {
	var dir, databaseURL string
	switch driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		dir = "migrations/postgres"
		databaseURL = pgx5URL(dsn)
	case DriverSQLite:
		dir = "migrations/sqlite"
		databaseURL = sqliteURL(dsn)
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to access migrations directory: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// pgx5URL rewrites a postgres DSN to the scheme the pgx/v5 migrate driver
// registers.
func pgx5URL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func sqliteURL(path string) string {
	normalized := filepath.ToSlash(path)
	if filepath.IsAbs(path) && !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	return "sqlite://" + normalized
}
