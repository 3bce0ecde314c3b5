package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration to the database at databaseURL.
// It returns the schema version after the run.
func Migrate(databaseURL string, log zerolog.Logger) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		return 0, fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source_error", srcErr).AnErr("database_error", dbErr).Msg("failed to close migrator")
		}
	}()

	if err := m.Up(); err != nil {
		var dirtyErr migrate.ErrDirty
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info().Msg("no new migrations found")
		case errors.As(err, &dirtyErr):
			return 0, fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		default:
			return 0, fmt.Errorf("migration failed: %w", err)
		}
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration failed: dirty database version %d", version)
	}

	log.Info().Uint("version", version).Msg("database schema is up to date")
	return version, nil
}

// migrateURL rewrites a postgres:// connection string for the pgx/v5 migrate driver.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}
