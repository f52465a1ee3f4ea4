package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/config"
	storepkg "github.com/hivehq/hive/internal/store"
	storepg "github.com/hivehq/hive/internal/store/postgres"
	storesqlite "github.com/hivehq/hive/internal/store/sqlite"
)

// NewStore returns a store.Store selected by cfg.DBDriver. Postgres for
// shared deployments, sqlite for a single-process install. The schema is
// applied on open; every statement uses IF NOT EXISTS so repeated starts
// are safe.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("HIVE_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := storepg.Bootstrap(ctx, db); err != nil {
			return nil, fmt.Errorf("postgres bootstrap: %w", err)
		}
		log.Info().Str("driver", "postgres").Msg("store ready")
		return storepg.NewWithDB(db), nil

	case "sqlite":
		st, err := storesqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "sqlite").Str("path", cfg.SQLitePath).Msg("store ready")
		return st, nil

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
