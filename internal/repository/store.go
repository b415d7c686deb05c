package repository

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/docstore"
)

// OpenStore builds the document store selected by DOCSTORE_DRIVER. The
// returned close func releases the underlying connections. Postgres
// migrations run before the store is handed out.
func OpenStore(ctx context.Context, cfg *config.Config, migrationsFS fs.FS) (docstore.Store, func(), error) {
	switch cfg.DocstoreDriver {
	case config.DriverPostgres:
		if err := RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
			return nil, nil, err
		}
		pool, err := NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("document store ready", "driver", cfg.DocstoreDriver)
		return docstore.NewPostgresStore(pool), pool.Close, nil

	case config.DriverSQLite:
		s, err := docstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("document store ready", "driver", cfg.DocstoreDriver, "path", cfg.SQLitePath)
		return s, func() { s.Close() }, nil

	case config.DriverMemory:
		slog.Warn("using in-memory document store; data is lost on exit")
		return docstore.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown docstore driver %q", cfg.DocstoreDriver)
	}
}
