package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/tempus/internal/config"
	"github.com/dohr-michael/tempus/internal/storage"
	"github.com/dohr-michael/tempus/internal/tasks"
)

// loadConfig reads the config file named by the --config flag, falling
// back to defaults when the file does not exist.
func loadConfig(cmd *cli.Command) *config.Config {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", path, "error", err)
		return config.Default()
	}
	return cfg
}

// openRegistry builds the task registry the config selects, wrapped in
// the caching decorator.
func openRegistry(cfg *config.Config) (tasks.Registry, error) {
	var inner tasks.Registry
	switch cfg.Storage.Driver {
	case "memory":
		inner = tasks.NewMemoryRegistry()
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		backend, err := storage.NewSQLiteBackend(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		inner = tasks.NewVectorRegistry(backend, cfg.Storage.Collection, slog.Default())
	case "qdrant":
		backend := storage.NewQdrantBackend(cfg.Storage.Qdrant.URL, cfg.Storage.Qdrant.APIKey)
		inner = tasks.NewVectorRegistry(backend, cfg.Storage.Collection, slog.Default())
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	return tasks.NewCachedRegistryWith(inner,
		cfg.Cache.EntitySize, cfg.Cache.EntityTTL.Duration(),
		cfg.Cache.QuerySize, cfg.Cache.QueryTTL.Duration()), nil
}
