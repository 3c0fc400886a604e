package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"trades-ai/internal/config"
	"trades-ai/internal/log"
	"trades-ai/internal/runstore"
	"trades-ai/internal/store"
)

// controller bundles the shared, config-derived infrastructure every
// subcommand needs: a logger, the SQLite-backed store, and the RunStore
// index built on top of it. Callers are responsible for calling close().
type controller struct {
	cfg    *config.Config
	logger *zap.Logger
	sqlite *store.Store
	runs   *runstore.Store
}

func openController() (*controller, error) {
	cfg, err := config.Load(appConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open database: %w", err)
	}

	runs, err := runstore.New(sqliteStore.DB(), cfg.Orchestrator.RingBufferSize)
	if err != nil {
		_ = sqliteStore.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("open run store: %w", err)
	}

	return &controller{cfg: cfg, logger: logger, sqlite: sqliteStore, runs: runs}, nil
}

func (c *controller) close() {
	if err := c.sqlite.Close(); err != nil {
		c.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = c.logger.Sync()
}
