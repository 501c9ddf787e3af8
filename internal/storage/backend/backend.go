// Package backend opens the trade log selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"tradewatch/internal/config"
	"tradewatch/internal/storage"
	chstore "tradewatch/internal/storage/clickhouse"
	"tradewatch/internal/storage/file"
	"tradewatch/internal/storage/memory"
	"tradewatch/internal/storage/migrations"
	pgstore "tradewatch/internal/storage/postgres"
)

// Opened is a trade log plus whatever owns its connections.
type Opened struct {
	Log     storage.TradeLog
	Name    string
	cleanup []func()
}

// Close closes the log, then the underlying connections.
func (o *Opened) Close() error {
	err := o.Log.Close()
	for i := len(o.cleanup) - 1; i >= 0; i-- {
		o.cleanup[i]()
	}
	o.cleanup = nil
	return err
}

// Open creates the trade log for cfg.Backend. Database backends are migrated
// before use.
func Open(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*Opened, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithField("backend", cfg.Backend)

	switch cfg.Backend {
	case config.BackendFile:
		l, err := file.Open(cfg.LogPath, &file.Options{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open trade log: %w", err)
		}
		entry.WithField("path", l.Path()).Info("trade log opened")
		return &Opened{Log: l, Name: cfg.Backend}, nil

	case config.BackendMemory:
		entry.Warn("using in-memory trade log, nothing survives a restart")
		return &Opened{Log: memory.NewTradeLog(), Name: cfg.Backend}, nil

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		entry.Info("trade log opened")
		return &Opened{Log: pgstore.NewTradeLog(pool), Name: cfg.Backend, cleanup: []func(){pool.Close}}, nil

	case config.BackendClickhouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
		l, err := chstore.OpenTradeLog(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open trade log: %w", err)
		}
		entry.Info("trade log opened")
		return &Opened{Log: l, Name: cfg.Backend, cleanup: []func(){func() { _ = conn.Close() }}}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
