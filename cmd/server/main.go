// Package main provides a unified server that runs all components together:
// - Ingestion (continuous): trade feed into the trade log
// - HTTP API: /trades, /summary, /status, /health, /metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tradewatch/internal/config"
	"tradewatch/internal/feed"
	"tradewatch/internal/ingestion"
	"tradewatch/internal/query"
	"tradewatch/internal/storage/backend"
)

// Server holds all components of the unified service.
type Server struct {
	cfg    config.Config
	runID  string
	logger *logrus.Logger
	log    *logrus.Entry
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	// Parse flags (config as defaults)
	wsEndpoint := flag.String("ws-endpoint", cfg.WSEndpoint, "Trade feed WebSocket endpoint (empty disables ingestion)")
	wsOrigin := flag.String("ws-origin", cfg.WSOrigin, "Origin header sent with the WebSocket handshake")
	backendName := flag.String("backend", cfg.Backend, "Trade log backend: file, memory, postgres, clickhouse")
	logPath := flag.String("log-path", cfg.LogPath, "Trade log file (file backend)")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string")
	httpAddr := flag.String("http-addr", cfg.HTTPAddr, "HTTP API address (also serves /metrics)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	flag.Parse()

	cfg.WSEndpoint = *wsEndpoint
	cfg.WSOrigin = *wsOrigin
	cfg.Backend = *backendName
	cfg.LogPath = *logPath
	cfg.PostgresDSN = *postgresDSN
	cfg.ClickhouseDSN = *clickhouseDSN
	cfg.HTTPAddr = *httpAddr
	cfg.LogLevel = *logLevel

	logger := config.NewLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	runID := uuid.NewString()
	server := &Server{
		cfg:    cfg,
		runID:  runID,
		logger: logger,
		log:    logger.WithFields(logrus.Fields{"component": "server", "run_id": runID}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Force exit on a second signal or a stuck shutdown
	go func() {
		<-ctx.Done()
		stop()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			server.log.Warnf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			server.log.Warn("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		server.log.Fatalf("Server error: %v", err)
	}
	server.log.Info("Shutdown complete")
}

// Run starts ingestion and the HTTP API and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	opened, err := backend.Open(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := opened.Close(); err != nil {
			s.log.WithError(err).Warn("close trade log")
		}
	}()

	api := &API{
		log:     opened.Log,
		engine:  query.NewEngine(query.Options{Origin: "http", Logger: s.logger}),
		backend: opened.Name,
		runID:   s.runID,
		started: time.Now(),
		logger:  s.log,
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.WSEndpoint != "" {
		ing := ingestion.New(ingestion.Options{
			Log:        opened.Log,
			MaxRetries: uint64(s.cfg.AppendMaxRetries),
			Logger:     s.logger,
		})
		api.stats = ing

		wsCfg := feed.DefaultWSConfig()
		wsCfg.SubscribeFrames = s.cfg.WSSubscribe
		wsCfg.Header = http.Header{}
		if s.cfg.WSOrigin != "" {
			wsCfg.Header.Set("Origin", s.cfg.WSOrigin)
		}
		src := feed.NewWSSource(s.cfg.WSEndpoint, &wsCfg, s.logger)

		g.Go(func() error {
			s.log.WithField("endpoint", s.cfg.WSEndpoint).Info("Starting ingestion")
			err := ing.Run(gctx, src)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ingestion: %w", err)
			}
			return nil
		})
	} else {
		s.log.Info("No feed endpoint configured, serving queries only")
	}

	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		s.log.Infof("Starting HTTP server on %s", s.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
