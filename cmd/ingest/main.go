// Command ingest captures trade payloads from the live feed (or a replayed
// capture) into the trade log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
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
	"tradewatch/internal/observability"
	"tradewatch/internal/storage/backend"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	// Flags default to the loaded config
	wsEndpoint := flag.String("ws-endpoint", cfg.WSEndpoint, "Trade feed WebSocket endpoint")
	wsOrigin := flag.String("ws-origin", cfg.WSOrigin, "Origin header sent with the WebSocket handshake")
	replayPath := flag.String("replay", "", "Replay payload lines from a file instead of the feed (- for stdin)")
	backendName := flag.String("backend", cfg.Backend, "Trade log backend: file, memory, postgres, clickhouse")
	logPath := flag.String("log-path", cfg.LogPath, "Trade log file (file backend)")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics HTTP address (empty to disable)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	flag.Parse()

	cfg.Backend = *backendName
	cfg.LogPath = *logPath
	cfg.PostgresDSN = *postgresDSN
	cfg.ClickhouseDSN = *clickhouseDSN
	cfg.WSEndpoint = *wsEndpoint
	cfg.WSOrigin = *wsOrigin
	cfg.LogLevel = *logLevel

	logger := config.NewLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if cfg.WSEndpoint == "" && *replayPath == "" {
		logger.Fatal("--ws-endpoint or --replay is required")
	}

	runID := uuid.NewString()
	log := logger.WithField("run_id", runID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, log, cfg, *replayPath, *metricsAddr); err != nil {
		log.Fatalf("Error: %v", err)
	}
	log.Info("Shutdown complete")
}

func run(ctx context.Context, logger *logrus.Logger, log *logrus.Entry, cfg config.Config, replayPath, metricsAddr string) error {
	opened, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := opened.Close(); err != nil {
			log.WithError(err).Warn("close trade log")
		}
	}()

	src, closeSrc, err := buildSource(cfg, replayPath, logger)
	if err != nil {
		return err
	}
	defer closeSrc()

	ing := ingestion.New(ingestion.Options{
		Log:        opened.Log,
		MaxRetries: uint64(cfg.AppendMaxRetries),
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		srv := newMetricsServer(metricsAddr)
		g.Go(func() error {
			log.Infof("Starting metrics server on %s", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer func() {
			stats := ing.Stats()
			log.WithFields(logrus.Fields{
				"received": stats.Received,
				"accepted": stats.Accepted,
				"rejected": stats.RejectedTotal(),
				"failed":   stats.AppendFailed,
			}).Info("ingestion finished")
		}()

		err := ing.Run(gctx, src)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		// A finished replay ends the process; the metrics server follows.
		return errReplayDone
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errReplayDone) {
		return err
	}
	return nil
}

var errReplayDone = errors.New("replay finished")

// buildSource picks the replay reader or the live feed.
func buildSource(cfg config.Config, replayPath string, logger *logrus.Logger) (ingestion.Source, func(), error) {
	if replayPath != "" {
		var r io.ReadCloser = os.Stdin
		if replayPath != "-" {
			f, err := os.Open(replayPath)
			if err != nil {
				return nil, nil, fmt.Errorf("open replay file: %w", err)
			}
			r = f
		}
		return feed.NewLineSource(r, logger), func() { _ = r.Close() }, nil
	}

	wsCfg := feed.DefaultWSConfig()
	wsCfg.SubscribeFrames = cfg.WSSubscribe
	wsCfg.Header = http.Header{}
	if cfg.WSOrigin != "" {
		wsCfg.Header.Set("Origin", cfg.WSOrigin)
	}
	return feed.NewWSSource(cfg.WSEndpoint, &wsCfg, logger), func() {}, nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
