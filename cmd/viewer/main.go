// Command viewer queries the trade log: once, on a refresh loop, or
// interactively from stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tradewatch/internal/config"
	"tradewatch/internal/domain"
	"tradewatch/internal/query"
	"tradewatch/internal/refresh"
	"tradewatch/internal/storage/backend"
	"tradewatch/internal/viewer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	user := flag.String("user", "", "Username substring filter (case-insensitive)")
	sortFlag := flag.String("sort", string(domain.DefaultSortMode), "Sort mode: newest-first, oldest-first, most-value, least-value, most-coins, least-coins")
	auto := flag.Bool("refresh", false, "Re-run the query every interval until interrupted")
	interval := flag.Duration("interval", cfg.RefreshInterval, "Auto refresh interval")
	watch := flag.Bool("watch", false, "Also refresh when the trade log file changes (file backend)")
	interactive := flag.Bool("interactive", false, "Read commands from stdin (type help)")
	asJSON := flag.Bool("json", false, "Print results as JSON lines")
	maxRows := flag.Int("max-rows", 0, "Limit printed trade rows (0 prints all)")
	backendName := flag.String("backend", cfg.Backend, "Trade log backend: file, memory, postgres, clickhouse")
	logPath := flag.String("log-path", cfg.LogPath, "Trade log file (file backend)")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	cfg.Backend = *backendName
	cfg.LogPath = *logPath
	cfg.PostgresDSN = *postgresDSN
	cfg.ClickhouseDSN = *clickhouseDSN
	cfg.RefreshInterval = *interval
	cfg.LogLevel = *logLevel

	// Logs go to stderr so results on stdout stay clean
	logger := config.NewLogger(cfg.LogLevel)
	logger.SetOutput(os.Stderr)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	mode, ok := domain.ParseSortMode(*sortFlag)
	if !ok {
		logger.Fatalf("unknown sort mode %q", *sortFlag)
	}
	sess := domain.Session{Filter: *user, Sort: mode}

	var consumer viewer.Consumer = viewer.NewText(os.Stdout, *maxRows)
	if *asJSON {
		consumer = viewer.NewJSON(os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opened, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open trade log: %v", err)
	}
	defer opened.Close()

	engine := query.NewEngine(query.Options{Origin: "viewer", Logger: logger})

	if !*auto && !*interactive {
		result, err := engine.Query(ctx, opened.Log, sess)
		if err != nil {
			logger.Fatalf("query: %v", err)
		}
		consumer.OnQueryResult(result)
		return
	}

	sched := refresh.New(refresh.Options{
		Log:      opened.Log,
		Engine:   engine,
		Consumer: consumer,
		Session:  sess,
		Interval: cfg.RefreshInterval,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	if *watch && cfg.Backend == config.BackendFile {
		g.Go(func() error {
			return refresh.WatchFile(gctx, cfg.LogPath, sched, logger)
		})
	}

	if *interactive {
		ctl := &controller{
			log:      opened.Log,
			engine:   engine,
			sched:    sched,
			consumer: consumer,
			out:      os.Stdout,
		}
		if *auto {
			sched.Start()
		} else if err := ctl.search(gctx); err != nil {
			logger.WithError(err).Warn("initial query failed")
		}
		// Not in the group: a blocked stdin read must not hold up shutdown.
		go func() {
			if err := ctl.serve(gctx, os.Stdin); err != nil {
				logger.WithError(err).Warn("read commands")
			}
			stop()
		}()
	} else {
		sched.Start()
	}

	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		sched.Wait()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("viewer: %v", err)
	}
}
