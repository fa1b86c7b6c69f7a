package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"showtime-analytics/config"
	"showtime-analytics/dashboard"
	"showtime-analytics/models"
	"showtime-analytics/scheduler"
	"showtime-analytics/scraper/showtimes"
	"showtime-analytics/services"
	"showtime-analytics/storage"
	"showtime-analytics/utils"
)

func main() {
	mode := flag.String("mode", "run", "run | serve | snapshot")
	sourceName := flag.String("source", "live", "live | csv | postgres (run and serve)")
	snapshotURL := flag.String("url", "", "dashboard URL for -mode snapshot (default http://localhost<SERVER_ADDR>/)")
	flag.Parse()

	cfg := config.Load()
	logger := utils.NewLoggerWith(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Showtime Analytics starting (mode=%s, source=%s, event=%s) ===", *mode, *sourceName, cfg.EventCode)

	var err error
	switch *mode {
	case "run":
		err = runOnce(ctx, cfg, *sourceName, logger)
	case "serve":
		err = serve(ctx, cfg, *sourceName, logger)
	case "snapshot":
		err = snapshot(ctx, cfg, *snapshotURL, logger)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// app holds the wired components shared by the modes.
type app struct {
	live    *services.Analytics
	source  storage.Source
	writers []storage.ResultWriter
	closers []func() error
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c()
	}
}

func build(ctx context.Context, cfg *config.Config, sourceName string, logger *utils.Logger) (*app, error) {
	a := &app{}

	cities, err := config.LoadCities(cfg.CitiesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("Config: %d cities | retries: %d | cache ttl: %s | concurrency: %d | rate: %dms",
		len(cities), cfg.MaxRetries, cfg.CacheTTL, cfg.MaxConcurrency, cfg.RateLimitMs)

	var cache utils.Cache = utils.NewMemoryCache(nil)
	if cfg.RedisAddr != "" {
		rc, err := storage.NewRedisCache(ctx, cfg.RedisAddr, logger)
		if err != nil {
			logger.Warn("Redis at %s unavailable, using in-memory cache: %v", cfg.RedisAddr, err)
		} else {
			cache = rc
			a.closers = append(a.closers, rc.Close)
			logger.Info("Using shared Redis cache at %s", cfg.RedisAddr)
		}
	}

	fetcher := showtimes.New(cfg, nil, cache, logger)
	pool := utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs)
	a.live = services.NewAnalytics(cities, fetcher, pool, logger)

	csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
	if err != nil {
		a.close()
		return nil, err
	}
	a.writers = append(a.writers, csvWriter)

	var pg *storage.PostgresWriter
	if cfg.PostgresEnabled || sourceName == storage.SourcePostgres {
		pg, err = storage.NewPostgresWriter(ctx, cfg.DSN())
		if err != nil {
			logger.Error("Make sure PostgreSQL is running: docker compose up -d")
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if cfg.PostgresEnabled {
			a.writers = append(a.writers, pg)
		}
	}

	switch sourceName {
	case services.SourceLive:
		a.source = a.live
	case storage.SourceCSV:
		a.source = storage.NewCSVSource(cfg.CSVInputPath)
	case storage.SourcePostgres:
		a.source = pg
	default:
		a.close()
		return nil, fmt.Errorf("unknown source %q", sourceName)
	}
	return a, nil
}

func runOnce(ctx context.Context, cfg *config.Config, sourceName string, logger *utils.Logger) error {
	a, err := build(ctx, cfg, sourceName, logger)
	if err != nil {
		return err
	}
	defer a.close()

	rs, err := a.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s data: %w", sourceName, err)
	}

	services.PrintReport(os.Stdout, rs, cfg.CurrencySymbol)

	if sourceName != services.SourceLive {
		return nil
	}
	if err := export(ctx, a.writers, rs); err != nil {
		return err
	}
	fmt.Printf("  Done. CSV → %s\n\n", cfg.CSVOutputPath)
	return nil
}

// export writes rs to every writer, even after one fails, and reports all
// failures together.
func export(ctx context.Context, writers []storage.ResultWriter, rs *models.ResultSet) error {
	var errs []error
	for _, w := range writers {
		if err := w.Write(ctx, rs); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("export: %w", errors.Join(errs...))
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, sourceName string, logger *utils.Logger) error {
	a, err := build(ctx, cfg, sourceName, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.RefreshInterval > 0 {
		refresher := scheduler.NewRefresher(a.live, a.writers, 0, logger)
		s, err := refresher.Start(ctx, cfg.RefreshInterval)
		if err != nil {
			return err
		}
		defer func() { _ = s.Shutdown() }()
	}

	dash, err := dashboard.NewServer(a.source, dashboard.Options{
		EventCode: cfg.EventCode,
		Currency:  cfg.CurrencySymbol,
	}, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           dash.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Dashboard listening on %s", cfg.ServerAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func snapshot(ctx context.Context, cfg *config.Config, url string, logger *utils.Logger) error {
	if url == "" {
		host := cfg.ServerAddr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		url = "http://" + host + "/"
	}
	return dashboard.Snapshot(ctx, dashboard.SnapshotOptions{
		URL:       url,
		Path:      cfg.SnapshotPath,
		ChromeBin: cfg.ChromeBin,
	}, logger)
}
