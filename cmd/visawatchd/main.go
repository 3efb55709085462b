// Package main wires together the status polling service.
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

	"go.uber.org/zap"

	"github.com/visawatch/visawatch/internal/api"
	gcsarchive "github.com/visawatch/visawatch/internal/archive/gcs"
	"github.com/visawatch/visawatch/internal/clock/system"
	"github.com/visawatch/visawatch/internal/config"
	"github.com/visawatch/visawatch/internal/engine"
	"github.com/visawatch/visawatch/internal/fetcher/headless"
	"github.com/visawatch/visawatch/internal/logging"
	"github.com/visawatch/visawatch/internal/metrics"
	"github.com/visawatch/visawatch/internal/monitor"
	memorynotify "github.com/visawatch/visawatch/internal/notify/memory"
	pubsubnotify "github.com/visawatch/visawatch/internal/notify/pubsub"
	"github.com/visawatch/visawatch/internal/plugin"
	"github.com/visawatch/visawatch/internal/plugin/czech"
	"github.com/visawatch/visawatch/internal/scheduler"
	memorystore "github.com/visawatch/visawatch/internal/store/memory"
	pgstore "github.com/visawatch/visawatch/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()

	var renderer *headless.Renderer
	if cfg.Headless.Enabled {
		var err error
		renderer, err = headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Czech.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
			renderer = nil
		} else {
			defer renderer.Close()
		}
	}

	czechCfg := czech.Config{
		BaseURL:   cfg.Czech.BaseURL,
		TestURL:   cfg.Czech.TestURL,
		UserAgent: cfg.Czech.UserAgent,
	}
	if renderer != nil {
		czechCfg.Renderer = renderer
	}
	factories := map[string]plugin.Factory{
		"CZ": func() (monitor.Plugin, error) {
			return czech.New(czechCfg, clock, logger.Named("plugin.cz"))
		},
	}
	registry := plugin.NewRegistry(factories, clock, logger.Named("registry"))

	var (
		store    monitor.EntityStore
		dbPinger api.Pinger
	)
	if cfg.DB.DSN != "" {
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		defer pg.Close()
		store = pg
		dbPinger = pg
	} else {
		logger.Warn("db.dsn not set, using in-memory entity store")
		store = memorystore.New()
	}

	var notifier monitor.Notifier
	if cfg.PubSub.ProjectID != "" {
		ps, err := pubsubnotify.New(ctx, pubsubnotify.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicID:   cfg.PubSub.TopicID,
		})
		if err != nil {
			return fmt.Errorf("init pubsub notifier: %w", err)
		}
		defer func() {
			_ = ps.Close()
		}()
		notifier = ps
	} else {
		logger.Warn("pubsub not configured, status changes stay local")
		notifier = memorynotify.New()
	}

	var archiver monitor.Archiver
	if cfg.Archive.GCSBucket != "" {
		gcs, err := gcsarchive.New(ctx, cfg.Archive.GCSBucket, cfg.Archive.Prefix)
		if err != nil {
			return fmt.Errorf("init gcs archiver: %w", err)
		}
		defer func() {
			_ = gcs.Close()
		}()
		archiver = gcs
	}

	eng := engine.New(engine.Config{
		QueryTimeout:    time.Duration(cfg.Engine.QueryTimeoutSeconds) * time.Second,
		AcceptSimulated: cfg.Engine.AcceptSimulated,
		NotifyInitial:   cfg.Engine.NotifyInitial,
	}, registry, store, notifier, archiver, clock, logger.Named("engine"))

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent:   cfg.Scheduler.MaxConcurrent,
		DefaultInterval: mustDefaultInterval(cfg.Scheduler.DefaultInterval, logger),
		ShutdownGrace:   time.Duration(cfg.Scheduler.ShutdownGraceSeconds) * time.Second,
	}, eng, logger.Named("scheduler"))
	sched.Start(ctx)
	defer sched.Shutdown()

	entities, err := store.ListActiveEntities(ctx)
	if err != nil {
		return fmt.Errorf("list active entities: %w", err)
	}
	for _, e := range entities {
		sched.Schedule(e.ID, e.Interval)
	}
	logger.Info("active entities scheduled", zap.Int("count", len(entities)))

	// Manual polls go through the scheduler so they share the per-entity
	// in-flight guard with scheduled ticks.
	apiServer := api.NewServer(registry, sched, dbPinger, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// mustDefaultInterval parses the configured default; config validation already
// guarantees the key is present, but a malformed value still falls back to 1h.
func mustDefaultInterval(s string, logger *zap.Logger) time.Duration {
	d, err := scheduler.ParseInterval(s)
	if err != nil {
		logger.Warn("invalid scheduler.default_interval, using 1h", zap.String("value", s))
		return time.Hour
	}
	return d
}
