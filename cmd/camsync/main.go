// Package main wires together the camera catalog sync service.
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

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/gearshed/camsync/internal/api"
	"github.com/gearshed/camsync/internal/assets"
	"github.com/gearshed/camsync/internal/backup"
	"github.com/gearshed/camsync/internal/catalog"
	"github.com/gearshed/camsync/internal/clock/system"
	"github.com/gearshed/camsync/internal/config"
	"github.com/gearshed/camsync/internal/fetch"
	"github.com/gearshed/camsync/internal/id/uuid"
	"github.com/gearshed/camsync/internal/logging"
	"github.com/gearshed/camsync/internal/monitor"
	"github.com/gearshed/camsync/internal/normalize"
	"github.com/gearshed/camsync/internal/progress"
	"github.com/gearshed/camsync/internal/progress/sinks"
	pubsubpublisher "github.com/gearshed/camsync/internal/publish/pubsub"
	"github.com/gearshed/camsync/internal/scheduler"
	"github.com/gearshed/camsync/internal/store/postgres"
	"github.com/gearshed/camsync/internal/syncjob"
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
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()

	// An unreachable catalog store is fatal; nothing works without it.
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	}, clock)
	if err != nil {
		return fmt.Errorf("catalog store: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")), promSink)

	fetcher := fetch.New(fetch.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.FetchTimeout(),
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		DefaultRPS:  cfg.HTTP.DefaultSourceRPS,
	}, logger.Named("fetch"))

	cache, err := assets.New(assets.Config{
		ImagesDir:       cfg.Assets.ImagesDir,
		MaxBytes:        cfg.Assets.MaxBytes,
		ThumbnailWidth:  cfg.Assets.ThumbnailWidth,
		AllowedLicenses: cfg.Assets.AllowedLicenses,
		FetchTimeout:    cfg.FetchTimeout(),
	}, store, logger)
	if err != nil {
		return fmt.Errorf("asset cache: %w", err)
	}

	var publisher catalog.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer client.Close() //nolint:errcheck
		publisher, err = pubsubpublisher.New(client)
		if err != nil {
			return fmt.Errorf("pubsub publisher: %w", err)
		}
	}

	job, err := syncjob.New(syncjob.Config{
		MaxUpsertRetries: cfg.Sync.UpsertRetries,
		EnrichBatchSize:  cfg.Sync.EnrichBatchSize,
		EnrichWorkers:    cfg.Assets.MaxConcurrentFetches,
		ChangeTopic:      cfg.PubSub.TopicName,
	}, syncjob.Options{
		Sources:    cfg.Sources,
		Store:      store,
		Fetcher:    fetcher,
		Normalizer: normalize.New(),
		Assets:     cache,
		Publisher:  publisher,
		Emitter:    hub,
		Clock:      clock,
		IDs:        idGen,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("sync job: %w", err)
	}

	var uploader backup.Uploader
	if cfg.Backup.GCSBucket != "" {
		gcsClient, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		defer gcsClient.Close() //nolint:errcheck
		uploader, err = backup.NewGCSUploader(gcsClient, cfg.Backup.GCSBucket, cfg.Backup.GCSPrefix)
		if err != nil {
			return fmt.Errorf("gcs uploader: %w", err)
		}
	}
	backupJob, err := backup.New(backup.Config{
		Dir:            cfg.Backup.Dir,
		RetentionCount: cfg.Backup.RetentionCount,
	}, store, uploader, hub, clock, logger)
	if err != nil {
		return fmt.Errorf("backup job: %w", err)
	}

	mon, err := monitor.New(registry, store, logger)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	backupAt, err := config.ParseTimeOfDay(cfg.Backup.TimeOfDay)
	if err != nil {
		return fmt.Errorf("backup schedule: %w", err)
	}

	sched, err := scheduler.New(scheduler.Options{
		Clock:   clock,
		Emitter: hub,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := sched.Register("discovery", scheduler.Spec{
		Every:      cfg.DiscoveryInterval(),
		RunOnStart: cfg.Sync.RunDiscoveryOnStart,
	}, func(ctx context.Context) error {
		_, err := job.Run(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("register discovery: %w", err)
	}
	if err := sched.Register("backup", scheduler.Spec{AtTimeOfDay: scheduler.At(backupAt)}, backupJob.Run); err != nil {
		return fmt.Errorf("register backup: %w", err)
	}
	if err := sched.Register("monitor", scheduler.Spec{
		Every:      time.Duration(cfg.Monitor.IntervalMinutes) * time.Minute,
		RunOnStart: true,
	}, mon.Run); err != nil {
		return fmt.Errorf("register monitor: %w", err)
	}

	apiServer := api.NewServer(store, store, registry, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler stop error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
