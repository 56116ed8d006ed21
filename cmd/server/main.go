// Command server runs the LearnHub media HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"learnhub-media/internal/api"
	"learnhub-media/internal/auth"
	"learnhub-media/internal/events"
	"learnhub-media/internal/media"
	"learnhub-media/internal/observability/logging"
	"learnhub-media/internal/observability/metrics"
	"learnhub-media/internal/redisutil"
	"learnhub-media/internal/server"
	"learnhub-media/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	loadDotEnv(slog.Warn)
	cfg, err := loadConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	recorder := metrics.Default()

	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	objects, err := openObjectStore(ctx, cfg, logger)
	if err != nil {
		repo.Close(context.Background())
		return fmt.Errorf("open object storage: %w", err)
	}

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient, err = redisutil.NewClient(redisutil.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			repo.Close(context.Background())
			return fmt.Errorf("configure redis: %w", err)
		}
	}

	publisher, err := events.New(events.Config{
		Driver:      cfg.EventsDriver,
		Kafka:       events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic},
		AMQP:        events.AMQPConfig{URL: cfg.AMQPURL, Queue: cfg.AMQPQueue},
		RedisStream: cfg.RedisStream,
	}, redisClient)
	if err != nil {
		repo.Close(context.Background())
		return fmt.Errorf("configure events: %w", err)
	}

	transcoder := media.NewFFmpegTranscoder(media.FFmpegConfig{
		Binary:       cfg.FFmpegPath,
		Threads:      cfg.FFmpegThreads,
		MaxProcesses: cfg.FFmpegMaxProcesses,
		Logger:       logging.WithComponent(logger, "ffmpeg"),
	})
	layout := media.KeyLayout{}
	ingestor, err := media.NewIngestor(media.IngestConfig{
		Repository:       repo,
		Objects:          objects,
		Transcoder:       transcoder,
		Frames:           transcoder,
		Profiles:         cfg.Profiles,
		Layout:           layout,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
		MaxBytes:         cfg.MaxUploadBytes,
		TranscodeEnabled: cfg.TranscodeEnabled,
		Concurrency:      cfg.TranscodeConcurrency,
		EncodeTimeout:    cfg.EncodeTimeout,
		PresignTTL:       cfg.PresignTTL,
		PublicBaseURL:    cfg.PublicBaseURL,
		PosterEnabled:    cfg.PosterEnabled,
		Logger:           logger,
		Metrics:          recorder,
		Publisher:        publisher,
	})
	if err != nil {
		repo.Close(context.Background())
		return fmt.Errorf("configure ingest: %w", err)
	}
	service, err := media.NewService(ingestor)
	if err != nil {
		repo.Close(context.Background())
		return err
	}

	handler := api.NewHandler(service, logging.WithComponent(logger, "api"))
	handler.MaxUploadBytes = cfg.MaxUploadBytes
	handler.AllowAnonymous = cfg.AllowAnonymous
	handler.HealthChecks = []api.HealthCheck{
		{Component: "datastore", Ping: repo.Ping},
		{Component: "object_storage", Ping: objects.Ping},
	}
	if redisClient != nil {
		handler.HealthChecks = append(handler.HealthChecks, api.HealthCheck{
			Component: "redis",
			Ping:      func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier, err = auth.NewVerifier(auth.VerifierConfig{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer})
		if err != nil {
			repo.Close(context.Background())
			return fmt.Errorf("configure auth: %w", err)
		}
	} else {
		logger.Warn("no jwt secret configured; every request is anonymous")
	}

	stopSweeper := func() {}
	if cfg.SweeperEnabled {
		stopSweeper, err = startAssetSweeper(ctx, cfg, repo, objects, layout, publisher, recorder, logger)
		if err != nil {
			repo.Close(context.Background())
			return err
		}
	}

	srv, err := server.New(handler, server.Config{
		Addr: cfg.Addr,
		TLS:  server.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:    cfg.RateLimitRPS,
			GlobalBurst:  cfg.RateLimitBurst,
			UploadLimit:  cfg.RateLimitUploads,
			UploadWindow: cfg.RateLimitUploadSpan,
			Redis:        redisClient,
		},
		CORS:        server.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:      logger,
		AuditLogger: logging.WithComponent(logger, "audit"),
		Metrics:     recorder,
		Verifier:    verifier,
	})
	if err != nil {
		stopSweeper()
		repo.Close(context.Background())
		return fmt.Errorf("initialise server: %w", err)
	}

	logger.Info("media service starting",
		"storage_driver", cfg.StorageDriver,
		"object_provider", objects.Provider(),
		"profiles", cfg.Profiles.Len(),
		"transcode_enabled", cfg.TranscodeEnabled,
		"events_driver", cfg.EventsDriver)

	hooks := []func(context.Context) error{
		func(context.Context) error {
			stopSweeper()
			return nil
		},
		func(context.Context) error { return publisher.Close() },
		repo.Close,
	}
	if redisClient != nil {
		hooks = append(hooks, func(context.Context) error { return redisClient.Close() })
	}
	return srv.Run(ctx, shutdownTimeout, hooks...)
}

func openRepository(cfg config) (storage.AssetRepository, error) {
	switch cfg.StorageDriver {
	case "postgres":
		var opts []storage.Option
		if cfg.PostgresMaxConns > 0 || cfg.PostgresMinConns > 0 {
			opts = append(opts, storage.WithPostgresPoolLimits(int32(cfg.PostgresMaxConns), int32(cfg.PostgresMinConns)))
		}
		if cfg.PostgresAcquireTimeout > 0 {
			opts = append(opts, storage.WithPostgresAcquireTimeout(cfg.PostgresAcquireTimeout))
		}
		opts = append(opts, storage.WithPostgresApplicationName("learnhub-media"), storage.WithMigrations(cfg.Migrate))
		return storage.NewPostgresRepository(cfg.PostgresDSN, opts...)
	default:
		return storage.NewJSONRepository(cfg.DataPath)
	}
}

func openObjectStore(ctx context.Context, cfg config, logger *slog.Logger) (storage.ObjectStore, error) {
	if !cfg.Object.Enabled() {
		logger.Warn("no object storage endpoint configured; objects are kept in memory")
		return storage.NewMemoryObjectStore(cfg.Object.Bucket, cfg.Object.PublicEndpoint), nil
	}
	return storage.NewObjectStore(ctx, cfg.Object)
}

func startAssetSweeper(
	ctx context.Context,
	cfg config,
	repo storage.AssetRepository,
	objects storage.ObjectStore,
	layout media.KeyLayout,
	publisher events.Publisher,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) (func(), error) {
	sweeper, err := media.NewSweeper(media.SweeperConfig{
		Repository: repo,
		Objects:    objects,
		Profiles:   cfg.Profiles,
		Layout:     layout,
		TTL:        cfg.SweeperTTL,
		Logger:     logger,
		Metrics:    recorder,
		Publisher:  publisher,
	})
	if err != nil {
		return nil, fmt.Errorf("configure sweeper: %w", err)
	}
	workerCfg := sweepWorkerConfig{
		Sweeper:  sweeper,
		Interval: cfg.SweeperInterval,
		Logger:   logging.WithComponent(logger, "sweeper"),
	}
	if cfg.ReconcileEvery > 0 {
		reconciler, err := media.NewReconciler(media.ReconcilerConfig{
			Repository:    repo,
			Objects:       objects,
			Layout:        layout,
			DeleteOrphans: cfg.ReconcileDelete,
			Logger:        logger,
			Metrics:       recorder,
		})
		if err != nil {
			return nil, fmt.Errorf("configure reconciler: %w", err)
		}
		workerCfg.Reconciler = reconciler
		workerCfg.ReconcileEvery = cfg.ReconcileEvery
	}
	logger.Info("asset sweeper enabled",
		"interval", media.ClampSweepInterval(cfg.SweeperInterval).String(),
		"ttl", sweeper.TTL().String(),
		"reconcile_every", cfg.ReconcileEvery)
	return startSweepWorker(ctx, workerCfg), nil
}
