package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/fleetops-back/internal/cache"
	"github.com/iago/fleetops-back/internal/config"
	httpserver "github.com/iago/fleetops-back/internal/http"
	"github.com/iago/fleetops-back/internal/http/handlers"
	"github.com/iago/fleetops-back/internal/http/middleware"
	"github.com/iago/fleetops-back/internal/metrics"
	"github.com/iago/fleetops-back/internal/optimizer"
	"github.com/iago/fleetops-back/internal/queue"
	"github.com/iago/fleetops-back/internal/repository"
	"github.com/iago/fleetops-back/internal/service"
	"github.com/iago/fleetops-back/internal/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(".env", ".env.local")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metrics.New()

	repos, closeStores := setupRepositories(ctx, cfg, logger)
	defer closeStores()

	producer, consumer, closeQueue := setupQueue(ctx, cfg, logger)
	defer closeQueue()

	runner := optimizer.NewProcessRunner(optimizer.ProcessConfig{
		Command:           cfg.Optimizer.Command,
		Args:              cfg.Optimizer.Args,
		WorkDir:           cfg.Optimizer.WorkDir,
		TempDir:           cfg.Optimizer.TempDir,
		StructuredChannel: cfg.Optimizer.StructuredChannel,
	}, logger.Named("optimizer"))

	minter := service.NewJobIDMinter(repos.jobs, service.JobIDConfig{
		MaxAttempts: cfg.JobIDMaxAttempts,
		RetryBase:   cfg.JobIDRetryBase,
	}, registry, logger)
	jobsService := service.NewJobsService(
		repos.jobs,
		producer,
		runner,
		minter,
		registry,
		logger.Named("jobs"),
		cfg.Optimizer.Timeout,
	)
	notificationsService := service.NewNotificationsService(
		repos.assignments,
		repos.notifications,
		jobsService,
		registry,
		logger.Named("notifications"),
	)
	assignmentsService := service.NewAssignmentsService(repos.assignments, repos.drivers, logger.Named("assignments"))
	driversService := service.NewDriversService(repos.drivers, repos.assignments, logger.Named("drivers"))

	api := handlers.NewAPI(
		jobsService,
		notificationsService,
		assignmentsService,
		driversService,
		cache.NewIdempotencyCache(cache.Config{
			TTL:        cfg.IdempotencyTTL,
			MaxEntries: cfg.IdempotencyMaxEntries,
		}),
		handlers.Options{UploadMaxBytes: cfg.UploadMaxBytes, Logger: logger},
	)

	var authenticator middleware.Authenticator
	if len(cfg.AuthTokens) > 0 {
		authenticator = middleware.TokenAuthenticator(cfg.AuthTokens)
	} else {
		logger.Warn("API_AUTH_TOKENS not configured, requests run as local owner")
	}

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Metrics:        registry.Handler(),
		Logger:         logger.Named("http"),
		Authenticator:  authenticator,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Synchronous allocations wait for the optimizer.
		WriteTimeout: cfg.Optimizer.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, jobsService, cfg.Queue.MaxAttempts, logger.Named("worker"))
		group.Go(func() error {
			processor.Start(groupCtx)
			return nil
		})
		logger.Info("worker enabled and started")
	} else {
		logger.Info("worker disabled by configuration")
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}

type stores struct {
	jobs          repository.JobsRepository
	assignments   repository.AssignmentsRepository
	notifications repository.NotificationsRepository
	drivers       repository.DriversRepository
}

func setupRepositories(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, func()) {
	memory := func() stores {
		notifications := repository.NewMemoryNotificationsRepository()
		return stores{
			jobs:          repository.NewMemoryJobsRepository(),
			assignments:   notifications,
			notifications: notifications,
			drivers:       repository.NewMemoryDriversRepository(),
		}
	}
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not configured, using in-memory repositories")
		return memory(), func() {}
	}

	pool, err := repository.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to initialize postgres, fallback to memory", zap.Error(err))
		return memory(), func() {}
	}
	if err := repository.Migrate(ctx, pool, logger); err != nil {
		logger.Error("postgres migration failed, fallback to memory", zap.Error(err))
		pool.Close()
		return memory(), func() {}
	}
	logger.Info("postgres repositories initialized")
	notifications := repository.NewPostgresNotificationsRepository(pool)
	return stores{
		jobs:          repository.NewPostgresJobsRepository(pool),
		assignments:   notifications,
		notifications: notifications,
		drivers:       repository.NewPostgresDriversRepository(pool),
	}, pool.Close
}

func setupQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	local := func() {
		q := queue.NewLocalQueue(cfg.Queue.BufferSize, cfg.Queue.MaxAttempts, logger.Named("queue"))
		baseProducer = q
		consumer = q
	}
	if cfg.Redis.Addr == "" {
		logger.Info("REDIS_ADDR not configured, using local queue fallback")
		local()
	} else {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Stream:      cfg.Redis.Stream,
			DLQStream:   cfg.Redis.DLQ,
			Group:       cfg.Redis.Group,
			Consumer:    cfg.Redis.Consumer,
			MaxAttempts: cfg.Queue.MaxAttempts,
		}, logger.Named("queue"))
		if err != nil {
			logger.Error("failed to initialize redis streams queue, fallback to local", zap.Error(err))
			local()
		} else {
			logger.Info("redis streams queue initialized", zap.String("stream", cfg.Redis.Stream))
			baseProducer = streams
			consumer = streams
			baseCloser = func() { _ = streams.Close() }
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.Queue.BatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.Queue.BatchSize,
			FlushInterval:      cfg.Queue.BatchFlush,
			FlushTimeout:       cfg.Queue.BatchFlushTimeout,
			QueueCapacity:      cfg.Queue.BatchCapacity,
			MaxInFlightBatches: cfg.Queue.BatchMaxInFlight,
			Logger:             logger.Named("batching"),
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Info("queue batching enabled",
			zap.Int("size", cfg.Queue.BatchSize),
			zap.Duration("flush", cfg.Queue.BatchFlush),
			zap.Int("queue_capacity", cfg.Queue.BatchCapacity),
			zap.Int("max_in_flight", cfg.Queue.BatchMaxInFlight),
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}
