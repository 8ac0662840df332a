package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/genflow/internal/application/orchestrator"
	"github.com/aescanero/genflow/internal/application/workers"
	"github.com/aescanero/genflow/internal/config"
	minioarchive "github.com/aescanero/genflow/pkg/adapters/archive/minio"
	"github.com/aescanero/genflow/pkg/adapters/events/memory"
	"github.com/aescanero/genflow/pkg/adapters/events/rabbitmq"
	eventsredis "github.com/aescanero/genflow/pkg/adapters/events/redis"
	"github.com/aescanero/genflow/pkg/adapters/events/webhook"
	"github.com/aescanero/genflow/pkg/adapters/executors"
	httpexecutor "github.com/aescanero/genflow/pkg/adapters/executors/http"
	"github.com/aescanero/genflow/pkg/adapters/executors/llm"
	metrics "github.com/aescanero/genflow/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/genflow/pkg/adapters/storage/postgres"
	redisstorage "github.com/aescanero/genflow/pkg/adapters/storage/redis"
	"github.com/aescanero/genflow/pkg/api/grpc"
	"github.com/aescanero/genflow/pkg/api/http"
	"github.com/aescanero/genflow/pkg/api/websocket"
	"github.com/aescanero/genflow/pkg/pipeline"
	"github.com/aescanero/genflow/pkg/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting genflow orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("genflow orchestrator stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("genflow orchestrator shut down complete")
}

// run wires the components and blocks until ctx is done or a server fails
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// Redis client, shared by the store and the event stream
	var redisClient *goredis.Client
	if cfg.Store.Backend == config.StoreRedis || cfg.Events.RedisStreamEnabled {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Redis close error", zap.Error(err))
			}
		})
	}

	store, closeStore, err := newStore(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	sinks, closeSinks, err := newSinks(ctx, cfg, redisClient, collector, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeSinks)
	eventBus := memory.NewEventBus(cfg.Events.BufferSize, logger, sinks...)

	// Pipelines and executors
	catalog, err := pipeline.NewDefaultCatalog(cfg.Orchestrator.PipelineDir)
	if err != nil {
		return fmt.Errorf("failed to load pipelines: %w", err)
	}
	resolver, err := newExecutors(cfg, catalog, collector, logger)
	if err != nil {
		return err
	}

	manager := orchestrator.NewManager(orchestrator.Config{
		Store:                     store,
		Events:                    eventBus,
		Executors:                 resolver,
		Pipelines:                 catalog,
		Collector:                 collector,
		Logger:                    logger,
		RetryBaseDelay:            cfg.Orchestrator.RetryBaseDelay,
		ContinueOnOptionalFailure: cfg.Orchestrator.ContinueOnOptionalFailure,
	})

	// Worker pool and sweeper
	pool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		collector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	sweeper, err := workers.NewSweeper(cfg.Sweep.Schedule, cfg.Sweep.MaxAge, manager, logger)
	if err != nil {
		return err
	}

	// API servers
	var verifier http.TokenVerifier
	if cfg.Auth.OIDCIssuer != "" {
		v, err := http.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
		if err != nil {
			return err
		}
		verifier = v
		logger.Info("API authentication enabled", zap.String("issuer", cfg.Auth.OIDCIssuer))
	}

	httpServer := http.NewServer(&http.Config{
		Port:               cfg.HTTPPort,
		Orchestrator:       manager,
		Jobs:               pool,
		Health:             pool.Health(),
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Auth:               verifier,
		StreamPollInterval: cfg.Events.StreamPollInterval,
		StreamMaxDuration:  cfg.Events.StreamMaxDuration,
		Logger:             logger,
	})

	wsHandler := websocket.NewHandler(manager, 0, logger)
	httpServer.SetupWebSocket(wsHandler.HandleProcessStream, verifier)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}
	pool.Health().OnChange(grpcServer.SetServing)

	if err := pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	sweeper.Start()

	logger.Info("genflow orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("store", cfg.Store.Backend),
		zap.String("executor", cfg.Executor.Mode),
		zap.Int("pipelines", len(catalog.List())),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("gRPC server shutdown: %w", err))
		}
		if err := sweeper.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("sweeper shutdown: %w", err))
		}
		if err := pool.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("worker pool shutdown: %w", err))
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
		for _, err := range errs {
			logger.Error("shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// newStore builds the process store selected by STORE_BACKEND
func newStore(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) (ports.ProcessStore, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		return redisstorage.NewProcessStore(redisClient, cfg.Store.RedisTTL, logger), func() {}, nil

	case config.StorePostgres:
		db, err := postgres.NewPool(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewProcessStore(db, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("connected to Postgres")
		return store, db.Close, nil

	default:
		// nil lets the manager use its in-memory store
		return nil, func() {}, nil
	}
}

// newSinks builds the event consumers behind the event bus. Sinks are
// closed by the bus; the returned func releases their connections.
func newSinks(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, collector *metrics.Collector, logger *zap.Logger) ([]ports.EventSink, func(), error) {
	sinks := []ports.EventSink{
		webhook.NewSink(cfg.Events.WebhookTimeout, logger, collector),
	}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Events.RedisStreamEnabled {
		publisher := eventsredis.NewStreamsPublisher(redisClient, cfg.Events.RedisStream, cfg.Events.StreamMaxLen, logger)
		sinks = append(sinks, publisher.Sink(cfg.Events.SinkQueueSize, collector))
		logger.Info("publishing events to Redis stream", zap.String("stream", cfg.Events.RedisStream))
	}

	if cfg.Events.AMQPURL != "" {
		conn, ch, err := rabbitmq.Dial(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := conn.Close(); err != nil {
				logger.Error("RabbitMQ close error", zap.Error(err))
			}
		})
		publisher := rabbitmq.NewPublisher(ch, cfg.Events.AMQPExchange, logger)
		sinks = append(sinks, publisher.Sink(cfg.Events.SinkQueueSize, collector))
		logger.Info("publishing events to RabbitMQ", zap.String("exchange", cfg.Events.AMQPExchange))
	}

	if cfg.Archive.Enabled {
		client, err := minioarchive.NewClient(ctx, minioarchive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		archiver := minioarchive.NewArchiver(client, cfg.Archive.Bucket, logger)
		sinks = append(sinks, archiver.Sink(cfg.Events.SinkQueueSize, collector))
		logger.Info("archiving finished processes", zap.String("bucket", cfg.Archive.Bucket))
	}

	return sinks, closeAll, nil
}

// newExecutors resolves every step through the executor selected by
// EXECUTOR_MODE
func newExecutors(cfg *config.Config, catalog ports.PipelineCatalog, collector *metrics.Collector, logger *zap.Logger) (*executors.Registry, error) {
	registry := executors.NewRegistry(catalog)

	var factory executors.Factory
	switch cfg.Executor.Mode {
	case config.ExecutorHTTP:
		f, err := httpexecutor.NewFactory(cfg.Executor.HTTPBaseURL, nil, logger)
		if err != nil {
			return nil, err
		}
		factory = f

	case config.ExecutorLLM:
		client, err := llm.NewClient(&llm.Config{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		factory = llm.NewFactory(client, llm.Options{
			Model:        cfg.LLM.DefaultModel,
			MaxTokens:    cfg.LLM.DefaultMaxTokens,
			SystemPrompt: cfg.LLM.SystemPrompt,
			Observer:     collector,
		}, logger)

	default:
		return nil, errors.New("unsupported executor mode: " + cfg.Executor.Mode)
	}

	registry.SetFallback(executors.AnyPipeline, factory)
	return registry, nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
