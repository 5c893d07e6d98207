package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/urbanmesh/urbanflow/internal/application/orchestrator"
	"github.com/urbanmesh/urbanflow/internal/application/pipeline"
	"github.com/urbanmesh/urbanflow/internal/application/publisher"
	"github.com/urbanmesh/urbanflow/internal/config"
	"github.com/urbanmesh/urbanflow/internal/ports"
	deadlettermem "github.com/urbanmesh/urbanflow/pkg/adapters/deadletter/memory"
	deadletterminio "github.com/urbanmesh/urbanflow/pkg/adapters/deadletter/minio"
	eventsredis "github.com/urbanmesh/urbanflow/pkg/adapters/events/redis"
	"github.com/urbanmesh/urbanflow/pkg/adapters/metrics/prometheus"
	storageredis "github.com/urbanmesh/urbanflow/pkg/adapters/storage/redis"
	storenats "github.com/urbanmesh/urbanflow/pkg/adapters/store/nats"
	storepostgres "github.com/urbanmesh/urbanflow/pkg/adapters/store/postgres"
	storeredis "github.com/urbanmesh/urbanflow/pkg/adapters/store/redis"
	"github.com/urbanmesh/urbanflow/pkg/agents"
	"github.com/urbanmesh/urbanflow/pkg/api/grpc"
	"github.com/urbanmesh/urbanflow/pkg/api/http"
	"github.com/urbanmesh/urbanflow/pkg/api/websocket"
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
	defer logger.Sync()

	logger.Info("starting urbanflow orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
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

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	eventBus := eventsredis.NewStreamsEventBus(
		redisClient,
		"urbanflow-api",
		fmt.Sprintf("urbanflow-%d", os.Getpid()),
		logger,
	)

	stateStorage := storageredis.NewStateStorage(redisClient, cfg.Redis.StateTTL, logger)

	deadLetters, err := buildDeadLetterStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create dead-letter store", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	// Load the workflow definition
	workflow, err := config.LoadWorkflow(cfg.WorkflowPath)
	if err != nil {
		logger.Fatal("failed to load workflow",
			zap.String("path", cfg.WorkflowPath),
			zap.Error(err))
	}

	registry := agents.NewRegistry()
	if err := agents.RegisterBuiltins(registry); err != nil {
		logger.Fatal("failed to register agents", zap.Error(err))
	}

	graph, err := workflow.BuildGraph(cfg.Scheduler, registry.Resolve)
	if err != nil {
		logger.Fatal("invalid workflow",
			zap.String("workflow", workflow.Name),
			zap.Error(err))
	}
	logger.Info("workflow loaded",
		zap.String("workflow", workflow.Name),
		zap.Int("phases", len(workflow.Phases)),
		zap.Strings("agents", registry.Names()))

	// Assemble publish targets
	stores, cleanup, err := buildStoreAdapters(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to create store adapters", zap.Error(err))
	}
	defer cleanup()

	targets, err := selectTargets(workflow, stores)
	if err != nil {
		logger.Fatal("invalid store selection", zap.Error(err))
	}

	// Initialize application components
	aggregator := pipeline.NewResultAggregator(metricsCollector, logger)
	scheduler := pipeline.NewScheduler(aggregator, deadLetters, metricsCollector, logger, cfg.Scheduler.CancelGrace)

	writer := publisher.NewMultiStoreWriter(
		pipeline.ExponentialBackoff(cfg.Publisher.RetryBase, 2, cfg.Publisher.RetryMax, cfg.Publisher.MaxAttempts),
		deadLetters,
		metricsCollector,
		logger,
		cfg.Publisher.WriteTimeout,
	)

	orch := orchestrator.New(
		scheduler,
		writer,
		targets,
		stateStorage,
		eventBus,
		metricsCollector,
		logger,
		cfg.Timeouts.RunTimeout,
	)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orch,
		Workflow:     workflow.Name,
		Graph:        graph,
		DeadLetters:  deadLetters,
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:         cfg.GRPCPort,
		Orchestrator: orch,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("urbanflow orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("stores", len(targets)))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("urbanflow orchestrator shut down complete")
}

// buildDeadLetterStore prefers the durable MinIO store, falling back to
// the in-memory store when no endpoint is configured.
func buildDeadLetterStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.DeadLetterStore, error) {
	if cfg.Minio.Endpoint == "" {
		logger.Warn("minio not configured, dead letters will not survive restarts")
		return deadlettermem.NewStore(), nil
	}

	client, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	store, err := deadletterminio.NewStore(ctx, client, cfg.Minio.Bucket, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("using durable dead-letter store",
		zap.String("endpoint", cfg.Minio.Endpoint),
		zap.String("bucket", cfg.Minio.Bucket))
	return store, nil
}

// buildStoreAdapters connects every configured store backend and returns
// the adapters keyed by name, plus a cleanup closing the connections.
func buildStoreAdapters(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) (map[string]ports.StoreAdapter, func(), error) {
	stores := map[string]ports.StoreAdapter{}
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	cache := storeredis.NewStore(redisClient, cfg.Redis.CacheTTL, logger)
	stores[cache.Name()] = cache

	if cfg.Postgres.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return nil, cleanup, fmt.Errorf("invalid postgres dsn: %w", err)
		}
		poolCfg.MaxConns = cfg.Postgres.MaxConns
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if _, err := pool.Exec(ctx, storepostgres.Schema); err != nil {
			return nil, cleanup, fmt.Errorf("failed to apply entity schema: %w", err)
		}
		pg := storepostgres.NewStore(pool, logger)
		stores[pg.Name()] = pg
		logger.Info("connected to Postgres")
	}

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name("urbanflow"))
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		closers = append(closers, conn.Close)
		graphStore := storenats.NewStore(conn, cfg.NATS.Subject, logger)
		stores[graphStore.Name()] = graphStore
		logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	return stores, cleanup, nil
}

// selectTargets maps the workflow's store list onto the connected
// adapters. An unconnected store name is a configuration error.
func selectTargets(workflow *config.Workflow, stores map[string]ports.StoreAdapter) ([]publisher.Target, error) {
	if len(workflow.Stores) == 0 {
		// Publish to everything that is connected, in stable order.
		names := make([]string, 0, len(stores))
		for name := range stores {
			names = append(names, name)
		}
		sort.Strings(names)
		targets := make([]publisher.Target, 0, len(names))
		for _, name := range names {
			targets = append(targets, publisher.Target{Adapter: stores[name]})
		}
		return targets, nil
	}

	targets := make([]publisher.Target, 0, len(workflow.Stores))
	for _, def := range workflow.Stores {
		adapter, ok := stores[def.Name]
		if !ok {
			return nil, fmt.Errorf("workflow references unconnected store %q", def.Name)
		}
		targets = append(targets, publisher.Target{Adapter: adapter, BestEffort: def.BestEffort})
	}
	return targets, nil
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
