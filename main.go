package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-rest/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-rest/pkg/audit"
	"github.com/ekaya-inc/ekaya-rest/pkg/config"
	"github.com/ekaya-inc/ekaya-rest/pkg/database"
	"github.com/ekaya-inc/ekaya-rest/pkg/handlers"
	"github.com/ekaya-inc/ekaya-rest/pkg/logging"
	"github.com/ekaya-inc/ekaya-rest/pkg/middleware"
	"github.com/ekaya-inc/ekaya-rest/pkg/request"
	"github.com/ekaya-inc/ekaya-rest/pkg/retry"
	"github.com/ekaya-inc/ekaya-rest/pkg/services"
	"github.com/ekaya-inc/ekaya-rest/pkg/tablestats"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if cfg.IsLocal() {
		logConfig = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := logConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("version", cfg.Version)), nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Log startup configuration
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("listen_addr", cfg.ListenAddr()),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("schema", cfg.Database.Schema),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Uint32("cache_reset_interval_seconds", cfg.Cache.ResetIntervalSeconds),
		zap.Int("insert_batch_size", cfg.Engine.InsertBatchSize),
		zap.Bool("per_batch_commit", cfg.Engine.PerBatchCommit),
		zap.Bool("inspect_where", cfg.Engine.InspectWhere),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
		zap.String("redis", cfg.Redis.Host))

	db, err := retry.DoWithResultIfRetryable(ctx, retry.StartupConfig(), func() (*database.DB, error) {
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			Schema:         cfg.Database.Schema,
			MaxConnections: cfg.Database.MaxConnections,
			MinConnections: cfg.Database.MinConnections,
		}, logger)
		if err != nil {
			logger.Warn("Database connection attempt failed", zap.String("error", logging.SanitizeError(err)))
		}
		return db, err
	})
	if err != nil {
		return fmt.Errorf("connect to database: %s", logging.SanitizeError(err))
	}
	defer db.Close()

	// Table metadata cache
	fetcher := postgres.NewStatsFetcher(db.Pool, cfg.Database.Schema, logger)
	cache := tablestats.New(fetcher, logger)
	defer cache.Close()

	redisClient, err := connectRedis(ctx, &cfg.Redis, logger)
	if err != nil {
		return err
	}

	parser := request.NewParser(request.Options{
		DefaultLimit: cfg.Engine.DefaultLimit,
		InspectWhere: cfg.Engine.InspectWhere,
	})
	executor := postgres.NewExecutor(db.Pool, cfg.Database.Schema, logger)
	tableService := services.NewTableService(cache, executor, parser, services.TableServiceConfig{
		InsertBatchSize: cfg.Engine.InsertBatchSize,
		PerBatchCommit:  cfg.Engine.PerBatchCommit,
	}, logger)

	if cfg.Cache.Enabled {
		tableService.EnableCache()
	}
	if cfg.Cache.ResetIntervalSeconds > 0 {
		tableService.SetResetTimer(cfg.Cache.ResetIntervalSeconds)
		cache.StartResetTimer(ctx)
	}

	httpLogger := logger.Named("http")
	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, db.Pool, logger).RegisterRoutes(mux)

	apiMux := http.NewServeMux()
	handlers.NewTableHandler(tableService, audit.NewSecurityAuditor(logger), httpLogger).RegisterRoutes(apiMux)
	api := middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, httpLogger)(apiMux)
	mux.Handle("/api", api)
	mux.Handle("/api/", api)

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           middleware.RequestLogger(httpLogger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		broadcaster := tablestats.NewRedisBroadcaster(redisClient, cfg.Redis.ResetChannel, cache, logger)
		g.Go(func() error {
			if err := broadcaster.Run(gctx); err != nil {
				return fmt.Errorf("table stats reset listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		useTLS := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
		logger.Info("Starting ekaya-rest",
			zap.String("addr", server.Addr),
			zap.Bool("tls", useTLS))

		var err error
		if useTLS {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// connectRedis returns nil when Redis is not configured.
func connectRedis(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Host == "" {
		logger.Info("Redis not configured, table stats resets stay local")
		return nil, nil
	}
	client, err := retry.DoWithResultIfRetryable(ctx, retry.StartupConfig(), func() (*redis.Client, error) {
		return database.NewRedisClient(ctx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
