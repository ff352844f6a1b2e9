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

	"forumkarma/internal/appinfo"
	"forumkarma/internal/cache"
	"forumkarma/internal/config"
	"forumkarma/internal/database"
	"forumkarma/internal/metrics"
	"forumkarma/internal/repositories"
	"forumkarma/internal/response"
	"forumkarma/internal/router"
	"forumkarma/internal/scheduler"
	"forumkarma/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info("Starting forumkarma",
		zap.String("version", appinfo.Version()),
		zap.String("go_version", appinfo.GoVersion()),
	)

	if err := run(logger); err != nil {
		logger.Fatal("Application failed", zap.Error(err))
	}
	logger.Info("Application shutdown completed")
}

func run(logger *zap.Logger) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("storage", cfg.Database.Provider),
		zap.String("cache", cfg.Cache.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ===============================
	// STORAGE
	// ===============================

	repos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// ===============================
	// REDIS (cache and leader lock share one client)
	// ===============================

	var rdb *redis.Client
	if cfg.Cache.RedisURL != "" {
		rdb, err = openRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	cacheInstance, err := newCache(cfg, rdb, logger)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}

	// ===============================
	// SERVICES
	// ===============================

	reg := metrics.NewRegistry()
	clock := clockwork.NewRealClock()

	serviceCollection, err := services.NewServiceCollection(repos, cacheInstance, cfg, reg, clock, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	if err := serviceCollection.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		if err := serviceCollection.Shutdown(shutdownCtx); err != nil {
			logger.Error("Service shutdown failed", zap.Error(err))
		}
	}()

	responseConfig := response.DefaultConfig()
	responseConfig.PrettyJSON = cfg.IsDevelopment()
	responseBuilder := response.NewBuilder(responseConfig, clock, logger)

	handler := router.SetupRouter(serviceCollection, responseBuilder, reg, router.Options{}, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		if sched, err = newScheduler(cfg, serviceCollection, rdb, logger); err != nil {
			return err
		}
	} else {
		logger.Info("Rescore scheduler disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx, cfg.Server.GracefulTimeout)
		})
	}

	return g.Wait()
}

func openRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repositories.Collection, error) {
	if cfg.Database.Provider == "memory" {
		logger.Warn("Using in-memory storage; data is lost on restart")
		return repositories.NewMemoryCollection(logger), nil
	}

	dbManager, err := database.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("Database initialized successfully")

	// the collection closes the manager on shutdown
	return repositories.NewCollection(dbManager, logger)
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func newCache(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (cache.Cache, error) {
	if cfg.Cache.Provider == "redis" && rdb != nil {
		return cache.NewRedisCacheFromClient(rdb, cfg.Cache.DefaultTTL, logger), nil
	}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.Provider = cfg.Cache.Provider
	cacheConfig.RedisURL = cfg.Cache.RedisURL
	cacheConfig.TTL = cfg.Cache.DefaultTTL
	cacheConfig.MaxKeys = cfg.Cache.MaxSize
	return cache.NewCache(cacheConfig, logger)
}

func newScheduler(cfg *config.Config, sc *services.ServiceCollection, rdb *redis.Client, logger *zap.Logger) (*scheduler.Scheduler, error) {
	var elector scheduler.Elector
	switch {
	case cfg.Scheduler.LeaderElection && rdb != nil:
		elector = scheduler.NewRedisElector(rdb, cfg.Scheduler.InstanceID, cfg.Scheduler.LeaderLockKey, cfg.Scheduler.LeaderLockTTL)
		logger.Info("Rescore leader election enabled",
			zap.String("instance_id", cfg.Scheduler.InstanceID),
			zap.String("key", cfg.Scheduler.LeaderLockKey),
		)
	case cfg.Scheduler.LeaderElection:
		logger.Warn("Leader election requested without REDIS_URL; every instance will rescore")
	}

	sched, err := scheduler.New(sc.Rescorer, cfg.Scheduler, elector, logger)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return sched, nil
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("GO_ENV")
	var config zap.Config

	switch env {
	case "production":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "staging":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	default:
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		level, err := zap.ParseAtomicLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", raw, err)
		}
		config.Level = level
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
