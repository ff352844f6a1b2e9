package database

import (
	"context"
	"fmt"
	"time"

	"forumkarma/internal/config"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// 🚀 DATABASE INITIALIZATION
// Open creates the manager, applies migrations and blocks until the database
// reports healthy or cfg.HealthTimeout elapses.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var manager *Manager
	connect := func() error {
		m, err := NewManager(cfg, logger)
		if err != nil {
			return err
		}
		manager = m
		return nil
	}

	policy := backoff.WithContext(newHealthBackoff(cfg.HealthTimeout), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn("Database not reachable yet, retrying",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}

	if cfg.AutoMigrate {
		if err := manager.Migrate(cfg.MigrationsPath); err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	if err := WaitForHealthy(ctx, manager, cfg.HealthTimeout, logger); err != nil {
		manager.Close()
		return nil, fmt.Errorf("database failed to become healthy: %w", err)
	}

	return manager, nil
}

// 🏥 EXPONENTIAL BACKOFF HEALTH CHECK
func WaitForHealthy(ctx context.Context, manager *Manager, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("⏳ Waiting for database to become healthy...")

	check := func() error {
		status := manager.Health(ctx)
		if status.Status == StatusHealthy {
			logger.Info("✅ Database is healthy", zap.Duration("response_time", status.ResponseTime))
			return nil
		}
		return fmt.Errorf("database status %s: %v", status.Status, status.Errors)
	}

	return backoff.Retry(check, backoff.WithContext(newHealthBackoff(timeout), ctx))
}

func newHealthBackoff(timeout time.Duration) *backoff.ExponentialBackOff {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = timeout
	return b
}
