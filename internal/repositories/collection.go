// file: internal/repositories/collection.go
package repositories

import (
	"context"
	"fmt"

	"forumkarma/internal/database"

	"go.uber.org/zap"
)

// Collection holds all repository instances for dependency injection
type Collection struct {
	Votes     VoteRepository
	Documents DocumentRepository
	Users     UserRepository

	// nil for the memory provider
	db     *database.Manager
	logger *zap.Logger
}

// NewCollection creates the postgres-backed repositories
func NewCollection(db *database.Manager, logger *zap.Logger) (*Collection, error) {
	if db == nil {
		return nil, fmt.Errorf("database manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	collection := &Collection{
		Votes:     NewVoteRepository(db, logger),
		Documents: NewDocumentRepository(db, logger),
		Users:     NewUserRepository(db, logger),
		db:        db,
		logger:    logger,
	}

	logger.Info("Repository collection initialized", zap.String("provider", "postgres"))
	return collection, nil
}

// NewMemoryCollection creates in-process repositories for development and tests
func NewMemoryCollection(logger *zap.Logger) *Collection {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Repository collection initialized", zap.String("provider", "memory"))

	return &Collection{
		Votes:     NewMemoryVoteRepository(logger),
		Documents: NewMemoryDocumentRepository(logger),
		Users:     NewMemoryUserRepository(logger),
		logger:    logger,
	}
}

// ===============================
// HEALTH AND MONITORING
// ===============================

// HealthCheck reports storage health and pool statistics. It reuses the
// result of the latest IsHealthy check when there is one.
func (c *Collection) HealthCheck(ctx context.Context) map[string]interface{} {
	health := make(map[string]interface{})

	if c.db == nil {
		health["database"] = map[string]interface{}{
			"status":   database.StatusHealthy,
			"provider": "memory",
		}
		return health
	}

	dbHealth := c.db.LastHealth()
	if dbHealth == nil {
		dbHealth = c.db.Health(ctx)
	}
	health["database"] = map[string]interface{}{
		"checked_at":    dbHealth.Timestamp,
		"status":        dbHealth.Status,
		"response_time": dbHealth.ResponseTime.String(),
		"errors":        dbHealth.Errors,
	}

	metrics := c.db.Metrics()
	health["performance"] = map[string]interface{}{
		"query_count":        metrics.QueryCount,
		"error_count":        metrics.ErrorCount,
		"slow_query_count":   metrics.SlowQueryCount,
		"avg_query_duration": metrics.AvgQueryDuration.String(),
		"open_connections":   metrics.DBStats.OpenConnections,
	}

	return health
}

// IsHealthy reports whether storage can serve requests
func (c *Collection) IsHealthy(ctx context.Context) bool {
	if c.db == nil {
		return true
	}
	return c.db.Health(ctx).Status != database.StatusUnhealthy
}

// Close releases the database connection
func (c *Collection) Close() error {
	if c.db == nil {
		return nil
	}
	c.logger.Info("Closing repository collection")
	return c.db.Close()
}
