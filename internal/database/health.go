package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the current health status of the database
type HealthStatus struct {
	Status          string                 `json:"status"`
	Timestamp       time.Time              `json:"timestamp"`
	ResponseTime    time.Duration          `json:"response_time"`
	ConnectionCount int                    `json:"connection_count"`
	Errors          []string               `json:"errors,omitempty"`
	Details         map[string]interface{} `json:"details"`
}

// 🏥 HEALTH CHECKER
type HealthChecker struct {
	manager *Manager
	logger  *zap.Logger

	mu   sync.RWMutex
	last *HealthStatus

	timeout         time.Duration
	criticalTables  []string
	slowPingWarning time.Duration
	poolWaitWarning int64
}

// NewHealthChecker creates a checker bound to a manager
func NewHealthChecker(manager *Manager, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		manager:         manager,
		logger:          logger,
		timeout:         5 * time.Second,
		criticalTables:  []string{"votes", "users", "posts", "comments"},
		slowPingWarning: 500 * time.Millisecond,
		poolWaitWarning: 100,
	}
}

// Check pings the database, inspects the pool and confirms the vote tables exist
func (hc *HealthChecker) Check(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp: start,
		Details:   make(map[string]interface{}),
		Errors:    make([]string, 0),
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	warnings := 0
	critical := false

	pingStart := time.Now()
	err := hc.manager.DB().PingContext(ctx)
	pingDuration := time.Since(pingStart)
	status.Details["ping_duration"] = pingDuration.String()

	if err != nil {
		critical = true
		status.Errors = append(status.Errors, fmt.Sprintf("Connectivity: %v", err))
	} else if pingDuration > hc.slowPingWarning {
		warnings++
		status.Details["ping_warning"] = "Slow ping response"
	}

	stats := hc.manager.DB().Stats()
	status.ConnectionCount = stats.OpenConnections
	status.Details["pool"] = map[string]interface{}{
		"max_open":   stats.MaxOpenConnections,
		"open":       stats.OpenConnections,
		"in_use":     stats.InUse,
		"idle":       stats.Idle,
		"wait_count": stats.WaitCount,
	}
	if stats.WaitCount > hc.poolWaitWarning {
		warnings++
	}

	if !critical {
		for _, table := range hc.criticalTables {
			var exists bool
			query := `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`
			if err := hc.manager.DB().QueryRowContext(ctx, query, table).Scan(&exists); err != nil {
				critical = true
				status.Errors = append(status.Errors, fmt.Sprintf("Table access %s: %v", table, err))
				break
			}
			if !exists {
				warnings++
				status.Errors = append(status.Errors, fmt.Sprintf("Table %s is missing", table))
			}
		}
	}

	status.ResponseTime = time.Since(start)
	switch {
	case critical:
		status.Status = StatusUnhealthy
	case warnings > 0:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}

	if status.Status != StatusHealthy {
		hc.logger.Warn("Database health check not healthy",
			zap.String("status", status.Status),
			zap.Strings("errors", status.Errors),
		)
	}

	hc.mu.Lock()
	hc.last = status
	hc.mu.Unlock()

	return status
}

// GetLastStatus returns the most recent check result, if any
func (hc *HealthChecker) GetLastStatus() *HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.last
}
