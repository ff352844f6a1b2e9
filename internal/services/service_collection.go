// file: internal/services/service_collection.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forumkarma/internal/appinfo"
	"forumkarma/internal/cache"
	"forumkarma/internal/config"
	"forumkarma/internal/events"
	"forumkarma/internal/metrics"
	"forumkarma/internal/models"
	"forumkarma/internal/repositories"
	"forumkarma/internal/scoring"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ServiceCollection wires the voting core together
type ServiceCollection struct {
	// Core Services
	VotingService *VotingService          `json:"-"`
	RateLimiter   *RateLimiter            `json:"-"`
	Propagator    *KarmaPropagator        `json:"-"`
	Rescorer      *BatchRescorer          `json:"-"`
	Notifications *NotificationDispatcher `json:"-"`
	VoteTypes     *VoteTypeRegistry       `json:"-"`

	// Repository Collection
	Repositories *repositories.Collection `json:"-"`

	// Infrastructure Components
	Cache    cache.Cache          `json:"-"`
	EventBus events.EventBus      `json:"-"`
	Metrics  *metrics.VoteMetrics `json:"-"`
	Logger   *zap.Logger          `json:"-"`
	Config   *config.Config       `json:"-"`
	Clock    clockwork.Clock      `json:"-"`

	startTime   time.Time
	mu          sync.RWMutex
	initialized bool
}

// ServiceHealth represents the health status of the service collection
type ServiceHealth struct {
	Status       string                   `json:"status"`
	Version      string                   `json:"version"`
	Timestamp    time.Time                `json:"timestamp"`
	Dependencies map[string]ServiceStatus `json:"dependencies"`
	Uptime       time.Duration            `json:"uptime"`
	Issues       []string                 `json:"issues,omitempty"`
}

// ServiceStatus represents the status of an individual dependency
type ServiceStatus struct {
	Name         string                 `json:"name"`
	Status       string                 `json:"status"` // healthy, degraded, unhealthy
	LastCheck    time.Time              `json:"last_check"`
	ResponseTime time.Duration          `json:"response_time"`
	Error        string                 `json:"error,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// NewServiceCollection builds every service on top of storage and cache.
// reg may be nil to skip metrics registration.
func NewServiceCollection(
	repos *repositories.Collection,
	c cache.Cache,
	cfg *config.Config,
	reg prometheus.Registerer,
	clock clockwork.Clock,
	logger *zap.Logger,
) (*ServiceCollection, error) {
	if repos == nil {
		return nil, fmt.Errorf("repository collection is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	sc := &ServiceCollection{
		Repositories: repos,
		Cache:        c,
		Config:       cfg,
		Logger:       logger,
		Clock:        clock,
		startTime:    clock.Now(),
	}

	if reg != nil {
		sc.Metrics = metrics.NewVoteMetrics(reg)
	}

	// Initialize in dependency order
	sc.initializeInfrastructure()

	if err := sc.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := sc.registerSubscribers(); err != nil {
		return nil, fmt.Errorf("failed to register event subscribers: %w", err)
	}

	sc.initialized = true
	logger.Info("Service collection initialized successfully",
		zap.Int("rescore_collections", len(sc.rescoreCollections())),
		zap.Int("vote_types", len(sc.VoteTypes.Types())),
	)

	return sc, nil
}

// ===============================
// INITIALIZATION METHODS
// ===============================

func (sc *ServiceCollection) initializeInfrastructure() {
	if sc.Cache == nil {
		sc.Cache = cache.NewMemoryCache(cache.DefaultConfig(), sc.Logger)
	}

	sc.EventBus = events.NewInMemoryEventBus(&events.EventBusConfig{
		BufferSize:     sc.Config.Events.BufferSize,
		WorkerCount:    sc.Config.Events.WorkerCount,
		HandlerTimeout: sc.Config.Events.HandlerTimeout,
	}, sc.Logger)
}

func (sc *ServiceCollection) initializeServices() error {
	voting := sc.Config.Voting
	calc := scoring.Calculator{
		DecayFactor:             voting.DecayFactor,
		FrontpageBonus:          voting.FrontpageBonus,
		CuratedBonus:            voting.CuratedBonus,
		InactivityThresholdDays: voting.InactivityThresholdDays,
	}

	collections := make([]models.CollectionName, 0, len(voting.RescoreCollections))
	for _, name := range voting.RescoreCollections {
		c, err := models.ParseCollectionName(name)
		if err != nil {
			return fmt.Errorf("rescore collections: %w", err)
		}
		collections = append(collections, c)
	}

	sc.VoteTypes = NewVoteTypeRegistry(DefaultVoteTypes(), voting.KarmaRewarderOverrides)

	sc.RateLimiter = NewRateLimiter(
		sc.Repositories.Votes,
		voting.UserLimits,
		voting.AdminLimits,
		sc.Clock,
		sc.Logger.Named("rate_limiter"),
	)

	sc.VotingService = NewVotingService(
		sc.Repositories,
		sc.VoteTypes,
		sc.RateLimiter,
		sc.EventBus,
		sc.Cache,
		sc.Metrics,
		VotingServiceConfig{
			Calculator:           calc,
			DuplicateVoteRetries: voting.DuplicateVoteRetries,
			PowerCacheTTL:        sc.Config.Cache.DefaultTTL,
		},
		sc.Clock,
		sc.Logger.Named("voting"),
	)

	sc.Propagator = NewKarmaPropagator(
		sc.Repositories.Users,
		sc.EventBus,
		sc.Cache,
		voting.ReviewVoteThreshold,
		voting.CommentingDisabledKarma,
		sc.Clock,
		sc.Logger.Named("karma"),
	)

	sc.Rescorer = NewBatchRescorer(
		sc.Repositories.Documents,
		BatchRescorerConfig{
			Calculator:  calc,
			Collections: collections,
			BatchSize:   voting.RescoreBatchSize,
			Workers:     voting.RescoreWorkers,
		},
		sc.Metrics,
		sc.Clock,
		sc.Logger.Named("rescorer"),
	)

	sc.Notifications = NewNotificationDispatcher(nil, sc.Logger.Named("notifications"))

	return nil
}

func (sc *ServiceCollection) registerSubscribers() error {
	if err := sc.Propagator.Register(sc.EventBus); err != nil {
		return err
	}
	return sc.Notifications.Register(sc.EventBus)
}

func (sc *ServiceCollection) rescoreCollections() []models.CollectionName {
	return sc.Rescorer.collections
}

// ===============================
// HEALTH AND MONITORING
// ===============================

// HealthCheck checks storage, cache and the event bus
func (sc *ServiceCollection) HealthCheck(ctx context.Context) *ServiceHealth {
	now := sc.Clock.Now()
	health := &ServiceHealth{
		Status:       StatusHealthy,
		Version:      appinfo.Version(),
		Timestamp:    now,
		Dependencies: make(map[string]ServiceStatus),
		Uptime:       sc.Clock.Since(sc.startTime),
		Issues:       []string{},
	}

	checks := map[string]func(context.Context) error{
		"database": sc.checkDatabase,
		"cache":    sc.Cache.Health,
		"events": func(context.Context) error {
			return sc.EventBus.Health()
		},
	}

	for name, check := range checks {
		status := sc.checkDependency(ctx, name, check)
		if name == "database" {
			status.Metadata = sc.Repositories.HealthCheck(ctx)
		}
		health.Dependencies[name] = status
		if status.Status != StatusHealthy {
			health.Issues = append(health.Issues, fmt.Sprintf("%s: %s", name, status.Error))
		}
	}

	// storage is the only hard dependency
	switch {
	case health.Dependencies["database"].Status != StatusHealthy:
		health.Status = StatusUnhealthy
	case len(health.Issues) > 0:
		health.Status = StatusDegraded
	}

	sc.Logger.Debug("Health check completed",
		zap.String("status", health.Status),
		zap.Int("issues", len(health.Issues)),
	)

	return health
}

func (sc *ServiceCollection) checkDatabase(ctx context.Context) error {
	if !sc.Repositories.IsHealthy(ctx) {
		return fmt.Errorf("database is unhealthy")
	}
	return nil
}

func (sc *ServiceCollection) checkDependency(ctx context.Context, name string, check func(context.Context) error) ServiceStatus {
	start := sc.Clock.Now()

	status := ServiceStatus{
		Name:      name,
		Status:    StatusHealthy,
		LastCheck: start,
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := check(checkCtx); err != nil {
		status.Status = StatusUnhealthy
		status.Error = err.Error()
	}

	status.ResponseTime = sc.Clock.Since(start)
	return status
}

// ===============================
// SERVICE LIFECYCLE MANAGEMENT
// ===============================

// Start starts the asynchronous event workers
func (sc *ServiceCollection) Start(ctx context.Context) error {
	sc.mu.RLock()
	initialized := sc.initialized
	sc.mu.RUnlock()

	if !initialized {
		return fmt.Errorf("service collection not initialized")
	}

	if err := sc.EventBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	sc.Logger.Info("Service collection started successfully")
	return nil
}

// Shutdown drains the event bus and releases cache and storage
func (sc *ServiceCollection) Shutdown(ctx context.Context) error {
	sc.Logger.Info("Shutting down service collection")

	var shutdownErrors []error

	if err := sc.EventBus.Stop(ctx); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("event bus shutdown: %w", err))
	}

	if err := sc.Cache.Close(); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("cache close: %w", err))
	}

	if err := sc.Repositories.Close(); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
	}

	if len(shutdownErrors) > 0 {
		sc.Logger.Error("Errors occurred during shutdown",
			zap.Int("error_count", len(shutdownErrors)),
		)
		return fmt.Errorf("shutdown completed with %d errors: %v", len(shutdownErrors), shutdownErrors)
	}

	sc.Logger.Info("Service collection shutdown completed successfully")
	return nil
}

// IsInitialized returns whether the service collection is fully initialized
func (sc *ServiceCollection) IsInitialized() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.initialized
}
