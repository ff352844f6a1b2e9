package router

import (
	"net/http"
	"time"

	"forumkarma/internal/metrics"
	"forumkarma/internal/middleware"
	"forumkarma/internal/response"
	"forumkarma/internal/services"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options tunes the router
type Options struct {
	// UserHeader is the gateway header carrying the acting user id
	UserHeader string
	// SlowRequestThreshold logs slower requests at warn
	SlowRequestThreshold time.Duration
}

// SetupRouter configures all HTTP routes and returns the main handler. reg
// may be nil to disable request metrics and /metrics.
func SetupRouter(
	serviceCollection *services.ServiceCollection,
	responseBuilder *response.Builder,
	reg *prometheus.Registry,
	opts Options,
	logger *zap.Logger,
) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SlowRequestThreshold == 0 {
		opts.SlowRequestThreshold = 2 * time.Second
	}

	r := mux.NewRouter()

	// ===============================
	// HEALTH AND METRICS
	// ===============================

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		responseBuilder.WriteHealthCheck(w, req, serviceCollection.HealthCheck(req.Context()))
	}).Methods(http.MethodGet)

	if reg != nil {
		r.Handle("/metrics", metrics.Handler(reg)).Methods(http.MethodGet)
		r.Use(middleware.Metrics(metrics.NewHTTPMetrics(reg)))
	}

	// ===============================
	// API V1
	// ===============================

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.GatewayAuth(opts.UserHeader))
	AddAPIv1Routes(api, serviceCollection, responseBuilder, logger)

	notFound := func(w http.ResponseWriter, req *http.Request) {
		responseBuilder.WriteError(w, req, services.NewNotFoundError("Route not found"))
	}
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		responseBuilder.WriteError(w, req, &services.ServiceError{
			Type:       "METHOD_NOT_ALLOWED",
			Message:    "Method not allowed",
			StatusCode: http.StatusMethodNotAllowed,
		})
	})

	logger.Info("Router setup completed",
		zap.Bool("metrics_enabled", reg != nil),
	)

	// request id and logging wrap everything, including unmatched routes
	return middleware.Chain(r,
		middleware.RequestID(logger),
		middleware.RecoverPanic,
		middleware.EnhancedLogging(opts.SlowRequestThreshold),
		middleware.SecureHeaders,
	)
}
