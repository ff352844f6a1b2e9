package metrics

import (
	"net/http"
	"strconv"
	"time"

	"forumkarma/internal/appinfo"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "forumkarma"

// NewRegistry creates a Prometheus registry with Go runtime, process and
// build info collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(newBuildInfo())
	return reg
}

func newBuildInfo() prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Always 1; labels carry the running build.",
		ConstLabels: prometheus.Labels{
			"version":    appinfo.Version(),
			"go_version": appinfo.GoVersion(),
		},
	})
	g.Set(1)
	return g
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// VoteMetrics holds metrics for the cast/cancel pipeline and the rescorer.
// All methods are safe on a nil receiver.
type VoteMetrics struct {
	Votes             *prometheus.CounterVec
	VoteDuration      *prometheus.HistogramVec
	KarmaFailures     prometheus.Counter
	RescoreDocuments  *prometheus.CounterVec
	RescoreDuration   *prometheus.HistogramVec
	RescoreRunsFailed *prometheus.CounterVec
}

// NewVoteMetrics creates and registers the metrics on the given registry.
func NewVoteMetrics(reg prometheus.Registerer) *VoteMetrics {
	m := &VoteMetrics{
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Vote operations, by action and result.",
		}, []string{"action", "result"}),
		VoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_duration_seconds",
			Help:      "Duration of cast and cancel operations in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"action"}),
		KarmaFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "karma_propagation_failures_total",
			Help:      "Vote events whose karma side effects failed.",
		}),
		RescoreDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescore_documents_total",
			Help:      "Documents visited by the batch rescorer, by outcome.",
		}, []string{"outcome"}),
		RescoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rescore_duration_seconds",
			Help:      "Duration of a rescoring pass in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"pass"}),
		RescoreRunsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescore_runs_failed_total",
			Help:      "Rescoring passes that returned an error.",
		}, []string{"pass"}),
	}

	reg.MustRegister(m.Votes, m.VoteDuration, m.KarmaFailures, m.RescoreDocuments, m.RescoreDuration, m.RescoreRunsFailed)
	return m
}

// ObserveVote records one cast or cancel
func (m *VoteMetrics) ObserveVote(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Votes.WithLabelValues(action, result).Inc()
	m.VoteDuration.WithLabelValues(action).Observe(d.Seconds())
}

// KarmaFailed counts a failed propagation
func (m *VoteMetrics) KarmaFailed() {
	if m == nil {
		return
	}
	m.KarmaFailures.Inc()
}

// ObserveRescore records the outcome counts of one pass
func (m *VoteMetrics) ObserveRescore(pass string, rescored, deactivated, unchanged int, d time.Duration) {
	if m == nil {
		return
	}
	m.RescoreDocuments.WithLabelValues("rescored").Add(float64(rescored))
	m.RescoreDocuments.WithLabelValues("deactivated").Add(float64(deactivated))
	m.RescoreDocuments.WithLabelValues("unchanged").Add(float64(unchanged))
	m.RescoreDuration.WithLabelValues(pass).Observe(d.Seconds())
}

// RescoreFailed counts a failed pass
func (m *VoteMetrics) RescoreFailed(pass string) {
	if m == nil {
		return
	}
	m.RescoreRunsFailed.WithLabelValues(pass).Inc()
}

// HTTPMetrics holds request metrics for the API. Safe on a nil receiver.
type HTTPMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers the request metrics.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(m.Requests, m.RequestDuration)
	return m
}

// ObserveRequest records one request
func (m *HTTPMetrics) ObserveRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
