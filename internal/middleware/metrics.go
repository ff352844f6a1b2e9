// File: internal/middleware/metrics.go
package middleware

import (
	"net/http"
	"time"

	"forumkarma/internal/metrics"

	"github.com/gorilla/mux"
)

// Metrics records request counts and latency per route template, so path
// parameters do not explode label cardinality
func Metrics(m *metrics.HTTPMetrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			m.ObserveRequest(routeTemplate(r), r.Method, rw.status, time.Since(start))
		})
	}
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched"
	}
	if tpl, err := route.GetPathTemplate(); err == nil {
		return tpl
	}
	return "unknown"
}
