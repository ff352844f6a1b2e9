package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"forumkarma/internal/contextutils"
	"forumkarma/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBuilder() *Builder {
	logger, _ := zap.NewDevelopment()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewBuilder(nil, clock, logger)
}

func TestWriteSuccess(t *testing.T) {
	b := newTestBuilder()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(contextutils.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()
	b.WriteSuccess(rec, req, map[string]int{"n": 1})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, "v1", body.Version)
	assert.Equal(t, int64(1709294400), body.Timestamp)
}

func TestWriteError_HidesCause(t *testing.T) {
	b := newTestBuilder()

	rec := httptest.NewRecorder()
	b.WriteError(rec, httptest.NewRequest(http.MethodPost, "/votes", nil),
		services.NewInternalError("Failed to record vote", errors.New("pq: connection refused")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), `"path":"/votes"`)
}

func TestWriteError_PlainErrorIsInternal(t *testing.T) {
	b := newTestBuilder()

	rec := httptest.NewRecorder()
	b.WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteHealthCheck(t *testing.T) {
	b := newTestBuilder()

	cases := map[string]int{
		services.StatusHealthy:   http.StatusOK,
		services.StatusDegraded:  http.StatusOK,
		services.StatusUnhealthy: http.StatusServiceUnavailable,
	}
	for status, code := range cases {
		t.Run(status, func(t *testing.T) {
			rec := httptest.NewRecorder()
			b.WriteHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil), &services.ServiceHealth{Status: status})
			assert.Equal(t, code, rec.Code)
		})
	}
}
