package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"forumkarma/internal/config"
	"forumkarma/internal/middleware"
	"forumkarma/internal/models"
	"forumkarma/internal/repositories"
	"forumkarma/internal/response"
	"forumkarma/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	cfg := &config.Config{
		Cache:  config.CacheConfig{Provider: "memory", DefaultTTL: time.Minute, MaxSize: 100},
		Voting: config.DefaultVotingConfig(),
		Events: config.EventsConfig{BufferSize: 100, WorkerCount: 1, HandlerTimeout: time.Second},
	}
	repos := repositories.NewMemoryCollection(logger)
	reg := prometheus.NewRegistry()

	sc, err := services.NewServiceCollection(repos, nil, cfg, reg, clock, logger)
	require.NoError(t, err)
	require.NoError(t, sc.Start(context.Background()))
	t.Cleanup(func() { _ = sc.Shutdown(context.Background()) })

	ctx := context.Background()
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: "alice", Username: "alice"}))
	require.NoError(t, repos.Users.Create(ctx, &models.User{ID: "bob", Username: "bob"}))
	require.NoError(t, repos.Documents.Create(ctx, &models.Document{
		ID: "p1", CollectionName: models.CollectionPosts, UserID: "alice", PostedAt: clock.Now().Add(-time.Hour),
	}))

	return SetupRouter(sc, response.NewBuilder(nil, clock, logger), reg, Options{}, logger)
}

func serve(h http.Handler, method, path, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := setupTestRouter(t)

	rec := serve(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderXRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var body struct {
		Success bool                  `json:"success"`
		Data    services.ServiceHealth `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, services.StatusHealthy, body.Data.Status)
	assert.Len(t, body.Data.Dependencies, 3)
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupTestRouter(t)

	serve(h, http.MethodGet, "/health", "")

	rec := serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `forumkarma_http_requests_total{code="200",method="GET",route="/health"} 1`)
}

func TestVoteRoute(t *testing.T) {
	h := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/votes/Posts/p1", jsonBody(t, map[string]string{"vote_type": "smallUpvote"}))
	req.Header.Set(middleware.HeaderUserID, "bob")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// header absent means anonymous
	rec = serve(h, http.MethodDelete, "/api/v1/votes/Posts/p1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, http.MethodDelete, "/api/v1/votes/Posts/p1", "bob")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFound(t *testing.T) {
	h := setupTestRouter(t)

	rec := serve(h, http.MethodGet, "/api/v1/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, services.ErrorTypeNotFound, body.Error.Type)
	assert.Equal(t, "/api/v1/nope", body.Path)
}

func TestMethodNotAllowed(t *testing.T) {
	h := setupTestRouter(t)

	rec := serve(h, http.MethodPut, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}
