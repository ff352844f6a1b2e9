package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"forumkarma/internal/metrics"
	"forumkarma/internal/models"
	"forumkarma/internal/repositories"
	"forumkarma/internal/scoring"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingDocuments counts batch writes
type countingDocuments struct {
	repositories.DocumentRepository
	applies atomic.Int32
	failAgg error
}

func (c *countingDocuments) ApplyRescore(ctx context.Context, collection models.CollectionName, writes []models.RescoreWrite) (int, error) {
	c.applies.Add(1)
	return c.DocumentRepository.ApplyRescore(ctx, collection, writes)
}

func (c *countingDocuments) AggregateRescore(ctx context.Context, collection models.CollectionName, q models.RescoreQuery) ([]*models.RescoreCandidate, error) {
	if c.failAgg != nil {
		return nil, c.failAgg
	}
	return c.DocumentRepository.AggregateRescore(ctx, collection, q)
}

type rescorerFixture struct {
	ctx      context.Context
	clock    *clockwork.FakeClock
	docs     *countingDocuments
	metrics  *metrics.VoteMetrics
	rescorer *BatchRescorer
}

func newRescorerFixture(t *testing.T, batchSize, workers int) *rescorerFixture {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	clock := clockwork.NewFakeClockAt(testEpoch)
	docs := &countingDocuments{DocumentRepository: repositories.NewMemoryDocumentRepository(logger)}
	m := metrics.NewVoteMetrics(prometheus.NewRegistry())

	return &rescorerFixture{
		ctx:     context.Background(),
		clock:   clock,
		docs:    docs,
		metrics: m,
		rescorer: NewBatchRescorer(docs, BatchRescorerConfig{
			Calculator:  scoring.DefaultCalculator(),
			Collections: []models.CollectionName{models.CollectionPosts},
			BatchSize:   batchSize,
			Workers:     workers,
		}, m, clock, logger),
	}
}

func (f *rescorerFixture) create(t *testing.T, d *models.Document) {
	t.Helper()
	d.CollectionName = models.CollectionPosts
	d.UserID = "alice"
	require.NoError(t, f.docs.Create(f.ctx, d))
}

func (f *rescorerFixture) find(t *testing.T, id string) *models.Document {
	t.Helper()
	d, err := f.docs.Find(f.ctx, models.CollectionPosts, id)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func TestBatchRescorer_ActivePass(t *testing.T) {
	f := newRescorerFixture(t, 100, 2)
	now := f.clock.Now()
	stablePosted := now.Add(-10 * 24 * time.Hour)

	f.create(t, &models.Document{ID: "fresh", BaseScore: 10, PostedAt: now.Add(-2 * time.Hour)})
	f.create(t, &models.Document{ID: "old", PostedAt: now.Add(-40 * 24 * time.Hour)})
	f.create(t, &models.Document{ID: "stable", BaseScore: 1, PostedAt: stablePosted,
		Score: scoring.ComputeScore(1, stablePosted, now, scoring.DefaultDecayFactor)})
	f.create(t, &models.Document{ID: "future", BaseScore: 5, PostedAt: now.Add(time.Hour)})

	result, err := f.rescorer.Run(f.ctx, RescoreOptions{})
	require.NoError(t, err)

	assert.Equal(t, "active", result.Pass)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Rescored)
	assert.Equal(t, 1, result.Deactivated)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, result.RescoreCounts, result.Collections[models.CollectionPosts])

	assert.Equal(t, 2.030631, f.find(t, "fresh").Score)
	assert.True(t, f.find(t, "old").Inactive)
	assert.False(t, f.find(t, "stable").Inactive)
	assert.Equal(t, 0.0, f.find(t, "future").Score)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RescoreDocuments.WithLabelValues("rescored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RescoreDocuments.WithLabelValues("deactivated")))
}

func TestBatchRescorer_SecondRunWritesNothing(t *testing.T) {
	f := newRescorerFixture(t, 100, 2)
	now := f.clock.Now()

	for i := 0; i < 10; i++ {
		f.create(t, &models.Document{
			ID:        fmt.Sprintf("d%02d", i),
			BaseScore: float64(i * 3),
			PostedAt:  now.Add(-time.Duration(i*60) * time.Hour),
		})
	}

	_, err := f.rescorer.Run(f.ctx, RescoreOptions{})
	require.NoError(t, err)
	firstApplies := f.docs.applies.Load()
	require.Positive(t, firstApplies)

	result, err := f.rescorer.Run(f.ctx, RescoreOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Rescored)
	assert.Zero(t, result.Deactivated)
	assert.Equal(t, firstApplies, f.docs.applies.Load())
}

func TestBatchRescorer_InactivePassReactivates(t *testing.T) {
	f := newRescorerFixture(t, 100, 1)
	now := f.clock.Now()
	posted := now.Add(-40 * 24 * time.Hour)

	f.create(t, &models.Document{ID: "edited", BaseScore: 50, Inactive: true, PostedAt: posted})
	f.create(t, &models.Document{ID: "dead", Inactive: true, PostedAt: posted})
	f.create(t, &models.Document{ID: "live", BaseScore: 50, PostedAt: now.Add(-time.Hour)})

	result, err := f.rescorer.Run(f.ctx, RescoreOptions{Inactive: true})
	require.NoError(t, err)

	assert.Equal(t, "inactive", result.Pass)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Rescored)
	assert.Zero(t, result.Deactivated)
	assert.Equal(t, 1, result.Unchanged)

	edited := f.find(t, "edited")
	assert.False(t, edited.Inactive)
	assert.Greater(t, edited.Score, 0.0)
	assert.True(t, f.find(t, "dead").Inactive)
	assert.Equal(t, 0.0, f.find(t, "live").Score)
}

func TestBatchRescorer_ForceUpdate(t *testing.T) {
	f := newRescorerFixture(t, 100, 1)
	now := f.clock.Now()
	posted := now.Add(-5 * time.Hour)

	f.create(t, &models.Document{ID: "a", BaseScore: 2, PostedAt: posted,
		Score: scoring.ComputeScore(2, posted, now, scoring.DefaultDecayFactor)})
	f.create(t, &models.Document{ID: "b", PostedAt: posted})

	result, err := f.rescorer.Run(f.ctx, RescoreOptions{ForceUpdate: true})
	require.NoError(t, err)
	assert.True(t, result.Forced)
	assert.Equal(t, 2, result.Rescored)
	assert.Zero(t, result.Unchanged)
}

func TestBatchRescorer_WritesInBatches(t *testing.T) {
	f := newRescorerFixture(t, 2, 2)
	now := f.clock.Now()

	for i := 0; i < 5; i++ {
		f.create(t, &models.Document{ID: fmt.Sprintf("d%d", i), BaseScore: 10, PostedAt: now.Add(-time.Hour)})
	}

	result, err := f.rescorer.Run(f.ctx, RescoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Rescored)
	assert.Equal(t, int32(3), f.docs.applies.Load())

	for i := 0; i < 5; i++ {
		assert.Greater(t, f.find(t, fmt.Sprintf("d%d", i)).Score, 0.0)
	}
}

func TestBatchRescorer_DecaysOverTime(t *testing.T) {
	f := newRescorerFixture(t, 100, 1)
	f.create(t, &models.Document{ID: "p", BaseScore: 25, PostedAt: f.clock.Now()})

	_, err := f.rescorer.Run(f.ctx, RescoreOptions{})
	require.NoError(t, err)
	first := f.find(t, "p").Score

	f.clock.Advance(6 * time.Hour)
	_, err = f.rescorer.Run(f.ctx, RescoreOptions{})
	require.NoError(t, err)

	assert.Less(t, f.find(t, "p").Score, first)
}

func TestBatchRescorer_AggregateFailure(t *testing.T) {
	f := newRescorerFixture(t, 100, 1)
	f.docs.failAgg = errors.New("connection reset")

	_, err := f.rescorer.Run(f.ctx, RescoreOptions{Inactive: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RescoreRunsFailed.WithLabelValues("inactive")))
}
