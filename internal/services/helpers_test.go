package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"forumkarma/internal/config"
	"forumkarma/internal/models"
	"forumkarma/internal/repositories"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{
			Provider:   "memory",
			DefaultTTL: time.Minute,
			MaxSize:    100,
		},
		Voting: config.DefaultVotingConfig(),
		Events: config.EventsConfig{
			BufferSize:     100,
			WorkerCount:    2,
			HandlerTimeout: time.Second,
		},
	}
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *clockwork.FakeClock
	repos *repositories.Collection
	sc    *ServiceCollection
	reg   *prometheus.Registry
}

type harnessOption func(cfg *config.Config, repos *repositories.Collection)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	cfg := testConfig()
	repos := repositories.NewMemoryCollection(logger)
	for _, opt := range opts {
		opt(cfg, repos)
	}

	clock := clockwork.NewFakeClockAt(testEpoch)
	reg := prometheus.NewRegistry()

	sc, err := NewServiceCollection(repos, nil, cfg, reg, clock, logger)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sc.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sc.Shutdown(stopCtx)
	})

	return &harness{t: t, ctx: ctx, clock: clock, repos: repos, sc: sc, reg: reg}
}

func withLimits(limits config.RateLimits) harnessOption {
	return func(cfg *config.Config, _ *repositories.Collection) {
		cfg.Voting.UserLimits = limits
	}
}

func withOverrides(overrides map[string]float64) harnessOption {
	return func(cfg *config.Config, _ *repositories.Collection) {
		cfg.Voting.KarmaRewarderOverrides = overrides
	}
}

func (h *harness) user(id string, karma float64) *models.User {
	h.t.Helper()
	u := &models.User{ID: id, Username: id, Karma: karma}
	require.NoError(h.t, h.repos.Users.Create(h.ctx, u))
	return u
}

func (h *harness) admin(id string) *models.User {
	h.t.Helper()
	u := &models.User{ID: id, Username: id, IsAdmin: true}
	require.NoError(h.t, h.repos.Users.Create(h.ctx, u))
	return u
}

func (h *harness) post(id, owner string, postedAt time.Time) *models.Document {
	h.t.Helper()
	return h.document(models.CollectionPosts, id, owner, postedAt)
}

func (h *harness) document(collection models.CollectionName, id, owner string, postedAt time.Time) *models.Document {
	h.t.Helper()
	d := &models.Document{ID: id, CollectionName: collection, UserID: owner, PostedAt: postedAt}
	require.NoError(h.t, h.repos.Documents.Create(h.ctx, d))
	return d
}

func (h *harness) cast(docID, voterID string, t models.VoteType) (*models.Document, error) {
	return h.sc.VotingService.CastVote(h.ctx, CastVoteRequest{
		DocumentID: docID,
		Collection: models.CollectionPosts,
		VoteType:   t,
		VoterID:    voterID,
	})
}

func (h *harness) cancel(docID, voterID string) (*models.Document, error) {
	return h.sc.VotingService.CancelVote(h.ctx, CancelVoteRequest{
		DocumentID: docID,
		Collection: models.CollectionPosts,
		VoterID:    voterID,
	})
}

func (h *harness) findUser(id string) *models.User {
	h.t.Helper()
	u, err := h.repos.Users.Find(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, u)
	return u
}

func (h *harness) findPost(id string) *models.Document {
	h.t.Helper()
	d, err := h.repos.Documents.Find(h.ctx, models.CollectionPosts, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, d)
	return d
}

// activeSum recomputes the power sum straight from the vote records
func (h *harness) activeSum(docID string) (float64, int) {
	h.t.Helper()
	votes, err := h.repos.Votes.ListByDocument(h.ctx, docID, models.CollectionPosts)
	require.NoError(h.t, err)

	sum, active := 0.0, 0
	for _, v := range votes {
		if !v.Cancelled {
			sum += v.Power
			active++
		}
	}
	return sum, active
}

func (h *harness) tombstones(docID, voterID string) int {
	h.t.Helper()
	votes, err := h.repos.Votes.ListByDocument(h.ctx, docID, models.CollectionPosts)
	require.NoError(h.t, err)

	n := 0
	for _, v := range votes {
		if v.IsUnvote && v.UserID == voterID {
			n++
		}
	}
	return n
}

// ===============================
// FAULT INJECTION
// ===============================

// flakyVotes fails the first n inserts of active votes with ErrDuplicateVote
type flakyVotes struct {
	repositories.VoteRepository

	mu       sync.Mutex
	failures int
	inserts  int
}

func (f *flakyVotes) InsertVote(ctx context.Context, vote *models.Vote) error {
	f.mu.Lock()
	f.inserts++
	if !vote.IsUnvote && f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return repositories.ErrDuplicateVote
	}
	f.mu.Unlock()
	return f.VoteRepository.InsertVote(ctx, vote)
}

func withFlakyVotes(failures int) (harnessOption, *flakyVotes) {
	f := &flakyVotes{failures: failures}
	return func(_ *config.Config, repos *repositories.Collection) {
		f.VoteRepository = repos.Votes
		repos.Votes = f
	}, f
}

// disconnectingVotes cancels the armed request context right after the next
// successful vote or cancel write, the moment a client would hang up
type disconnectingVotes struct {
	repositories.VoteRepository

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (d *disconnectingVotes) arm(cancel context.CancelFunc) {
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
}

func (d *disconnectingVotes) hangUp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *disconnectingVotes) InsertVote(ctx context.Context, vote *models.Vote) error {
	if err := d.VoteRepository.InsertVote(ctx, vote); err != nil {
		return err
	}
	d.hangUp()
	return nil
}

func (d *disconnectingVotes) CancelWithTombstone(ctx context.Context, voteID string, unvote *models.Vote) (bool, error) {
	flipped, err := d.VoteRepository.CancelWithTombstone(ctx, voteID, unvote)
	if err == nil {
		d.hangUp()
	}
	return flipped, err
}

func (d *disconnectingVotes) SumActivePower(ctx context.Context, documentID string, collection models.CollectionName) (*models.VoteTally, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.VoteRepository.SumActivePower(ctx, documentID, collection)
}

// ctxDocuments and ctxUsers fail writes on a done context the way lib/pq does
type ctxDocuments struct {
	repositories.DocumentRepository
}

func (c ctxDocuments) UpdateVoteFields(ctx context.Context, collection models.CollectionName, id string, fields models.DocumentVoteFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.DocumentRepository.UpdateVoteFields(ctx, collection, id, fields)
}

type ctxUsers struct {
	repositories.UserRepository
}

func (c ctxUsers) IncrementKarma(ctx context.Context, id string, delta float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.UserRepository.IncrementKarma(ctx, id, delta)
}

func (c ctxUsers) IncrementVoteCounters(ctx context.Context, id string, counters []models.VoteCounter, delta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.UserRepository.IncrementVoteCounters(ctx, id, counters, delta)
}

func withDisconnect() (harnessOption, *disconnectingVotes) {
	d := &disconnectingVotes{}
	return func(_ *config.Config, repos *repositories.Collection) {
		d.VoteRepository = repos.Votes
		repos.Votes = d
		repos.Documents = ctxDocuments{DocumentRepository: repos.Documents}
		repos.Users = ctxUsers{UserRepository: repos.Users}
	}, d
}

// brokenTombstones fails every cancel before anything is written
type brokenTombstones struct {
	repositories.VoteRepository
}

func (brokenTombstones) CancelWithTombstone(ctx context.Context, voteID string, unvote *models.Vote) (bool, error) {
	return false, errors.New("tombstone insert failed")
}

func withBrokenTombstones() harnessOption {
	return func(_ *config.Config, repos *repositories.Collection) {
		repos.Votes = brokenTombstones{VoteRepository: repos.Votes}
	}
}

func defaultTestLimits(n int) config.RateLimits {
	return config.RateLimits{PerDay: n, PerHour: n, PerAuthorPerDay: n}
}
