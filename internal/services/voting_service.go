// file: internal/services/voting_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"forumkarma/internal/cache"
	"forumkarma/internal/events"
	"forumkarma/internal/metrics"
	"forumkarma/internal/models"
	"forumkarma/internal/repositories"
	"forumkarma/internal/scoring"
	"forumkarma/internal/validation"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ===============================
// REQUESTS
// ===============================

// CastVoteRequest describes one cast
type CastVoteRequest struct {
	DocumentID   string                `json:"document_id" validate:"required,max=64"`
	Collection   models.CollectionName `json:"collection" validate:"required,collection"`
	VoteType     models.VoteType       `json:"vote_type" validate:"required"`
	ExtendedVote models.ExtendedVote   `json:"extended_vote,omitempty"`
	VoterID      string                `json:"voter_id" validate:"required,max=64"`

	// SkipRateLimits is set by trusted internal callers
	SkipRateLimits bool `json:"-"`
	// AllowSelfVote marks an intentional self-vote (auto-upvote of new content)
	AllowSelfVote bool `json:"-"`
}

// CancelVoteRequest describes one cancel
type CancelVoteRequest struct {
	DocumentID string                `json:"document_id" validate:"required,max=64"`
	Collection models.CollectionName `json:"collection" validate:"required,collection"`
	VoterID    string                `json:"voter_id" validate:"required,max=64"`
}

// VotingServiceConfig holds the engine tunables
type VotingServiceConfig struct {
	Calculator           scoring.Calculator
	DuplicateVoteRetries int
	PowerCacheTTL        time.Duration
}

// DefaultVotingServiceConfig returns production defaults
func DefaultVotingServiceConfig() VotingServiceConfig {
	return VotingServiceConfig{
		Calculator:           scoring.DefaultCalculator(),
		DuplicateVoteRetries: 1,
		PowerCacheTTL:        time.Minute,
	}
}

// errAlreadyCancelled means another caller flipped the vote first
var errAlreadyCancelled = errors.New("vote already cancelled")

// ===============================
// VOTE ENGINE
// ===============================

// VotingService is the only live writer of vote records. It keeps the
// denormalized baseScore, score and voteCount of documents in step with the
// vote records by recomputing from source after every cast and cancel.
type VotingService struct {
	repos     *repositories.Collection
	voteTypes *VoteTypeRegistry
	limiter   *RateLimiter
	bus       events.EventBus
	cache     cache.Cache
	metrics   *metrics.VoteMetrics
	config    VotingServiceConfig
	clock     clockwork.Clock
	logger    *zap.Logger
	locks     *keyedMutex
}

// NewVotingService creates the vote engine
func NewVotingService(
	repos *repositories.Collection,
	voteTypes *VoteTypeRegistry,
	limiter *RateLimiter,
	bus events.EventBus,
	c cache.Cache,
	m *metrics.VoteMetrics,
	config VotingServiceConfig,
	clock clockwork.Clock,
	logger *zap.Logger,
) *VotingService {
	if voteTypes == nil {
		voteTypes = NewVoteTypeRegistry(nil, nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DuplicateVoteRetries < 0 {
		config.DuplicateVoteRetries = 0
	}
	if config.PowerCacheTTL <= 0 {
		config.PowerCacheTTL = time.Minute
	}

	return &VotingService{
		repos:     repos,
		voteTypes: voteTypes,
		limiter:   limiter,
		bus:       bus,
		cache:     c,
		metrics:   m,
		config:    config,
		clock:     clock,
		logger:    logger,
		locks:     newKeyedMutex(),
	}
}

// CastVote records a vote and returns the updated document. Repeating the
// active vote toggles it off; a different vote replaces it.
func (s *VotingService) CastVote(ctx context.Context, req CastVoteRequest) (*models.Document, error) {
	start := s.clock.Now()
	doc, err := s.castVote(ctx, req)
	s.metrics.ObserveVote("cast", resultLabel(err), s.clock.Since(start))
	return doc, err
}

// CancelVote retracts the voter's active vote and returns the updated document
func (s *VotingService) CancelVote(ctx context.Context, req CancelVoteRequest) (*models.Document, error) {
	start := s.clock.Now()
	doc, err := s.cancelVote(ctx, req)
	s.metrics.ObserveVote("cancel", resultLabel(err), s.clock.Since(start))
	return doc, err
}

// GetVotingPower previews the power a vote of voteType by voterID would carry
func (s *VotingService) GetVotingPower(ctx context.Context, voterID string, voteType models.VoteType) (float64, error) {
	if !s.voteTypes.IsValid(voteType) {
		return 0, NewInvalidVoteTypeError(string(voteType))
	}

	voter, err := s.previewVoter(ctx, voterID)
	if err != nil {
		return 0, err
	}

	return s.voteTypes.Power(voter, voteType)
}

// GetVotingPowerPreview returns the power of every registered vote type
func (s *VotingService) GetVotingPowerPreview(ctx context.Context, voterID string) (map[models.VoteType]float64, error) {
	voter, err := s.previewVoter(ctx, voterID)
	if err != nil {
		return nil, err
	}
	return s.voteTypes.Preview(voter), nil
}

// ===============================
// CAST
// ===============================

func (s *VotingService) castVote(ctx context.Context, req CastVoteRequest) (*models.Document, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError("Invalid vote request", err)
	}
	if !s.voteTypes.IsValid(req.VoteType) {
		return nil, NewInvalidVoteTypeError(string(req.VoteType))
	}
	for _, t := range req.ExtendedVote {
		if !s.voteTypes.IsValid(t) {
			return nil, NewInvalidVoteTypeError(string(t))
		}
	}

	unlock := s.locks.Lock(lockKey(req.DocumentID, req.Collection, req.VoterID))
	defer unlock()

	var doc *models.Document
	operation := func() error {
		var opErr error
		doc, opErr = s.castOnce(ctx, req)
		if errors.Is(opErr, repositories.ErrDuplicateVote) {
			return opErr
		}
		if opErr != nil {
			return backoff.Permanent(opErr)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	err := backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.config.DuplicateVoteRetries)), ctx),
		func(err error, d time.Duration) {
			s.logger.Warn("Duplicate active vote, retrying cast",
				zap.String("document_id", req.DocumentID),
				zap.String("collection", string(req.Collection)),
				zap.String("voter_id", req.VoterID),
				zap.Duration("backoff", d),
			)
		},
	)

	if errors.Is(err, repositories.ErrDuplicateVote) {
		s.logger.Error("Cast failed after duplicate vote retries",
			zap.String("document_id", req.DocumentID),
			zap.String("voter_id", req.VoterID),
			zap.Error(err),
		)
		return nil, NewDuplicateVoteError("Vote could not be recorded, please try again", err)
	}
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (s *VotingService) castOnce(ctx context.Context, req CastVoteRequest) (*models.Document, error) {
	now := s.clock.Now()

	voter, err := s.findVoter(ctx, req.VoterID)
	if err != nil {
		return nil, err
	}

	doc, err := s.findDocument(ctx, req.Collection, req.DocumentID)
	if err != nil {
		return nil, err
	}

	power, err := s.voteTypes.Power(voter, req.VoteType)
	if err != nil {
		return nil, err
	}
	extendedPower, err := s.voteTypes.ExtendedPower(voter, req.ExtendedVote)
	if err != nil {
		return nil, err
	}

	selfVote := doc.IsOwnedBy(voter.ID)
	if selfVote && !req.AllowSelfVote {
		s.logger.Debug("Unflagged self-vote",
			zap.String("document_id", doc.ID),
			zap.String("voter_id", voter.ID),
		)
	}

	existing, err := s.repos.Votes.FindActiveVote(ctx, doc.ID, doc.CollectionName, voter.ID)
	if err != nil {
		return nil, NewInternalError("Failed to load active vote", err)
	}

	// toggling off or replacing never adds a net active vote
	if existing == nil && !req.SkipRateLimits && s.limiter != nil {
		if err := s.limiter.CheckVoteRateLimit(ctx, voter, doc.UserID); err != nil {
			return nil, err
		}
	}

	if existing != nil {
		toggle := existing.VoteType == req.VoteType && existing.ExtendedVote.Equal(req.ExtendedVote)

		after, err := s.cancelActive(ctx, doc, existing)
		switch {
		case errors.Is(err, errAlreadyCancelled):
			// a concurrent cancel already retracted it
		case err != nil:
			return nil, err
		default:
			doc = after
		}

		if toggle {
			s.logger.Info("Vote toggled off",
				zap.String("document_id", doc.ID),
				zap.String("collection", string(doc.CollectionName)),
				zap.String("voter_id", voter.ID),
				zap.String("vote_type", string(req.VoteType)),
			)
			return doc, nil
		}
	}

	vote := &models.Vote{
		ID:             newVoteID(),
		DocumentID:     doc.ID,
		CollectionName: doc.CollectionName,
		UserID:         voter.ID,
		AuthorID:       doc.UserID,
		VoteType:       req.VoteType,
		ExtendedVote:   req.ExtendedVote,
		Power:          power,
		ExtendedPower:  extendedPower,
		VotedAt:        now,
	}

	if err := s.repos.Votes.InsertVote(ctx, vote); err != nil {
		if errors.Is(err, repositories.ErrDuplicateVote) {
			return nil, err
		}
		return nil, NewInternalError("Failed to record vote", err)
	}

	// derived fields follow the stored vote even when the caller goes away
	ctx = context.WithoutCancel(ctx)

	before := doc.Clone()
	after := s.recompute(ctx, doc, now)

	s.logger.Info("Vote cast",
		zap.String("vote_id", vote.ID),
		zap.String("document_id", doc.ID),
		zap.String("collection", string(doc.CollectionName)),
		zap.String("voter_id", voter.ID),
		zap.String("vote_type", string(vote.VoteType)),
		zap.Float64("power", vote.Power),
		zap.Bool("self_vote", selfVote),
		zap.Float64("base_score", after.BaseScore),
		zap.Float64("score", after.Score),
	)

	s.publish(ctx, events.NewVoteCastEvent(vote, before, after, now))

	return after, nil
}

// ===============================
// CANCEL
// ===============================

func (s *VotingService) cancelVote(ctx context.Context, req CancelVoteRequest) (*models.Document, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError("Invalid cancel request", err)
	}

	unlock := s.locks.Lock(lockKey(req.DocumentID, req.Collection, req.VoterID))
	defer unlock()

	doc, err := s.findDocument(ctx, req.Collection, req.DocumentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repos.Votes.FindActiveVote(ctx, doc.ID, doc.CollectionName, req.VoterID)
	if err != nil {
		return nil, NewInternalError("Failed to load active vote", err)
	}
	if existing == nil {
		return nil, NewNotFoundError("No active vote to cancel")
	}

	after, err := s.cancelActive(ctx, doc, existing)
	if errors.Is(err, errAlreadyCancelled) {
		return nil, NewNotFoundError("No active vote to cancel")
	}
	if err != nil {
		return nil, err
	}

	return after, nil
}

// cancelActive flips the vote and writes its tombstone in one storage call,
// then recomputes the document.
func (s *VotingService) cancelActive(ctx context.Context, doc *models.Document, vote *models.Vote) (*models.Document, error) {
	now := s.clock.Now()

	unvote := vote.Tombstone(newVoteID(), now)
	flipped, err := s.repos.Votes.CancelWithTombstone(ctx, vote.ID, unvote)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, NewNotFoundError("Vote not found")
		}
		return nil, NewInternalError("Failed to cancel vote", err)
	}
	if !flipped {
		return nil, errAlreadyCancelled
	}

	ctx = context.WithoutCancel(ctx)

	before := doc.Clone()
	after := s.recompute(ctx, doc, now)

	s.logger.Info("Vote cancelled",
		zap.String("vote_id", vote.ID),
		zap.String("document_id", doc.ID),
		zap.String("collection", string(doc.CollectionName)),
		zap.String("voter_id", vote.UserID),
		zap.Float64("power", vote.Power),
		zap.Float64("base_score", after.BaseScore),
	)

	s.publish(ctx, events.NewVoteCancelledEvent(vote, unvote, before, after, now))

	return after, nil
}

// ===============================
// HELPERS
// ===============================

// recompute resynchronizes the derived fields from the active vote records.
// Failures are logged and the stale document is returned; the next cast or
// cancel on the document repairs it.
func (s *VotingService) recompute(ctx context.Context, doc *models.Document, now time.Time) *models.Document {
	var after *models.Document

	operation := func() error {
		tally, err := s.repos.Votes.SumActivePower(ctx, doc.ID, doc.CollectionName)
		if err != nil {
			return err
		}

		fields := models.DocumentVoteFields{
			BaseScore:     tally.Power,
			Score:         doc.Score,
			VoteCount:     tally.Count,
			ExtendedScore: tally.Extended,
		}
		// a future scoring timestamp keeps the previous score
		if score, ok := s.config.Calculator.DocumentScore(doc, tally.Power, now); ok {
			fields.Score = score
		}

		if err := s.repos.Documents.UpdateVoteFields(ctx, doc.CollectionName, doc.ID, fields); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}

		after = doc.Clone()
		after.BaseScore = fields.BaseScore
		after.Score = fields.Score
		after.VoteCount = fields.VoteCount
		after.ExtendedScore = fields.ExtendedScore
		after.Inactive = false
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)); err != nil {
		s.logger.Error("Failed to recompute document score",
			zap.String("document_id", doc.ID),
			zap.String("collection", string(doc.CollectionName)),
			zap.Error(err),
		)
		return doc.Clone()
	}

	return after
}

// publish runs the synchronous subscribers. Their failures never unwind the vote.
func (s *VotingService) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.metrics.KarmaFailed()
		s.logger.Error("Vote event handlers failed",
			zap.String("event_type", event.GetEventType()),
			zap.String("event_id", event.GetEventID()),
			zap.Error(err),
		)
	}
}

func (s *VotingService) findVoter(ctx context.Context, voterID string) (*models.User, error) {
	voter, err := s.repos.Users.Find(ctx, voterID)
	if err != nil {
		return nil, NewInternalError("Failed to load voter", err)
	}
	if voter == nil {
		return nil, EntityNotFoundError("User", voterID)
	}
	return voter, nil
}

func (s *VotingService) findDocument(ctx context.Context, collection models.CollectionName, id string) (*models.Document, error) {
	doc, err := s.repos.Documents.Find(ctx, collection, id)
	if err != nil {
		return nil, NewInternalError("Failed to load document", err)
	}
	if doc == nil {
		return nil, EntityNotFoundError(string(collection), id)
	}
	return doc, nil
}

// powerSnapshot is the cached part of a voter needed for power previews
type powerSnapshot struct {
	ID    string  `json:"id"`
	Karma float64 `json:"karma"`
}

func (s *VotingService) previewVoter(ctx context.Context, voterID string) (*models.User, error) {
	key := VotingPowerCacheKey(voterID)

	if s.cache != nil {
		var snap powerSnapshot
		if cache.GetJSON(ctx, s.cache, key, &snap) {
			return &models.User{ID: snap.ID, Karma: snap.Karma}, nil
		}
	}

	voter, err := s.findVoter(ctx, voterID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		snap := powerSnapshot{ID: voter.ID, Karma: voter.Karma}
		if err := cache.SetJSON(ctx, s.cache, key, snap, s.config.PowerCacheTTL); err != nil {
			s.logger.Warn("Failed to cache voting power snapshot",
				zap.String("user_id", voterID),
				zap.Error(err),
			)
		}
	}

	return voter, nil
}

func lockKey(documentID string, collection models.CollectionName, voterID string) string {
	return fmt.Sprintf("%s|%s|%s", collection, documentID, voterID)
}

func newVoteID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// resultLabel maps an error to its metrics label
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if serviceErr, ok := AsServiceError(err); ok {
		return strings.ToLower(serviceErr.Type)
	}
	return "error"
}

// ===============================
// KEYED LOCK
// ===============================

// keyedMutex serializes work per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
