// file: internal/services/karma_propagator.go
package services

import (
	"context"
	"errors"
	"fmt"

	"forumkarma/internal/cache"
	"forumkarma/internal/events"
	"forumkarma/internal/models"
	"forumkarma/internal/repositories"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// VotingPowerCacheKey is the cache key of a voter's power preview
func VotingPowerCacheKey(userID string) string {
	return "votingpower:user:" + userID
}

// KarmaPropagator applies the user-side effects of vote events: author karma,
// voter and author counters, the review flag and the commenting flag. It runs
// as a synchronous subscriber; follow-up notifications go out asynchronously.
type KarmaPropagator struct {
	users  repositories.UserRepository
	bus    events.EventBus
	cache  cache.Cache
	clock  clockwork.Clock
	logger *zap.Logger

	reviewThreshold    int
	commentingMinKarma float64
}

// NewKarmaPropagator creates a propagator
func NewKarmaPropagator(
	users repositories.UserRepository,
	bus events.EventBus,
	c cache.Cache,
	reviewThreshold int,
	commentingMinKarma float64,
	clock clockwork.Clock,
	logger *zap.Logger,
) *KarmaPropagator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KarmaPropagator{
		users:              users,
		bus:                bus,
		cache:              c,
		clock:              clock,
		logger:             logger,
		reviewThreshold:    reviewThreshold,
		commentingMinKarma: commentingMinKarma,
	}
}

// Register subscribes the propagator to vote events
func (p *KarmaPropagator) Register(bus events.EventBus) error {
	if err := bus.Subscribe(events.EventVoteCast, events.NewTypedEventHandler(
		"karma-propagator.cast", p.HandleVoteCast)); err != nil {
		return err
	}
	return bus.Subscribe(events.EventVoteCancelled, events.NewTypedEventHandler(
		"karma-propagator.cancel", p.HandleVoteCancelled))
}

// HandleVoteCast applies the effects of a new vote
func (p *KarmaPropagator) HandleVoteCast(ctx context.Context, e *events.VoteCastEvent) error {
	var errs []error

	if err := p.apply(ctx, e.Vote, 1); err != nil {
		errs = append(errs, err)
	}

	// fire-and-forget: a failure here never fails the vote
	if err := p.checkReview(ctx, e.Vote.UserID); err != nil {
		p.logger.Warn("Review flag check failed",
			zap.String("voter_id", e.Vote.UserID),
			zap.Error(err),
		)
	}

	return errors.Join(errs...)
}

// HandleVoteCancelled reverses the effects of the cancelled vote
func (p *KarmaPropagator) HandleVoteCancelled(ctx context.Context, e *events.VoteCancelledEvent) error {
	return p.apply(ctx, e.Vote, -1)
}

// apply moves counters and karma by sign (+1 cast, -1 cancel)
func (p *KarmaPropagator) apply(ctx context.Context, vote *models.Vote, sign int) error {
	var errs []error

	if err := p.users.IncrementVoteCounters(ctx, vote.UserID, models.CastCounters(vote.VoteType), sign); err != nil {
		errs = append(errs, p.missingOrErr("voter counters", vote.UserID, err))
	}

	if vote.IsSelfVote() || !vote.CollectionName.IsKarmaEligible() {
		return errors.Join(errs...)
	}

	if err := p.users.IncrementVoteCounters(ctx, vote.AuthorID, models.ReceivedCounters(vote.VoteType), sign); err != nil {
		errs = append(errs, p.missingOrErr("author counters", vote.AuthorID, err))
	}

	delta := vote.Power * float64(sign)
	if delta == 0 {
		return errors.Join(errs...)
	}

	karma, err := p.users.IncrementKarma(ctx, vote.AuthorID, delta)
	if err != nil {
		errs = append(errs, p.missingOrErr("karma", vote.AuthorID, err))
		return errors.Join(errs...)
	}

	p.logger.Debug("Karma updated",
		zap.String("author_id", vote.AuthorID),
		zap.String("vote_id", vote.ID),
		zap.Float64("delta", delta),
		zap.Float64("karma", karma),
	)

	if p.cache != nil {
		if err := p.cache.Delete(ctx, VotingPowerCacheKey(vote.AuthorID)); err != nil {
			p.logger.Warn("Failed to invalidate voting power cache",
				zap.String("user_id", vote.AuthorID),
				zap.Error(err),
			)
		}
	}

	p.publishAsync(ctx, events.NewKarmaChangedEvent(vote.AuthorID, vote.ID, delta, karma, p.clock.Now()))

	if err := p.syncCommenting(ctx, vote.AuthorID, karma); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// syncCommenting recomputes the flag in storage from the committed karma
func (p *KarmaPropagator) syncCommenting(ctx context.Context, authorID string, karma float64) error {
	changed, disabled, err := p.users.SyncCommentingDisabled(ctx, authorID, p.commentingMinKarma)
	if err != nil {
		return fmt.Errorf("sync commenting status of %s: %w", authorID, err)
	}
	if !changed {
		return nil
	}

	p.logger.Info("Commenting status changed",
		zap.String("author_id", authorID),
		zap.Bool("commenting_disabled", disabled),
		zap.Float64("karma", karma),
	)
	p.publishAsync(ctx, events.NewCommentingStatusChangedEvent(authorID, disabled, karma, p.clock.Now()))
	return nil
}

func (p *KarmaPropagator) checkReview(ctx context.Context, voterID string) error {
	if p.reviewThreshold <= 0 {
		return nil
	}

	flagged, err := p.users.FlagForReview(ctx, voterID, p.reviewThreshold)
	if err != nil || !flagged {
		return err
	}

	count := p.reviewThreshold
	if voter, err := p.users.Find(ctx, voterID); err == nil && voter != nil {
		count = voter.Counter(models.CounterVoteCount)
	}

	p.logger.Info("Voter flagged for review",
		zap.String("voter_id", voterID),
		zap.Int("vote_count", count),
	)
	p.publishAsync(ctx, events.NewUserFlaggedForReviewEvent(voterID, count, p.clock.Now()))
	return nil
}

func (p *KarmaPropagator) publishAsync(ctx context.Context, event events.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.PublishAsync(ctx, event); err != nil {
		p.logger.Warn("Failed to queue event",
			zap.String("event_type", event.GetEventType()),
			zap.Error(err),
		)
	}
}

func (p *KarmaPropagator) missingOrErr(what, userID string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		p.logger.Warn("User missing during karma propagation",
			zap.String("target", what),
			zap.String("user_id", userID),
		)
	}
	return fmt.Errorf("update %s of %s: %w", what, userID, err)
}
