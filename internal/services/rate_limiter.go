// file: internal/services/rate_limiter.go
package services

import (
	"context"
	"time"

	"forumkarma/internal/config"
	"forumkarma/internal/models"
	"forumkarma/internal/repositories"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// RateLimiter decides whether a voter may cast another vote right now.
// The check reads recent-vote aggregates without reserving capacity, so two
// concurrent casts can both pass; it is a soft limit.
type RateLimiter struct {
	votes       repositories.VoteRepository
	userLimits  config.RateLimits
	adminLimits config.RateLimits
	clock       clockwork.Clock
	logger      *zap.Logger
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(votes repositories.VoteRepository, userLimits, adminLimits config.RateLimits, clock clockwork.Clock, logger *zap.Logger) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		votes:       votes,
		userLimits:  userLimits,
		adminLimits: adminLimits,
		clock:       clock,
		logger:      logger,
	}
}

// LimitsFor returns the caps that apply to voter
func (l *RateLimiter) LimitsFor(voter *models.User) config.RateLimits {
	if voter.IsAdmin {
		return l.adminLimits
	}
	return l.userLimits
}

// CheckVoteRateLimit returns a RATE_LIMIT ServiceError naming the first
// exceeded window. Self-votes are exempt and never counted.
func (l *RateLimiter) CheckVoteRateLimit(ctx context.Context, voter *models.User, targetAuthorID string) error {
	if voter.ID == targetAuthorID {
		return nil
	}

	limits := l.LimitsFor(voter)
	now := l.clock.Now()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	recent, err := l.votes.RecentVotesByVoter(ctx, voter.ID, dayAgo)
	if err != nil {
		return NewInternalError("Failed to check vote rate limit", err)
	}
	daily := excludeSelfVotes(recent)

	if len(daily) >= limits.PerDay {
		return l.exceeded(voter, LimitPerDay, limits.PerDay, daily, 24*time.Hour)
	}

	hourly := make([]*models.Vote, 0, len(daily))
	for _, v := range daily {
		if !v.VotedAt.Before(hourAgo) {
			hourly = append(hourly, v)
		}
	}
	if len(hourly) >= limits.PerHour {
		return l.exceeded(voter, LimitPerHour, limits.PerHour, hourly, time.Hour)
	}

	onAuthor, err := l.votes.RecentVotesOnAuthor(ctx, voter.ID, targetAuthorID, dayAgo)
	if err != nil {
		return NewInternalError("Failed to check vote rate limit", err)
	}
	onAuthor = excludeSelfVotes(onAuthor)

	if len(onAuthor) >= limits.PerAuthorPerDay {
		return l.exceeded(voter, LimitPerAuthorPerDay, limits.PerAuthorPerDay, onAuthor, 24*time.Hour)
	}

	return nil
}

// exceeded builds the error; the limit resets when the oldest counted vote leaves the window
func (l *RateLimiter) exceeded(voter *models.User, limit string, max int, counted []*models.Vote, window time.Duration) error {
	resetAt := l.clock.Now().Add(window)
	for _, v := range counted {
		if at := v.VotedAt.Add(window); at.Before(resetAt) {
			resetAt = at
		}
	}

	l.logger.Info("Vote rate limit exceeded",
		zap.String("voter_id", voter.ID),
		zap.String("limit", limit),
		zap.Int("max", max),
		zap.Int("count", len(counted)),
		zap.Time("reset_at", resetAt),
	)

	return NewRateLimitError(limit, max, len(counted), resetAt)
}

func excludeSelfVotes(votes []*models.Vote) []*models.Vote {
	out := votes[:0:0]
	for _, v := range votes {
		if !v.IsSelfVote() {
			out = append(out, v)
		}
	}
	return out
}
