package events

import (
	"time"

	"forumkarma/internal/models"
)

const (
	EventVoteCast                = "vote.cast"
	EventVoteCancelled           = "vote.cancelled"
	EventKarmaChanged            = "user.karma_changed"
	EventUserFlaggedForReview    = "user.flagged_for_review"
	EventCommentingStatusChanged = "user.commenting_status_changed"
)

// ===============================
// VOTE EVENTS
// ===============================

// VoteCastEvent is published synchronously after a vote record is inserted
// and the document fields are recomputed
type VoteCastEvent struct {
	BaseEvent
	Vote   *models.Vote     `json:"vote"`
	Before *models.Document `json:"before"`
	After  *models.Document `json:"after"`
}

// NewVoteCastEvent creates a vote cast event
func NewVoteCastEvent(vote *models.Vote, before, after *models.Document, at time.Time) *VoteCastEvent {
	return &VoteCastEvent{
		BaseEvent: newBaseEvent(EventVoteCast, vote.UserID, at),
		Vote:      vote,
		Before:    before,
		After:     after,
	}
}

// VoteCancelledEvent is published synchronously after a vote is cancelled.
// Vote is the original record; Unvote is the tombstone that negates it.
type VoteCancelledEvent struct {
	BaseEvent
	Vote   *models.Vote     `json:"vote"`
	Unvote *models.Vote     `json:"unvote"`
	Before *models.Document `json:"before"`
	After  *models.Document `json:"after"`
}

// NewVoteCancelledEvent creates a vote cancelled event
func NewVoteCancelledEvent(vote, unvote *models.Vote, before, after *models.Document, at time.Time) *VoteCancelledEvent {
	return &VoteCancelledEvent{
		BaseEvent: newBaseEvent(EventVoteCancelled, vote.UserID, at),
		Vote:      vote,
		Unvote:    unvote,
		Before:    before,
		After:     after,
	}
}

// ===============================
// USER EVENTS
// ===============================

// KarmaChangedEvent feeds downstream consumers of karma changes
type KarmaChangedEvent struct {
	BaseEvent
	AuthorID string  `json:"author_id"`
	Delta    float64 `json:"delta"`
	Karma    float64 `json:"karma"`
	VoteID   string  `json:"vote_id"`
}

// NewKarmaChangedEvent creates a karma changed event
func NewKarmaChangedEvent(authorID, voteID string, delta, karma float64, at time.Time) *KarmaChangedEvent {
	return &KarmaChangedEvent{
		BaseEvent: newBaseEvent(EventKarmaChanged, authorID, at),
		AuthorID:  authorID,
		Delta:     delta,
		Karma:     karma,
		VoteID:    voteID,
	}
}

// UserFlaggedForReviewEvent is published when a voter crosses the review threshold
type UserFlaggedForReviewEvent struct {
	BaseEvent
	VoterID   string `json:"voter_id"`
	VoteCount int    `json:"vote_count"`
}

// NewUserFlaggedForReviewEvent creates a review flag event
func NewUserFlaggedForReviewEvent(voterID string, voteCount int, at time.Time) *UserFlaggedForReviewEvent {
	return &UserFlaggedForReviewEvent{
		BaseEvent: newBaseEvent(EventUserFlaggedForReview, voterID, at),
		VoterID:   voterID,
		VoteCount: voteCount,
	}
}

// CommentingStatusChangedEvent is published when an author's commenting flag flips
type CommentingStatusChangedEvent struct {
	BaseEvent
	AuthorID string  `json:"author_id"`
	Disabled bool    `json:"disabled"`
	Karma    float64 `json:"karma"`
}

// NewCommentingStatusChangedEvent creates a commenting status event
func NewCommentingStatusChangedEvent(authorID string, disabled bool, karma float64, at time.Time) *CommentingStatusChangedEvent {
	return &CommentingStatusChangedEvent{
		BaseEvent: newBaseEvent(EventCommentingStatusChanged, authorID, at),
		AuthorID:  authorID,
		Disabled:  disabled,
		Karma:     karma,
	}
}
