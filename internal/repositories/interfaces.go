// file: internal/repositories/interfaces.go
package repositories

import (
	"context"
	"errors"
	"time"

	"forumkarma/internal/models"
)

var (
	// ErrNotFound is returned when an addressed record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateVote is returned when an insert would create a second active
	// vote for the same (document, collection, voter)
	ErrDuplicateVote = errors.New("duplicate active vote")
)

// ===============================
// CORE REPOSITORY INTERFACES
// ===============================

// VoteRepository persists immutable vote and unvote records
type VoteRepository interface {
	// FindActiveVote returns the single non-cancelled vote, or nil when none exists
	FindActiveVote(ctx context.Context, documentID string, collection models.CollectionName, userID string) (*models.Vote, error)

	// InsertVote appends a vote or unvote record. Returns ErrDuplicateVote when
	// the one-active-vote constraint would be violated.
	InsertVote(ctx context.Context, vote *models.Vote) error

	// CancelWithTombstone flips cancelled to true and appends the unvote record
	// atomically. flipped is false when the vote was already cancelled, in which
	// case nothing is written. Returns ErrNotFound for unknown ids.
	CancelWithTombstone(ctx context.Context, voteID string, unvote *models.Vote) (flipped bool, err error)

	// SumActivePower recomputes the power sum, active count and per-axis
	// extended sums over the non-cancelled votes of a document
	SumActivePower(ctx context.Context, documentID string, collection models.CollectionName) (*models.VoteTally, error)

	// RecentVotesByVoter lists non-cancelled votes cast by userID since the given time
	RecentVotesByVoter(ctx context.Context, userID string, since time.Time) ([]*models.Vote, error)

	// RecentVotesOnAuthor lists non-cancelled votes cast by voterID on authorID's content
	RecentVotesOnAuthor(ctx context.Context, voterID, authorID string, since time.Time) ([]*models.Vote, error)

	// ListByDocument returns every record for a document, tombstones included, oldest first
	ListByDocument(ctx context.Context, documentID string, collection models.CollectionName) ([]*models.Vote, error)
}

// DocumentRepository reads and writes the denormalized vote fields of voteable content
type DocumentRepository interface {
	// Find returns the document, or nil when it does not exist
	Find(ctx context.Context, collection models.CollectionName, id string) (*models.Document, error)

	// UpdateVoteFields persists baseScore, score, voteCount and extendedScore
	// and clears inactive
	UpdateVoteFields(ctx context.Context, collection models.CollectionName, id string, fields models.DocumentVoteFields) error

	// AggregateRescore projects every candidate of a rescoring pass through the
	// time-decay formula inside storage
	AggregateRescore(ctx context.Context, collection models.CollectionName, query models.RescoreQuery) ([]*models.RescoreCandidate, error)

	// ApplyRescore writes a batch of rescorer results
	ApplyRescore(ctx context.Context, collection models.CollectionName, writes []models.RescoreWrite) (int, error)

	// Create inserts a document (seeding and tests)
	Create(ctx context.Context, doc *models.Document) error
}

// UserRepository holds the karma state of accounts
type UserRepository interface {
	// Find returns the user, or nil when it does not exist
	Find(ctx context.Context, id string) (*models.User, error)

	// IncrementKarma atomically adds delta and returns the post-increment karma
	IncrementKarma(ctx context.Context, id string, delta float64) (float64, error)

	// IncrementVoteCounters atomically adds delta to each named counter
	IncrementVoteCounters(ctx context.Context, id string, counters []models.VoteCounter, delta int) error

	// SyncCommentingDisabled sets commentingDisabled = karma < threshold in a
	// single conditional write. changed reports whether the flag flipped.
	SyncCommentingDisabled(ctx context.Context, id string, threshold float64) (changed bool, disabled bool, err error)

	// FlagForReview marks an unreviewed user whose vote_count reached threshold.
	// flagged is true only for the call that set the flag.
	FlagForReview(ctx context.Context, id string, threshold int) (flagged bool, err error)

	// Create inserts a user (seeding and tests)
	Create(ctx context.Context, user *models.User) error
}
