// file: internal/repositories/vote_repository.go
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"forumkarma/internal/database"
	"forumkarma/internal/models"

	"go.uber.org/zap"
)

const voteColumns = `id, document_id, collection_name, user_id, author_id, vote_type,
	extended_vote, power, extended_power, voted_at, cancelled, is_unvote`

// voteRepository implements VoteRepository on postgres
type voteRepository struct {
	*BaseRepository
}

// NewVoteRepository creates a postgres vote repository
func NewVoteRepository(db *database.Manager, logger *zap.Logger) VoteRepository {
	return &voteRepository{
		BaseRepository: NewBaseRepository(db, logger),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVote(row rowScanner) (*models.Vote, error) {
	var v models.Vote
	err := row.Scan(
		&v.ID, &v.DocumentID, &v.CollectionName, &v.UserID, &v.AuthorID, &v.VoteType,
		&v.ExtendedVote, &v.Power, &v.ExtendedPower, &v.VotedAt, &v.Cancelled, &v.IsUnvote,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FindActiveVote returns the active vote of a voter on a document, or nil
func (r *voteRepository) FindActiveVote(ctx context.Context, documentID string, collection models.CollectionName, userID string) (*models.Vote, error) {
	query := `
		SELECT ` + voteColumns + `
		FROM votes
		WHERE document_id = $1 AND collection_name = $2 AND user_id = $3 AND NOT cancelled
		LIMIT 1`

	vote, err := scanVote(r.QueryRowContext(ctx, query, documentID, collection, userID))
	if err != nil {
		if r.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active vote: %w", err)
	}
	return vote, nil
}

// InsertVote appends a vote or tombstone record
func (r *voteRepository) InsertVote(ctx context.Context, vote *models.Vote) error {
	query := `
		INSERT INTO votes (` + voteColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.ExecContext(ctx, query,
		vote.ID, vote.DocumentID, vote.CollectionName, vote.UserID, vote.AuthorID, vote.VoteType,
		vote.ExtendedVote, vote.Power, vote.ExtendedPower, vote.VotedAt, vote.Cancelled, vote.IsUnvote,
	)
	if err != nil {
		if r.IsUniqueViolation(err) {
			return fmt.Errorf("insert vote %s: %w", vote.ID, ErrDuplicateVote)
		}
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

// CancelWithTombstone flips the cancelled flag and appends the unvote in one
// transaction. Only the caller that observes flipped == true writes a tombstone.
func (r *voteRepository) CancelWithTombstone(ctx context.Context, voteID string, unvote *models.Vote) (bool, error) {
	flipped := false

	err := r.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE votes SET cancelled = TRUE WHERE id = $1 AND NOT cancelled`, voteID)
		if err != nil {
			return fmt.Errorf("failed to cancel vote: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read cancel result: %w", err)
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM votes WHERE id = $1)`, voteID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check vote existence: %w", err)
			}
			if !exists {
				return fmt.Errorf("cancel vote %s: %w", voteID, ErrNotFound)
			}
			return nil
		}

		query := `
			INSERT INTO votes (` + voteColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
		_, err = tx.ExecContext(ctx, query,
			unvote.ID, unvote.DocumentID, unvote.CollectionName, unvote.UserID, unvote.AuthorID, unvote.VoteType,
			unvote.ExtendedVote, unvote.Power, unvote.ExtendedPower, unvote.VotedAt, unvote.Cancelled, unvote.IsUnvote,
		)
		if err != nil {
			return fmt.Errorf("failed to insert unvote: %w", err)
		}

		flipped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return flipped, nil
}

// SumActivePower recomputes the derived vote fields from the source records
func (r *voteRepository) SumActivePower(ctx context.Context, documentID string, collection models.CollectionName) (*models.VoteTally, error) {
	tally := &models.VoteTally{Extended: models.ExtendedScore{}}

	query := `
		SELECT COALESCE(SUM(power), 0), COUNT(*)
		FROM votes
		WHERE document_id = $1 AND collection_name = $2 AND NOT cancelled`
	if err := r.QueryRowContext(ctx, query, documentID, collection).Scan(&tally.Power, &tally.Count); err != nil {
		return nil, fmt.Errorf("failed to sum active power: %w", err)
	}

	extendedQuery := `
		SELECT e.key, SUM(e.value::double precision)
		FROM votes v, jsonb_each_text(v.extended_power) e
		WHERE v.document_id = $1 AND v.collection_name = $2 AND NOT v.cancelled
		GROUP BY e.key`
	rows, err := r.QueryContext(ctx, extendedQuery, documentID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to sum extended power: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var axis string
		var sum float64
		if err := rows.Scan(&axis, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan extended power: %w", err)
		}
		tally.Extended[axis] = sum
	}

	return tally, rows.Err()
}

// RecentVotesByVoter feeds the per-day and per-hour rate limits
func (r *voteRepository) RecentVotesByVoter(ctx context.Context, userID string, since time.Time) ([]*models.Vote, error) {
	query := `
		SELECT ` + voteColumns + `
		FROM votes
		WHERE user_id = $1 AND voted_at >= $2 AND NOT cancelled
		ORDER BY voted_at DESC`

	return r.listVotes(ctx, query, userID, since)
}

// RecentVotesOnAuthor feeds the per-author rate limit
func (r *voteRepository) RecentVotesOnAuthor(ctx context.Context, voterID, authorID string, since time.Time) ([]*models.Vote, error) {
	query := `
		SELECT ` + voteColumns + `
		FROM votes
		WHERE user_id = $1 AND author_id = $2 AND voted_at >= $3 AND NOT cancelled
		ORDER BY voted_at DESC`

	return r.listVotes(ctx, query, voterID, authorID, since)
}

// ListByDocument returns the full vote history of a document
func (r *voteRepository) ListByDocument(ctx context.Context, documentID string, collection models.CollectionName) ([]*models.Vote, error) {
	query := `
		SELECT ` + voteColumns + `
		FROM votes
		WHERE document_id = $1 AND collection_name = $2
		ORDER BY voted_at, is_unvote`

	return r.listVotes(ctx, query, documentID, collection)
}

func (r *voteRepository) listVotes(ctx context.Context, query string, args ...interface{}) ([]*models.Vote, error) {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	votes := make([]*models.Vote, 0)
	for rows.Next() {
		vote, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, vote)
	}

	return votes, rows.Err()
}
