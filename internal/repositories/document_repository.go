// file: internal/repositories/document_repository.go
package repositories

import (
	"context"
	"fmt"

	"forumkarma/internal/database"
	"forumkarma/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const documentColumns = `id, user_id, base_score, score, vote_count, extended_score,
	inactive, posted_at, frontpage_date, curated_date`

// documentRepository implements DocumentRepository over the per-collection tables
type documentRepository struct {
	*BaseRepository
}

// NewDocumentRepository creates a postgres document repository
func NewDocumentRepository(db *database.Manager, logger *zap.Logger) DocumentRepository {
	return &documentRepository{
		BaseRepository: NewBaseRepository(db, logger),
	}
}

// Find returns a document or nil when absent
func (r *documentRepository) Find(ctx context.Context, collection models.CollectionName, id string) (*models.Document, error) {
	table, err := r.tableFor(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, documentColumns, table)

	var d models.Document
	err = r.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.UserID, &d.BaseScore, &d.Score, &d.VoteCount, &d.ExtendedScore,
		&d.Inactive, &d.PostedAt, &d.FrontpageDate, &d.CuratedDate,
	)
	if err != nil {
		if r.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s by ID: %w", table, err)
	}

	d.CollectionName = collection
	return &d, nil
}

// UpdateVoteFields writes the recomputed vote-derived fields and reactivates the document
func (r *documentRepository) UpdateVoteFields(ctx context.Context, collection models.CollectionName, id string, fields models.DocumentVoteFields) error {
	table, err := r.tableFor(collection)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET base_score = $2, score = $3, vote_count = $4, extended_score = $5, inactive = FALSE
		WHERE id = $1`, table)

	result, err := r.ExecContext(ctx, query, id, fields.BaseScore, fields.Score, fields.VoteCount, fields.ExtendedScore)
	if err != nil {
		return fmt.Errorf("failed to update vote fields: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// AggregateRescore computes the decayed score of every candidate in SQL. The
// expression mirrors scoring.ComputeScore: millisecond age, +2 offset,
// power of the decay factor and rounding to six decimals.
func (r *documentRepository) AggregateRescore(ctx context.Context, collection models.CollectionName, q models.RescoreQuery) ([]*models.RescoreCandidate, error) {
	table, err := r.tableFor(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		WITH candidates AS (
			SELECT
				id, base_score, score, inactive,
				COALESCE(frontpage_date, posted_at) AS scoring_at,
				base_score
					+ CASE WHEN frontpage_date IS NOT NULL THEN $3::double precision ELSE 0 END
					+ CASE WHEN curated_date IS NOT NULL THEN $4::double precision ELSE 0 END AS base_with_bonuses
			FROM %s
			WHERE inactive = $1 AND COALESCE(frontpage_date, posted_at) <= $2::timestamptz
		)
		SELECT
			id, base_score, score, scoring_at, inactive,
			ROUND((base_with_bonuses / POWER(
				TRUNC(EXTRACT(EPOCH FROM ($2::timestamptz - scoring_at)) * 1000) / 3600000.0 + 2,
				$5::double precision
			))::numeric, 6)::double precision AS new_score
		FROM candidates
		ORDER BY id`, table)

	rows, err := r.QueryContext(ctx, query, q.Inactive, q.Now, q.FrontpageBonus, q.CuratedBonus, q.DecayFactor)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s for rescoring: %w", table, err)
	}
	defer rows.Close()

	candidates := make([]*models.RescoreCandidate, 0)
	for rows.Next() {
		var c models.RescoreCandidate
		if err := rows.Scan(&c.ID, &c.BaseScore, &c.OldScore, &c.ScoringAt, &c.Inactive, &c.NewScore); err != nil {
			return nil, fmt.Errorf("failed to scan rescore candidate: %w", err)
		}
		candidates = append(candidates, &c)
	}

	return candidates, rows.Err()
}

// ApplyRescore writes one batch in a single statement
func (r *documentRepository) ApplyRescore(ctx context.Context, collection models.CollectionName, writes []models.RescoreWrite) (int, error) {
	if len(writes) == 0 {
		return 0, nil
	}

	table, err := r.tableFor(collection)
	if err != nil {
		return 0, err
	}

	ids := make([]string, len(writes))
	scores := make([]float64, len(writes))
	hasScore := make([]bool, len(writes))
	inactive := make([]bool, len(writes))
	for i, w := range writes {
		ids[i] = w.ID
		if w.Score != nil {
			scores[i] = *w.Score
			hasScore[i] = true
		}
		inactive[i] = w.Inactive
	}

	query := fmt.Sprintf(`
		UPDATE %s AS d
		SET score = CASE WHEN w.has_score THEN w.score ELSE d.score END,
		    inactive = w.inactive
		FROM unnest($1::text[], $2::double precision[], $3::boolean[], $4::boolean[])
			AS w(id, score, has_score, inactive)
		WHERE d.id = w.id`, table)

	result, err := r.ExecContext(ctx, query, pq.Array(ids), pq.Array(scores), pq.Array(hasScore), pq.Array(inactive))
	if err != nil {
		return 0, fmt.Errorf("failed to apply rescore batch to %s: %w", table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rescore result: %w", err)
	}
	return int(affected), nil
}

// Create inserts a voteable document
func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	table, err := r.tableFor(doc.CollectionName)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, table, documentColumns)

	_, err = r.ExecContext(ctx, query,
		doc.ID, doc.UserID, doc.BaseScore, doc.Score, doc.VoteCount, doc.ExtendedScore,
		doc.Inactive, doc.PostedAt, doc.FrontpageDate, doc.CuratedDate,
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}
	return nil
}
