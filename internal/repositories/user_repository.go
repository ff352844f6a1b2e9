// file: internal/repositories/user_repository.go
package repositories

import (
	"context"
	"fmt"
	"strings"

	"forumkarma/internal/database"
	"forumkarma/internal/models"

	"go.uber.org/zap"
)

// userRepository implements UserRepository on postgres
type userRepository struct {
	*BaseRepository
}

// NewUserRepository creates a postgres user repository
func NewUserRepository(db *database.Manager, logger *zap.Logger) UserRepository {
	return &userRepository{
		BaseRepository: NewBaseRepository(db, logger),
	}
}

// counterColumns lists the counter columns in AllVoteCounters order
func counterColumns() string {
	cols := make([]string, len(models.AllVoteCounters))
	for i, c := range models.AllVoteCounters {
		cols[i] = string(c)
	}
	return strings.Join(cols, ", ")
}

// ===============================
// BASIC CRUD OPERATIONS
// ===============================

// Create inserts a user with zeroed counters
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, karma, is_admin, needs_review, commenting_disabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.QueryRowContext(ctx, query,
		user.ID, user.Username, user.Karma, user.IsAdmin, user.NeedsReview, user.CommentingDisabled,
	).Scan(&user.CreatedAt)
	if err != nil {
		r.GetLogger().Error("Failed to create user",
			zap.Error(err),
			zap.String("user_id", user.ID),
			zap.String("username", user.Username),
		)
		return fmt.Errorf("failed to create user: %w", err)
	}

	if user.Counters == nil {
		user.Counters = make(map[models.VoteCounter]int, len(models.AllVoteCounters))
	}
	return nil
}

// Find retrieves a user and its vote counters
func (r *userRepository) Find(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, karma, is_admin, needs_review, reviewed_at,
			commenting_disabled, created_at, ` + counterColumns() + `
		FROM users
		WHERE id = $1`

	var user models.User
	counts := make([]int, len(models.AllVoteCounters))

	dest := []interface{}{
		&user.ID, &user.Username, &user.Karma, &user.IsAdmin, &user.NeedsReview,
		&user.ReviewedAt, &user.CommentingDisabled, &user.CreatedAt,
	}
	for i := range counts {
		dest = append(dest, &counts[i])
	}

	if err := r.QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		if r.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	user.Counters = make(map[models.VoteCounter]int, len(counts))
	for i, c := range models.AllVoteCounters {
		user.Counters[c] = counts[i]
	}
	return &user, nil
}

// ===============================
// KARMA OPERATIONS
// ===============================

// IncrementKarma adds delta in a single statement so concurrent votes never lose updates
func (r *userRepository) IncrementKarma(ctx context.Context, id string, delta float64) (float64, error) {
	var karma float64
	err := r.QueryRowContext(ctx,
		`UPDATE users SET karma = karma + $2 WHERE id = $1 RETURNING karma`,
		id, delta,
	).Scan(&karma)
	if err != nil {
		if r.IsNotFound(err) {
			return 0, fmt.Errorf("increment karma of %s: %w", id, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to increment karma: %w", err)
	}
	return karma, nil
}

// IncrementVoteCounters adds delta to each counter column
func (r *userRepository) IncrementVoteCounters(ctx context.Context, id string, counters []models.VoteCounter, delta int) error {
	if len(counters) == 0 {
		return nil
	}

	sets := make([]string, 0, len(counters))
	for _, c := range counters {
		if !c.IsValid() {
			return fmt.Errorf("unknown vote counter %q", c)
		}
		sets = append(sets, fmt.Sprintf("%s = %s + $2", c, c))
	}

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $1`, strings.Join(sets, ", "))

	result, err := r.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("failed to increment vote counters: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read counter update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("increment counters of %s: %w", id, ErrNotFound)
	}
	return nil
}

// SyncCommentingDisabled recomputes the flag from the committed karma value.
// The WHERE clause makes the write a no-op when the flag is already correct.
func (r *userRepository) SyncCommentingDisabled(ctx context.Context, id string, threshold float64) (bool, bool, error) {
	var disabled bool
	err := r.QueryRowContext(ctx, `
		UPDATE users
		SET commenting_disabled = (karma < $2)
		WHERE id = $1 AND commenting_disabled IS DISTINCT FROM (karma < $2)
		RETURNING commenting_disabled`,
		id, threshold,
	).Scan(&disabled)
	if err == nil {
		return true, disabled, nil
	}
	if !r.IsNotFound(err) {
		return false, false, fmt.Errorf("failed to sync commenting status: %w", err)
	}

	// nothing changed; report the current value
	if err := r.QueryRowContext(ctx, `SELECT commenting_disabled FROM users WHERE id = $1`, id).Scan(&disabled); err != nil {
		if r.IsNotFound(err) {
			return false, false, fmt.Errorf("sync commenting status of %s: %w", id, ErrNotFound)
		}
		return false, false, fmt.Errorf("failed to read commenting status: %w", err)
	}
	return false, disabled, nil
}

// FlagForReview sets needs_review once the voter crosses the threshold
func (r *userRepository) FlagForReview(ctx context.Context, id string, threshold int) (bool, error) {
	result, err := r.ExecContext(ctx, `
		UPDATE users
		SET needs_review = TRUE
		WHERE id = $1 AND NOT needs_review AND reviewed_at IS NULL AND vote_count >= $2`,
		id, threshold,
	)
	if err != nil {
		return false, fmt.Errorf("failed to flag user for review: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read review flag result: %w", err)
	}
	return affected == 1, nil
}
