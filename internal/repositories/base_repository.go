package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"forumkarma/internal/database"
	"forumkarma/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// uniqueViolation is the postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// collectionTables maps each voteable collection to its table. Only names in
// this map are ever interpolated into SQL.
var collectionTables = map[models.CollectionName]string{
	models.CollectionPosts:     "posts",
	models.CollectionComments:  "comments",
	models.CollectionTagRels:   "tag_rels",
	models.CollectionRevisions: "revisions",
	models.CollectionTags:      "tags",
}

// BaseRepository provides common database operations
type BaseRepository struct {
	db     *database.Manager
	logger *zap.Logger
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *database.Manager, logger *zap.Logger) *BaseRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseRepository{
		db:     db,
		logger: logger,
	}
}

// ===============================
// CORE DATABASE OPERATIONS
// ===============================

// ExecContext executes a statement and logs slow or failed queries
func (r *BaseRepository) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := r.db.ExecContext(ctx, query, args...)
	r.logSlow(query, time.Since(start), 100*time.Millisecond)
	return result, err
}

// QueryContext executes a query that returns rows
func (r *BaseRepository) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	r.logSlow(query, time.Since(start), 100*time.Millisecond)
	return rows, err
}

// QueryRowContext executes a query that returns a single row
func (r *BaseRepository) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := r.db.QueryRowContext(ctx, query, args...)
	r.logSlow(query, time.Since(start), 50*time.Millisecond)
	return row
}

func (r *BaseRepository) logSlow(query string, duration, threshold time.Duration) {
	if duration > threshold {
		r.logger.Warn("Slow query detected",
			zap.String("query", truncateQuery(query)),
			zap.Duration("duration", duration),
		)
	}
}

// ===============================
// TRANSACTION HELPERS
// ===============================

// WithTransaction executes a function within a database transaction
func (r *BaseRepository) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("cause", err),
			)
		}
		return err
	}

	return tx.Commit()
}

// ===============================
// UTILITY METHODS
// ===============================

// IsNotFound checks if error is a "not found" error
func (r *BaseRepository) IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err is a postgres unique_violation
func (r *BaseRepository) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// tableFor resolves the table backing a collection
func (r *BaseRepository) tableFor(collection models.CollectionName) (string, error) {
	table, ok := collectionTables[collection]
	if !ok {
		return "", fmt.Errorf("collection %q is not voteable", collection)
	}
	return table, nil
}

// GetLogger returns the logger instance
func (r *BaseRepository) GetLogger() *zap.Logger {
	return r.logger
}

func truncateQuery(query string) string {
	const maxLength = 200
	if len(query) <= maxLength {
		return query
	}
	return query[:maxLength] + "..."
}
