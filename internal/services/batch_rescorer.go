// file: internal/services/batch_rescorer.go
package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"forumkarma/internal/metrics"
	"forumkarma/internal/models"
	"forumkarma/internal/repositories"
	"forumkarma/internal/scoring"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RescoreOptions selects the pass to run
type RescoreOptions struct {
	// Inactive rescans documents already marked inactive
	Inactive bool `json:"inactive"`
	// ForceUpdate writes every candidate regardless of epsilon
	ForceUpdate bool `json:"force_update"`
}

// Pass names the pass for logs and metrics
func (o RescoreOptions) Pass() string {
	if o.Inactive {
		return "inactive"
	}
	return "active"
}

// RescoreCounts tallies one collection or a whole pass
type RescoreCounts struct {
	Scanned     int `json:"scanned"`
	Rescored    int `json:"rescored"`
	Deactivated int `json:"deactivated"`
	Unchanged   int `json:"unchanged"`
}

func (c *RescoreCounts) add(other RescoreCounts) {
	c.Scanned += other.Scanned
	c.Rescored += other.Rescored
	c.Deactivated += other.Deactivated
	c.Unchanged += other.Unchanged
}

// RescoreResult reports what a pass did
type RescoreResult struct {
	RescoreCounts
	Pass        string                                  `json:"pass"`
	Forced      bool                                    `json:"forced"`
	Collections map[models.CollectionName]RescoreCounts `json:"collections"`
	StartedAt   time.Time                               `json:"started_at"`
	Duration    time.Duration                           `json:"duration"`
}

// BatchRescorer recomputes time-decayed scores without a vote event and
// retires documents whose score can no longer move meaningfully. It touches
// only score and inactive, never vote records.
type BatchRescorer struct {
	documents   repositories.DocumentRepository
	calc        scoring.Calculator
	collections []models.CollectionName
	batchSize   int
	workers     int
	metrics     *metrics.VoteMetrics
	clock       clockwork.Clock
	logger      *zap.Logger
}

// BatchRescorerConfig holds the rescorer tunables
type BatchRescorerConfig struct {
	Calculator  scoring.Calculator
	Collections []models.CollectionName
	BatchSize   int
	Workers     int
}

// NewBatchRescorer creates a rescorer
func NewBatchRescorer(
	documents repositories.DocumentRepository,
	config BatchRescorerConfig,
	m *metrics.VoteMetrics,
	clock clockwork.Clock,
	logger *zap.Logger,
) *BatchRescorer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if len(config.Collections) == 0 {
		config.Collections = []models.CollectionName{models.CollectionPosts, models.CollectionComments}
	}

	return &BatchRescorer{
		documents:   documents,
		calc:        config.Calculator,
		collections: config.Collections,
		batchSize:   config.BatchSize,
		workers:     config.Workers,
		metrics:     m,
		clock:       clock,
		logger:      logger,
	}
}

// Run executes one pass over every configured collection
func (r *BatchRescorer) Run(ctx context.Context, opts RescoreOptions) (*RescoreResult, error) {
	now := r.clock.Now()
	pass := opts.Pass()

	result := &RescoreResult{
		Pass:        pass,
		Forced:      opts.ForceUpdate,
		Collections: make(map[models.CollectionName]RescoreCounts, len(r.collections)),
		StartedAt:   now,
	}

	for _, collection := range r.collections {
		counts, err := r.runCollection(ctx, collection, opts, now)
		if err != nil {
			r.metrics.RescoreFailed(pass)
			r.logger.Error("Rescore pass failed",
				zap.String("pass", pass),
				zap.String("collection", string(collection)),
				zap.Error(err),
			)
			result.Duration = r.clock.Since(now)
			return result, fmt.Errorf("rescore %s: %w", collection, err)
		}
		result.Collections[collection] = counts
		result.add(counts)
	}

	result.Duration = r.clock.Since(now)
	r.metrics.ObserveRescore(pass, result.Rescored, result.Deactivated, result.Unchanged, result.Duration)

	r.logger.Info("Rescore pass completed",
		zap.String("pass", pass),
		zap.Bool("forced", opts.ForceUpdate),
		zap.Int("scanned", result.Scanned),
		zap.Int("rescored", result.Rescored),
		zap.Int("deactivated", result.Deactivated),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

func (r *BatchRescorer) runCollection(ctx context.Context, collection models.CollectionName, opts RescoreOptions, now time.Time) (RescoreCounts, error) {
	candidates, err := r.documents.AggregateRescore(ctx, collection, r.calc.RescoreQuery(opts.Inactive, now))
	if err != nil {
		return RescoreCounts{}, fmt.Errorf("aggregate candidates: %w", err)
	}

	writes, counts := r.plan(candidates, opts, now)
	if len(writes) == 0 {
		return counts, nil
	}

	if err := r.apply(ctx, collection, writes); err != nil {
		return counts, err
	}

	return counts, nil
}

// plan decides the write for every candidate
func (r *BatchRescorer) plan(candidates []*models.RescoreCandidate, opts RescoreOptions, now time.Time) ([]models.RescoreWrite, RescoreCounts) {
	epsilon := r.calc.Epsilon()
	window := r.calc.InactivityWindow()

	counts := RescoreCounts{Scanned: len(candidates)}
	writes := make([]models.RescoreWrite, 0, len(candidates))

	for _, c := range candidates {
		significant := math.Abs(c.OldScore-c.NewScore) > epsilon

		switch {
		case significant || opts.ForceUpdate:
			score := c.NewScore
			writes = append(writes, models.RescoreWrite{ID: c.ID, Score: &score, Inactive: false})
			counts.Rescored++
		case !c.Inactive && now.Sub(c.ScoringAt) > window:
			writes = append(writes, models.RescoreWrite{ID: c.ID, Inactive: true})
			counts.Deactivated++
		default:
			counts.Unchanged++
		}
	}

	return writes, counts
}

// apply writes batches concurrently, bounded by the worker count
func (r *BatchRescorer) apply(ctx context.Context, collection models.CollectionName, writes []models.RescoreWrite) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for start := 0; start < len(writes); start += r.batchSize {
		end := min(start+r.batchSize, len(writes))
		batch := writes[start:end]

		g.Go(func() error {
			n, err := r.documents.ApplyRescore(gctx, collection, batch)
			if err != nil {
				return fmt.Errorf("apply batch of %d: %w", len(batch), err)
			}
			if n != len(batch) {
				r.logger.Debug("Rescore batch wrote fewer rows than planned",
					zap.String("collection", string(collection)),
					zap.Int("planned", len(batch)),
					zap.Int("written", n),
				)
			}
			return nil
		})
	}

	return g.Wait()
}
