// file: internal/repositories/memory_repository.go
package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"forumkarma/internal/models"
	"forumkarma/internal/scoring"

	"go.uber.org/zap"
)

// The memory providers back DATABASE_PROVIDER=memory and the service tests.
// They honour the same contracts as the postgres repositories, including the
// one-active-vote constraint and the conditional user updates.

// ===============================
// VOTES
// ===============================

type activeVoteKey struct {
	documentID string
	collection models.CollectionName
	userID     string
}

type memoryVoteRepository struct {
	mu     sync.RWMutex
	logger *zap.Logger
	votes  []*models.Vote
	byID   map[string]*models.Vote
	active map[activeVoteKey]string
}

// NewMemoryVoteRepository creates an in-process vote store
func NewMemoryVoteRepository(logger *zap.Logger) VoteRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &memoryVoteRepository{
		logger: logger,
		byID:   make(map[string]*models.Vote),
		active: make(map[activeVoteKey]string),
	}
}

func keyOf(v *models.Vote) activeVoteKey {
	return activeVoteKey{documentID: v.DocumentID, collection: v.CollectionName, userID: v.UserID}
}

func copyVote(v *models.Vote) *models.Vote {
	c := *v
	if v.ExtendedVote != nil {
		c.ExtendedVote = make(models.ExtendedVote, len(v.ExtendedVote))
		for k, t := range v.ExtendedVote {
			c.ExtendedVote[k] = t
		}
	}
	if v.ExtendedPower != nil {
		c.ExtendedPower = make(models.ExtendedScore, len(v.ExtendedPower))
		for k, p := range v.ExtendedPower {
			c.ExtendedPower[k] = p
		}
	}
	return &c
}

func (r *memoryVoteRepository) FindActiveVote(ctx context.Context, documentID string, collection models.CollectionName, userID string) (*models.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.active[activeVoteKey{documentID: documentID, collection: collection, userID: userID}]
	if !ok {
		return nil, nil
	}
	return copyVote(r.byID[id]), nil
}

func (r *memoryVoteRepository) InsertVote(ctx context.Context, vote *models.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[vote.ID]; exists {
		return fmt.Errorf("vote %s already exists", vote.ID)
	}

	stored := copyVote(vote)
	if !stored.Cancelled {
		key := keyOf(stored)
		if _, taken := r.active[key]; taken {
			return fmt.Errorf("insert vote %s: %w", vote.ID, ErrDuplicateVote)
		}
		r.active[key] = stored.ID
	}

	r.votes = append(r.votes, stored)
	r.byID[stored.ID] = stored
	return nil
}

func (r *memoryVoteRepository) CancelWithTombstone(ctx context.Context, voteID string, unvote *models.Vote) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[voteID]
	if !ok {
		return false, fmt.Errorf("cancel vote %s: %w", voteID, ErrNotFound)
	}
	if v.Cancelled {
		return false, nil
	}
	if _, exists := r.byID[unvote.ID]; exists {
		return false, fmt.Errorf("vote %s already exists", unvote.ID)
	}

	v.Cancelled = true
	delete(r.active, keyOf(v))

	stored := copyVote(unvote)
	r.votes = append(r.votes, stored)
	r.byID[stored.ID] = stored
	return true, nil
}

func (r *memoryVoteRepository) SumActivePower(ctx context.Context, documentID string, collection models.CollectionName) (*models.VoteTally, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tally := &models.VoteTally{Extended: models.ExtendedScore{}}
	for _, v := range r.votes {
		if v.Cancelled || v.DocumentID != documentID || v.CollectionName != collection {
			continue
		}
		tally.Power += v.Power
		tally.Count++
		for axis, p := range v.ExtendedPower {
			tally.Extended[axis] += p
		}
	}
	return tally, nil
}

func (r *memoryVoteRepository) RecentVotesByVoter(ctx context.Context, userID string, since time.Time) ([]*models.Vote, error) {
	return r.filterRecent(func(v *models.Vote) bool {
		return v.UserID == userID && !v.Cancelled && !v.VotedAt.Before(since)
	}), nil
}

func (r *memoryVoteRepository) RecentVotesOnAuthor(ctx context.Context, voterID, authorID string, since time.Time) ([]*models.Vote, error) {
	return r.filterRecent(func(v *models.Vote) bool {
		return v.UserID == voterID && v.AuthorID == authorID && !v.Cancelled && !v.VotedAt.Before(since)
	}), nil
}

// filterRecent returns matches newest first
func (r *memoryVoteRepository) filterRecent(match func(*models.Vote) bool) []*models.Vote {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Vote, 0)
	for i := len(r.votes) - 1; i >= 0; i-- {
		if match(r.votes[i]) {
			out = append(out, copyVote(r.votes[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VotedAt.After(out[j].VotedAt)
	})
	return out
}

func (r *memoryVoteRepository) ListByDocument(ctx context.Context, documentID string, collection models.CollectionName) ([]*models.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Vote, 0)
	for _, v := range r.votes {
		if v.DocumentID == documentID && v.CollectionName == collection {
			out = append(out, copyVote(v))
		}
	}
	return out, nil
}

// ===============================
// DOCUMENTS
// ===============================

type documentKey struct {
	collection models.CollectionName
	id         string
}

type memoryDocumentRepository struct {
	mu     sync.RWMutex
	logger *zap.Logger
	docs   map[documentKey]*models.Document
}

// NewMemoryDocumentRepository creates an in-process document store
func NewMemoryDocumentRepository(logger *zap.Logger) DocumentRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &memoryDocumentRepository{
		logger: logger,
		docs:   make(map[documentKey]*models.Document),
	}
}

func (r *memoryDocumentRepository) Find(ctx context.Context, collection models.CollectionName, id string) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.docs[documentKey{collection: collection, id: id}]
	if !ok {
		return nil, nil
	}
	return d.Clone(), nil
}

func (r *memoryDocumentRepository) UpdateVoteFields(ctx context.Context, collection models.CollectionName, id string, fields models.DocumentVoteFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[documentKey{collection: collection, id: id}]
	if !ok {
		return fmt.Errorf("update %s %s: %w", collection, id, ErrNotFound)
	}

	d.BaseScore = fields.BaseScore
	d.Score = fields.Score
	d.VoteCount = fields.VoteCount
	d.ExtendedScore = make(models.ExtendedScore, len(fields.ExtendedScore))
	for axis, v := range fields.ExtendedScore {
		d.ExtendedScore[axis] = v
	}
	d.Inactive = false
	return nil
}

func (r *memoryDocumentRepository) AggregateRescore(ctx context.Context, collection models.CollectionName, q models.RescoreQuery) ([]*models.RescoreCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.RescoreCandidate, 0)
	for key, d := range r.docs {
		if key.collection != collection || d.Inactive != q.Inactive {
			continue
		}
		ts := d.ScoringTimestamp()
		if !scoring.IsScoreable(ts, q.Now) {
			continue
		}

		bonuses := make([]float64, 0, 2)
		if d.IsFrontpaged() {
			bonuses = append(bonuses, q.FrontpageBonus)
		}
		if d.IsCurated() {
			bonuses = append(bonuses, q.CuratedBonus)
		}
		base := scoring.ComputeBaseScoreWithBonuses(d.BaseScore, bonuses...)

		out = append(out, &models.RescoreCandidate{
			ID:        d.ID,
			BaseScore: d.BaseScore,
			OldScore:  d.Score,
			NewScore:  scoring.ComputeScore(base, ts, q.Now, q.DecayFactor),
			ScoringAt: ts,
			Inactive:  d.Inactive,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryDocumentRepository) ApplyRescore(ctx context.Context, collection models.CollectionName, writes []models.RescoreWrite) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0
	for _, w := range writes {
		d, ok := r.docs[documentKey{collection: collection, id: w.ID}]
		if !ok {
			continue
		}
		if w.Score != nil {
			d.Score = *w.Score
		}
		d.Inactive = w.Inactive
		applied++
	}
	return applied, nil
}

func (r *memoryDocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if !doc.CollectionName.IsVoteable() {
		return fmt.Errorf("collection %q is not voteable", doc.CollectionName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := documentKey{collection: doc.CollectionName, id: doc.ID}
	if _, exists := r.docs[key]; exists {
		return fmt.Errorf("%s %s already exists", doc.CollectionName, doc.ID)
	}
	r.docs[key] = doc.Clone()
	return nil
}

// ===============================
// USERS
// ===============================

type memoryUserRepository struct {
	mu     sync.RWMutex
	logger *zap.Logger
	users  map[string]*models.User
}

// NewMemoryUserRepository creates an in-process user store
func NewMemoryUserRepository(logger *zap.Logger) UserRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &memoryUserRepository{
		logger: logger,
		users:  make(map[string]*models.User),
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Counters = make(map[models.VoteCounter]int, len(u.Counters))
	for k, v := range u.Counters {
		c.Counters[k] = v
	}
	if u.ReviewedAt != nil {
		t := *u.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

func (r *memoryUserRepository) Find(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (r *memoryUserRepository) IncrementKarma(ctx context.Context, id string, delta float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return 0, fmt.Errorf("increment karma of %s: %w", id, ErrNotFound)
	}
	u.Karma += delta
	return u.Karma, nil
}

func (r *memoryUserRepository) IncrementVoteCounters(ctx context.Context, id string, counters []models.VoteCounter, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("increment counters of %s: %w", id, ErrNotFound)
	}
	for _, c := range counters {
		if !c.IsValid() {
			return fmt.Errorf("unknown vote counter %q", c)
		}
	}
	for _, c := range counters {
		u.Counters[c] += delta
	}
	return nil
}

func (r *memoryUserRepository) SyncCommentingDisabled(ctx context.Context, id string, threshold float64) (bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return false, false, fmt.Errorf("sync commenting status of %s: %w", id, ErrNotFound)
	}
	want := u.Karma < threshold
	if u.CommentingDisabled == want {
		return false, want, nil
	}
	u.CommentingDisabled = want
	return true, want, nil
}

func (r *memoryUserRepository) FlagForReview(ctx context.Context, id string, threshold int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	if u.NeedsReview || u.ReviewedAt != nil || u.Counters[models.CounterVoteCount] < threshold {
		return false, nil
	}
	u.NeedsReview = true
	return true, nil
}

func (r *memoryUserRepository) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if user.Counters == nil {
		user.Counters = make(map[models.VoteCounter]int, len(models.AllVoteCounters))
	}
	r.users[user.ID] = copyUser(user)
	return nil
}
