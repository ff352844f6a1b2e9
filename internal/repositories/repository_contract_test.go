package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"forumkarma/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contractTests runs the same behavioural checks against every provider
func contractTests(t *testing.T, newCollection func(t *testing.T) *Collection) {
	t.Run("one active vote per voter", func(t *testing.T) {
		repos := newCollection(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		first := testVote("v1", "post-1", "alice", "bob", 1, now)
		require.NoError(t, repos.Votes.InsertVote(ctx, first))

		err := repos.Votes.InsertVote(ctx, testVote("v2", "post-1", "alice", "bob", 1, now))
		assert.True(t, errors.Is(err, ErrDuplicateVote))

		active, err := repos.Votes.FindActiveVote(ctx, "post-1", models.CollectionPosts, "alice")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, "v1", active.ID)

		none, err := repos.Votes.FindActiveVote(ctx, "post-1", models.CollectionPosts, "carol")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("cancel flips exactly once", func(t *testing.T) {
		repos := newCollection(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		original := testVote("v1", "post-1", "alice", "bob", 2, now)
		require.NoError(t, repos.Votes.InsertVote(ctx, original))

		var wg sync.WaitGroup
		var mu sync.Mutex
		flips := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				unvote := original.Tombstone(fmt.Sprintf("v1-unvote-%d", i), now)
				flipped, err := repos.Votes.CancelWithTombstone(ctx, "v1", unvote)
				assert.NoError(t, err)
				if flipped {
					mu.Lock()
					flips++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, flips)

		history, err := repos.Votes.ListByDocument(ctx, "post-1", models.CollectionPosts)
		require.NoError(t, err)
		unvotes := 0
		for _, v := range history {
			if v.IsUnvote {
				unvotes++
				assert.Equal(t, -2.0, v.Power)
				assert.True(t, v.Cancelled)
			}
		}
		assert.Equal(t, 1, unvotes)

		_, err = repos.Votes.CancelWithTombstone(ctx, "missing", original.Tombstone("missing-unvote", now))
		assert.True(t, errors.Is(err, ErrNotFound))

		// slot is free again
		require.NoError(t, repos.Votes.InsertVote(ctx, testVote("v2", "post-1", "alice", "bob", 1, now)))
	})

	t.Run("sum covers only active records", func(t *testing.T) {
		repos := newCollection(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		a := testVote("v1", "post-1", "alice", "bob", 2, now)
		a.ExtendedPower = models.ExtendedScore{"agreement": 1}
		require.NoError(t, repos.Votes.InsertVote(ctx, a))
		require.NoError(t, repos.Votes.InsertVote(ctx, testVote("v2", "post-1", "carol", "bob", 6, now)))
		require.NoError(t, repos.Votes.InsertVote(ctx, testVote("v3", "post-1", "dave", "bob", -1, now)))

		stored := testVote("v3", "post-1", "dave", "bob", -1, now)
		flipped, err := repos.Votes.CancelWithTombstone(ctx, "v3", stored.Tombstone("v3-unvote", now))
		require.NoError(t, err)
		require.True(t, flipped)

		tally, err := repos.Votes.SumActivePower(ctx, "post-1", models.CollectionPosts)
		require.NoError(t, err)
		assert.InDelta(t, 8.0, tally.Power, 1e-9)
		assert.Equal(t, 2, tally.Count)
		assert.InDelta(t, 1.0, tally.Extended["agreement"], 1e-9)

		history, err := repos.Votes.ListByDocument(ctx, "post-1", models.CollectionPosts)
		require.NoError(t, err)
		assert.Len(t, history, 4)
	})

	t.Run("failed tombstone leaves the vote active", func(t *testing.T) {
		repos := newCollection(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		original := testVote("v1", "post-1", "alice", "bob", 1, now)
		require.NoError(t, repos.Votes.InsertVote(ctx, original))
		require.NoError(t, repos.Votes.InsertVote(ctx, testVote("taken", "post-2", "carol", "bob", 1, now)))

		// the tombstone id collides with an existing record
		flipped, err := repos.Votes.CancelWithTombstone(ctx, "v1", original.Tombstone("taken", now))
		require.Error(t, err)
		assert.False(t, flipped)

		active, err := repos.Votes.FindActiveVote(ctx, "post-1", models.CollectionPosts, "alice")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.False(t, active.Cancelled)

		history, err := repos.Votes.ListByDocument(ctx, "post-1", models.CollectionPosts)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("recent votes exclude cancelled and old records", func(t *testing.T) {
		repos := newCollection(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, repos.Votes.InsertVote(ctx, testVote("old", "post-1", "alice", "bob", 1, now.Add(-48*time.Hour))))
		require.NoError(t, repos.Votes.InsertVote(ctx, testVote("new", "post-2", "alice", "bob", 1, now)))
		require.NoError(t, repos.Votes.InsertVote(ctx, testVote("other", "post-3", "alice", "erin", 1, now)))
		require.NoError(t, repos.Votes.InsertVote(ctx, testVote("gone", "post-4", "alice", "bob", 1, now)))
		gone := testVote("gone", "post-4", "alice", "bob", 1, now)
		_, err := repos.Votes.CancelWithTombstone(ctx, "gone", gone.Tombstone("gone-unvote", now))
		require.NoError(t, err)

		byVoter, err := repos.Votes.RecentVotesByVoter(ctx, "alice", now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Len(t, byVoter, 2)

		onAuthor, err := repos.Votes.RecentVotesOnAuthor(ctx, "alice", "bob", now.Add(-24*time.Hour))
		require.NoError(t, err)
		require.Len(t, onAuthor, 1)
		assert.Equal(t, "new", onAuthor[0].ID)
	})

	t.Run("document vote fields and rescore", func(t *testing.T) {
		repos := newCollection(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		fresh := testDocument("fresh", now.Add(-2*time.Hour))
		future := testDocument("future", now.Add(time.Hour))
		require.NoError(t, repos.Documents.Create(ctx, fresh))
		require.NoError(t, repos.Documents.Create(ctx, future))

		require.NoError(t, repos.Documents.UpdateVoteFields(ctx, models.CollectionPosts, "fresh", models.DocumentVoteFields{
			BaseScore:     10,
			Score:         1,
			VoteCount:     3,
			ExtendedScore: models.ExtendedScore{"agreement": 2},
		}))

		got, err := repos.Documents.Find(ctx, models.CollectionPosts, "fresh")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 10.0, got.BaseScore)
		assert.Equal(t, 3, got.VoteCount)
		assert.False(t, got.Inactive)

		missing, err := repos.Documents.Find(ctx, models.CollectionPosts, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		err = repos.Documents.UpdateVoteFields(ctx, models.CollectionPosts, "nope", models.DocumentVoteFields{})
		assert.True(t, errors.Is(err, ErrNotFound))

		candidates, err := repos.Documents.AggregateRescore(ctx, models.CollectionPosts, models.RescoreQuery{
			Inactive:    false,
			Now:         now,
			DecayFactor: 1.15,
		})
		require.NoError(t, err)
		require.Len(t, candidates, 1, "documents scored from the future are skipped")
		assert.Equal(t, "fresh", candidates[0].ID)
		assert.InDelta(t, 2.030631, candidates[0].NewScore, 1e-6)

		score := candidates[0].NewScore
		applied, err := repos.Documents.ApplyRescore(ctx, models.CollectionPosts, []models.RescoreWrite{
			{ID: "fresh", Score: &score},
			{ID: "future", Inactive: true},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, applied)

		got, err = repos.Documents.Find(ctx, models.CollectionPosts, "fresh")
		require.NoError(t, err)
		assert.InDelta(t, 2.030631, got.Score, 1e-6)

		got, err = repos.Documents.Find(ctx, models.CollectionPosts, "future")
		require.NoError(t, err)
		assert.True(t, got.Inactive)
	})

	t.Run("user karma and flags", func(t *testing.T) {
		repos := newCollection(t)
		ctx := context.Background()

		require.NoError(t, repos.Users.Create(ctx, &models.User{ID: "bob", Username: "bob"}))

		karma, err := repos.Users.IncrementKarma(ctx, "bob", -6)
		require.NoError(t, err)
		assert.Equal(t, -6.0, karma)

		changed, disabled, err := repos.Users.SyncCommentingDisabled(ctx, "bob", -5)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, disabled)

		changed, disabled, err = repos.Users.SyncCommentingDisabled(ctx, "bob", -5)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, disabled)

		require.NoError(t, repos.Users.IncrementVoteCounters(ctx, "bob",
			models.CastCounters(models.VoteTypeBigUpvote), 20))

		flagged, err := repos.Users.FlagForReview(ctx, "bob", 20)
		require.NoError(t, err)
		assert.True(t, flagged)

		flagged, err = repos.Users.FlagForReview(ctx, "bob", 20)
		require.NoError(t, err)
		assert.False(t, flagged)

		user, err := repos.Users.Find(ctx, "bob")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.True(t, user.NeedsReview)
		assert.Equal(t, 20, user.Counter(models.CounterVoteCount))
		assert.Equal(t, 20, user.Counter(models.CounterBigUpvoteCount))
		assert.Equal(t, 0, user.Counter(models.CounterSmallUpvoteCount))

		_, err = repos.Users.IncrementKarma(ctx, "ghost", 1)
		assert.True(t, errors.Is(err, ErrNotFound))

		err = repos.Users.IncrementVoteCounters(ctx, "bob", []models.VoteCounter{"karma"}, 1)
		assert.Error(t, err)
	})

	t.Run("concurrent karma increments are not lost", func(t *testing.T) {
		repos := newCollection(t)
		ctx := context.Background()

		require.NoError(t, repos.Users.Create(ctx, &models.User{ID: "bob", Username: "bob"}))

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repos.Users.IncrementKarma(ctx, "bob", 1)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		user, err := repos.Users.Find(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, 50.0, user.Karma)
	})
}

func testVote(id, documentID, voter, author string, power float64, at time.Time) *models.Vote {
	return &models.Vote{
		ID:             id,
		DocumentID:     documentID,
		CollectionName: models.CollectionPosts,
		UserID:         voter,
		AuthorID:       author,
		VoteType:       models.VoteTypeSmallUpvote,
		Power:          power,
		VotedAt:        at,
	}
}

func testDocument(id string, postedAt time.Time) *models.Document {
	return &models.Document{
		ID:             id,
		CollectionName: models.CollectionPosts,
		UserID:         "bob",
		PostedAt:       postedAt,
	}
}
