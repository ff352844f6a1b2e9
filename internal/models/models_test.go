package models

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendedVote_Equal(t *testing.T) {
	agree := ExtendedVote{"agreement": VoteTypeSmallUpvote}

	tests := []struct {
		name string
		a, b ExtendedVote
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil and empty", nil, ExtendedVote{}, true},
		{"same axis and type", agree, ExtendedVote{"agreement": VoteTypeSmallUpvote}, true},
		{"different type", agree, ExtendedVote{"agreement": VoteTypeBigUpvote}, false},
		{"different axis", agree, ExtendedVote{"clarity": VoteTypeSmallUpvote}, false},
		{"extra axis", agree, ExtendedVote{"agreement": VoteTypeSmallUpvote, "clarity": VoteTypeNeutral}, false},
		{"nil against set", nil, agree, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestJSONColumns_Value(t *testing.T) {
	tests := []struct {
		name  string
		value driver.Valuer
		want  interface{}
	}{
		{"nil extended vote is NULL", ExtendedVote(nil), nil},
		{"empty extended vote is NULL", ExtendedVote{}, nil},
		{"extended vote", ExtendedVote{"agreement": VoteTypeBigDownvote}, `{"agreement":"bigDownvote"}`},
		{"nil extended score is an empty object", ExtendedScore(nil), "{}"},
		{"empty extended score is an empty object", ExtendedScore{}, "{}"},
		{"extended score", ExtendedScore{"agreement": -2}, `{"agreement":-2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.value.Value()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONColumns_Scan(t *testing.T) {
	t.Run("extended vote from bytes", func(t *testing.T) {
		var v ExtendedVote
		require.NoError(t, v.Scan([]byte(`{"agreement":"smallUpvote"}`)))
		assert.Equal(t, ExtendedVote{"agreement": VoteTypeSmallUpvote}, v)
	})

	t.Run("extended score from string", func(t *testing.T) {
		var s ExtendedScore
		require.NoError(t, s.Scan(`{"agreement":1.5}`))
		assert.Equal(t, ExtendedScore{"agreement": 1.5}, s)
	})

	t.Run("NULL leaves the map nil", func(t *testing.T) {
		var v ExtendedVote
		require.NoError(t, v.Scan(nil))
		assert.Nil(t, v)

		var s ExtendedScore
		require.NoError(t, s.Scan([]byte{}))
		assert.Nil(t, s)
	})

	t.Run("rejects other types", func(t *testing.T) {
		var s ExtendedScore
		assert.Error(t, s.Scan(42))
	})

	t.Run("value then scan", func(t *testing.T) {
		in := ExtendedScore{"agreement": 3, "clarity": -1}
		raw, err := in.Value()
		require.NoError(t, err)

		var out ExtendedScore
		require.NoError(t, out.Scan(raw))
		assert.Equal(t, in, out)
	})
}

func TestVote_Tombstone(t *testing.T) {
	votedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cancelledAt := votedAt.Add(time.Hour)

	tests := []struct {
		name string
		vote *Vote
	}{
		{
			name: "upvote with extended power",
			vote: &Vote{
				ID: "v1", DocumentID: "p1", CollectionName: CollectionPosts, UserID: "bob", AuthorID: "alice",
				VoteType: VoteTypeBigUpvote, ExtendedVote: ExtendedVote{"agreement": VoteTypeSmallDownvote},
				Power: 6, ExtendedPower: ExtendedScore{"agreement": -1}, VotedAt: votedAt,
			},
		},
		{
			name: "downvote without extended power",
			vote: &Vote{
				ID: "v2", DocumentID: "c1", CollectionName: CollectionComments, UserID: "bob", AuthorID: "carol",
				VoteType: VoteTypeSmallDownvote, Power: -1, VotedAt: votedAt,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unvote := tt.vote.Tombstone("u1", cancelledAt)

			assert.Equal(t, "u1", unvote.ID)
			assert.Equal(t, -tt.vote.Power, unvote.Power)
			assert.True(t, unvote.Cancelled)
			assert.True(t, unvote.IsUnvote)
			assert.Equal(t, cancelledAt, unvote.VotedAt)
			assert.Equal(t, tt.vote.DocumentID, unvote.DocumentID)
			assert.Equal(t, tt.vote.CollectionName, unvote.CollectionName)
			assert.Equal(t, tt.vote.UserID, unvote.UserID)
			assert.Equal(t, tt.vote.AuthorID, unvote.AuthorID)
			assert.Equal(t, tt.vote.VoteType, unvote.VoteType)

			for axis, p := range tt.vote.ExtendedPower {
				assert.Equal(t, -p, unvote.ExtendedPower[axis])
			}
			assert.Len(t, unvote.ExtendedPower, len(tt.vote.ExtendedPower))

			// the original is untouched
			assert.False(t, tt.vote.Cancelled)
			assert.False(t, tt.vote.IsUnvote)
		})
	}
}
