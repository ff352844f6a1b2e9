package models

// VoteCounter names a per-user vote counter. The values double as postgres
// column names on the users table.
type VoteCounter string

const (
	CounterVoteCount             VoteCounter = "vote_count"
	CounterSmallUpvoteCount      VoteCounter = "small_upvote_count"
	CounterBigUpvoteCount        VoteCounter = "big_upvote_count"
	CounterSmallDownvoteCount    VoteCounter = "small_downvote_count"
	CounterBigDownvoteCount      VoteCounter = "big_downvote_count"
	CounterVoteReceivedCount     VoteCounter = "vote_received_count"
	CounterSmallUpvoteReceived   VoteCounter = "small_upvote_received_count"
	CounterBigUpvoteReceived     VoteCounter = "big_upvote_received_count"
	CounterSmallDownvoteReceived VoteCounter = "small_downvote_received_count"
	CounterBigDownvoteReceived   VoteCounter = "big_downvote_received_count"
)

// AllVoteCounters lists every counter column
var AllVoteCounters = []VoteCounter{
	CounterVoteCount,
	CounterSmallUpvoteCount,
	CounterBigUpvoteCount,
	CounterSmallDownvoteCount,
	CounterBigDownvoteCount,
	CounterVoteReceivedCount,
	CounterSmallUpvoteReceived,
	CounterBigUpvoteReceived,
	CounterSmallDownvoteReceived,
	CounterBigDownvoteReceived,
}

var castCounters = map[VoteType]VoteCounter{
	VoteTypeSmallUpvote:   CounterSmallUpvoteCount,
	VoteTypeBigUpvote:     CounterBigUpvoteCount,
	VoteTypeSmallDownvote: CounterSmallDownvoteCount,
	VoteTypeBigDownvote:   CounterBigDownvoteCount,
}

var receivedCounters = map[VoteType]VoteCounter{
	VoteTypeSmallUpvote:   CounterSmallUpvoteReceived,
	VoteTypeBigUpvote:     CounterBigUpvoteReceived,
	VoteTypeSmallDownvote: CounterSmallDownvoteReceived,
	VoteTypeBigDownvote:   CounterBigDownvoteReceived,
}

// CastCounters returns the voter-side counters moved by a vote of type t.
// Neutral and custom vote types only move the total.
func CastCounters(t VoteType) []VoteCounter {
	if c, ok := castCounters[t]; ok {
		return []VoteCounter{CounterVoteCount, c}
	}
	return []VoteCounter{CounterVoteCount}
}

// ReceivedCounters returns the author-side counters moved by a vote of type t
func ReceivedCounters(t VoteType) []VoteCounter {
	if c, ok := receivedCounters[t]; ok {
		return []VoteCounter{CounterVoteReceivedCount, c}
	}
	return []VoteCounter{CounterVoteReceivedCount}
}

// IsValid reports whether c is a known counter column
func (c VoteCounter) IsValid() bool {
	for _, known := range AllVoteCounters {
		if known == c {
			return true
		}
	}
	return false
}
