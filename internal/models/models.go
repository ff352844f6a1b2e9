// file: internal/models/models.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ===============================
// ENUMERATIONS
// ===============================

// VoteType identifies the kind of vote a user casts
type VoteType string

const (
	VoteTypeNeutral       VoteType = "neutral"
	VoteTypeSmallUpvote   VoteType = "smallUpvote"
	VoteTypeBigUpvote     VoteType = "bigUpvote"
	VoteTypeSmallDownvote VoteType = "smallDownvote"
	VoteTypeBigDownvote   VoteType = "bigDownvote"
)

// String returns the wire representation of the vote type
func (t VoteType) String() string {
	return string(t)
}

// CollectionName disambiguates which content table a document id belongs to
type CollectionName string

const (
	CollectionPosts     CollectionName = "Posts"
	CollectionComments  CollectionName = "Comments"
	CollectionTagRels   CollectionName = "TagRels"
	CollectionRevisions CollectionName = "Revisions"
	CollectionTags      CollectionName = "Tags"
)

var voteableCollections = []CollectionName{
	CollectionPosts,
	CollectionComments,
	CollectionTagRels,
	CollectionRevisions,
	CollectionTags,
}

// VoteableCollections returns every collection that accepts votes
func VoteableCollections() []CollectionName {
	out := make([]CollectionName, len(voteableCollections))
	copy(out, voteableCollections)
	return out
}

// IsVoteable reports whether documents of this collection accept votes
func (c CollectionName) IsVoteable() bool {
	for _, name := range voteableCollections {
		if name == c {
			return true
		}
	}
	return false
}

// IsKarmaEligible reports whether votes on this collection move the author's karma
func (c CollectionName) IsKarmaEligible() bool {
	switch c {
	case CollectionPosts, CollectionComments, CollectionRevisions:
		return true
	default:
		return false
	}
}

// ParseCollectionName validates a collection name supplied by a caller
func ParseCollectionName(s string) (CollectionName, error) {
	c := CollectionName(s)
	if !c.IsVoteable() {
		return "", fmt.Errorf("unknown collection %q", s)
	}
	return c, nil
}

// ===============================
// JSON COLUMN TYPES
// ===============================

// ExtendedVote maps a secondary voting axis (e.g. "agreement") to a vote type
type ExtendedVote map[string]VoteType

// Scan implements sql.Scanner for jsonb columns
func (e *ExtendedVote) Scan(value interface{}) error {
	return scanJSON(value, e)
}

// Value implements driver.Valuer
func (e ExtendedVote) Value() (driver.Value, error) {
	if len(e) == 0 {
		return nil, nil
	}
	return marshalJSONValue(e)
}

// Equal reports whether both extended votes express the same opinion
func (e ExtendedVote) Equal(other ExtendedVote) bool {
	if len(e) != len(other) {
		return false
	}
	for axis, vt := range e {
		if other[axis] != vt {
			return false
		}
	}
	return true
}

// ExtendedScore holds per-axis power sums (or per-axis power of a single vote)
type ExtendedScore map[string]float64

// Scan implements sql.Scanner for jsonb columns
func (e *ExtendedScore) Scan(value interface{}) error {
	return scanJSON(value, e)
}

// Value implements driver.Valuer
func (e ExtendedScore) Value() (driver.Value, error) {
	if len(e) == 0 {
		return "{}", nil
	}
	return marshalJSONValue(e)
}

// Negate returns a copy with every axis sign-flipped
func (e ExtendedScore) Negate() ExtendedScore {
	if e == nil {
		return nil
	}
	out := make(ExtendedScore, len(e))
	for axis, v := range e {
		out[axis] = -v
	}
	return out
}

// marshalJSONValue returns a string so lib/pq sends text rather than bytea
func marshalJSONValue(v interface{}) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dest)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// ===============================
// CORE ENTITIES
// ===============================

// Vote is one user's opinion on one document. Rows are append-only; the only
// permitted mutation is flipping Cancelled from false to true.
type Vote struct {
	ID             string         `json:"id" db:"id"`
	DocumentID     string         `json:"document_id" db:"document_id"`
	CollectionName CollectionName `json:"collection_name" db:"collection_name"`
	UserID         string         `json:"user_id" db:"user_id"`
	AuthorID       string         `json:"author_id" db:"author_id"`
	VoteType       VoteType       `json:"vote_type" db:"vote_type"`
	ExtendedVote   ExtendedVote   `json:"extended_vote,omitempty" db:"extended_vote"`
	Power          float64        `json:"power" db:"power"`
	ExtendedPower  ExtendedScore  `json:"extended_power,omitempty" db:"extended_power"`
	VotedAt        time.Time      `json:"voted_at" db:"voted_at"`
	Cancelled      bool           `json:"cancelled" db:"cancelled"`
	IsUnvote       bool           `json:"is_unvote" db:"is_unvote"`
}

// Document is any voteable content item with its denormalized score fields
type Document struct {
	ID             string         `json:"id" db:"id"`
	CollectionName CollectionName `json:"collection_name" db:"-"`
	UserID         string         `json:"user_id" db:"user_id"`
	BaseScore      float64        `json:"base_score" db:"base_score"`
	Score          float64        `json:"score" db:"score"`
	VoteCount      int            `json:"vote_count" db:"vote_count"`
	ExtendedScore  ExtendedScore  `json:"extended_score,omitempty" db:"extended_score"`
	Inactive       bool           `json:"inactive" db:"inactive"`
	PostedAt       time.Time      `json:"posted_at" db:"posted_at"`
	FrontpageDate  *time.Time     `json:"frontpage_date,omitempty" db:"frontpage_date"`
	CuratedDate    *time.Time     `json:"curated_date,omitempty" db:"curated_date"`
}

// User carries the karma state of an account
type User struct {
	ID                 string              `json:"id" db:"id"`
	Username           string              `json:"username" db:"username"`
	Karma              float64             `json:"karma" db:"karma"`
	IsAdmin            bool                `json:"is_admin" db:"is_admin"`
	Counters           map[VoteCounter]int `json:"counters" db:"-"`
	NeedsReview        bool                `json:"needs_review" db:"needs_review"`
	ReviewedAt         *time.Time          `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CommentingDisabled bool                `json:"commenting_disabled" db:"commenting_disabled"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
}

// ===============================
// AGGREGATES
// ===============================

// VoteTally is the recomputed sum over the active votes of a document
type VoteTally struct {
	Power    float64       `json:"power"`
	Count    int           `json:"count"`
	Extended ExtendedScore `json:"extended,omitempty"`
}

// DocumentVoteFields are the derived fields written back after a cast or cancel
type DocumentVoteFields struct {
	BaseScore     float64
	Score         float64
	VoteCount     int
	ExtendedScore ExtendedScore
}

// RescoreQuery selects the candidates of one rescoring pass
type RescoreQuery struct {
	Inactive       bool
	Now            time.Time
	DecayFactor    float64
	FrontpageBonus float64
	CuratedBonus   float64
}

// RescoreCandidate is one document projected through the time-decay formula
type RescoreCandidate struct {
	ID        string    `json:"id"`
	BaseScore float64   `json:"base_score"`
	OldScore  float64   `json:"old_score"`
	NewScore  float64   `json:"new_score"`
	ScoringAt time.Time `json:"scoring_at"`
	Inactive  bool      `json:"inactive"`
}

// RescoreWrite is a single batched update produced by the rescorer.
// A nil Score leaves the score untouched.
type RescoreWrite struct {
	ID       string
	Score    *float64
	Inactive bool
}

// ===============================
// HELPER METHODS
// ===============================

// IsSelfVote reports whether the voter owns the voted-on document
func (v *Vote) IsSelfVote() bool {
	return v.UserID == v.AuthorID
}

// Tombstone builds the unvote record that negates v
func (v *Vote) Tombstone(id string, at time.Time) *Vote {
	return &Vote{
		ID:             id,
		DocumentID:     v.DocumentID,
		CollectionName: v.CollectionName,
		UserID:         v.UserID,
		AuthorID:       v.AuthorID,
		VoteType:       v.VoteType,
		ExtendedVote:   v.ExtendedVote,
		Power:          -v.Power,
		ExtendedPower:  v.ExtendedPower.Negate(),
		VotedAt:        at,
		Cancelled:      true,
		IsUnvote:       true,
	}
}

// ScoringTimestamp is the instant the time decay is measured from.
// A frontpage promotion restarts the clock.
func (d *Document) ScoringTimestamp() time.Time {
	if d.FrontpageDate != nil {
		return *d.FrontpageDate
	}
	return d.PostedAt
}

// IsFrontpaged reports whether the frontpage bonus applies
func (d *Document) IsFrontpaged() bool {
	return d.FrontpageDate != nil
}

// IsCurated reports whether the curated bonus applies
func (d *Document) IsCurated() bool {
	return d.CuratedDate != nil
}

// IsOwnedBy reports whether userID owns the document
func (d *Document) IsOwnedBy(userID string) bool {
	return d.UserID == userID
}

// Clone returns a deep copy suitable for before/after event snapshots
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.ExtendedScore != nil {
		c.ExtendedScore = make(ExtendedScore, len(d.ExtendedScore))
		for k, v := range d.ExtendedScore {
			c.ExtendedScore[k] = v
		}
	}
	if d.FrontpageDate != nil {
		t := *d.FrontpageDate
		c.FrontpageDate = &t
	}
	if d.CuratedDate != nil {
		t := *d.CuratedDate
		c.CuratedDate = &t
	}
	return &c
}

// Counter returns a vote counter, zero when never incremented
func (u *User) Counter(c VoteCounter) int {
	if u.Counters == nil {
		return 0
	}
	return u.Counters[c]
}
