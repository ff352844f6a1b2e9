// file: internal/services/vote_types.go
package services

import (
	"forumkarma/internal/models"

	"golang.org/x/exp/slices"
)

// PowerFunc computes the signed power of a vote from the voter's karma
type PowerFunc func(karma float64) float64

// bigVoteTiers maps a karma floor to strong vote power, highest first
var bigVoteTiers = []struct {
	karma float64
	power float64
}{
	{500000, 16},
	{250000, 15},
	{175000, 14},
	{100000, 13},
	{75000, 12},
	{50000, 11},
	{25000, 10},
	{10000, 9},
	{5000, 8},
	{2500, 7},
	{1000, 6},
	{500, 5},
	{250, 4},
	{100, 3},
	{10, 2},
}

// SmallVotePower is 2 once the voter reaches 1000 karma
func SmallVotePower(karma float64) float64 {
	if karma >= 1000 {
		return 2
	}
	return 1
}

// BigVotePower scales with karma along a fixed tier table
func BigVotePower(karma float64) float64 {
	for _, tier := range bigVoteTiers {
		if karma >= tier.karma {
			return tier.power
		}
	}
	return 1
}

// DefaultVoteTypes returns the standard vote-type power table
func DefaultVoteTypes() map[models.VoteType]PowerFunc {
	return map[models.VoteType]PowerFunc{
		models.VoteTypeNeutral:       func(float64) float64 { return 0 },
		models.VoteTypeSmallUpvote:   SmallVotePower,
		models.VoteTypeBigUpvote:     BigVotePower,
		models.VoteTypeSmallDownvote: func(k float64) float64 { return -SmallVotePower(k) },
		models.VoteTypeBigDownvote:   func(k float64) float64 { return -BigVotePower(k) },
	}
}

// VoteTypeRegistry resolves vote types to power. It is built once and
// injected; tests substitute their own tables.
type VoteTypeRegistry struct {
	powers    map[models.VoteType]PowerFunc
	overrides map[string]float64
}

// NewVoteTypeRegistry copies the power table and the per-account overrides.
// An override replaces the computed magnitude for that account only, keeping
// the sign of the vote type; neutral votes stay at zero.
func NewVoteTypeRegistry(powers map[models.VoteType]PowerFunc, overrides map[string]float64) *VoteTypeRegistry {
	if powers == nil {
		powers = DefaultVoteTypes()
	}

	r := &VoteTypeRegistry{
		powers:    make(map[models.VoteType]PowerFunc, len(powers)),
		overrides: make(map[string]float64, len(overrides)),
	}
	for t, fn := range powers {
		r.powers[t] = fn
	}
	for id, p := range overrides {
		r.overrides[id] = p
	}
	return r
}

// IsValid reports whether t is registered
func (r *VoteTypeRegistry) IsValid(t models.VoteType) bool {
	_, ok := r.powers[t]
	return ok
}

// Power returns the signed power of a vote of type t cast by voter
func (r *VoteTypeRegistry) Power(voter *models.User, t models.VoteType) (float64, error) {
	fn, ok := r.powers[t]
	if !ok {
		return 0, NewInvalidVoteTypeError(string(t))
	}

	power := fn(voter.Karma)
	if override, ok := r.overrides[voter.ID]; ok {
		switch {
		case power > 0:
			return override, nil
		case power < 0:
			return -override, nil
		}
	}
	return power, nil
}

// ExtendedPower computes per-axis power for an extended vote
func (r *VoteTypeRegistry) ExtendedPower(voter *models.User, extended models.ExtendedVote) (models.ExtendedScore, error) {
	if len(extended) == 0 {
		return nil, nil
	}

	out := make(models.ExtendedScore, len(extended))
	for axis, t := range extended {
		if axis == "" {
			return nil, InvalidInputError("extendedVote", "axis name cannot be empty")
		}
		p, err := r.Power(voter, t)
		if err != nil {
			return nil, err
		}
		out[axis] = p
	}
	return out, nil
}

// Types lists the registered vote types in sorted order
func (r *VoteTypeRegistry) Types() []models.VoteType {
	types := make([]models.VoteType, 0, len(r.powers))
	for t := range r.powers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Preview returns the power every registered type would have for voter
func (r *VoteTypeRegistry) Preview(voter *models.User) map[models.VoteType]float64 {
	out := make(map[models.VoteType]float64, len(r.powers))
	for _, t := range r.Types() {
		p, _ := r.Power(voter, t)
		out[t] = p
	}
	return out
}
