package scoring

import (
	"math"
	"testing"
	"time"

	"forumkarma/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var postedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestComputeScore_Formula(t *testing.T) {
	got := ComputeScore(10, postedAt, postedAt.Add(2*time.Hour), 1.15)
	assert.Equal(t, 2.030631, got)
	assert.Equal(t, Round6(10/math.Pow(4, 1.15)), got)
}

func TestComputeScore_SingleVoteAfterOneHour(t *testing.T) {
	got := ComputeScore(1, postedAt, postedAt.Add(time.Hour), DefaultDecayFactor)
	assert.Equal(t, 0.28269, got)
}

func TestComputeScore_MonotonicDecay(t *testing.T) {
	now1 := postedAt.Add(3 * time.Hour)
	now2 := postedAt.Add(50 * time.Hour)

	for _, base := range []float64{1, 7, 42, 1000} {
		s1 := ComputeScore(base, postedAt, now1, DefaultDecayFactor)
		s2 := ComputeScore(base, postedAt, now2, DefaultDecayFactor)
		assert.Less(t, s2, s1, "base %v", base)
	}
}

func TestComputeScore_NoHiddenClock(t *testing.T) {
	now := postedAt.Add(90 * time.Minute)
	a := ComputeScore(5, postedAt, now, DefaultDecayFactor)
	time.Sleep(2 * time.Millisecond)
	b := ComputeScore(5, postedAt, now, DefaultDecayFactor)
	assert.Equal(t, a, b)
}

func TestAgeInHours(t *testing.T) {
	assert.Equal(t, 0.0, AgeInHours(postedAt, postedAt))
	assert.Equal(t, 1.5, AgeInHours(postedAt, postedAt.Add(90*time.Minute)))
	assert.InDelta(t, 1.0/3600, AgeInHours(postedAt, postedAt.Add(time.Second)), 1e-12)
}

func TestIsScoreable(t *testing.T) {
	assert.True(t, IsScoreable(postedAt, postedAt))
	assert.True(t, IsScoreable(postedAt, postedAt.Add(time.Minute)))
	assert.False(t, IsScoreable(postedAt.Add(time.Minute), postedAt))
}

func TestComputeBaseScoreWithBonuses(t *testing.T) {
	assert.Equal(t, 3.0, ComputeBaseScoreWithBonuses(3))
	assert.Equal(t, 13.0, ComputeBaseScoreWithBonuses(3, 10))
	assert.Equal(t, 23.0, ComputeBaseScoreWithBonuses(3, 10, 10))
}

func TestEpsilon(t *testing.T) {
	assert.InDelta(t, 0.000516038, Epsilon(30, 1.15), 1e-9)
	assert.Greater(t, Epsilon(7, 1.15), Epsilon(30, 1.15))
}

func TestRound6(t *testing.T) {
	assert.Equal(t, 0.123457, Round6(0.1234565))
	assert.Equal(t, -0.123457, Round6(-0.1234565))
	assert.Equal(t, 2.0, Round6(2))
}

func TestCalculator_BonusOrdering(t *testing.T) {
	calc := DefaultCalculator()
	now := postedAt.Add(5 * time.Hour)
	frontpage := postedAt
	curated := postedAt

	plain := &models.Document{PostedAt: postedAt}
	fp := &models.Document{PostedAt: postedAt, FrontpageDate: &frontpage}
	cur := &models.Document{PostedAt: postedAt, FrontpageDate: &frontpage, CuratedDate: &curated}

	plainScore, ok := calc.DocumentScore(plain, 4, now)
	require.True(t, ok)
	fpScore, ok := calc.DocumentScore(fp, 4, now)
	require.True(t, ok)
	curScore, ok := calc.DocumentScore(cur, 4, now)
	require.True(t, ok)

	assert.Greater(t, fpScore, plainScore)
	assert.Greater(t, curScore, fpScore)
}

func TestCalculator_FrontpageDateRestartsDecay(t *testing.T) {
	calc := DefaultCalculator()
	promoted := postedAt.Add(24 * time.Hour)
	d := &models.Document{PostedAt: postedAt, FrontpageDate: &promoted}

	score, ok := calc.DocumentScore(d, 0, promoted.Add(2*time.Hour))
	require.True(t, ok)
	assert.Equal(t, 2.030631, score)
}

func TestCalculator_FutureTimestampExcluded(t *testing.T) {
	calc := DefaultCalculator()
	d := &models.Document{PostedAt: postedAt.Add(time.Hour)}

	_, ok := calc.DocumentScore(d, 10, postedAt)
	assert.False(t, ok)
}
