package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// flat returns n identical closes.
func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestCompute_ShortHistoryIsNeutral(t *testing.T) {
	block := Compute(flat(50, 100))
	assert.Equal(t, NeutralBlock(), block)
	assert.Equal(t, 50.0, block.RSI14)
	assert.Equal(t, 1.0, block.VolRatio)
	assert.Equal(t, 0.0, block.OppScore)
}

func TestCompute_FlatSeries(t *testing.T) {
	block := Compute(flat(300, 100))

	assert.Equal(t, 0.0, block.DD252)
	assert.Equal(t, 0.0, block.Mom20)
	assert.Equal(t, 0.0, block.Mom120)
	assert.Equal(t, 0.0, block.DipScore)
	assert.False(t, block.FreefallBlock)
}

func TestCompute_DeepDrawdownRaisesDipScore(t *testing.T) {
	// 250 bars at 100, then a slide to 70: a 30% drawdown.
	closes := flat(250, 100)
	for i := 0; i < 60; i++ {
		closes = append(closes, 100-float64(i)*0.5)
	}

	block := Compute(closes)
	assert.Less(t, block.DD252, -0.25)
	assert.Greater(t, block.DipScore, 0.5)
	assert.Less(t, block.Mom20, 0.0)
}

func TestCompute_ShallowDipScoresZero(t *testing.T) {
	// 8% off the peak is inside the 12% dip threshold.
	closes := flat(280, 100)
	closes = append(closes, flat(20, 92)...)

	block := Compute(closes)
	assert.InDelta(t, -0.08, block.DD252, 0.01)
	assert.Equal(t, 0.0, block.DipScore)
}

func TestEffectiveOpportunityScore_RequiresCycleTurn(t *testing.T) {
	base := Block{OppScore: 0.4, DD252RecentMin: -0.30}

	// No confirmed turn: boost never applies.
	assert.Equal(t, 0.4, EffectiveOpportunityScore(base, -0.15, -0.35, 0.3))

	// Freefall blocks the boost even with a turn.
	blocked := base
	blocked.CycleTurn = true
	blocked.FreefallBlock = true
	assert.Equal(t, 0.4, EffectiveOpportunityScore(blocked, -0.15, -0.35, 0.3))
}

func TestEffectiveOpportunityScore_BoostScalesWithDepth(t *testing.T) {
	shallow := Block{OppScore: 0.4, CycleTurn: true, DD252RecentMin: -0.16}
	deep := Block{OppScore: 0.4, CycleTurn: true, DD252RecentMin: -0.35}

	shallowScore := EffectiveOpportunityScore(shallow, -0.15, -0.35, 0.3)
	deepScore := EffectiveOpportunityScore(deep, -0.15, -0.35, 0.3)

	assert.Greater(t, shallowScore, 0.4)
	assert.Greater(t, deepScore, shallowScore)
	assert.LessOrEqual(t, deepScore, 1.0)
}

func TestEffectiveOpportunityScore_NoRecentDrawdownNoBoost(t *testing.T) {
	b := Block{OppScore: 0.4, CycleTurn: true, DD252RecentMin: -0.05}
	assert.Equal(t, 0.4, EffectiveOpportunityScore(b, -0.15, -0.35, 0.3))
}
