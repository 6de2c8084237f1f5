package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

// singleSymbolInput builds a one-position portfolio whose sub-scores are
// known exactly: total return 0.4, long-term promise 0.6, stability 0.13,
// opinion 0.2, diversification supplied as 0.9.
func singleSymbolInput(profile RiskProfile) EndStateInput {
	return EndStateInput{
		Positions:            map[string]float64{"AAPL": 1000},
		TotalValue:           1000,
		DiversificationScore: 0.9,
		Profile:              profile,
		Metrics: map[string]Metrics{
			"AAPL": {
				CAGR5Y:              fp(0.06), // 0.06/0.15 = 0.4
				ConsistencyScore:    fp(1.0),
				FinancialStrength:   fp(0.0),
				DividendConsistency: fp(1.0),
				Sortino:             fp(0.0),  // sortino_score 0
				VolatilityAnnual:    fp(0.40), // 0.1
				MaxDrawdown:         fp(-0.50),
				Sharpe:              fp(0.5), // 0.4
				Opinion:             fp(0.2),
			},
		},
	}
}

func TestScoreEndState_ProfileWeights(t *testing.T) {
	// total_return 0.4, diversification 0.9, long_term 0.6,
	// stability 0.13, opinion 0.2, weighted per profile.
	tests := []struct {
		profile RiskProfile
		want    float64
	}{
		{ProfileConservative, 0.25*0.4 + 0.30*0.9 + 0.20*0.6 + 0.20*0.13 + 0.05*0.2},
		{ProfileBalanced, 0.35*0.4 + 0.25*0.9 + 0.20*0.6 + 0.15*0.13 + 0.05*0.2},
		{ProfileAggressive, 0.45*0.4 + 0.20*0.9 + 0.25*0.6 + 0.05*0.13 + 0.05*0.2},
	}
	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			score, breakdown := ScoreEndState(singleSymbolInput(tt.profile))
			assert.InDelta(t, tt.want, score, 1e-9)

			require.NotNil(t, breakdown)
			assert.InDelta(t, 0.4, breakdown["total_return"], 1e-9)
			assert.InDelta(t, 0.9, breakdown["diversification"], 1e-9)
			assert.InDelta(t, 0.6, breakdown["long_term_promise"], 1e-9)
			assert.InDelta(t, 0.13, breakdown["stability"], 1e-9)
			assert.InDelta(t, 0.2, breakdown["opinion"], 1e-9)
		})
	}
}

func TestScoreEndState_UnknownProfileFallsBackToBalanced(t *testing.T) {
	balanced, _ := ScoreEndState(singleSymbolInput(ProfileBalanced))
	unknown, _ := ScoreEndState(singleSymbolInput(RiskProfile("yolo")))
	assert.InDelta(t, balanced, unknown, 1e-9)
}

func TestScoreEndState_MissingMetricsDefault(t *testing.T) {
	_, breakdown := ScoreEndState(EndStateInput{
		Positions:  map[string]float64{"NEW": 500},
		TotalValue: 500,
		Profile:    ProfileBalanced,
		Metrics:    map[string]Metrics{},
	})

	// Returns default to zero, everything else to 0.5.
	assert.InDelta(t, 0.0, breakdown["total_return"], 1e-9)
	assert.InDelta(t, 0.5, breakdown["long_term_promise"], 1e-9)
	assert.InDelta(t, 0.5, breakdown["stability"], 1e-9)
	assert.InDelta(t, 0.5, breakdown["opinion"], 1e-9)
}

func TestSortinoScore(t *testing.T) {
	assert.InDelta(t, 1.0, SortinoScore(2.5), 1e-9)
	assert.InDelta(t, 0.9, SortinoScore(1.75), 1e-9)
	assert.InDelta(t, 0.7, SortinoScore(1.25), 1e-9)
	assert.InDelta(t, 0.3, SortinoScore(0.5), 1e-9)
	assert.InDelta(t, 0.0, SortinoScore(-1.0), 1e-9)
}

func TestSharpeScore(t *testing.T) {
	assert.InDelta(t, 1.0, SharpeScore(2.0), 1e-9)
	assert.InDelta(t, 0.85, SharpeScore(1.5), 1e-9)
	assert.InDelta(t, 0.55, SharpeScore(0.75), 1e-9)
	assert.InDelta(t, 0.2, SharpeScore(0.25), 1e-9)
	assert.InDelta(t, 0.0, SharpeScore(-0.5), 1e-9)
}

func TestVolatilityScore(t *testing.T) {
	assert.InDelta(t, 1.0, VolatilityScore(0.10), 1e-9)
	assert.InDelta(t, 0.55, VolatilityScore(0.275), 1e-9)
	assert.InDelta(t, 0.1, VolatilityScore(0.60), 1e-9)
}

func TestDrawdownScore(t *testing.T) {
	assert.InDelta(t, 1.0, DrawdownScore(-0.05), 1e-9)
	assert.InDelta(t, 0.5, DrawdownScore(-0.30), 1e-9)
	assert.InDelta(t, 0.0, DrawdownScore(-0.60), 1e-9)
	// Sign-insensitive.
	assert.InDelta(t, 0.5, DrawdownScore(0.30), 1e-9)
}

func TestDividendConsistencyFromPayout(t *testing.T) {
	assert.InDelta(t, 0.5, DividendConsistencyFromPayout(0), 1e-9)
	assert.InDelta(t, 0.75, DividendConsistencyFromPayout(0.15), 1e-9)
	assert.InDelta(t, 1.0, DividendConsistencyFromPayout(0.45), 1e-9)
	assert.InDelta(t, 0.7, DividendConsistencyFromPayout(0.70), 1e-9)
	assert.InDelta(t, 0.4, DividendConsistencyFromPayout(0.90), 1e-9)
}

func TestDiversificationScore(t *testing.T) {
	even := map[string]float64{"A": 500, "B": 500, "C": 500, "D": 500}
	assert.InDelta(t, 1.0, DiversificationScore(even, 2000), 1e-9)

	assert.Equal(t, 0.0, DiversificationScore(map[string]float64{"A": 1000}, 1000))
	assert.Equal(t, 0.0, DiversificationScore(nil, 0))

	lopsided := map[string]float64{"A": 1900, "B": 100}
	assert.Less(t, DiversificationScore(lopsided, 2000), 0.2)
}
