package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/helmsman/internal/clients/yahoo"
)

func TestDividendConsistency(t *testing.T) {
	tests := []struct {
		name     string
		payout   float64
		expected float64
	}{
		{"no dividend", 0, 0.5},
		{"low payout ramps up", 0.15, 0.75},
		{"ideal band lower edge", 0.30, 1.0},
		{"ideal band upper edge", 0.60, 1.0},
		{"stretched payout", 0.70, 0.7},
		{"unsustainable payout", 0.90, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, dividendConsistency(tt.payout), 1e-9)
		})
	}
}

func TestQualityFromFundamentals(t *testing.T) {
	// Strong profitability, low leverage, reasonable valuation.
	strong := &yahoo.Fundamentals{ROE: 0.25, ProfitMargin: 0.20, DebtToEquity: 0.4, PERatio: 15}
	assert.Greater(t, qualityFromFundamentals(strong), 0.8)

	// Heavy leverage and an expensive multiple drag the blend down.
	weak := &yahoo.Fundamentals{ROE: 0.04, ProfitMargin: 0.02, DebtToEquity: 1.9, PERatio: 48}
	assert.Less(t, qualityFromFundamentals(weak), 0.3)

	// Nothing usable falls back to neutral.
	assert.Equal(t, 0.5, qualityFromFundamentals(&yahoo.Fundamentals{}))
}

func TestMaxDrawdown(t *testing.T) {
	closes := []float64{100, 110, 90, 95, 120, 80}
	// Worst: 80 from the 120 peak.
	assert.InDelta(t, 80.0/120.0-1, maxDrawdown(closes), 1e-9)

	rising := []float64{100, 105, 110, 120}
	assert.Equal(t, 0.0, maxDrawdown(rising))
}

func TestAnnualizedReturn(t *testing.T) {
	// Doubling over exactly one trading year.
	closes := make([]float64, 252)
	for i := range closes {
		closes[i] = 100 + float64(i)*(100.0/251.0)
	}
	assert.InDelta(t, 1.0, annualizedReturn(closes), 0.02)

	flat := []float64{100, 100, 100}
	assert.InDelta(t, 0.0, annualizedReturn(flat), 1e-9)
}

func TestOpportunityScore(t *testing.T) {
	// 35% below the peak saturates the ramp.
	deep := make([]float64, 252)
	for i := range deep {
		deep[i] = 100
	}
	deep[251] = 65
	assert.InDelta(t, 1.0, opportunityScore(deep), 1e-9)

	// At the peak there is no opportunity.
	flat := []float64{100, 100, 100}
	assert.Equal(t, 0.0, opportunityScore(flat))
}

func TestDownsideDeviation(t *testing.T) {
	// No negative returns means no downside risk.
	assert.Equal(t, 0.0, downsideDeviation([]float64{0.01, 0.02, 0.005}))

	mixed := downsideDeviation([]float64{0.01, -0.02, 0.005, -0.03, -0.01})
	assert.Greater(t, mixed, 0.0)
}

func TestRatioOr(t *testing.T) {
	assert.Equal(t, 2.0, ratioOr(0.10, 0.05))
	assert.Equal(t, 0.0, ratioOr(0.10, 0.0))
	assert.Equal(t, 0.0, ratioOr(0.10, -1.0))
}
