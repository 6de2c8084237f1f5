package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/universe"
)

func floatPtr(v float64) *float64 { return &v }

func TestGroupAllocations(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "AAPL", MarketValueEUR: 4000},
		{Symbol: "ASML", MarketValueEUR: 3000},
		{Symbol: "NVO", MarketValueEUR: 3000},
	}
	groups := map[string]string{
		"AAPL": "united_states",
		"ASML": "europe",
		"NVO":  "europe",
	}

	alloc := groupAllocations(positions, groups, 10000)
	assert.InDelta(t, 0.4, alloc["united_states"], 1e-9)
	assert.InDelta(t, 0.6, alloc["europe"], 1e-9)
}

func TestGroupAllocations_SkipsUnmappedAndZeroValue(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "AAPL", MarketValueEUR: 5000},
		{Symbol: "XYZ", MarketValueEUR: 5000},  // not in any group
		{Symbol: "ASML", MarketValueEUR: 0},    // no market value
		{Symbol: "aapl", MarketValueEUR: 1000}, // case-normalized lookup
	}
	groups := map[string]string{"AAPL": "united_states", "ASML": "europe"}

	alloc := groupAllocations(positions, groups, 10000)
	assert.InDelta(t, 0.6, alloc["united_states"], 1e-9)
	assert.NotContains(t, alloc, "europe")
}

func TestGroupAllocations_EmptyPortfolio(t *testing.T) {
	assert.Empty(t, groupAllocations(nil, map[string]string{"AAPL": "us"}, 0))
}

func TestMetricsFromScore(t *testing.T) {
	score := universe.Score{
		Symbol:              "NVO",
		TotalScore:          0.72,
		QualityScore:        0.8,
		SortinoRatio:        floatPtr(1.4),
		SharpeRatio:         floatPtr(1.1),
		Volatility:          floatPtr(0.22),
		MaxDrawdown:         floatPtr(-0.31),
		AnnualizedReturn:    floatPtr(0.12),
		PayoutRatio:         floatPtr(0.45),
		DividendConsistency: floatPtr(1.0),
		AnalystScore:        floatPtr(0.65),
	}

	m := metricsFromScore(score)
	require.NotNil(t, m.Sortino)
	assert.Equal(t, 1.4, *m.Sortino)
	assert.Equal(t, 1.1, *m.Sharpe)
	assert.Equal(t, 0.22, *m.VolatilityAnnual)
	assert.Equal(t, -0.31, *m.MaxDrawdown)
	assert.Equal(t, 0.12, *m.CAGR5Y)
	assert.Equal(t, 0.45, *m.PayoutRatio)
	assert.Equal(t, 1.0, *m.DividendConsistency)
	assert.Equal(t, 0.65, *m.Opinion)

	// Quality maps onto financial strength.
	require.NotNil(t, m.FinancialStrength)
	assert.Equal(t, 0.8, *m.FinancialStrength)
}

func TestMetricsFromScore_MissingFieldsStayNil(t *testing.T) {
	m := metricsFromScore(universe.Score{Symbol: "NEW", QualityScore: 0.5})

	assert.Nil(t, m.Sortino)
	assert.Nil(t, m.Sharpe)
	assert.Nil(t, m.PayoutRatio)
	assert.Nil(t, m.Opinion)
	require.NotNil(t, m.FinancialStrength)
	assert.Equal(t, 0.5, *m.FinancialStrength)
}
