package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
)

func TestSellsFirst(t *testing.T) {
	recs := []rebalancing.TradeRecommendation{
		{Symbol: "AAPL", Side: "BUY", Priority: 3},
		{Symbol: "MSFT", Side: "SELL", Priority: 1},
		{Symbol: "ASML", Side: "BUY", Priority: 2},
		{Symbol: "NVDA", Side: "SELL", Priority: 2},
	}

	ordered := sellsFirst(recs)
	assert.Len(t, ordered, 4)

	assert.Equal(t, "SELL", ordered[0].Side)
	assert.Equal(t, "SELL", ordered[1].Side)
	assert.Equal(t, "BUY", ordered[2].Side)
	assert.Equal(t, "BUY", ordered[3].Side)

	// Relative order within each side is preserved: the generator
	// already sorted by priority.
	assert.Equal(t, "MSFT", ordered[0].Symbol)
	assert.Equal(t, "NVDA", ordered[1].Symbol)
	assert.Equal(t, "AAPL", ordered[2].Symbol)
	assert.Equal(t, "ASML", ordered[3].Symbol)
}

func TestSellsFirst_Empty(t *testing.T) {
	assert.Empty(t, sellsFirst(nil))
}

func TestToRecommendation(t *testing.T) {
	rec := toRecommendation(rebalancing.TradeRecommendation{
		Symbol:   "NVO",
		Side:     "SELL",
		Quantity: 12,
		Price:    98.5,
		Currency: "USD",
		ValueEUR: -1100.0, // sells carry negative notional
		Reason:   "scaleout at +10%",
	})

	assert.Equal(t, "NVO", rec.Symbol)
	assert.Equal(t, "SELL", rec.Side)
	assert.Equal(t, 12, rec.Quantity)
	assert.Equal(t, 98.5, rec.EstimatedPrice)
	assert.Equal(t, 1100.0, rec.EstimatedValue)
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, domain.RecommendationPending, rec.Status)
}
