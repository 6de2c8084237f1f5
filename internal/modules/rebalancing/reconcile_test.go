package rebalancing

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/settings"
	"github.com/aristath/helmsman/internal/modules/universe"
)

func newTestService(cfg *settings.StrategyConfig) *Service {
	return NewService(cfg, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func buyRec(symbol string, valueEUR, priority, conviction float64) TradeRecommendation {
	return TradeRecommendation{
		Symbol:     symbol,
		Side:       "BUY",
		Quantity:   int(valueEUR / 60),
		MinLot:     1,
		Price:      60,
		Currency:   "EUR",
		ValueEUR:   valueEUR,
		Priority:   priority,
		Conviction: conviction,
	}
}

func TestReconcile_PassesThroughWhenBudgetCovers(t *testing.T) {
	s := newTestService(&settings.StrategyConfig{MinTradeValue: 50})
	in := &Input{AvailableCashEUR: 2000, PortfolioValueEUR: 10000}

	recs := s.reconcile(in, []TradeRecommendation{
		buyRec("AAPL", 600, 2, 1.0),
		buyRec("ASML", 600, 2, 1.0),
	})
	assert.Len(t, recs, 2)
}

func TestReconcile_TrimsLowConvictionBuysBelowMedianRank(t *testing.T) {
	// Equal priority, so rank priority*(0.5+conviction) orders purely by
	// conviction. Budget 1100 fits one 600 EUR buy after trimming.
	s := newTestService(&settings.StrategyConfig{MinTradeValue: 50})
	in := &Input{AvailableCashEUR: 1100, PortfolioValueEUR: 10000}

	recs := s.reconcile(in, []TradeRecommendation{
		buyRec("LOWC", 600, 2, 0.2),
		buyRec("HIGH", 600, 2, 1.5),
		buyRec("MIDC", 600, 2, 1.0),
	})

	symbols := make([]string, 0, len(recs))
	for _, rec := range recs {
		symbols = append(symbols, rec.Symbol)
	}
	assert.Contains(t, symbols, "HIGH")
	assert.NotContains(t, symbols, "LOWC")
}

func TestReconcile_ScalesToMinLotThenTopsUp(t *testing.T) {
	// One oversized buy, no trim possible, no holdings to rotate: the
	// buy shrinks to one lot, then whole lots are added while 350 lasts.
	s := newTestService(&settings.StrategyConfig{MinTradeValue: 50})
	in := &Input{AvailableCashEUR: 350, PortfolioValueEUR: 10000}

	big := TradeRecommendation{
		Symbol: "AAPL", Side: "BUY", Quantity: 8, MinLot: 1,
		Price: 100, Currency: "EUR", ValueEUR: 800,
		AllocationDelta: 0.08,
	}
	recs := s.reconcile(in, []TradeRecommendation{big})

	require.Len(t, recs, 1)
	assert.Equal(t, 3, recs[0].Quantity)
	assert.InDelta(t, 300, recs[0].ValueEUR, 1e-9)
}

func fundingInput() *Input {
	pos := func(symbol string, qty int, price float64) domain.Position {
		return domain.Position{
			Symbol: symbol, Quantity: qty, CurrentPrice: price,
			Currency: "EUR", MarketValueEUR: float64(qty) * price,
		}
	}
	sec := func(symbol string) universe.Security {
		return universe.Security{Symbol: symbol, MinLot: 1, AllowSell: true, Active: true}
	}
	return &Input{
		PortfolioValueEUR: 10000,
		Positions: []domain.Position{
			pos("OVWT", 110, 10), // 11% held vs 1% target
			pos("WEAK", 100, 10), // 10% held vs 5% target
			pos("CONV", 100, 10), // 10% held vs 5% target, high conviction
		},
		Securities: map[string]universe.Security{
			"OVWT": sec("OVWT"), "WEAK": sec("WEAK"), "CONV": sec("CONV"),
		},
		TargetAllocations: map[string]float64{"OVWT": 0.01, "WEAK": 0.05, "CONV": 0.05},
		Convictions:       map[string]float64{"OVWT": 0.5, "WEAK": 0.5, "CONV": 2.0},
	}
}

func TestFundingSells_RotationOrderAndConvictionCap(t *testing.T) {
	s := newTestService(&settings.StrategyConfig{
		MaxFundingSells:       3,
		MaxFundingTurnoverPct: 1.0,
	})
	in := fundingInput()
	buys := []TradeRecommendation{{Symbol: "NEWB", Side: "BUY", Conviction: 1.0}}

	sells := s.fundingSells(in, buys, 1200)

	// Most overweight first; the 2.0-conviction holding never funds a
	// 1.0-conviction buy.
	require.Len(t, sells, 2)
	assert.Equal(t, "OVWT", sells[0].Symbol)
	assert.Equal(t, 110, sells[0].Quantity) // capped at held quantity
	assert.Equal(t, "WEAK", sells[1].Symbol)
	assert.Equal(t, 10, sells[1].Quantity) // lot-aligned remainder
	for _, sell := range sells {
		assert.Equal(t, ReasonFundingSell, sell.ReasonCode)
	}
}

func TestFundingSells_RespectsMaxSellCount(t *testing.T) {
	s := newTestService(&settings.StrategyConfig{
		MaxFundingSells:       1,
		MaxFundingTurnoverPct: 1.0,
	})
	sells := s.fundingSells(fundingInput(), nil, 5000)
	assert.Len(t, sells, 1)
}

func TestFundDeficits_SellsWeakestFirst(t *testing.T) {
	s := newTestService(&settings.StrategyConfig{
		MaxFundingSells:       3,
		MaxFundingTurnoverPct: 1.0,
	})
	in := fundingInput()
	in.Scores = map[string]universe.Score{
		"OVWT": {Symbol: "OVWT", TotalScore: 0.9},
		"WEAK": {Symbol: "WEAK", TotalScore: 0.2},
		"CONV": {Symbol: "CONV", TotalScore: 0.9},
	}
	in.CashBalances = []domain.CashBalance{{Currency: "EUR", Amount: -500}}

	recs := s.fundDeficits(in, nil)

	// Deficit 500 + 10 buffer, weakest score sold first and alone.
	require.Len(t, recs, 1)
	assert.Equal(t, "WEAK", recs[0].Symbol)
	assert.Equal(t, 51, recs[0].Quantity)
	assert.Equal(t, ReasonDeficitSell, recs[0].ReasonCode)
}

func TestFundDeficits_SurplusNetsOutDeficit(t *testing.T) {
	s := newTestService(&settings.StrategyConfig{})
	in := fundingInput()
	in.CashBalances = []domain.CashBalance{
		{Currency: "EUR", Amount: -200},
		{Currency: "EUR", Amount: 400},
	}

	assert.Empty(t, s.fundDeficits(in, nil))
}

func TestApplyCoreFloor_TrimsSellToFloor(t *testing.T) {
	s := newTestService(&settings.StrategyConfig{CoreFloorPct: 0.15})
	in := &Input{
		PortfolioValueEUR: 10000,
		Positions: []domain.Position{{
			Symbol: "CORE", Quantity: 200, CurrentPrice: 10,
			Currency: "EUR", MarketValueEUR: 2000,
		}},
	}
	rec := TradeRecommendation{
		Symbol: "CORE", Side: "SELL", Quantity: 100, MinLot: 1,
		Price: 10, Currency: "EUR", ValueEUR: -1000,
	}

	s.applyCoreFloor(in, &rec, 1.0)

	// Floor is 1500 EUR, so at most 500 EUR may be sold.
	assert.True(t, rec.CoreFloorActive)
	assert.Equal(t, 50, rec.Quantity)
	assert.InDelta(t, -500, rec.ValueEUR, 1e-9)
}
