package rebalancing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/helmsman/internal/modules/ledger"
)

func trade(symbol, side string, qty float64, at time.Time) ledger.Trade {
	return ledger.Trade{Symbol: symbol, Side: side, Quantity: qty, ExecutedAt: at}
}

func TestDeriveStates_TrancheBuysAdvanceStage(t *testing.T) {
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []ledger.Trade{
		trade("ASML", "BUY", 2, t0),
		trade("ASML", "BUY", 2, t0.Add(24*time.Hour)),
		trade("ASML", "BUY", 2, t0.Add(48*time.Hour)),
	}

	states := DeriveStates(trades)
	assert.Equal(t, PositionState{TrancheStage: 2, ScaleoutStage: 0}, states["ASML"])
}

func TestDeriveStates_TrancheStageCapsAtThree(t *testing.T) {
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	var trades []ledger.Trade
	for i := 0; i < 6; i++ {
		trades = append(trades, trade("NVO", "BUY", 1, t0.Add(time.Duration(i)*time.Hour)))
	}

	states := DeriveStates(trades)
	assert.Equal(t, 3, states["NVO"].TrancheStage)
}

func TestDeriveStates_PartialSellAdvancesScaleout(t *testing.T) {
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []ledger.Trade{
		trade("AAPL", "BUY", 10, t0),
		trade("AAPL", "SELL", 3, t0.Add(time.Hour)),
		trade("AAPL", "SELL", 3, t0.Add(2*time.Hour)),
	}

	states := DeriveStates(trades)
	assert.Equal(t, PositionState{TrancheStage: 0, ScaleoutStage: 2}, states["AAPL"])
}

func TestDeriveStates_FullExitResets(t *testing.T) {
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []ledger.Trade{
		trade("MSFT", "BUY", 5, t0),
		trade("MSFT", "BUY", 5, t0.Add(time.Hour)),
		trade("MSFT", "SELL", 10, t0.Add(2*time.Hour)),
		// A new cycle starts clean.
		trade("MSFT", "BUY", 4, t0.Add(3*time.Hour)),
	}

	states := DeriveStates(trades)
	assert.Equal(t, PositionState{TrancheStage: 0, ScaleoutStage: 0}, states["MSFT"])
}

func TestDeriveStates_OrderIndependent(t *testing.T) {
	// Replay sorts by execution time, so insertion order must not matter.
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []ledger.Trade{
		trade("ASML", "SELL", 2, t0.Add(2*time.Hour)),
		trade("asml", "BUY", 4, t0), // symbols are case-normalized
		trade("ASML", "BUY", 4, t0.Add(time.Hour)),
	}

	states := DeriveStates(trades)
	assert.Equal(t, PositionState{TrancheStage: 1, ScaleoutStage: 1}, states["ASML"])
}

func TestDesiredTrancheStage(t *testing.T) {
	t1, t2, t3 := -0.15, -0.25, -0.35

	assert.Equal(t, 0, DesiredTrancheStage(-0.05, t1, t2, t3))
	assert.Equal(t, 1, DesiredTrancheStage(-0.20, t1, t2, t3))
	assert.Equal(t, 2, DesiredTrancheStage(-0.30, t1, t2, t3))
	assert.Equal(t, 3, DesiredTrancheStage(-0.40, t1, t2, t3))
}
