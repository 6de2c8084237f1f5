package rebalancing

import (
	"sort"
	"strings"

	"github.com/aristath/helmsman/internal/modules/ledger"
)

// DeriveStates reconstructs the per-symbol state machine from executed
// trades. Planned but unexecuted trades never move the stages: a buy
// advances the tranche stage, a partial sell advances the scaleout
// stage, and a full exit resets both.
func DeriveStates(trades []ledger.Trade) map[string]PositionState {
	bySymbol := make(map[string][]ledger.Trade)
	for _, t := range trades {
		symbol := strings.ToUpper(t.Symbol)
		bySymbol[symbol] = append(bySymbol[symbol], t)
	}

	states := make(map[string]PositionState, len(bySymbol))
	for symbol, history := range bySymbol {
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].ExecutedAt.Before(history[j].ExecutedAt)
		})
		states[symbol] = replay(history)
	}
	return states
}

func replay(history []ledger.Trade) PositionState {
	var state PositionState
	held := 0.0
	buys := 0

	for _, t := range history {
		switch t.Side {
		case "BUY":
			held += t.Quantity
			buys++
			// The first buy opens at stage 0; each later tranche buy
			// moves the stage up, capped at 3.
			if stage := buys - 1; stage > state.TrancheStage {
				state.TrancheStage = stage
			}
			if state.TrancheStage > 3 {
				state.TrancheStage = 3
			}
		case "SELL":
			held -= t.Quantity
			if held <= 0 {
				held = 0
				buys = 0
				state = PositionState{}
				continue
			}
			if state.ScaleoutStage < 2 {
				state.ScaleoutStage++
			}
		}
	}
	return state
}

// DesiredTrancheStage maps the current 252-day drawdown onto the entry
// tranche ladder: 0 above T1, 1 between T1 and T2, 2 between T2 and T3,
// 3 below T3. Thresholds are negative fractions.
func DesiredTrancheStage(dd252, t1, t2, t3 float64) int {
	switch {
	case dd252 > t1:
		return 0
	case dd252 > t2:
		return 1
	case dd252 > t3:
		return 2
	default:
		return 3
	}
}
