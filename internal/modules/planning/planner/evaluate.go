package planner

import (
	"github.com/aristath/helmsman/internal/modules/planning"
)

// Evaluate simulates a sequence against the snapshot and scores the
// terminal portfolio. A sequence that overdraws cash or oversells a
// position is infeasible and scores zero.
func Evaluate(seq planning.ActionSequence, snap *Snapshot) planning.EvaluationResult {
	positions := make(map[string]float64, len(snap.Positions))
	for symbol, value := range snap.Positions {
		positions[symbol] = value
	}
	cash := snap.CashEUR

	for _, action := range seq.Actions {
		fee := snap.TransactionCostFixed + action.ValueEUR*snap.TransactionCostPercent
		switch action.Side {
		case "SELL":
			held := positions[action.Symbol]
			if action.ValueEUR > held+0.01 {
				return infeasible(seq, "sell exceeds held value")
			}
			positions[action.Symbol] = held - action.ValueEUR
			if positions[action.Symbol] < 0.01 {
				delete(positions, action.Symbol)
			}
			cash += action.ValueEUR - fee
		case "BUY":
			cost := action.ValueEUR + fee
			if cost > cash {
				return infeasible(seq, "buy exceeds available cash")
			}
			positions[action.Symbol] += action.ValueEUR
			cash -= cost
		default:
			return infeasible(seq, "unknown action side "+action.Side)
		}
	}

	total := cash
	for _, value := range positions {
		total += value
	}

	score, breakdown := planning.ScoreEndState(planning.EndStateInput{
		Positions:            positions,
		TotalValue:           total,
		DiversificationScore: planning.DiversificationScore(positions, total-cash),
		Metrics:              snap.Metrics,
		Profile:              snap.Profile,
	})

	return planning.EvaluationResult{
		SequenceHash:   seq.SequenceHash,
		EndScore:       score,
		ScoreBreakdown: breakdown,
		EndCashEUR:     cash,
		Feasible:       true,
	}
}

func infeasible(seq planning.ActionSequence, reason string) planning.EvaluationResult {
	return planning.EvaluationResult{
		SequenceHash: seq.SequenceHash,
		EndScore:     0,
		Feasible:     false,
		Error:        reason,
	}
}
