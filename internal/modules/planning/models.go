// Package planning holds the planner domain: action candidates, candidate
// sequences keyed by portfolio hash, the end-state scorer, and the
// incremental batch evaluator.
package planning

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
)

// ActionCandidate is a single proposed trade with priority and rationale.
// It has not yet been validated against the cash budget. Quantity is
// always a whole multiple of the security's minimum lot.
type ActionCandidate struct {
	Side     string   `json:"side"` // BUY or SELL
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	MinLot   int      `json:"min_lot"`
	Price    float64  `json:"price"` // native currency
	ValueEUR float64  `json:"value_eur"`
	Currency string   `json:"currency"`
	Priority float64  `json:"priority"` // higher = more desirable
	Reason   string   `json:"reason"`
	Tags     []string `json:"tags,omitempty"`
}

// IsValid checks the candidate invariants: positive EUR value and a
// quantity that is a whole multiple of the minimum lot.
func (c ActionCandidate) IsValid() bool {
	if c.ValueEUR <= 0 || c.Quantity <= 0 {
		return false
	}
	lot := c.MinLot
	if lot < 1 {
		lot = 1
	}
	return c.Quantity%lot == 0
}

// ActionSequence is an ordered list of candidates: sells first, then buys.
type ActionSequence struct {
	Actions      []ActionCandidate `json:"actions"`
	Priority     float64           `json:"priority"`
	Depth        int               `json:"depth"`
	PatternType  string            `json:"pattern_type"`
	SequenceHash string            `json:"sequence_hash"`
}

// NewSequence builds a sequence from actions, enforcing the sells-first
// order, and stamps the dedup hash and aggregate priority.
func NewSequence(patternType string, actions []ActionCandidate) ActionSequence {
	ordered := make([]ActionCandidate, 0, len(actions))
	for _, a := range actions {
		if a.Side == "SELL" {
			ordered = append(ordered, a)
		}
	}
	for _, a := range actions {
		if a.Side != "SELL" {
			ordered = append(ordered, a)
		}
	}

	priority := 0.0
	for _, a := range ordered {
		priority += a.Priority
	}

	seq := ActionSequence{
		Actions:     ordered,
		Priority:    priority,
		Depth:       len(ordered),
		PatternType: patternType,
	}
	seq.SequenceHash = hashActions(ordered)
	return seq
}

// IsOrdered reports whether every sell precedes every buy.
func (s ActionSequence) IsOrdered() bool {
	seenBuy := false
	for _, a := range s.Actions {
		if a.Side == "SELL" && seenBuy {
			return false
		}
		if a.Side == "BUY" {
			seenBuy = true
		}
	}
	return true
}

// hashActions derives a stable dedup key from the ordered action list.
func hashActions(actions []ActionCandidate) string {
	payload := ""
	for _, a := range actions {
		payload += fmt.Sprintf("%s|%s|%d;", a.Side, a.Symbol, a.Quantity)
	}
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// EvaluationResult is the outcome of scoring one sequence's end state.
type EvaluationResult struct {
	SequenceHash   string             `json:"sequence_hash"`
	PortfolioHash  string             `json:"portfolio_hash"`
	EndScore       float64            `json:"end_score"`
	ScoreBreakdown map[string]float64 `json:"breakdown,omitempty"`
	EndCashEUR     float64            `json:"end_cash_eur"`
	Feasible       bool               `json:"feasible"`
	Error          string             `json:"error,omitempty"`
}

// Progress is the planner's externally visible evaluation state for one
// portfolio hash.
type Progress struct {
	PortfolioHash      string  `json:"portfolio_hash"` // first 8 chars
	HasSequences       bool    `json:"has_sequences"`
	TotalSequences     int     `json:"total_sequences"`
	EvaluatedCount     int     `json:"evaluated_count"`
	IsPlanning         bool    `json:"is_planning"`
	IsFinished         bool    `json:"is_finished"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// SortCandidatesByPriority orders candidates best-first, with the symbol
// as a deterministic tiebreak.
func SortCandidatesByPriority(candidates []ActionCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
}
