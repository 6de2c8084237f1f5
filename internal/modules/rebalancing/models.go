// Package rebalancing turns target weights, signals and position state
// into an ordered, cash-feasible list of trade recommendations.
package rebalancing

import (
	"sort"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/signals"
)

// Reason codes attached to recommendations.
const (
	ReasonScaleout10   = "scaleout_10"
	ReasonScaleout18   = "scaleout_18"
	ReasonExitMomentum = "exit_momentum"
	ReasonTimeStop     = "time_stop_rotation"
	ReasonTrancheEntry = "tranche_entry"
	ReasonRebalance    = "rebalance"
	ReasonFundingSell  = "funding_sell"
	ReasonDeficitSell  = "cash_deficit_sell"
)

// TradeRecommendation is one proposed trade with its full rationale.
type TradeRecommendation struct {
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Side     string  `json:"side"`
	Quantity int     `json:"quantity"`
	MinLot   int     `json:"min_lot"`
	Price    float64 `json:"price"` // native currency
	Currency string  `json:"currency"`
	ValueEUR float64 `json:"value_eur"` // positive for buys, negative for sells

	CurrentAllocation float64 `json:"current_allocation"`
	TargetAllocation  float64 `json:"target_allocation"`
	AllocationDelta   float64 `json:"allocation_delta"`
	ContrarianScore   float64 `json:"contrarian_score"`
	Conviction        float64 `json:"conviction"`
	Priority          float64 `json:"priority"`

	Sleeve          signals.Sleeve   `json:"sleeve"`
	LotClass        signals.LotClass `json:"lot_class"`
	TicketPct       float64          `json:"ticket_pct"`
	CoreFloorActive bool             `json:"core_floor_active"`
	ReasonCode      string           `json:"reason_code"`
	Reason          string           `json:"reason"`
}

// AbsValueEUR is the unsigned EUR notional.
func (r TradeRecommendation) AbsValueEUR() float64 {
	if r.ValueEUR < 0 {
		return -r.ValueEUR
	}
	return r.ValueEUR
}

// PositionState is the per-symbol mini state machine position: how far
// the agent has scaled out and how many entry tranches it has taken.
type PositionState struct {
	ScaleoutStage int // 0..2
	TrancheStage  int // 0..3
}

// Input is everything one rebalance run consumes.
type Input struct {
	Positions  []domain.Position
	Securities map[string]universe.Security
	Scores     map[string]universe.Score
	Signals    map[string]signals.Block

	TargetAllocations map[string]float64
	Sleeves           map[string]signals.Sleeve
	States            map[string]PositionState
	Convictions       map[string]float64 // user multipliers, default 1.0

	Prices            map[string]float64 // symbol -> native price
	CashBalances      []domain.CashBalance
	FxRates           map[string]float64 // currency -> EUR
	AvailableCashEUR  float64
	PortfolioValueEUR float64
}

// fxToEUR defaults to 1.0 when the rate is unknown.
func (in *Input) fxToEUR(currency string) float64 {
	if currency == "" || strings.EqualFold(currency, domain.CurrencyEUR) {
		return 1.0
	}
	if rate, ok := in.FxRates[strings.ToUpper(currency)]; ok && rate > 0 {
		return rate
	}
	return 1.0
}

func (in *Input) conviction(symbol string) float64 {
	if c, ok := in.Convictions[strings.ToUpper(symbol)]; ok && c >= 0 {
		return c
	}
	return 1.0
}

func (in *Input) score(symbol string) float64 {
	if s, ok := in.Scores[strings.ToUpper(symbol)]; ok {
		return s.TotalScore
	}
	return 0.5
}

func (in *Input) position(symbol string) (domain.Position, bool) {
	for _, p := range in.Positions {
		if strings.EqualFold(p.Symbol, symbol) && p.Quantity > 0 {
			return p, true
		}
	}
	return domain.Position{}, false
}

// sortByPriority orders recommendations best-first with a symbol
// tiebreak for determinism.
func sortByPriority(recs []TradeRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].Symbol < recs[j].Symbol
	})
}
