package planning

import (
	"github.com/aristath/helmsman/pkg/formulas"
)

// Metrics is the per-symbol metric set the end-state scorer consumes.
// Nil pointers mean the metric was unavailable upstream.
type Metrics struct {
	CAGR5Y              *float64
	DividendYield       *float64
	ConsistencyScore    *float64
	FinancialStrength   *float64
	DividendConsistency *float64
	PayoutRatio         *float64
	Sortino             *float64
	VolatilityAnnual    *float64
	MaxDrawdown         *float64
	Sharpe              *float64
	Opinion             *float64
}

// RiskProfile selects the end-state score weight set.
type RiskProfile string

const (
	ProfileConservative RiskProfile = "conservative"
	ProfileBalanced     RiskProfile = "balanced"
	ProfileAggressive   RiskProfile = "aggressive"
)

// profileWeights are the component weights per risk profile. Each row
// sums to 1.0.
type profileWeights struct {
	TotalReturn     float64
	Diversification float64
	LongTermPromise float64
	Stability       float64
	Opinion         float64
}

var endStateWeights = map[RiskProfile]profileWeights{
	ProfileConservative: {0.25, 0.30, 0.20, 0.20, 0.05},
	ProfileBalanced:     {0.35, 0.25, 0.20, 0.15, 0.05},
	ProfileAggressive:   {0.45, 0.20, 0.25, 0.05, 0.05},
}

// EndStateInput is a candidate terminal portfolio to score.
type EndStateInput struct {
	Positions            map[string]float64 // symbol -> EUR value
	TotalValue           float64
	DiversificationScore float64
	Metrics              map[string]Metrics
	Profile              RiskProfile
}

// ScoreEndState computes the scalar quality of a terminal portfolio: a
// weighted sum of value-weighted per-symbol sub-scores plus the supplied
// diversification score. Returns the score and its component breakdown.
func ScoreEndState(in EndStateInput) (float64, map[string]float64) {
	weights, ok := endStateWeights[in.Profile]
	if !ok {
		weights = endStateWeights[ProfileBalanced]
	}

	var totalReturn, longTerm, stability, opinion float64
	if in.TotalValue > 0 {
		for symbol, value := range in.Positions {
			w := value / in.TotalValue
			m := in.Metrics[symbol]
			totalReturn += w * totalReturnScore(m)
			longTerm += w * longTermPromiseScore(m)
			stability += w * stabilityScore(m)
			opinion += w * orDefault(m.Opinion, 0.5)
		}
	}

	breakdown := map[string]float64{
		"total_return":      totalReturn,
		"diversification":   in.DiversificationScore,
		"long_term_promise": longTerm,
		"stability":         stability,
		"opinion":           opinion,
	}

	score := weights.TotalReturn*totalReturn +
		weights.Diversification*in.DiversificationScore +
		weights.LongTermPromise*longTerm +
		weights.Stability*stability +
		weights.Opinion*opinion
	return formulas.Clip(score, 0, 1), breakdown
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// totalReturnScore maps annual total return (CAGR + dividend yield) onto
// [0,1]: zero or negative returns score 0, 15%/year and above score 1.
func totalReturnScore(m Metrics) float64 {
	annual := orDefault(m.CAGR5Y, 0) + orDefault(m.DividendYield, 0)
	return formulas.Clip(annual/0.15, 0, 1)
}

// longTermPromiseScore blends consistency, financial strength, dividend
// consistency and the Sortino map. Missing sub-scores default to 0.5.
func longTermPromiseScore(m Metrics) float64 {
	divCons := m.DividendConsistency
	if divCons == nil && m.PayoutRatio != nil {
		v := DividendConsistencyFromPayout(*m.PayoutRatio)
		divCons = &v
	}

	sortino := 0.5
	if m.Sortino != nil {
		sortino = SortinoScore(*m.Sortino)
	}

	return 0.35*orDefault(m.ConsistencyScore, 0.5) +
		0.25*orDefault(m.FinancialStrength, 0.5) +
		0.25*orDefault(divCons, 0.5) +
		0.15*sortino
}

// stabilityScore blends the inverse-risk maps for volatility, drawdown
// and Sharpe. Missing sub-scores default to 0.5.
func stabilityScore(m Metrics) float64 {
	vol := 0.5
	if m.VolatilityAnnual != nil {
		vol = VolatilityScore(*m.VolatilityAnnual)
	}
	dd := 0.5
	if m.MaxDrawdown != nil {
		dd = DrawdownScore(*m.MaxDrawdown)
	}
	sharpe := 0.5
	if m.Sharpe != nil {
		sharpe = SharpeScore(*m.Sharpe)
	}
	return 0.50*vol + 0.30*dd + 0.20*sharpe
}

// SortinoScore maps a Sortino ratio onto [0,1] piecewise-linearly.
func SortinoScore(sortino float64) float64 {
	switch {
	case sortino >= 2.0:
		return 1.0
	case sortino >= 1.5:
		return 0.8 + (sortino-1.5)/0.5*0.2
	case sortino >= 1.0:
		return 0.6 + (sortino-1.0)/0.5*0.2
	case sortino >= 0:
		return sortino * 0.6
	default:
		return 0
	}
}

// DividendConsistencyFromPayout derives a consistency score from the
// payout ratio when no direct figure is available: a 30-60% payout is
// ideal, ramping down on either side, floored at 0.4 above 80%.
func DividendConsistencyFromPayout(payout float64) float64 {
	switch {
	case payout <= 0:
		return 0.5
	case payout < 0.30:
		return 0.5 + payout/0.30*0.5
	case payout <= 0.60:
		return 1.0
	case payout < 0.80:
		return 1.0 - (payout-0.60)/0.20*0.6
	default:
		return 0.4
	}
}

// VolatilityScore maps annualized volatility onto [0,1]: 15% or below
// is ideal, decaying to 0.1 at 40% and above.
func VolatilityScore(vol float64) float64 {
	switch {
	case vol <= 0.15:
		return 1.0
	case vol >= 0.40:
		return 0.1
	default:
		return 1.0 - (vol-0.15)/0.25*0.9
	}
}

// DrawdownScore maps the maximum drawdown magnitude onto [0,1]: 10% or
// below is ideal, reaching 0 at 50% and beyond.
func DrawdownScore(maxDrawdown float64) float64 {
	dd := maxDrawdown
	if dd < 0 {
		dd = -dd
	}
	switch {
	case dd <= 0.10:
		return 1.0
	case dd >= 0.50:
		return 0.0
	default:
		return 1.0 - (dd-0.10)/0.40
	}
}

// SharpeScore maps a Sharpe ratio onto [0,1] piecewise-linearly.
func SharpeScore(sharpe float64) float64 {
	switch {
	case sharpe >= 2.0:
		return 1.0
	case sharpe >= 1.0:
		return 0.7 + (sharpe-1.0)*0.3
	case sharpe >= 0.5:
		return 0.4 + (sharpe-0.5)*0.6
	case sharpe >= 0:
		return sharpe * 0.8
	default:
		return 0
	}
}

// DiversificationScore measures how evenly value is spread: one minus
// the normalized Herfindahl index over position weights.
func DiversificationScore(positions map[string]float64, totalValue float64) float64 {
	n := len(positions)
	if n <= 1 || totalValue <= 0 {
		return 0
	}
	hhi := 0.0
	for _, value := range positions {
		w := value / totalValue
		hhi += w * w
	}
	minHHI := 1.0 / float64(n)
	return formulas.Clip((1-hhi)/(1-minHHI), 0, 1)
}
