// Package signals computes the contrarian signal block from close-price
// history and turns signals plus user convictions into target weights.
package signals

import (
	"math"

	"github.com/aristath/helmsman/pkg/formulas"
)

// minHistory is the shortest close series that produces a real signal
// block; anything shorter gets the neutral block.
const minHistory = 130

// Block is the deterministic per-symbol signal set. All momentum fields
// are simple returns over the lookback; drawdowns are negative fractions.
type Block struct {
	DD252          float64 `json:"dd252"`
	DD252RecentMin float64 `json:"dd252_recent_min"`
	RSI14          float64 `json:"rsi14"`
	Mom20          float64 `json:"mom20"`
	Mom60          float64 `json:"mom60"`
	Mom120         float64 `json:"mom120"`
	Vol20          float64 `json:"vol20"`
	VolRatio       float64 `json:"vol_ratio"`
	DipScore       float64 `json:"dip_score"`
	Capitulation   float64 `json:"capitulation_score"`
	CycleTurn      bool    `json:"cycle_turn"`
	FreefallBlock  bool    `json:"freefall_block"`
	OppScore       float64 `json:"opp_score"`
	CoreRank       float64 `json:"core_rank"`
}

// NeutralBlock is returned on insufficient history: RSI centered, all
// scores zero, unit volatility ratio.
func NeutralBlock() Block {
	return Block{RSI14: 50, VolRatio: 1}
}

// Compute derives the signal block from an oldest-first close series.
func Compute(closes []float64) Block {
	if len(closes) < minHistory {
		return NeutralBlock()
	}

	dd252 := drawdown(closes, 252)
	dd252RecentMin := recentMinDrawdown(closes, 252, 42)

	rsi := 50.0
	if v, ok := formulas.RSI(closes, 14); ok {
		rsi = v
	}

	mom20 := momentum(closes, 20)
	mom60 := momentum(closes, 60)
	mom120 := momentum(closes, 120)

	returns := formulas.Returns(closes)
	vol20 := formulas.StdDev(tail(returns, 20))
	vol120 := formulas.StdDev(tail(returns, 120))
	volRatio := 1.0
	if vol120 > 0 {
		volRatio = vol20 / vol120
	}

	// Dip ramps linearly over |dd| in [0.12, 0.35]; capitulation ramps
	// over RSI from 30 down to 10.
	dip := formulas.Clip((math.Abs(dd252)-0.12)/(0.35-0.12), 0, 1)
	capitulation := formulas.Clip((30-rsi)/(30-10), 0, 1)

	cycleTurn := mom20 > mom60 && mom20 > -0.02
	freefall := mom20 < -0.12 && volRatio > 1.5

	turn := 0.0
	if cycleTurn {
		turn = 1.0
	}
	opp := formulas.Clip(0.5*dip+0.3*capitulation+0.2*turn, 0, 1)
	if freefall {
		opp = 0
	}

	return Block{
		DD252:          dd252,
		DD252RecentMin: dd252RecentMin,
		RSI14:          rsi,
		Mom20:          mom20,
		Mom60:          mom60,
		Mom120:         mom120,
		Vol20:          vol20,
		VolRatio:       volRatio,
		DipScore:       dip,
		Capitulation:   capitulation,
		CycleTurn:      cycleTurn,
		FreefallBlock:  freefall,
		OppScore:       opp,
		CoreRank:       mom120 - 0.5*vol20,
	}
}

// EffectiveOpportunityScore applies the guarded event-memory boost: a
// confirmed cycle turn after a deep recent drawdown raises the score by
// up to maxBoost, scaled by how deep the drawdown went between the entry
// tranches.
func EffectiveOpportunityScore(b Block, entryT1DD, entryT3DD, maxBoost float64) float64 {
	if !b.CycleTurn || b.FreefallBlock {
		return b.OppScore
	}
	if b.DD252RecentMin > entryT1DD {
		return b.OppScore
	}

	span := math.Abs(entryT3DD) - math.Abs(entryT1DD)
	depth := 0.0
	if span > 0 {
		depth = formulas.Clip((math.Abs(b.DD252RecentMin)-math.Abs(entryT1DD))/span, 0, 1)
	}
	boost := maxBoost * (0.4 + 0.6*depth)
	return formulas.Clip(b.OppScore+boost, 0, 1)
}

// drawdown returns (last/trailingMax − 1) over the lookback window.
func drawdown(closes []float64, lookback int) float64 {
	window := tail(closes, lookback)
	peak := window[0]
	for _, v := range window {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0
	}
	return closes[len(closes)-1]/peak - 1
}

// recentMinDrawdown returns the deepest drawdown observed over the last
// `recent` bars, each measured against its own trailing max.
func recentMinDrawdown(closes []float64, lookback, recent int) float64 {
	minDD := 0.0
	n := len(closes)
	start := n - recent
	if start < 1 {
		start = 1
	}
	for i := start; i < n; i++ {
		sub := closes[:i+1]
		window := tail(sub, lookback)
		peak := window[0]
		for _, v := range window {
			if v > peak {
				peak = v
			}
		}
		if peak <= 0 {
			continue
		}
		dd := sub[len(sub)-1]/peak - 1
		if dd < minDD {
			minDD = dd
		}
	}
	return minDD
}

// momentum is the simple return over the lookback.
func momentum(closes []float64, lookback int) float64 {
	n := len(closes)
	if n <= lookback || closes[n-1-lookback] == 0 {
		return 0
	}
	return closes[n-1]/closes[n-1-lookback] - 1
}

func tail(s []float64, n int) []float64 {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
