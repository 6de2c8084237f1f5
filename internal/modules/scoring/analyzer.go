// Package scoring computes the composite per-security scores the
// planner and rebalancer rank by.
package scoring

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/yahoo"
	"github.com/aristath/helmsman/internal/modules/history"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/pkg/formulas"
)

// minScoringHistory is the shortest close series worth scoring.
const minScoringHistory = 130

// Analyzer derives universe.Score rows from price history and
// fundamentals.
type Analyzer struct {
	history *history.Repository
	scores  *universe.ScoreRepository
	yahoo   *yahoo.Client
	log     zerolog.Logger
}

// NewAnalyzer creates a scoring analyzer.
func NewAnalyzer(historyRepo *history.Repository, scores *universe.ScoreRepository, yahooClient *yahoo.Client, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		history: historyRepo,
		scores:  scores,
		yahoo:   yahooClient,
		log:     log.With().Str("service", "scoring").Logger(),
	}
}

// ScoreAll recomputes and persists the score for every security.
// Individual failures are logged and skipped.
func (a *Analyzer) ScoreAll(securities []universe.Security) int {
	scored := 0
	for _, sec := range securities {
		score, err := a.ScoreSecurity(sec)
		if err != nil {
			a.log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Scoring failed")
			continue
		}
		if err := a.scores.Upsert(score); err != nil {
			a.log.Error().Err(err).Str("symbol", sec.Symbol).Msg("Failed to persist score")
			continue
		}
		scored++
	}
	a.log.Info().Int("scored", scored).Int("total", len(securities)).Msg("Scoring run complete")
	return scored
}

// ScoreSecurity computes one security's score from up to five years of
// history plus fundamentals. Missing fundamentals degrade gracefully to
// a price-only score.
func (a *Analyzer) ScoreSecurity(sec universe.Security) (*universe.Score, error) {
	closes, err := a.history.GetCloses(sec.Symbol, 252*5)
	if err != nil {
		return nil, err
	}
	if len(closes) < minScoringHistory {
		// Not enough data for risk stats: neutral placeholder.
		return &universe.Score{
			Symbol:           sec.Symbol,
			TotalScore:       0.5,
			QualityScore:     0.5,
			OpportunityScore: 0.5,
			CalculatedAt:     time.Now().UTC(),
		}, nil
	}

	returns := formulas.Returns(closes)
	volatility := formulas.AnnualizedVolatility(returns)
	maxDD := maxDrawdown(closes)
	annualized := annualizedReturn(closes)
	sharpe := ratioOr(annualized, volatility)
	sortino := ratioOr(annualized, downsideDeviation(returns))

	score := &universe.Score{
		Symbol:           sec.Symbol,
		Volatility:       &volatility,
		MaxDrawdown:      &maxDD,
		AnnualizedReturn: &annualized,
		SharpeRatio:      &sharpe,
		SortinoRatio:     &sortino,
		CalculatedAt:     time.Now().UTC(),
	}

	quality := 0.5
	if a.yahoo != nil {
		if f, err := a.yahoo.GetFundamentals(sec.Symbol, sec.YahooSymbol); err == nil {
			quality = qualityFromFundamentals(f)
			if f.PayoutRatio > 0 {
				payout := f.PayoutRatio
				score.PayoutRatio = &payout
				divCons := dividendConsistency(f.PayoutRatio)
				score.DividendConsistency = &divCons
			}
		} else {
			a.log.Debug().Err(err).Str("symbol", sec.Symbol).Msg("No fundamentals, price-only score")
		}

		if op, err := a.yahoo.GetAnalystOpinion(sec.Symbol, sec.YahooSymbol); err == nil {
			analyst := op.Score
			score.AnalystScore = &analyst
		} else {
			a.log.Debug().Err(err).Str("symbol", sec.Symbol).Msg("No analyst coverage")
		}
	}

	opportunity := opportunityScore(closes)
	score.QualityScore = quality
	score.OpportunityScore = opportunity
	score.TotalScore = formulas.Clip(
		0.40*quality+
			0.30*returnScore(annualized)+
			0.20*stabilityScore(volatility, maxDD)+
			0.10*opportunity, 0, 1)
	return score, nil
}

// qualityFromFundamentals blends profitability, leverage and valuation
// into [0,1].
func qualityFromFundamentals(f *yahoo.Fundamentals) float64 {
	parts := 0.0
	weight := 0.0

	if f.ROE != 0 {
		parts += 0.35 * formulas.Clip(f.ROE/0.20, 0, 1)
		weight += 0.35
	}
	if f.ProfitMargin != 0 {
		parts += 0.25 * formulas.Clip(f.ProfitMargin/0.15, 0, 1)
		weight += 0.25
	}
	if f.DebtToEquity > 0 {
		// Lower leverage scores higher; 2.0x and above bottoms out.
		parts += 0.20 * formulas.Clip(1-f.DebtToEquity/2.0, 0, 1)
		weight += 0.20
	}
	if f.PERatio > 0 {
		parts += 0.20 * formulas.Clip(1-(f.PERatio-10)/40, 0, 1)
		weight += 0.20
	}
	if weight == 0 {
		return 0.5
	}
	return parts / weight
}

// opportunityScore rewards a drawdown from the 252-day peak.
func opportunityScore(closes []float64) float64 {
	window := closes
	if len(window) > 252 {
		window = window[len(window)-252:]
	}
	peak := window[0]
	for _, v := range window {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0.5
	}
	dd := window[len(window)-1]/peak - 1
	return formulas.Clip((math.Abs(dd)-0.05)/0.30, 0, 1)
}

func returnScore(annualized float64) float64 {
	return formulas.Clip(annualized/0.15, 0, 1)
}

func stabilityScore(volatility, maxDD float64) float64 {
	vol := formulas.Clip(1-(volatility-0.15)/0.25, 0, 1)
	dd := formulas.Clip(1-(math.Abs(maxDD)-0.10)/0.40, 0, 1)
	return 0.6*vol + 0.4*dd
}

// dividendConsistency maps payout ratio onto [0,1]: 30-60% is ideal.
func dividendConsistency(payout float64) float64 {
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

func annualizedReturn(closes []float64) float64 {
	first, last := closes[0], closes[len(closes)-1]
	if first <= 0 || last <= 0 {
		return 0
	}
	years := float64(len(closes)) / 252.0
	if years <= 0 {
		return 0
	}
	return math.Pow(last/first, 1/years) - 1
}

func maxDrawdown(closes []float64) float64 {
	peak := closes[0]
	worst := 0.0
	for _, v := range closes {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := v/peak - 1
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

func downsideDeviation(returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	return formulas.StdDev(downside) * math.Sqrt(252)
}

func ratioOr(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}
