// Package sequences composes action candidates into ordered trade
// sequences via strategy patterns, scales them out with generators, and
// prunes them with filters.
package sequences

import (
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/planning"
)

// Input is what patterns and generators work from: the categorized
// candidates plus the cash budget and symbol metadata for diversity
// checks.
type Input struct {
	Opportunities    opportunities.ByCategory
	AvailableCashEUR float64
	MaxDepth         int

	CountryBySymbol  map[string]string
	IndustryBySymbol map[string]string
}

// Buys returns every BUY candidate across categories, best-first.
func (in *Input) Buys() []planning.ActionCandidate {
	return in.bySide("BUY")
}

// Sells returns every SELL candidate across categories, best-first.
func (in *Input) Sells() []planning.ActionCandidate {
	return in.bySide("SELL")
}

func (in *Input) bySide(side string) []planning.ActionCandidate {
	var out []planning.ActionCandidate
	for _, candidates := range in.Opportunities {
		for _, c := range candidates {
			if c.Side == side {
				out = append(out, c)
			}
		}
	}
	planning.SortCandidatesByPriority(out)
	return out
}

// Category returns the candidates of one category, best-first.
func (in *Input) Category(cat opportunities.Category) []planning.ActionCandidate {
	out := append([]planning.ActionCandidate(nil), in.Opportunities[cat]...)
	planning.SortCandidatesByPriority(out)
	return out
}

// Pattern composes candidates into sequences following one strategy.
// Every emitted sequence orders sells before buys.
type Pattern interface {
	Name() string
	DefaultParams() map[string]float64
	Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error)
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// greedyBuys picks buys best-first while the budget lasts.
func greedyBuys(buys []planning.ActionCandidate, budget float64, maxSteps int) []planning.ActionCandidate {
	var picked []planning.ActionCandidate
	seen := make(map[string]bool)
	for _, b := range buys {
		if maxSteps > 0 && len(picked) >= maxSteps {
			break
		}
		if seen[b.Symbol] || b.ValueEUR > budget {
			continue
		}
		picked = append(picked, b)
		seen[b.Symbol] = true
		budget -= b.ValueEUR
	}
	return picked
}

// sellProceeds sums the EUR the sells free up.
func sellProceeds(sells []planning.ActionCandidate) float64 {
	total := 0.0
	for _, s := range sells {
		total += s.ValueEUR
	}
	return total
}
