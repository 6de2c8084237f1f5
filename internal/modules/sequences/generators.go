package sequences

import (
	"math/rand"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/planning"
)

// Generator emits candidate sequences at scale from the raw candidate
// pool, under explicit caps.
type Generator interface {
	Name() string
	DefaultParams() map[string]float64
	Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error)
}

// CombinatorialGenerator enumerates sell/buy subsets exhaustively under
// hard caps.
type CombinatorialGenerator struct {
	log zerolog.Logger
}

// NewCombinatorialGenerator creates a combinatorial generator.
func NewCombinatorialGenerator(log zerolog.Logger) *CombinatorialGenerator {
	return &CombinatorialGenerator{log: log.With().Str("generator", "combinatorial").Logger()}
}

func (g *CombinatorialGenerator) Name() string { return "combinatorial" }

// DefaultParams returns the enumeration caps.
func (g *CombinatorialGenerator) DefaultParams() map[string]float64 {
	return map[string]float64{
		"max_sells":        2,
		"max_buys":         3,
		"max_steps":        4,
		"max_candidates":   10,
		"max_combinations": 500,
	}
}

// Generate enumerates every sells-subset x buys-subset combination up
// to the caps, skipping infeasible budgets.
func (g *CombinatorialGenerator) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	maxSells := int(param(params, "max_sells", 2))
	maxBuys := int(param(params, "max_buys", 3))
	maxSteps := int(param(params, "max_steps", 4))
	maxCandidates := int(param(params, "max_candidates", 10))
	maxCombinations := int(param(params, "max_combinations", 500))

	sells := capList(in.Sells(), maxCandidates)
	buys := capList(in.Buys(), maxCandidates)

	sellSets := subsets(sells, maxSells)
	buySets := subsets(buys, maxBuys)

	var result []planning.ActionSequence
	for _, ss := range sellSets {
		for _, bs := range buySets {
			if len(result) >= maxCombinations {
				g.log.Debug().Int("cap", maxCombinations).Msg("Combination cap reached")
				return result, nil
			}
			if len(ss)+len(bs) == 0 || len(ss)+len(bs) > maxSteps {
				continue
			}
			if overlapSymbols(ss, bs) {
				continue
			}
			budget := in.AvailableCashEUR + sellProceeds(ss)
			if buyCost(bs) > budget {
				continue
			}
			actions := append(append([]planning.ActionCandidate(nil), ss...), bs...)
			result = append(result, planning.NewSequence("combinatorial", actions))
		}
	}

	g.log.Debug().Int("sequences", len(result)).Msg("Combinatorial generation complete")
	return result, nil
}

// EnhancedCombinatorialGenerator samples priority-weighted combinations
// and rejects sequences too similar to recent output.
type EnhancedCombinatorialGenerator struct {
	log zerolog.Logger
}

// NewEnhancedCombinatorialGenerator creates an enhanced combinatorial
// generator.
func NewEnhancedCombinatorialGenerator(log zerolog.Logger) *EnhancedCombinatorialGenerator {
	return &EnhancedCombinatorialGenerator{
		log: log.With().Str("generator", "enhanced_combinatorial").Logger(),
	}
}

func (g *EnhancedCombinatorialGenerator) Name() string { return "enhanced_combinatorial" }

// DefaultParams returns the sampling knobs.
func (g *EnhancedCombinatorialGenerator) DefaultParams() map[string]float64 {
	return map[string]float64{
		"samples":   200,
		"max_steps": 4,
		"seed":      0, // 0 = non-deterministic
	}
}

// Generate draws action subsets with probability proportional to
// priority, enforcing country/industry diversity against the last 10
// emitted sequences: >80% overlap on both axes rejects the draw.
func (g *EnhancedCombinatorialGenerator) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	samples := int(param(params, "samples", 200))
	maxSteps := int(param(params, "max_steps", 4))
	seed := int64(param(params, "seed", 0))

	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewSource(seed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	sells := in.Sells()
	buys := in.Buys()
	if len(sells)+len(buys) == 0 {
		return nil, nil
	}

	var result []planning.ActionSequence
	var recent [][]planning.ActionCandidate
	seen := make(map[string]bool)

	for i := 0; i < samples; i++ {
		steps := 1 + rng.Intn(maxSteps)
		drawnSells := weightedDraw(rng, sells, steps/2)
		drawnBuys := weightedDraw(rng, buys, steps-len(drawnSells))
		if len(drawnSells)+len(drawnBuys) == 0 {
			continue
		}
		if overlapSymbols(drawnSells, drawnBuys) {
			continue
		}
		budget := in.AvailableCashEUR + sellProceeds(drawnSells)
		if buyCost(drawnBuys) > budget {
			continue
		}

		actions := append(append([]planning.ActionCandidate(nil), drawnSells...), drawnBuys...)
		if g.tooSimilar(actions, recent, in) {
			continue
		}

		seq := planning.NewSequence("enhanced_combinatorial", actions)
		if seen[seq.SequenceHash] {
			continue
		}
		seen[seq.SequenceHash] = true
		result = append(result, seq)

		recent = append(recent, actions)
		if len(recent) > 10 {
			recent = recent[1:]
		}
	}

	g.log.Debug().Int("sequences", len(result)).Msg("Enhanced combinatorial generation complete")
	return result, nil
}

// tooSimilar rejects an action set overlapping >80% with any recent set
// on both the country and the industry axis.
func (g *EnhancedCombinatorialGenerator) tooSimilar(actions []planning.ActionCandidate, recent [][]planning.ActionCandidate, in *Input) bool {
	for _, prev := range recent {
		countryOverlap := axisOverlap(actions, prev, in.CountryBySymbol)
		industryOverlap := axisOverlap(actions, prev, in.IndustryBySymbol)
		if countryOverlap > 0.8 && industryOverlap > 0.8 {
			return true
		}
	}
	return false
}

// axisOverlap is the fraction of a's axis values also present in b's.
func axisOverlap(a, b []planning.ActionCandidate, axis map[string]string) float64 {
	if len(a) == 0 {
		return 0
	}
	inB := make(map[string]bool)
	for _, c := range b {
		if v, ok := axis[strings.ToUpper(c.Symbol)]; ok {
			inB[v] = true
		}
	}
	matched := 0
	for _, c := range a {
		if v, ok := axis[strings.ToUpper(c.Symbol)]; ok && inB[v] {
			matched++
		}
	}
	return float64(matched) / float64(len(a))
}

// weightedDraw samples up to n distinct candidates with probability
// proportional to priority.
func weightedDraw(rng *rand.Rand, pool []planning.ActionCandidate, n int) []planning.ActionCandidate {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	remaining := append([]planning.ActionCandidate(nil), pool...)
	var drawn []planning.ActionCandidate
	for len(drawn) < n && len(remaining) > 0 {
		total := 0.0
		for _, c := range remaining {
			total += positive(c.Priority)
		}
		if total <= 0 {
			break
		}
		target := rng.Float64() * total
		idx := 0
		for i, c := range remaining {
			target -= positive(c.Priority)
			if target <= 0 {
				idx = i
				break
			}
		}
		drawn = append(drawn, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return drawn
}

func positive(v float64) float64 {
	if v <= 0 {
		return 0.001
	}
	return v
}

func capList(list []planning.ActionCandidate, n int) []planning.ActionCandidate {
	if n > 0 && len(list) > n {
		return list[:n]
	}
	return list
}

// subsets returns every subset of size 0..maxSize preserving order.
func subsets(pool []planning.ActionCandidate, maxSize int) [][]planning.ActionCandidate {
	result := [][]planning.ActionCandidate{nil}
	if maxSize <= 0 {
		return result
	}
	var grow func(start int, current []planning.ActionCandidate)
	grow = func(start int, current []planning.ActionCandidate) {
		if len(current) >= maxSize {
			return
		}
		for i := start; i < len(pool); i++ {
			next := append(append([]planning.ActionCandidate(nil), current...), pool[i])
			result = append(result, next)
			grow(i+1, next)
		}
	}
	grow(0, nil)
	return result
}

func overlapSymbols(a, b []planning.ActionCandidate) bool {
	symbols := make(map[string]bool, len(a))
	for _, c := range a {
		symbols[c.Symbol] = true
	}
	for _, c := range b {
		if symbols[c.Symbol] {
			return true
		}
	}
	return false
}

func buyCost(buys []planning.ActionCandidate) float64 {
	total := 0.0
	for _, b := range buys {
		total += b.ValueEUR
	}
	return total
}
