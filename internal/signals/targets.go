package signals

import (
	"github.com/aristath/helmsman/pkg/formulas"
)

// Sleeve labels which target bucket a symbol's weight came from.
type Sleeve string

const (
	SleeveCore        Sleeve = "core"
	SleeveOpportunity Sleeve = "opportunity"
)

// TargetInput bundles everything target construction needs.
type TargetInput struct {
	Signals         map[string]Block
	UserMultipliers map[string]float64 // conviction, default 1.0

	CoreTarget           float64
	OpportunityTarget    float64
	MinOppScore          float64
	MaxOpportunityTarget float64 // 0 disables dynamic inflation
}

// ComputeSymbolTargets distributes the portfolio between a core sleeve
// (momentum-ranked) and an opportunity sleeve (dip-ranked). The result
// sums to exactly 1.0 with zero weights dropped.
func ComputeSymbolTargets(in TargetInput) (map[string]float64, map[string]Sleeve) {
	coreCandidates := make(map[string]float64)
	oppCandidates := make(map[string]float64)

	for symbol, block := range in.Signals {
		mult := 1.0
		if m, ok := in.UserMultipliers[symbol]; ok && m >= 0 {
			mult = m
		}

		coreCandidates[symbol] = max(0.001, block.CoreRank+1) * mult

		if block.OppScore >= in.MinOppScore {
			vol := block.Vol20
			if vol < 1e-6 {
				vol = 1e-6
			}
			oppCandidates[symbol] = (block.OppScore / vol) * mult
		}
	}

	coreTarget := in.CoreTarget
	oppTarget := in.OpportunityTarget

	// More and stronger opportunities earn a bigger opportunity sleeve,
	// taken out of core.
	if in.MaxOpportunityTarget > in.OpportunityTarget && len(oppCandidates) > 0 {
		sum := 0.0
		for symbol := range oppCandidates {
			sum += in.Signals[symbol].OppScore
		}
		avgOpp := sum / float64(len(oppCandidates))

		breadth := formulas.Clip(float64(len(oppCandidates))/8, 0, 1)
		strength := 0.0
		if in.MinOppScore < 1 {
			strength = formulas.Clip((avgOpp-in.MinOppScore)/(1-in.MinOppScore), 0, 1)
		}
		extra := (0.5*breadth + 0.5*strength) * (in.MaxOpportunityTarget - in.OpportunityTarget)
		oppTarget += extra
		coreTarget -= extra
	}

	allocations := make(map[string]float64)
	sleeves := make(map[string]Sleeve)

	if len(oppCandidates) == 0 {
		// No opportunities: allocate everything from core weights so
		// the portfolio stays fully invested.
		distribute(allocations, coreCandidates, coreTarget+oppTarget)
		for symbol := range allocations {
			sleeves[symbol] = SleeveCore
		}
	} else {
		distribute(allocations, coreCandidates, coreTarget)
		for symbol := range allocations {
			sleeves[symbol] = SleeveCore
		}

		oppAlloc := make(map[string]float64)
		distribute(oppAlloc, oppCandidates, oppTarget)
		for symbol, w := range oppAlloc {
			allocations[symbol] += w
			sleeves[symbol] = SleeveOpportunity
		}
	}

	normalize(allocations)
	for symbol, w := range allocations {
		if w <= 0 {
			delete(allocations, symbol)
			delete(sleeves, symbol)
		}
	}
	for symbol := range sleeves {
		if _, ok := allocations[symbol]; !ok {
			delete(sleeves, symbol)
		}
	}
	return allocations, sleeves
}

// distribute adds target·(weight/Σweights) per symbol into dst.
func distribute(dst, candidates map[string]float64, target float64) {
	total := 0.0
	for _, w := range candidates {
		total += w
	}
	if total <= 0 || target <= 0 {
		return
	}
	for symbol, w := range candidates {
		dst[symbol] += target * (w / total)
	}
}

// normalize rescales weights to sum exactly 1.0.
func normalize(allocations map[string]float64) {
	total := 0.0
	for _, w := range allocations {
		total += w
	}
	if total <= 0 {
		return
	}
	for symbol, w := range allocations {
		allocations[symbol] = w / total
	}
}
