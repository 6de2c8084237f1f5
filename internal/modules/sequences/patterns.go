package sequences

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/planning"
)

// DirectBuyPattern spends available cash on the best buys, no sells.
type DirectBuyPattern struct {
	log zerolog.Logger
}

// NewDirectBuyPattern creates a direct-buy pattern.
func NewDirectBuyPattern(log zerolog.Logger) *DirectBuyPattern {
	return &DirectBuyPattern{log: log.With().Str("pattern", "direct_buy").Logger()}
}

func (p *DirectBuyPattern) Name() string { return "direct_buy" }

func (p *DirectBuyPattern) DefaultParams() map[string]float64 {
	return map[string]float64{"max_steps": 3}
}

func (p *DirectBuyPattern) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	maxSteps := int(param(params, "max_steps", 3))
	picked := greedyBuys(in.Buys(), in.AvailableCashEUR, maxSteps)
	if len(picked) == 0 {
		return nil, nil
	}
	return []planning.ActionSequence{planning.NewSequence("direct_buy", picked)}, nil
}

// SingleBestPattern emits the single highest-priority feasible action.
type SingleBestPattern struct {
	log zerolog.Logger
}

// NewSingleBestPattern creates a single-best pattern.
func NewSingleBestPattern(log zerolog.Logger) *SingleBestPattern {
	return &SingleBestPattern{log: log.With().Str("pattern", "single_best").Logger()}
}

func (p *SingleBestPattern) Name() string                      { return "single_best" }
func (p *SingleBestPattern) DefaultParams() map[string]float64 { return nil }

func (p *SingleBestPattern) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	var all []planning.ActionCandidate
	all = append(all, in.Sells()...)
	all = append(all, in.Buys()...)
	planning.SortCandidatesByPriority(all)

	for _, c := range all {
		if c.Side == "BUY" && c.ValueEUR > in.AvailableCashEUR {
			continue
		}
		return []planning.ActionSequence{
			planning.NewSequence("single_best", []planning.ActionCandidate{c}),
		}, nil
	}
	return nil, nil
}

// ProfitTakingPattern sells windfalls first and reinvests the proceeds
// into the best quality buys.
type ProfitTakingPattern struct {
	log zerolog.Logger
}

// NewProfitTakingPattern creates a profit-taking pattern.
func NewProfitTakingPattern(log zerolog.Logger) *ProfitTakingPattern {
	return &ProfitTakingPattern{log: log.With().Str("pattern", "profit_taking").Logger()}
}

func (p *ProfitTakingPattern) Name() string { return "profit_taking" }

func (p *ProfitTakingPattern) DefaultParams() map[string]float64 {
	return map[string]float64{"max_sells": 2, "max_buys": 2}
}

func (p *ProfitTakingPattern) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	maxSells := int(param(params, "max_sells", 2))
	maxBuys := int(param(params, "max_buys", 2))

	sells := in.Category(opportunities.CategoryProfitTaking)
	if len(sells) == 0 {
		return nil, nil
	}
	if len(sells) > maxSells {
		sells = sells[:maxSells]
	}

	budget := in.AvailableCashEUR + sellProceeds(sells)
	buys := greedyBuys(in.Buys(), budget, maxBuys)

	actions := append(append([]planning.ActionCandidate(nil), sells...), buys...)
	return []planning.ActionSequence{planning.NewSequence("profit_taking", actions)}, nil
}

// OpportunityFirstPattern chases dip-signal buys before anything else.
type OpportunityFirstPattern struct {
	log zerolog.Logger
}

// NewOpportunityFirstPattern creates an opportunity-first pattern.
func NewOpportunityFirstPattern(log zerolog.Logger) *OpportunityFirstPattern {
	return &OpportunityFirstPattern{log: log.With().Str("pattern", "opportunity_first").Logger()}
}

func (p *OpportunityFirstPattern) Name() string { return "opportunity_first" }

func (p *OpportunityFirstPattern) DefaultParams() map[string]float64 {
	return map[string]float64{"max_steps": 3}
}

func (p *OpportunityFirstPattern) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	maxSteps := int(param(params, "max_steps", 3))
	opps := in.Category(opportunities.CategoryOpportunity)
	picked := greedyBuys(opps, in.AvailableCashEUR, maxSteps)
	if len(picked) == 0 {
		return nil, nil
	}
	return []planning.ActionSequence{planning.NewSequence("opportunity_first", picked)}, nil
}

// CashGenerationPattern raises cash: sells only.
type CashGenerationPattern struct {
	log zerolog.Logger
}

// NewCashGenerationPattern creates a cash-generation pattern.
func NewCashGenerationPattern(log zerolog.Logger) *CashGenerationPattern {
	return &CashGenerationPattern{log: log.With().Str("pattern", "cash_generation").Logger()}
}

func (p *CashGenerationPattern) Name() string { return "cash_generation" }

func (p *CashGenerationPattern) DefaultParams() map[string]float64 {
	return map[string]float64{"max_sells": 3}
}

func (p *CashGenerationPattern) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	maxSells := int(param(params, "max_sells", 3))
	sells := in.Sells()
	if len(sells) == 0 {
		return nil, nil
	}
	if len(sells) > maxSells {
		sells = sells[:maxSells]
	}
	return []planning.ActionSequence{planning.NewSequence("cash_generation", sells)}, nil
}

// CostOptimizedPattern minimizes fee drag: fewer, larger buy tickets.
type CostOptimizedPattern struct {
	log zerolog.Logger
}

// NewCostOptimizedPattern creates a cost-optimized pattern.
func NewCostOptimizedPattern(log zerolog.Logger) *CostOptimizedPattern {
	return &CostOptimizedPattern{log: log.With().Str("pattern", "cost_optimized").Logger()}
}

func (p *CostOptimizedPattern) Name() string { return "cost_optimized" }

func (p *CostOptimizedPattern) DefaultParams() map[string]float64 {
	return map[string]float64{"max_steps": 2}
}

func (p *CostOptimizedPattern) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	maxSteps := int(param(params, "max_steps", 2))

	buys := in.Buys()
	// Largest ticket first spreads the fixed fee thinnest.
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].ValueEUR > buys[j].ValueEUR
	})

	picked := greedyBuys(buys, in.AvailableCashEUR, maxSteps)
	if len(picked) == 0 {
		return nil, nil
	}
	return []planning.ActionSequence{planning.NewSequence("cost_optimized", picked)}, nil
}

// DeepRebalancePattern pairs rebalance sells with rebalance buys for a
// full allocation correction in one sequence.
type DeepRebalancePattern struct {
	log zerolog.Logger
}

// NewDeepRebalancePattern creates a deep-rebalance pattern.
func NewDeepRebalancePattern(log zerolog.Logger) *DeepRebalancePattern {
	return &DeepRebalancePattern{log: log.With().Str("pattern", "deep_rebalance").Logger()}
}

func (p *DeepRebalancePattern) Name() string { return "deep_rebalance" }

func (p *DeepRebalancePattern) DefaultParams() map[string]float64 {
	return map[string]float64{"max_sells": 3, "max_buys": 3}
}

func (p *DeepRebalancePattern) Generate(in *Input, params map[string]float64) ([]planning.ActionSequence, error) {
	maxSells := int(param(params, "max_sells", 3))
	maxBuys := int(param(params, "max_buys", 3))

	var sells, buyPool []planning.ActionCandidate
	for _, c := range in.Category(opportunities.CategoryRebalance) {
		if c.Side == "SELL" {
			sells = append(sells, c)
		} else {
			buyPool = append(buyPool, c)
		}
	}
	if len(sells) == 0 && len(buyPool) == 0 {
		return nil, nil
	}
	if len(sells) > maxSells {
		sells = sells[:maxSells]
	}

	budget := in.AvailableCashEUR + sellProceeds(sells)
	buys := greedyBuys(buyPool, budget, maxBuys)
	if len(sells) == 0 && len(buys) == 0 {
		return nil, nil
	}

	actions := append(append([]planning.ActionCandidate(nil), sells...), buys...)
	return []planning.ActionSequence{planning.NewSequence("deep_rebalance", actions)}, nil
}
