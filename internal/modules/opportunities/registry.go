package opportunities

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/planning"
)

// Registry holds the opportunity calculators and runs the enabled set.
type Registry struct {
	calculators map[string]Calculator
	order       []string
	log         zerolog.Logger
}

// NewRegistry creates an empty calculator registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		calculators: make(map[string]Calculator),
		log:         log.With().Str("component", "calculator_registry").Logger(),
	}
}

// Register adds a calculator, keeping registration order for
// deterministic runs.
func (r *Registry) Register(c Calculator) {
	name := c.Name()
	if _, exists := r.calculators[name]; !exists {
		r.order = append(r.order, name)
	}
	r.calculators[name] = c
	r.log.Debug().Str("name", name).Str("category", string(c.Category())).Msg("Registered calculator")
}

// Get retrieves a calculator by name.
func (r *Registry) Get(name string) (Calculator, error) {
	c, ok := r.calculators[name]
	if !ok {
		return nil, fmt.Errorf("calculator not found: %s", name)
	}
	return c, nil
}

// ByCategory groups candidates for the per-category cap.
type ByCategory map[Category][]planning.ActionCandidate

// All flattens the categories into one list, best-first.
func (b ByCategory) All() []planning.ActionCandidate {
	var all []planning.ActionCandidate
	for _, candidates := range b {
		all = append(all, candidates...)
	}
	planning.SortCandidatesByPriority(all)
	return all
}

// Identify runs every enabled calculator against the context, merges
// each one's params over its defaults, aggregates by category, and
// applies the per-category cap. A failing calculator is logged and
// skipped; it never aborts the run.
func (r *Registry) Identify(ctx *Context, cfg *planning.Configuration) (ByCategory, error) {
	result := make(ByCategory)

	for _, name := range r.order {
		if !cfg.CalculatorEnabled(name) {
			continue
		}
		calc := r.calculators[name]
		params := planning.MergedParams(calc.DefaultParams(), cfg.Calculators, name)

		candidates, err := calc.Calculate(ctx, params)
		if err != nil {
			r.log.Error().Err(err).Str("calculator", name).Msg("Calculator failed")
			continue
		}

		valid := candidates[:0]
		for _, cand := range candidates {
			if cand.IsValid() {
				valid = append(valid, cand)
			}
		}
		result[calc.Category()] = append(result[calc.Category()], valid...)
	}

	if limit := cfg.MaxOpportunitiesPerCategory; limit > 0 {
		for category, candidates := range result {
			planning.SortCandidatesByPriority(candidates)
			if len(candidates) > limit {
				result[category] = candidates[:limit]
			}
		}
	}

	total := 0
	for _, candidates := range result {
		total += len(candidates)
	}
	r.log.Info().Int("total_candidates", total).Int("categories", len(result)).
		Msg("Opportunity identification complete")
	return result, nil
}

// NewPopulatedRegistry registers the full calculator set.
func NewPopulatedRegistry(log zerolog.Logger) *Registry {
	registry := NewRegistry(log)
	registry.Register(NewProfitTakingCalculator(log))
	registry.Register(NewAveragingDownCalculator(log))
	registry.Register(NewOpportunityBuysCalculator(log))
	registry.Register(NewRebalanceBuysCalculator(log))
	registry.Register(NewRebalanceSellsCalculator(log))
	return registry
}
