package opportunities

import (
	"github.com/aristath/helmsman/internal/modules/planning"
)

// Category buckets candidates for per-category caps.
type Category string

const (
	CategoryProfitTaking  Category = "profit_taking"
	CategoryAveragingDown Category = "averaging_down"
	CategoryOpportunity   Category = "opportunity"
	CategoryRebalance     Category = "rebalance"
)

// Calculator identifies trade candidates of one kind from the portfolio
// context. Calculators are stateless; parameters arrive merged over
// their defaults.
type Calculator interface {
	Name() string
	Category() Category
	DefaultParams() map[string]float64
	Calculate(ctx *Context, params map[string]float64) ([]planning.ActionCandidate, error)
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
