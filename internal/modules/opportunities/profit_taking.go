package opportunities

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/planning"
)

// ProfitTakingCalculator trims positions showing windfall gains.
type ProfitTakingCalculator struct {
	log zerolog.Logger
}

// NewProfitTakingCalculator creates a profit-taking calculator.
func NewProfitTakingCalculator(log zerolog.Logger) *ProfitTakingCalculator {
	return &ProfitTakingCalculator{
		log: log.With().Str("calculator", "profit_taking").Logger(),
	}
}

func (c *ProfitTakingCalculator) Name() string       { return "profit_taking" }
func (c *ProfitTakingCalculator) Category() Category { return CategoryProfitTaking }

// DefaultParams returns the windfall thresholds.
func (c *ProfitTakingCalculator) DefaultParams() map[string]float64 {
	return map[string]float64{
		"min_gain":      0.25, // windfall threshold
		"sell_fraction": 0.30,
		"max_positions": 0, // 0 = unlimited
	}
}

// Calculate emits SELL candidates for positions whose unrealized gain
// exceeds the windfall threshold.
func (c *ProfitTakingCalculator) Calculate(ctx *Context, params map[string]float64) ([]planning.ActionCandidate, error) {
	minGain := param(params, "min_gain", 0.25)
	sellFraction := param(params, "sell_fraction", 0.30)
	maxPositions := int(param(params, "max_positions", 0))

	if !ctx.AllowSell {
		return nil, nil
	}

	var candidates []planning.ActionCandidate
	for _, position := range ctx.Positions {
		symbol := strings.ToUpper(position.Symbol)
		security, ok := ctx.Securities[symbol]
		if !ok || !security.AllowSell {
			continue
		}

		gain := position.GainPercent()
		if gain < minGain {
			continue
		}

		quantity := CalculateSellQuantity(position.Quantity, sellFraction, security.MinLot)
		if quantity <= 0 {
			continue
		}

		fx := ctx.FxToEUR(position.Currency)
		valueEUR := float64(quantity) * position.CurrentPrice * fx
		if valueEUR <= 0 {
			continue
		}

		// Bigger windfalls trim first.
		priority := 0.5 + gain

		candidates = append(candidates, planning.ActionCandidate{
			Side:     "SELL",
			Symbol:   symbol,
			Name:     security.Name,
			Quantity: quantity,
			MinLot:   security.MinLot,
			Price:    position.CurrentPrice,
			ValueEUR: valueEUR,
			Currency: position.Currency,
			Priority: priority,
			Reason:   fmt.Sprintf("%.1f%% gain - taking profits", gain*100),
			Tags:     []string{"profit_taking"},
		})
	}

	planning.SortCandidatesByPriority(candidates)
	if maxPositions > 0 && len(candidates) > maxPositions {
		candidates = candidates[:maxPositions]
	}

	c.log.Debug().Int("candidates", len(candidates)).Msg("Profit-taking opportunities identified")
	return candidates, nil
}
