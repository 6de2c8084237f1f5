package opportunities

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/planning"
)

// AveragingDownCalculator buys more of owned quality securities that
// fell into the averaging-down band.
type AveragingDownCalculator struct {
	log zerolog.Logger
}

// NewAveragingDownCalculator creates an averaging-down calculator.
func NewAveragingDownCalculator(log zerolog.Logger) *AveragingDownCalculator {
	return &AveragingDownCalculator{
		log: log.With().Str("calculator", "averaging_down").Logger(),
	}
}

func (c *AveragingDownCalculator) Name() string       { return "averaging_down" }
func (c *AveragingDownCalculator) Category() Category { return CategoryAveragingDown }

// DefaultParams returns the loss band and quality gate.
func (c *AveragingDownCalculator) DefaultParams() map[string]float64 {
	return map[string]float64{
		"min_loss":       -0.10,
		"max_drawdown":   -0.30, // deeper than this is a falling knife
		"min_score":      0.60,
		"max_cost_ratio": 0.01,
	}
}

// Calculate emits BUY candidates for held positions whose loss sits
// between max_drawdown and min_loss and whose score clears the gate.
func (c *AveragingDownCalculator) Calculate(ctx *Context, params map[string]float64) ([]planning.ActionCandidate, error) {
	minLoss := param(params, "min_loss", -0.10)
	maxDrawdown := param(params, "max_drawdown", -0.30)
	minScore := param(params, "min_score", 0.60)
	minTrade := ctx.MinTradeAmount(param(params, "max_cost_ratio", 0.01))

	if !ctx.AllowBuy || ctx.AvailableCashEUR <= minTrade {
		return nil, nil
	}

	var candidates []planning.ActionCandidate
	for _, position := range ctx.Positions {
		symbol := strings.ToUpper(position.Symbol)
		if ctx.RecentlyBought[symbol] {
			continue
		}
		security, ok := ctx.Securities[symbol]
		if !ok || !security.AllowBuy {
			continue
		}

		loss := position.GainPercent()
		if loss >= minLoss || loss <= maxDrawdown {
			continue
		}
		if ctx.TotalScore(symbol) < minScore {
			continue
		}
		if block, ok := ctx.Signals[symbol]; ok && block.FreefallBlock {
			continue
		}

		fx := ctx.FxToEUR(position.Currency)
		quantity := CalculateBuyQuantity(position.CurrentPrice, fx, ctx.BaseTradeAmountEUR, security.MinLot)
		if quantity <= 0 {
			continue
		}

		valueEUR := float64(quantity) * position.CurrentPrice * fx
		totalCost := valueEUR + ctx.TransactionCostFixed + valueEUR*ctx.TransactionCostPercent
		if valueEUR < minTrade || totalCost > ctx.AvailableCashEUR {
			continue
		}

		// Deeper loss within the band means higher priority.
		normalized := (loss - maxDrawdown) / (minLoss - maxDrawdown)
		priority := (1 - normalized) * 0.7

		candidates = append(candidates, planning.ActionCandidate{
			Side:     "BUY",
			Symbol:   symbol,
			Name:     security.Name,
			Quantity: quantity,
			MinLot:   security.MinLot,
			Price:    position.CurrentPrice,
			ValueEUR: valueEUR,
			Currency: position.Currency,
			Priority: priority,
			Reason:   fmt.Sprintf("%.1f%% below cost basis - averaging down", loss*100),
			Tags:     []string{"averaging_down", "value_opportunity"},
		})
	}

	planning.SortCandidatesByPriority(candidates)
	c.log.Debug().Int("candidates", len(candidates)).Msg("Averaging-down opportunities identified")
	return candidates, nil
}
