package opportunities

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/planning"
)

// OpportunityBuysCalculator proposes quality-gated buys of securities
// whose contrarian signal marks a dip worth entering.
type OpportunityBuysCalculator struct {
	log zerolog.Logger
}

// NewOpportunityBuysCalculator creates an opportunity-buys calculator.
func NewOpportunityBuysCalculator(log zerolog.Logger) *OpportunityBuysCalculator {
	return &OpportunityBuysCalculator{
		log: log.With().Str("calculator", "opportunity_buys").Logger(),
	}
}

func (c *OpportunityBuysCalculator) Name() string       { return "opportunity_buys" }
func (c *OpportunityBuysCalculator) Category() Category { return CategoryOpportunity }

// DefaultParams returns the quality and signal gates.
func (c *OpportunityBuysCalculator) DefaultParams() map[string]float64 {
	return map[string]float64{
		"min_score":      0.70,
		"min_opp_score":  0.30,
		"max_cost_ratio": 0.01,
	}
}

// Calculate emits BUY candidates for active, buyable securities whose
// composite score and opportunity signal both clear their gates.
func (c *OpportunityBuysCalculator) Calculate(ctx *Context, params map[string]float64) ([]planning.ActionCandidate, error) {
	minScore := param(params, "min_score", 0.70)
	minOppScore := param(params, "min_opp_score", 0.30)
	minTrade := ctx.MinTradeAmount(param(params, "max_cost_ratio", 0.01))

	if !ctx.AllowBuy || ctx.AvailableCashEUR <= minTrade {
		return nil, nil
	}

	var candidates []planning.ActionCandidate
	for symbol, security := range ctx.Securities {
		symbol = strings.ToUpper(symbol)
		if !security.Active || !security.AllowBuy || ctx.RecentlyBought[symbol] {
			continue
		}

		score := ctx.TotalScore(symbol)
		if score < minScore {
			continue
		}

		block, ok := ctx.Signals[symbol]
		if !ok || block.FreefallBlock || block.OppScore < minOppScore {
			continue
		}

		price := ctx.CurrentPrice(symbol)
		if price <= 0 {
			continue
		}

		fx := ctx.FxToEUR(security.Currency)
		quantity := CalculateBuyQuantity(price, fx, ctx.BaseTradeAmountEUR, security.MinLot)
		if quantity <= 0 {
			continue
		}

		valueEUR := float64(quantity) * price * fx
		totalCost := valueEUR + ctx.TransactionCostFixed + valueEUR*ctx.TransactionCostPercent
		if valueEUR < minTrade || totalCost > ctx.AvailableCashEUR {
			continue
		}

		priority := score * (0.5 + block.OppScore)
		if mult := security.PriorityMultiplier; mult > 0 {
			priority *= mult
		}

		candidates = append(candidates, planning.ActionCandidate{
			Side:     "BUY",
			Symbol:   symbol,
			Name:     security.Name,
			Quantity: quantity,
			MinLot:   security.MinLot,
			Price:    price,
			ValueEUR: valueEUR,
			Currency: security.Currency,
			Priority: priority,
			Reason:   fmt.Sprintf("score %.2f, dip signal %.2f - opportunity buy", score, block.OppScore),
			Tags:     []string{"opportunity", "quality"},
		})
	}

	planning.SortCandidatesByPriority(candidates)
	c.log.Debug().Int("candidates", len(candidates)).Msg("Opportunity buys identified")
	return candidates, nil
}
