package opportunities

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/planning"
)

// groupDrift returns the target-minus-current weight drift of the group
// a symbol belongs to. Unknown groups drift 0.
func groupDrift(symbol string, toGroup map[string]string, current, targets map[string]float64) float64 {
	group, ok := toGroup[strings.ToUpper(symbol)]
	if !ok {
		return 0
	}
	target, ok := targets[group]
	if !ok {
		return 0
	}
	return target - current[group]
}

// allocationDrift combines the geography and industry drift for one
// symbol. Positive means underweight.
func allocationDrift(ctx *Context, symbol string) float64 {
	country := groupDrift(symbol, ctx.CountryToGroup, ctx.CountryAllocations, ctx.CountryWeights)
	industry := groupDrift(symbol, ctx.IndustryToGroup, ctx.IndustryAllocations, ctx.IndustryWeights)
	return 0.5*country + 0.5*industry
}

// RebalanceBuysCalculator buys into underweight allocation groups.
type RebalanceBuysCalculator struct {
	log zerolog.Logger
}

// NewRebalanceBuysCalculator creates a rebalance-buys calculator.
func NewRebalanceBuysCalculator(log zerolog.Logger) *RebalanceBuysCalculator {
	return &RebalanceBuysCalculator{
		log: log.With().Str("calculator", "rebalance_buys").Logger(),
	}
}

func (c *RebalanceBuysCalculator) Name() string       { return "rebalance_buys" }
func (c *RebalanceBuysCalculator) Category() Category { return CategoryRebalance }

// DefaultParams returns the drift margin and quality gate.
func (c *RebalanceBuysCalculator) DefaultParams() map[string]float64 {
	return map[string]float64{
		"min_drift":      0.02, // ignore drift inside the band
		"min_score":      0.50,
		"max_cost_ratio": 0.01,
	}
}

// Calculate emits BUY candidates in groups whose current weight trails
// the target by more than the drift margin, best-scored names first.
func (c *RebalanceBuysCalculator) Calculate(ctx *Context, params map[string]float64) ([]planning.ActionCandidate, error) {
	minDrift := param(params, "min_drift", 0.02)
	minScore := param(params, "min_score", 0.50)
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

		drift := allocationDrift(ctx, symbol)
		if drift < minDrift {
			continue
		}
		score := ctx.TotalScore(symbol)
		if score < minScore {
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

		candidates = append(candidates, planning.ActionCandidate{
			Side:     "BUY",
			Symbol:   symbol,
			Name:     security.Name,
			Quantity: quantity,
			MinLot:   security.MinLot,
			Price:    price,
			ValueEUR: valueEUR,
			Currency: security.Currency,
			Priority: 10*drift + 0.3*score,
			Reason:   fmt.Sprintf("%.1f%% underweight - rebalance buy", drift*100),
			Tags:     []string{"rebalance"},
		})
	}

	planning.SortCandidatesByPriority(candidates)
	c.log.Debug().Int("candidates", len(candidates)).Msg("Rebalance buys identified")
	return candidates, nil
}

// RebalanceSellsCalculator trims overweight allocation groups, weakest
// holdings first.
type RebalanceSellsCalculator struct {
	log zerolog.Logger
}

// NewRebalanceSellsCalculator creates a rebalance-sells calculator.
func NewRebalanceSellsCalculator(log zerolog.Logger) *RebalanceSellsCalculator {
	return &RebalanceSellsCalculator{
		log: log.With().Str("calculator", "rebalance_sells").Logger(),
	}
}

func (c *RebalanceSellsCalculator) Name() string       { return "rebalance_sells" }
func (c *RebalanceSellsCalculator) Category() Category { return CategoryRebalance }

// DefaultParams returns the drift margin and trim fraction.
func (c *RebalanceSellsCalculator) DefaultParams() map[string]float64 {
	return map[string]float64{
		"min_drift":     0.02,
		"sell_fraction": 0.25,
	}
}

// Calculate emits SELL candidates for positions in groups whose current
// weight exceeds the target by more than the drift margin.
func (c *RebalanceSellsCalculator) Calculate(ctx *Context, params map[string]float64) ([]planning.ActionCandidate, error) {
	minDrift := param(params, "min_drift", 0.02)
	sellFraction := param(params, "sell_fraction", 0.25)

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

		// Negative drift means overweight.
		drift := allocationDrift(ctx, symbol)
		if drift > -minDrift {
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

		// Weaker names in the overweight group go first.
		score := ctx.TotalScore(symbol)
		candidates = append(candidates, planning.ActionCandidate{
			Side:     "SELL",
			Symbol:   symbol,
			Name:     security.Name,
			Quantity: quantity,
			MinLot:   security.MinLot,
			Price:    position.CurrentPrice,
			ValueEUR: valueEUR,
			Currency: position.Currency,
			Priority: -10*drift + 0.3*(1-score),
			Reason:   fmt.Sprintf("%.1f%% overweight - rebalance sell", -drift*100),
			Tags:     []string{"rebalance"},
		})
	}

	planning.SortCandidatesByPriority(candidates)
	c.log.Debug().Int("candidates", len(candidates)).Msg("Rebalance sells identified")
	return candidates, nil
}
