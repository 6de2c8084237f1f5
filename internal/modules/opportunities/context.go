// Package opportunities turns portfolio state into prioritized trade
// candidates via pluggable calculators.
package opportunities

import (
	"math"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/signals"
)

// Context is the snapshot every calculator works from. All maps are
// keyed by upper-case symbol; FxRates maps currency code to the EUR
// rate (EUR itself is 1.0).
type Context struct {
	Positions  []domain.Position
	Securities map[string]universe.Security
	Scores     map[string]universe.Score
	Signals    map[string]signals.Block

	CountryAllocations  map[string]float64 // group -> current weight
	IndustryAllocations map[string]float64
	CountryToGroup      map[string]string // symbol -> group
	IndustryToGroup     map[string]string
	CountryWeights      map[string]float64 // group -> target weight
	IndustryWeights     map[string]float64

	Prices            map[string]float64 // symbol -> native price
	FxRates           map[string]float64
	AvailableCashEUR  float64
	PortfolioValueEUR float64

	TransactionCostFixed   float64
	TransactionCostPercent float64
	BaseTradeAmountEUR     float64

	RecentlyBought map[string]bool
	AllowBuy       bool
	AllowSell      bool
}

// FxToEUR returns the conversion rate from a currency into EUR,
// defaulting to 1.0 when the rate is unknown.
func (c *Context) FxToEUR(currency string) float64 {
	if currency == "" || strings.EqualFold(currency, domain.CurrencyEUR) {
		return 1.0
	}
	if rate, ok := c.FxRates[strings.ToUpper(currency)]; ok && rate > 0 {
		return rate
	}
	return 1.0
}

// Position returns the held position for a symbol, if any.
func (c *Context) Position(symbol string) (domain.Position, bool) {
	for _, p := range c.Positions {
		if strings.EqualFold(p.Symbol, symbol) && p.Quantity > 0 {
			return p, true
		}
	}
	return domain.Position{}, false
}

// CurrentPrice returns the native price for a symbol, preferring the
// quote table and falling back to the held position's price.
func (c *Context) CurrentPrice(symbol string) float64 {
	if p, ok := c.Prices[strings.ToUpper(symbol)]; ok && p > 0 {
		return p
	}
	if pos, ok := c.Position(symbol); ok {
		return pos.CurrentPrice
	}
	return 0
}

// TotalScore returns a symbol's composite score, or 0.5 when unscored.
func (c *Context) TotalScore(symbol string) float64 {
	if s, ok := c.Scores[strings.ToUpper(symbol)]; ok {
		return s.TotalScore
	}
	return 0.5
}

// MinTradeAmount derives the smallest sensible ticket from the fee
// model: the trade value at which fees equal maxCostRatio of it.
func (c *Context) MinTradeAmount(maxCostRatio float64) float64 {
	if maxCostRatio <= c.TransactionCostPercent {
		return c.TransactionCostFixed * 100
	}
	return c.TransactionCostFixed / (maxCostRatio - c.TransactionCostPercent)
}

// CalculateBuyQuantity converts a target EUR amount into a whole-lot
// quantity at the security's native price. Returns 0 when even one lot
// exceeds the target.
func CalculateBuyQuantity(price, fxToEUR, targetEUR float64, minLot int) int {
	if price <= 0 || fxToEUR <= 0 || targetEUR <= 0 {
		return 0
	}
	if minLot < 1 {
		minLot = 1
	}
	lotCostEUR := float64(minLot) * price * fxToEUR
	if lotCostEUR <= 0 {
		return 0
	}
	lots := int(math.Floor(targetEUR / lotCostEUR))
	return lots * minLot
}

// CalculateSellQuantity converts a fraction of a holding into a
// whole-lot quantity, capped at the held amount. A fraction >= 1 sells
// the full position regardless of lot rounding.
func CalculateSellQuantity(held int, fraction float64, minLot int) int {
	if held <= 0 || fraction <= 0 {
		return 0
	}
	if minLot < 1 {
		minLot = 1
	}
	if fraction >= 1 {
		return held
	}
	qty := int(math.Floor(float64(held)*fraction/float64(minLot))) * minLot
	if qty > held {
		qty = held
	}
	return qty
}
