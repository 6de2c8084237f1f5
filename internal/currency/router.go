// Package currency routes conversions between the account's trading
// currencies (EUR, USD, GBP, HKD) through the broker's FX instruments,
// with an external rate API as the quote fallback.
package currency

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// ConversionStep is one FX leg: an order on a pair instrument.
type ConversionStep struct {
	FromCurrency string
	ToCurrency   string
	Symbol       string
	Action       string // BUY or SELL on the pair instrument
}

// fxBroker is the broker surface the router needs.
type fxBroker interface {
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	PlaceOrder(ctx context.Context, symbol, side string, quantity float64) (*domain.OrderResult, error)
	IsConnected(ctx context.Context) bool
}

// rateFallback quotes a reference rate when the broker cannot.
type rateFallback interface {
	GetRate(from, to string) (float64, error)
}

// directPairs maps "FROM:TO" to the pair instrument and the order side
// that performs that direction.
var directPairs = map[string]struct {
	Symbol string
	Action string
}{
	"EUR:USD": {"EURUSD_T0.ITS", "SELL"},
	"USD:EUR": {"EURUSD_T0.ITS", "BUY"},
	"EUR:GBP": {"EURGBP_T0.ITS", "SELL"},
	"GBP:EUR": {"EURGBP_T0.ITS", "BUY"},
	"GBP:USD": {"GBPUSD_T0.ITS", "SELL"},
	"USD:GBP": {"GBPUSD_T0.ITS", "BUY"},
	"EUR:HKD": {"HKD/EUR", "BUY"},
	"HKD:EUR": {"HKD/EUR", "SELL"},
	"USD:HKD": {"HKD/USD", "BUY"},
	"HKD:USD": {"HKD/USD", "SELL"},
}

// rateSymbols maps "BASE:QUOTE" to the instrument whose price is
// quote-per-base. Missing directions are quoted as the inverse.
var rateSymbols = map[string]string{
	"EUR:USD": "EURUSD_T0.ITS",
	"EUR:GBP": "EURGBP_T0.ITS",
	"GBP:USD": "GBPUSD_T0.ITS",
	"HKD:EUR": "HKD/EUR",
	"HKD:USD": "HKD/USD",
}

// conversionBuffer covers rate movement between quote and fill.
const conversionBuffer = 1.02

// Router plans and executes currency conversions.
type Router struct {
	broker   fxBroker
	fallback rateFallback
	log      zerolog.Logger
}

// NewRouter creates a currency router. fallback may be nil.
func NewRouter(broker fxBroker, fallback rateFallback, log zerolog.Logger) *Router {
	return &Router{
		broker:   broker,
		fallback: fallback,
		log:      log.With().Str("service", "currency").Logger(),
	}
}

// GetConversionPath returns the FX legs converting from one currency to
// another: empty for same-currency, one leg for direct pairs, two legs
// via EUR for GBP<->HKD.
func (r *Router) GetConversionPath(from, to string) ([]ConversionStep, error) {
	if from == to {
		return []ConversionStep{}, nil
	}

	if pair, ok := directPairs[from+":"+to]; ok {
		return []ConversionStep{{
			FromCurrency: from,
			ToCurrency:   to,
			Symbol:       pair.Symbol,
			Action:       pair.Action,
		}}, nil
	}

	// No direct instrument: route through EUR.
	leg1, ok1 := directPairs[from+":EUR"]
	leg2, ok2 := directPairs["EUR:"+to]
	if ok1 && ok2 {
		return []ConversionStep{
			{FromCurrency: from, ToCurrency: "EUR", Symbol: leg1.Symbol, Action: leg1.Action},
			{FromCurrency: "EUR", ToCurrency: to, Symbol: leg2.Symbol, Action: leg2.Action},
		}, nil
	}

	return nil, &domain.CurrencyConversionError{From: from, To: to, Reason: "no conversion path"}
}

// GetRate returns units of `to` per 1 `from`. Broker FX quotes win;
// the external API serves as fallback when the broker cannot quote.
func (r *Router) GetRate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1.0, nil
	}

	rate, err := r.brokerRate(ctx, from, to)
	if err == nil {
		return rate, nil
	}

	if r.fallback != nil {
		fallbackRate, ferr := r.fallback.GetRate(from, to)
		if ferr == nil && fallbackRate > 0 {
			r.log.Warn().Err(err).
				Str("from", from).Str("to", to).
				Msg("Broker FX quote unavailable, using fallback rate")
			return fallbackRate, nil
		}
	}
	return 0, err
}

func (r *Router) brokerRate(ctx context.Context, from, to string) (float64, error) {
	symbol, inverse := findRateSymbol(from, to)
	if symbol == "" {
		return r.rateViaPath(ctx, from, to)
	}

	quote, err := r.broker.GetQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if quote.Price <= 0 {
		return 0, fmt.Errorf("invalid FX quote for %s: %f", symbol, quote.Price)
	}
	if inverse {
		return 1.0 / quote.Price, nil
	}
	return quote.Price, nil
}

func findRateSymbol(from, to string) (string, bool) {
	if symbol, ok := rateSymbols[from+":"+to]; ok {
		return symbol, false
	}
	if symbol, ok := rateSymbols[to+":"+from]; ok {
		return symbol, true
	}
	return "", false
}

// rateViaPath multiplies per-leg rates along the conversion path.
func (r *Router) rateViaPath(ctx context.Context, from, to string) (float64, error) {
	path, err := r.GetConversionPath(from, to)
	if err != nil {
		return 0, err
	}

	rate := 1.0
	for _, step := range path {
		legRate, err := r.brokerRate(ctx, step.FromCurrency, step.ToCurrency)
		if err != nil {
			return 0, err
		}
		rate *= legRate
	}
	return rate, nil
}

// Exchange converts amount of `from` into `to`, executing each FX leg.
// For a two-leg path the intermediate amount is adjusted by the observed
// rate of the first leg. Returns the result of the final leg's order.
func (r *Router) Exchange(ctx context.Context, from, to string, amount float64) (*domain.OrderResult, error) {
	if from == to {
		return nil, &domain.CurrencyConversionError{From: from, To: to, Reason: "same currency"}
	}
	if amount <= 0 {
		return nil, &domain.CurrencyConversionError{From: from, To: to, Reason: fmt.Sprintf("invalid amount %.2f", amount)}
	}
	if !r.broker.IsConnected(ctx) {
		return nil, &domain.CurrencyConversionError{From: from, To: to, Reason: "broker not connected"}
	}

	path, err := r.GetConversionPath(from, to)
	if err != nil {
		return nil, err
	}

	currentAmount := amount
	var last *domain.OrderResult
	for _, step := range path {
		r.log.Info().
			Str("symbol", step.Symbol).
			Str("action", step.Action).
			Float64("amount", currentAmount).
			Str("from", step.FromCurrency).
			Str("to", step.ToCurrency).
			Msg("Executing FX conversion leg")

		result, err := r.broker.PlaceOrder(ctx, step.Symbol, step.Action, currentAmount)
		if err != nil {
			return nil, fmt.Errorf("FX leg %s->%s failed: %w", step.FromCurrency, step.ToCurrency, err)
		}
		last = result

		if rate, err := r.GetRate(ctx, step.FromCurrency, step.ToCurrency); err == nil {
			currentAmount *= rate
		}
	}
	return last, nil
}

// EnsureBalance makes sure at least minAmount of currency is available,
// converting from sourceCurrency when short. The conversion includes a
// buffer for rate movement. A negative source balance always refuses.
func (r *Router) EnsureBalance(ctx context.Context, currency string, minAmount float64, sourceCurrency string, balances []domain.CashBalance) (bool, error) {
	if currency == sourceCurrency {
		return true, nil
	}

	var currentBalance, sourceBalance float64
	for _, bal := range balances {
		switch bal.Currency {
		case currency:
			currentBalance = bal.Amount
		case sourceCurrency:
			sourceBalance = bal.Amount
		}
	}

	if currentBalance >= minAmount {
		return true, nil
	}

	if sourceBalance < 0 {
		return false, &domain.CurrencyConversionError{
			From: sourceCurrency, To: currency,
			Reason: fmt.Sprintf("source balance is negative: %.2f", sourceBalance),
		}
	}

	needed := (minAmount - currentBalance) * conversionBuffer

	rate, err := r.GetRate(ctx, sourceCurrency, currency)
	if err != nil {
		return false, err
	}
	sourceAmountNeeded := needed / rate

	if sourceBalance < sourceAmountNeeded {
		return false, &domain.InsufficientFundsError{
			Currency:  sourceCurrency,
			Required:  sourceAmountNeeded,
			Available: sourceBalance,
		}
	}

	r.log.Info().
		Str("from", sourceCurrency).
		Str("to", currency).
		Float64("amount", sourceAmountNeeded).
		Float64("needed", needed).
		Msg("Converting currency to cover shortfall")

	if _, err := r.Exchange(ctx, sourceCurrency, currency, sourceAmountNeeded); err != nil {
		return false, err
	}
	return true, nil
}

// AvailableCurrencies lists currencies reachable through the FX pairs.
func AvailableCurrencies() []string {
	seen := make(map[string]bool)
	for key := range directPairs {
		seen[key[:3]] = true
		seen[key[4:]] = true
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}
