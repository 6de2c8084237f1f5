package currency

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
)

// fakeBroker serves canned FX quotes and records orders.
type fakeBroker struct {
	quotes    map[string]float64
	connected bool
	orders    []string
}

func (f *fakeBroker) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	price, ok := f.quotes[symbol]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &domain.Quote{Symbol: symbol, Price: price}, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, symbol, side string, quantity float64) (*domain.OrderResult, error) {
	f.orders = append(f.orders, symbol+":"+side)
	return &domain.OrderResult{OrderID: "1", Symbol: symbol}, nil
}

func (f *fakeBroker) IsConnected(ctx context.Context) bool { return f.connected }

type fakeRates map[string]float64

func (f fakeRates) GetRate(from, to string) (float64, error) {
	rate, ok := f[from+":"+to]
	if !ok {
		return 0, errors.New("no rate")
	}
	return rate, nil
}

func newTestRouter(broker *fakeBroker, fallback rateFallback) *Router {
	return NewRouter(broker, fallback, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestGetConversionPath(t *testing.T) {
	r := newTestRouter(&fakeBroker{}, nil)

	same, err := r.GetConversionPath("EUR", "EUR")
	require.NoError(t, err)
	assert.Empty(t, same)

	direct, err := r.GetConversionPath("USD", "EUR")
	require.NoError(t, err)
	require.Len(t, direct, 1)
	assert.Equal(t, "EURUSD_T0.ITS", direct[0].Symbol)
	assert.Equal(t, "BUY", direct[0].Action)

	// GBP<->HKD has no direct instrument and routes through EUR.
	twoLeg, err := r.GetConversionPath("GBP", "HKD")
	require.NoError(t, err)
	require.Len(t, twoLeg, 2)
	assert.Equal(t, "EUR", twoLeg[0].ToCurrency)
	assert.Equal(t, "EUR", twoLeg[1].FromCurrency)
	assert.Equal(t, "HKD", twoLeg[1].ToCurrency)

	_, err = r.GetConversionPath("EUR", "JPY")
	var convErr *domain.CurrencyConversionError
	assert.ErrorAs(t, err, &convErr)
}

func TestGetRate_BrokerQuote(t *testing.T) {
	broker := &fakeBroker{quotes: map[string]float64{"EURUSD_T0.ITS": 1.08}}
	r := newTestRouter(broker, nil)

	rate, err := r.GetRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.08, rate, 1e-9)

	// The reverse direction inverts the same instrument.
	inverse, err := r.GetRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 1/1.08, inverse, 1e-9)
}

func TestGetRate_SameCurrency(t *testing.T) {
	r := newTestRouter(&fakeBroker{}, nil)
	rate, err := r.GetRate(context.Background(), "EUR", "EUR")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}

func TestGetRate_FallbackWhenBrokerFails(t *testing.T) {
	r := newTestRouter(&fakeBroker{}, fakeRates{"EUR:USD": 1.09})

	rate, err := r.GetRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.09, rate, 1e-9)
}

func TestEnsureBalance_AlreadySufficient(t *testing.T) {
	broker := &fakeBroker{connected: true}
	r := newTestRouter(broker, nil)

	ok, err := r.EnsureBalance(context.Background(), "EUR", 100,
		"USD", []domain.CashBalance{{Currency: "EUR", Amount: 150}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, broker.orders)
}

func TestEnsureBalance_ConvertsShortfallWithBuffer(t *testing.T) {
	// Scenario: EUR is short 210, USD holds 900, EUR/USD 1.08.
	broker := &fakeBroker{
		connected: true,
		quotes:    map[string]float64{"EURUSD_T0.ITS": 1.08},
	}
	r := newTestRouter(broker, nil)

	ok, err := r.EnsureBalance(context.Background(), "EUR", 210, "USD", []domain.CashBalance{
		{Currency: "EUR", Amount: 0},
		{Currency: "USD", Amount: 900},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, broker.orders, 1)
	assert.Equal(t, "EURUSD_T0.ITS:BUY", broker.orders[0])
}

func TestEnsureBalance_RefusesNegativeSource(t *testing.T) {
	r := newTestRouter(&fakeBroker{connected: true}, nil)

	ok, err := r.EnsureBalance(context.Background(), "EUR", 100, "USD", []domain.CashBalance{
		{Currency: "EUR", Amount: 0},
		{Currency: "USD", Amount: -50},
	})
	assert.False(t, ok)
	var convErr *domain.CurrencyConversionError
	assert.ErrorAs(t, err, &convErr)
}

func TestEnsureBalance_InsufficientSource(t *testing.T) {
	broker := &fakeBroker{
		connected: true,
		quotes:    map[string]float64{"EURUSD_T0.ITS": 1.08},
	}
	r := newTestRouter(broker, nil)

	ok, err := r.EnsureBalance(context.Background(), "EUR", 500, "USD", []domain.CashBalance{
		{Currency: "EUR", Amount: 0},
		{Currency: "USD", Amount: 10},
	})
	assert.False(t, ok)
	var fundsErr *domain.InsufficientFundsError
	assert.ErrorAs(t, err, &fundsErr)
}

func TestAvailableCurrencies(t *testing.T) {
	currencies := AvailableCurrencies()
	assert.ElementsMatch(t, []string{"EUR", "USD", "GBP", "HKD"}, currencies)
}
