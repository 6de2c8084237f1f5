package domain

import "context"

// Broker is the narrow capability surface the agent needs from the
// brokerage API. Implementations must be safe for concurrent use.
type Broker interface {
	// GetPortfolio returns current positions and per-currency cash.
	GetPortfolio(ctx context.Context) ([]Position, []CashBalance, error)

	// GetQuote returns the current quote for a broker symbol.
	GetQuote(ctx context.Context, symbol string) (*Quote, error)

	// PlaceOrder submits a market order. Quantity is in whole units for
	// securities and in source-currency amount for FX pair symbols.
	PlaceOrder(ctx context.Context, symbol, side string, quantity float64) (*OrderResult, error)

	// GetRecentOrders returns orders placed within the lookback window,
	// newest first.
	GetRecentOrders(ctx context.Context, lookbackHours int) ([]OrderResult, error)
}
