// Package domain holds the shared domain model: entities owned by the
// persistence layer, the broker capability interface, and the error taxonomy.
package domain

import (
	"strings"
	"time"
)

// Currency codes supported by the trading account.
const (
	CurrencyEUR = "EUR"
	CurrencyUSD = "USD"
	CurrencyHKD = "HKD"
	CurrencyGBP = "GBP"
)

// TradeSide represents the direction of a trade.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Position represents a portfolio position. Quantity is always >= 0
// (no shorting); a position with quantity 0 is treated as absent.
type Position struct {
	Symbol         string    `json:"symbol"`
	Quantity       int       `json:"quantity"`
	AvgPrice       float64   `json:"avg_price"`     // native currency
	CurrentPrice   float64   `json:"current_price"` // native currency
	Currency       string    `json:"currency"`
	MarketValueEUR float64   `json:"market_value_eur"`
	CostBasisEUR   float64   `json:"cost_basis_eur"`
	FirstBoughtAt  time.Time `json:"first_bought_at"`
}

// GainPercent returns the unrealized gain as a fraction of cost basis.
func (p Position) GainPercent() float64 {
	if p.CostBasisEUR <= 0 {
		return 0
	}
	return (p.MarketValueEUR - p.CostBasisEUR) / p.CostBasisEUR
}

// CashBalance is the per-currency cash amount. Amounts may be negative
// (margin); the balance-fix task treats negative balances as deficits.
type CashBalance struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// PriceBar is a single OHLCV bar. (Symbol, Date) is unique.
type PriceBar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Quote is a current market quote for a symbol.
type Quote struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Bid      float64 `json:"bid"`
	Ask      float64 `json:"ask"`
	Currency string  `json:"currency"`
}

// OrderResult is the broker's acknowledgement of a placed order.
type OrderResult struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// RecommendationStatus is the lifecycle state of a stored recommendation.
// PENDING may transition to either terminal state; terminals never transition.
type RecommendationStatus string

const (
	RecommendationPending   RecommendationStatus = "PENDING"
	RecommendationExecuted  RecommendationStatus = "EXECUTED"
	RecommendationDismissed RecommendationStatus = "DISMISSED"
)

// CanTransitionTo reports whether the status may move to next.
func (s RecommendationStatus) CanTransitionTo(next RecommendationStatus) bool {
	return s == RecommendationPending &&
		(next == RecommendationExecuted || next == RecommendationDismissed)
}

// Recommendation is the next trade surfaced by the planner for execution.
type Recommendation struct {
	UUID           string               `json:"uuid"`
	Symbol         string               `json:"symbol"`
	Side           string               `json:"side"`
	Quantity       int                  `json:"quantity"`
	EstimatedPrice float64              `json:"estimated_price"`
	EstimatedValue float64              `json:"estimated_value"`
	Currency       string               `json:"currency"`
	Reason         string               `json:"reason"`
	Status         RecommendationStatus `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
}

// IdentifierType classifies a free-form security identifier.
type IdentifierType string

const (
	IdentifierISIN      IdentifierType = "isin"
	IdentifierTradernet IdentifierType = "tradernet"
	IdentifierYahoo     IdentifierType = "yahoo"
)

// DetectIdentifierType classifies an identifier:
// 12-char ISIN (2 letters, 9 alphanumerics, check digit), broker symbols
// carry an exchange suffix ("AAPL.US"), everything else is a Yahoo symbol.
func DetectIdentifierType(identifier string) IdentifierType {
	id := strings.ToUpper(strings.TrimSpace(identifier))
	if isISIN(id) {
		return IdentifierISIN
	}
	if strings.Contains(id, ".") {
		return IdentifierTradernet
	}
	return IdentifierYahoo
}

func isISIN(id string) bool {
	if len(id) != 12 {
		return false
	}
	for i, r := range id {
		switch {
		case i < 2:
			if r < 'A' || r > 'Z' {
				return false
			}
		case i == 11:
			if r < '0' || r > '9' {
				return false
			}
		default:
			if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
				return false
			}
		}
	}
	return true
}
