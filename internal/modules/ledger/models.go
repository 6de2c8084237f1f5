// Package ledger is the append-only audit trail: executed trades, cash
// flows and daily P&L.
package ledger

import "time"

// Trade is one executed order as recorded in the ledger.
type Trade struct {
	ID            int64     `json:"id"`
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Currency      string    `json:"currency"`
	ValueEUR      float64   `json:"value_eur"`
	CommissionEUR float64   `json:"commission_eur"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// CashFlow is one account transaction (deposit, dividend, fee, ...).
type CashFlow struct {
	ID          int64     `json:"id"`
	ExternalID  string    `json:"external_id"`
	FlowType    string    `json:"flow_type"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurred_at"`
	Description string    `json:"description"`
}

// TradeFilters narrows GetTrades queries. Zero values mean "no filter".
type TradeFilters struct {
	Symbol string
	Side   string
	Since  time.Time
}
