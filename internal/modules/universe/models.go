// Package universe manages the investable securities and their scores.
package universe

import "time"

// Security is one investable instrument in the universe.
type Security struct {
	Symbol             string    `json:"symbol"`
	Name               string    `json:"name"`
	ISIN               string    `json:"isin"`
	YahooSymbol        string    `json:"yahoo_symbol"`
	Currency           string    `json:"currency"`
	Country            string    `json:"country"`
	Industry           string    `json:"industry"` // may be comma-separated
	Exchange           string    `json:"exchange"`
	MinLot             int       `json:"min_lot"`
	AllowBuy           bool      `json:"allow_buy"`
	AllowSell          bool      `json:"allow_sell"`
	MinAllocation      float64   `json:"min_allocation"`
	MaxAllocation      float64   `json:"max_allocation"`
	PriorityMultiplier float64   `json:"priority_multiplier"`
	Active             bool      `json:"active"`
	MLEnabled          bool      `json:"ml_enabled"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Score is the latest scoring result for a security. Metric pointers are
// nil when the underlying data was unavailable.
type Score struct {
	Symbol              string    `json:"symbol"`
	TotalScore          float64   `json:"total_score"`
	QualityScore        float64   `json:"quality_score"`
	OpportunityScore    float64   `json:"opportunity_score"`
	AnalystScore        *float64  `json:"analyst_score"`
	DividendConsistency *float64  `json:"dividend_consistency"`
	SortinoRatio        *float64  `json:"sortino_ratio"`
	SharpeRatio         *float64  `json:"sharpe_ratio"`
	Volatility          *float64  `json:"volatility"`
	MaxDrawdown         *float64  `json:"max_drawdown"`
	AnnualizedReturn    *float64  `json:"annualized_return"`
	PayoutRatio         *float64  `json:"payout_ratio"`
	CalculatedAt        time.Time `json:"calculated_at"`
}
