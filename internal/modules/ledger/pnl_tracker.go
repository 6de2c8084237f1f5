package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PnLStatus classifies the day's loss relative to the guardrail thresholds.
type PnLStatus string

const (
	PnLOK      PnLStatus = "ok"
	PnLWarning PnLStatus = "warning"
	PnLHalted  PnLStatus = "halted"
)

// PnLCheck is the trading-gate answer consumed by the execution loop.
type PnLCheck struct {
	Status  PnLStatus `json:"status"`
	CanBuy  bool      `json:"can_buy"`
	CanSell bool      `json:"can_sell"`
	Reason  string    `json:"reason"`
}

// PnLTracker maintains the daily_pnl table and answers the P&L gate.
type PnLTracker struct {
	db  *sql.DB
	log zerolog.Logger

	warningThreshold float64 // daily loss fraction, e.g. -0.02
	haltThreshold    float64 // daily loss fraction, e.g. -0.05
}

// NewPnLTracker creates a daily P&L tracker.
func NewPnLTracker(db *sql.DB, warningThreshold, haltThreshold float64, log zerolog.Logger) *PnLTracker {
	return &PnLTracker{
		db:               db,
		log:              log.With().Str("service", "pnl_tracker").Logger(),
		warningThreshold: warningThreshold,
		haltThreshold:    haltThreshold,
	}
}

// RecordDay upserts today's P&L figures.
func (t *PnLTracker) RecordDay(date time.Time, realizedEUR, unrealizedEUR, totalValueEUR float64) error {
	_, err := t.db.Exec(`
		INSERT INTO daily_pnl (date, realized_eur, unrealized_eur, total_value_eur, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(date) DO UPDATE SET
			realized_eur = excluded.realized_eur,
			unrealized_eur = excluded.unrealized_eur,
			total_value_eur = excluded.total_value_eur,
			updated_at = excluded.updated_at`,
		date.UTC().Format("2006-01-02"), realizedEUR, unrealizedEUR, totalValueEUR)
	if err != nil {
		return fmt.Errorf("failed to record daily pnl: %w", err)
	}
	return nil
}

// Check returns the trading gate for today. An empty ledger is "ok".
func (t *PnLTracker) Check() (*PnLCheck, error) {
	var realized, unrealized, totalValue float64
	err := t.db.QueryRow(`
		SELECT realized_eur, unrealized_eur, total_value_eur FROM daily_pnl WHERE date = ?`,
		time.Now().UTC().Format("2006-01-02")).Scan(&realized, &unrealized, &totalValue)
	if err == sql.ErrNoRows {
		return &PnLCheck{Status: PnLOK, CanBuy: true, CanSell: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily pnl: %w", err)
	}

	if totalValue <= 0 {
		return &PnLCheck{Status: PnLOK, CanBuy: true, CanSell: true}, nil
	}

	dayFraction := (realized + unrealized) / totalValue
	switch {
	case dayFraction <= t.haltThreshold:
		return &PnLCheck{
			Status: PnLHalted, CanBuy: false, CanSell: false,
			Reason: fmt.Sprintf("daily loss %.2f%% breached halt threshold", dayFraction*100),
		}, nil
	case dayFraction <= t.warningThreshold:
		// Warnings allow de-risking sells but block new buys.
		return &PnLCheck{
			Status: PnLWarning, CanBuy: false, CanSell: true,
			Reason: fmt.Sprintf("daily loss %.2f%% breached warning threshold", dayFraction*100),
		}, nil
	default:
		return &PnLCheck{Status: PnLOK, CanBuy: true, CanSell: true}, nil
	}
}
