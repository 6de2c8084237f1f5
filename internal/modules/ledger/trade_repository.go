package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TradeRepository persists executed trades in ledger.db. Records with a
// broker order id are idempotent: recording the same order twice leaves
// exactly one row.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a trade repository.
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repository", "trades").Logger(),
	}
}

// execer abstracts *sql.DB and *sql.Tx for the optional transaction scope.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Record inserts a trade using the repository's own connection.
func (r *TradeRepository) Record(t *Trade) (bool, error) {
	return r.record(r.db, t)
}

// RecordTx inserts a trade inside a caller-owned transaction, used when
// trade execution spans trade writes and associated bookkeeping.
func (r *TradeRepository) RecordTx(tx *sql.Tx, t *Trade) (bool, error) {
	return r.record(tx, t)
}

// record returns false when the order id already existed (duplicate skipped).
func (r *TradeRepository) record(db execer, t *Trade) (bool, error) {
	result, err := db.Exec(`
		INSERT INTO trades (order_id, symbol, side, quantity, price, currency,
			value_eur, commission_eur, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) WHERE order_id != '' DO NOTHING`,
		t.OrderID, strings.ToUpper(t.Symbol), strings.ToUpper(t.Side),
		t.Quantity, t.Price, t.Currency, t.ValueEUR, t.CommissionEUR,
		t.ExecutedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return false, fmt.Errorf("failed to record trade %s %s: %w", t.Side, t.Symbol, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// HasRecentSellOrder reports whether a SELL for the symbol was recorded
// within the window. Guards against double-selling before broker
// propagation.
func (r *TradeRepository) HasRecentSellOrder(symbol string, withinMinutes int) (bool, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(withinMinutes) * time.Minute)
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE symbol = ? AND side = 'SELL' AND executed_at >= ?`,
		strings.ToUpper(symbol), cutoff.Format("2006-01-02 15:04:05")).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent sell orders for %s: %w", symbol, err)
	}
	return count > 0, nil
}

// GetTrades returns trades matching the filters, newest first.
func (r *TradeRepository) GetTrades(filters TradeFilters, limit, offset int) ([]Trade, error) {
	query := `SELECT id, order_id, symbol, side, quantity, price, currency,
		value_eur, commission_eur, executed_at FROM trades WHERE 1=1`
	var args []interface{}

	if filters.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(filters.Symbol))
	}
	if filters.Side != "" {
		query += " AND side = ?"
		args = append(args, strings.ToUpper(filters.Side))
	}
	if !filters.Since.IsZero() {
		query += " AND executed_at >= ?"
		args = append(args, filters.Since.UTC().Format("2006-01-02 15:04:05"))
	}

	query += " ORDER BY executed_at DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var executedAt string
		err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side, &t.Quantity,
			&t.Price, &t.Currency, &t.ValueEUR, &t.CommissionEUR, &executedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.ExecutedAt, _ = time.Parse("2006-01-02 15:04:05", executedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountSince returns the number of trades executed at or after cutoff.
func (r *TradeRepository) CountSince(cutoff time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM trades WHERE executed_at >= ?",
		cutoff.UTC().Format("2006-01-02 15:04:05")).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

// LastTradeTime returns the most recent execution time, or zero when the
// ledger is empty.
func (r *TradeRepository) LastTradeTime() (time.Time, error) {
	var executedAt sql.NullString
	err := r.db.QueryRow("SELECT MAX(executed_at) FROM trades").Scan(&executedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last trade time: %w", err)
	}
	if !executedAt.Valid {
		return time.Time{}, nil
	}
	t, _ := time.Parse("2006-01-02 15:04:05", executedAt.String)
	return t, nil
}

// Begin opens a transaction for the optional use_transaction scope.
func (r *TradeRepository) Begin() (*sql.Tx, error) {
	return r.db.Begin()
}

// LastBuyTime returns the most recent BUY time for a symbol, or zero.
func (r *TradeRepository) LastBuyTime(symbol string) (time.Time, error) {
	var executedAt sql.NullString
	err := r.db.QueryRow(
		"SELECT MAX(executed_at) FROM trades WHERE symbol = ? AND side = 'BUY'",
		strings.ToUpper(symbol)).Scan(&executedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last buy time for %s: %w", symbol, err)
	}
	if !executedAt.Valid {
		return time.Time{}, nil
	}
	t, _ := time.Parse("2006-01-02 15:04:05", executedAt.String)
	return t, nil
}

// TradesForSymbol returns all trades for one symbol, oldest first. Used to
// derive tranche and scaleout stages from executed history.
func (r *TradeRepository) TradesForSymbol(symbol string) ([]Trade, error) {
	rows, err := r.db.Query(`
		SELECT id, order_id, symbol, side, quantity, price, currency,
			value_eur, commission_eur, executed_at
		FROM trades WHERE symbol = ? ORDER BY executed_at ASC`,
		strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s: %w", symbol, err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var executedAt string
		err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side, &t.Quantity,
			&t.Price, &t.Currency, &t.ValueEUR, &t.CommissionEUR, &executedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.ExecutedAt, _ = time.Parse("2006-01-02 15:04:05", executedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
