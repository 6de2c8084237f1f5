// Package history stores OHLCV bars: daily bars with a retention window
// and monthly roll-ups kept indefinitely for long-horizon CAGR.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Repository persists price bars in history.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a price history repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "history").Logger(),
	}
}

// UpsertBars writes daily bars in one transaction. (symbol, date) is unique.
func (r *Repository) UpsertBars(bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin bar upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_prices (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(strings.ToUpper(b.Symbol), b.Date.UTC().Format("2006-01-02"),
			b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to upsert bar %s %s: %w", b.Symbol, b.Date.Format("2006-01-02"), err)
		}
	}
	return tx.Commit()
}

// GetCloses returns the close series for a symbol, oldest first, up to
// limit bars (0 = all).
func (r *Repository) GetCloses(symbol string, limit int) ([]float64, error) {
	query := "SELECT close FROM daily_prices WHERE symbol = ? ORDER BY date ASC"
	var args []interface{}
	args = append(args, strings.ToUpper(symbol))
	if limit > 0 {
		// Keep the most recent bars while preserving oldest-first order.
		query = `SELECT close FROM (
			SELECT date, close FROM daily_prices WHERE symbol = ?
			ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query closes for %s: %w", symbol, err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan close: %w", err)
		}
		closes = append(closes, c)
	}
	return closes, rows.Err()
}

// GetBars returns daily bars for a symbol between start and end, oldest first.
func (r *Repository) GetBars(symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	rows, err := r.db.Query(`
		SELECT symbol, date, open, high, low, close, volume FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date ASC`,
		strings.ToUpper(symbol), start.UTC().Format("2006-01-02"), end.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		var date string
		if err := rows.Scan(&b.Symbol, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Date, _ = time.Parse("2006-01-02", date)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// RollUpMonthly aggregates daily bars into monthly roll-ups. Safe to run
// repeatedly; existing months are overwritten with the latest aggregate.
func (r *Repository) RollUpMonthly() error {
	_, err := r.db.Exec(`
		INSERT INTO monthly_prices (symbol, month, open, high, low, close, volume)
		SELECT symbol, strftime('%Y-%m', date) AS month,
			(SELECT d2.open FROM daily_prices d2
			 WHERE d2.symbol = d.symbol AND strftime('%Y-%m', d2.date) = strftime('%Y-%m', d.date)
			 ORDER BY d2.date ASC LIMIT 1),
			MAX(high), MIN(low),
			(SELECT d3.close FROM daily_prices d3
			 WHERE d3.symbol = d.symbol AND strftime('%Y-%m', d3.date) = strftime('%Y-%m', d.date)
			 ORDER BY d3.date DESC LIMIT 1),
			SUM(volume)
		FROM daily_prices d
		GROUP BY symbol, month
		ON CONFLICT(symbol, month) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("failed to roll up monthly prices: %w", err)
	}
	return nil
}

// PruneDailyOlderThan removes daily bars outside the retention window.
// Monthly roll-ups are kept indefinitely.
func (r *Repository) PruneDailyOlderThan(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	result, err := r.db.Exec("DELETE FROM daily_prices WHERE date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune daily prices: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
