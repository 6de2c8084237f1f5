// Package portfolio persists current holdings and cash as last synced
// from the broker.
package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Repository persists positions in portfolio.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a position repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "positions").Logger(),
	}
}

const positionColumns = `symbol, quantity, avg_price, current_price, currency,
	market_value_eur, cost_basis_eur, first_bought_at`

func scanPosition(row interface{ Scan(...interface{}) error }) (*domain.Position, error) {
	var p domain.Position
	var firstBought sql.NullString
	err := row.Scan(&p.Symbol, &p.Quantity, &p.AvgPrice, &p.CurrentPrice,
		&p.Currency, &p.MarketValueEUR, &p.CostBasisEUR, &firstBought)
	if err != nil {
		return nil, err
	}
	if firstBought.Valid {
		if t, err := time.Parse("2006-01-02 15:04:05", firstBought.String); err == nil {
			p.FirstBoughtAt = t
		} else if t, err := time.Parse(time.RFC3339, firstBought.String); err == nil {
			p.FirstBoughtAt = t
		}
	}
	return &p, nil
}

// GetAll returns every held position. Rows with quantity 0 are absent.
func (r *Repository) GetAll() ([]domain.Position, error) {
	rows, err := r.db.Query(
		"SELECT " + positionColumns + " FROM positions WHERE quantity > 0 ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// Get returns one position, or NotFound when absent or quantity 0.
func (r *Repository) Get(symbol string) (*domain.Position, error) {
	row := r.db.QueryRow(
		"SELECT "+positionColumns+" FROM positions WHERE symbol = ? AND quantity > 0",
		strings.ToUpper(symbol))
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w", symbol, err)
	}
	return p, nil
}

// Upsert writes a position row. Quantity must be >= 0 (no shorting).
func (r *Repository) Upsert(p *domain.Position) error {
	if p.Quantity < 0 {
		return domain.NewValidationError("quantity", "must not be negative")
	}

	var firstBought interface{}
	if !p.FirstBoughtAt.IsZero() {
		firstBought = p.FirstBoughtAt.UTC().Format("2006-01-02 15:04:05")
	}

	_, err := r.db.Exec(`
		INSERT INTO positions (symbol, quantity, avg_price, current_price, currency,
			market_value_eur, cost_basis_eur, first_bought_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price,
			currency = excluded.currency,
			market_value_eur = excluded.market_value_eur,
			cost_basis_eur = excluded.cost_basis_eur,
			first_bought_at = COALESCE(positions.first_bought_at, excluded.first_bought_at),
			updated_at = excluded.updated_at`,
		strings.ToUpper(p.Symbol), p.Quantity, p.AvgPrice, p.CurrentPrice,
		p.Currency, p.MarketValueEUR, p.CostBasisEUR, firstBought)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// Delete removes a position row (used when a security is deactivated).
func (r *Repository) Delete(symbol string) error {
	if _, err := r.db.Exec("DELETE FROM positions WHERE symbol = ?", strings.ToUpper(symbol)); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", symbol, err)
	}
	return nil
}

// ReplaceAll swaps the full position set in one transaction, used by
// portfolio sync after a broker round-trip.
func (r *Repository) ReplaceAll(positions []domain.Position) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin position sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM positions"); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}
	for _, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		var firstBought interface{}
		if !p.FirstBoughtAt.IsZero() {
			firstBought = p.FirstBoughtAt.UTC().Format("2006-01-02 15:04:05")
		}
		_, err := tx.Exec(`
			INSERT INTO positions (symbol, quantity, avg_price, current_price, currency,
				market_value_eur, cost_basis_eur, first_bought_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
			strings.ToUpper(p.Symbol), p.Quantity, p.AvgPrice, p.CurrentPrice,
			p.Currency, p.MarketValueEUR, p.CostBasisEUR, firstBought)
		if err != nil {
			return fmt.Errorf("failed to insert position %s: %w", p.Symbol, err)
		}
	}

	return tx.Commit()
}

// TotalValueEUR sums market value over all held positions.
func (r *Repository) TotalValueEUR() (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRow("SELECT SUM(market_value_eur) FROM positions WHERE quantity > 0").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum position values: %w", err)
	}
	return total.Float64, nil
}
