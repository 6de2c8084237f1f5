package portfolio

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// CashRepository persists per-currency cash balances in portfolio.db.
type CashRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCashRepository creates a cash repository.
func NewCashRepository(db *sql.DB, log zerolog.Logger) *CashRepository {
	return &CashRepository{
		db:  db,
		log: log.With().Str("repository", "cash").Logger(),
	}
}

// GetAll returns every cash balance, including negative ones.
func (r *CashRepository) GetAll() ([]domain.CashBalance, error) {
	rows, err := r.db.Query("SELECT currency, amount FROM cash_balances ORDER BY currency")
	if err != nil {
		return nil, fmt.Errorf("failed to query cash balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.CashBalance
	for rows.Next() {
		var b domain.CashBalance
		if err := rows.Scan(&b.Currency, &b.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan cash balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// Get returns the balance for one currency (0 when absent).
func (r *CashRepository) Get(currency string) (float64, error) {
	var amount float64
	err := r.db.QueryRow(
		"SELECT amount FROM cash_balances WHERE currency = ?",
		strings.ToUpper(currency)).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cash balance %s: %w", currency, err)
	}
	return amount, nil
}

// Upsert writes one balance.
func (r *CashRepository) Upsert(currency string, amount float64) error {
	_, err := r.db.Exec(`
		INSERT INTO cash_balances (currency, amount, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(currency) DO UPDATE SET
			amount = excluded.amount, updated_at = excluded.updated_at`,
		strings.ToUpper(currency), amount)
	if err != nil {
		return fmt.Errorf("failed to upsert cash balance %s: %w", currency, err)
	}
	return nil
}

// ReplaceAll swaps the full balance set in one transaction.
func (r *CashRepository) ReplaceAll(balances []domain.CashBalance) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cash sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM cash_balances"); err != nil {
		return fmt.Errorf("failed to clear cash balances: %w", err)
	}
	for _, b := range balances {
		_, err := tx.Exec(`
			INSERT INTO cash_balances (currency, amount, updated_at)
			VALUES (?, ?, datetime('now'))`,
			strings.ToUpper(b.Currency), b.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert cash balance %s: %w", b.Currency, err)
		}
	}

	return tx.Commit()
}
