package universe

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Repository persists securities in universe.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a security repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "securities").Logger(),
	}
}

const securityColumns = `symbol, name, isin, yahoo_symbol, currency, country, industry,
	exchange, min_lot, allow_buy, allow_sell, min_allocation, max_allocation,
	priority_multiplier, is_active, ml_enabled, created_at, updated_at`

func scanSecurity(row interface{ Scan(...interface{}) error }) (*Security, error) {
	var s Security
	var createdAt, updatedAt string
	err := row.Scan(&s.Symbol, &s.Name, &s.ISIN, &s.YahooSymbol, &s.Currency,
		&s.Country, &s.Industry, &s.Exchange, &s.MinLot, &s.AllowBuy, &s.AllowSell,
		&s.MinAllocation, &s.MaxAllocation, &s.PriorityMultiplier, &s.Active,
		&s.MLEnabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetBySymbol returns the security with the given broker symbol.
func (r *Repository) GetBySymbol(symbol string) (*Security, error) {
	row := r.db.QueryRow(
		"SELECT "+securityColumns+" FROM securities WHERE symbol = ?",
		strings.ToUpper(symbol))
	s, err := scanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("security %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security %s: %w", symbol, err)
	}
	return s, nil
}

// GetByIdentifier resolves a security by ISIN, broker symbol or Yahoo
// symbol, classifying the identifier first.
func (r *Repository) GetByIdentifier(identifier string) (*Security, error) {
	id := strings.ToUpper(strings.TrimSpace(identifier))

	var query string
	switch domain.DetectIdentifierType(id) {
	case domain.IdentifierISIN:
		query = "SELECT " + securityColumns + " FROM securities WHERE isin = ?"
	case domain.IdentifierTradernet:
		query = "SELECT " + securityColumns + " FROM securities WHERE symbol = ?"
	default:
		query = "SELECT " + securityColumns + " FROM securities WHERE yahoo_symbol = ?"
	}

	row := r.db.QueryRow(query, id)
	s, err := scanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("security %s: %w", identifier, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security %s: %w", identifier, err)
	}
	return s, nil
}

// GetAllActive returns every active security.
func (r *Repository) GetAllActive() ([]Security, error) {
	rows, err := r.db.Query(
		"SELECT " + securityColumns + " FROM securities WHERE is_active = 1 ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query active securities: %w", err)
	}
	defer rows.Close()

	var securities []Security
	for rows.Next() {
		s, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		securities = append(securities, *s)
	}
	return securities, rows.Err()
}

// Create inserts a new security.
func (r *Repository) Create(s *Security) error {
	if strings.TrimSpace(s.Symbol) == "" {
		return domain.NewValidationError("symbol", "must not be empty")
	}
	if s.MinLot < 1 {
		s.MinLot = 1
	}
	if s.PriorityMultiplier < 0 {
		return domain.NewValidationError("priority_multiplier", "must not be negative")
	}
	// A zero-value struct means "no opinion expressed", not zero conviction.
	if s.PriorityMultiplier == 0 {
		s.PriorityMultiplier = 1.0
	}
	_, err := r.db.Exec(`
		INSERT INTO securities (symbol, name, isin, yahoo_symbol, currency, country,
			industry, exchange, min_lot, allow_buy, allow_sell, min_allocation,
			max_allocation, priority_multiplier, is_active, ml_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(s.Symbol), s.Name, s.ISIN, s.YahooSymbol, s.Currency,
		s.Country, s.Industry, s.Exchange, s.MinLot, s.AllowBuy, s.AllowSell,
		s.MinAllocation, s.MaxAllocation, s.PriorityMultiplier, s.Active, s.MLEnabled)
	if err != nil {
		return fmt.Errorf("failed to create security %s: %w", s.Symbol, err)
	}
	return nil
}

// allowed column names for Update; anything else is rejected.
var updatableColumns = map[string]bool{
	"name": true, "isin": true, "yahoo_symbol": true, "currency": true,
	"country": true, "industry": true, "exchange": true, "min_lot": true,
	"allow_buy": true, "allow_sell": true, "min_allocation": true,
	"max_allocation": true, "priority_multiplier": true, "is_active": true,
	"ml_enabled": true,
}

// Update modifies the named fields of a security.
func (r *Repository) Update(symbol string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+1)
	for column, value := range fields {
		if !updatableColumns[column] {
			return domain.NewValidationError(column, "not an updatable column")
		}
		setClauses = append(setClauses, column+" = ?")
		args = append(args, value)
	}
	setClauses = append(setClauses, "updated_at = datetime('now')")
	args = append(args, strings.ToUpper(symbol))

	result, err := r.db.Exec(
		"UPDATE securities SET "+strings.Join(setClauses, ", ")+" WHERE symbol = ?",
		args...)
	if err != nil {
		return fmt.Errorf("failed to update security %s: %w", symbol, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("security %s: %w", symbol, domain.ErrNotFound)
	}
	return nil
}

// Deactivate soft-deletes a security: history is preserved, current-state
// rows (positions) are removed by the caller.
func (r *Repository) Deactivate(symbol string) error {
	return r.Update(symbol, map[string]interface{}{"is_active": false})
}
