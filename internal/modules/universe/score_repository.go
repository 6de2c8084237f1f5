package universe

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// ScoreRepository persists per-security scores in universe.db.
type ScoreRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScoreRepository creates a score repository.
func NewScoreRepository(db *sql.DB, log zerolog.Logger) *ScoreRepository {
	return &ScoreRepository{
		db:  db,
		log: log.With().Str("repository", "scores").Logger(),
	}
}

const scoreColumns = `symbol, total_score, quality_score, opportunity_score,
	analyst_score, dividend_consistency, sortino_ratio, sharpe_ratio,
	volatility, max_drawdown, annualized_return, payout_ratio, calculated_at`

func scanScore(row interface{ Scan(...interface{}) error }) (*Score, error) {
	var s Score
	var calculatedAt string
	err := row.Scan(&s.Symbol, &s.TotalScore, &s.QualityScore, &s.OpportunityScore,
		&s.AnalystScore, &s.DividendConsistency, &s.SortinoRatio, &s.SharpeRatio,
		&s.Volatility, &s.MaxDrawdown, &s.AnnualizedReturn, &s.PayoutRatio,
		&calculatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns the score for a symbol.
func (r *ScoreRepository) Get(symbol string) (*Score, error) {
	row := r.db.QueryRow(
		"SELECT "+scoreColumns+" FROM scores WHERE symbol = ?",
		strings.ToUpper(symbol))
	s, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("score %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get score %s: %w", symbol, err)
	}
	return s, nil
}

// GetAll returns every score keyed by symbol.
func (r *ScoreRepository) GetAll() (map[string]Score, error) {
	rows, err := r.db.Query("SELECT " + scoreColumns + " FROM scores")
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]Score)
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores[s.Symbol] = *s
	}
	return scores, rows.Err()
}

// Upsert overwrites the score for a symbol.
func (r *ScoreRepository) Upsert(s *Score) error {
	_, err := r.db.Exec(`
		INSERT INTO scores (symbol, total_score, quality_score, opportunity_score,
			analyst_score, dividend_consistency, sortino_ratio, sharpe_ratio,
			volatility, max_drawdown, annualized_return, payout_ratio, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(symbol) DO UPDATE SET
			total_score = excluded.total_score,
			quality_score = excluded.quality_score,
			opportunity_score = excluded.opportunity_score,
			analyst_score = excluded.analyst_score,
			dividend_consistency = excluded.dividend_consistency,
			sortino_ratio = excluded.sortino_ratio,
			sharpe_ratio = excluded.sharpe_ratio,
			volatility = excluded.volatility,
			max_drawdown = excluded.max_drawdown,
			annualized_return = excluded.annualized_return,
			payout_ratio = excluded.payout_ratio,
			calculated_at = excluded.calculated_at`,
		strings.ToUpper(s.Symbol), s.TotalScore, s.QualityScore, s.OpportunityScore,
		s.AnalystScore, s.DividendConsistency, s.SortinoRatio, s.SharpeRatio,
		s.Volatility, s.MaxDrawdown, s.AnnualizedReturn, s.PayoutRatio)
	if err != nil {
		return fmt.Errorf("failed to upsert score %s: %w", s.Symbol, err)
	}
	return nil
}
