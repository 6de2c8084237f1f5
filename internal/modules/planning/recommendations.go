package planning

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// RecommendationRepository stores the planner's surfaced trades in
// agents.db and enforces the PENDING -> EXECUTED/DISMISSED lifecycle.
type RecommendationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRecommendationRepository creates a recommendation repository.
func NewRecommendationRepository(db *sql.DB, log zerolog.Logger) *RecommendationRepository {
	return &RecommendationRepository{
		db:  db,
		log: log.With().Str("repository", "recommendations").Logger(),
	}
}

// Create stores a new PENDING recommendation and returns its UUID.
func (r *RecommendationRepository) Create(rec domain.Recommendation) (string, error) {
	if rec.Symbol == "" || rec.Quantity <= 0 {
		return "", &domain.ValidationError{Field: "recommendation", Message: "symbol and positive quantity required"}
	}
	if rec.Side != string(domain.SideBuy) && rec.Side != string(domain.SideSell) {
		return "", &domain.ValidationError{Field: "side", Message: "must be BUY or SELL"}
	}
	id := rec.UUID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.db.Exec(`
		INSERT INTO recommendations (uuid, symbol, side, quantity, estimated_price,
			estimated_value, currency, reason, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Symbol, rec.Side, rec.Quantity, rec.EstimatedPrice,
		rec.EstimatedValue, rec.Currency, rec.Reason, string(domain.RecommendationPending))
	if err != nil {
		return "", fmt.Errorf("failed to create recommendation: %w", err)
	}
	r.log.Info().Str("uuid", id).Str("symbol", rec.Symbol).
		Str("side", rec.Side).Int("quantity", rec.Quantity).
		Msg("Recommendation created")
	return id, nil
}

// Get fetches one recommendation by UUID.
func (r *RecommendationRepository) Get(id string) (*domain.Recommendation, error) {
	row := r.db.QueryRow(`
		SELECT uuid, symbol, side, quantity, estimated_price, estimated_value,
			currency, reason, status, created_at
		FROM recommendations WHERE uuid = ?`, id)
	return scanRecommendation(row)
}

// GetPending returns all PENDING recommendations, oldest first.
func (r *RecommendationRepository) GetPending() ([]domain.Recommendation, error) {
	rows, err := r.db.Query(`
		SELECT uuid, symbol, side, quantity, estimated_price, estimated_value,
			currency, reason, status, created_at
		FROM recommendations WHERE status = ?
		ORDER BY created_at ASC`, string(domain.RecommendationPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending recommendations: %w", err)
	}
	defer rows.Close()

	var recs []domain.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// UpdateStatus moves a recommendation to a new status, rejecting
// transitions out of a terminal state.
func (r *RecommendationRepository) UpdateStatus(id string, next domain.RecommendationStatus) error {
	rec, err := r.Get(id)
	if err != nil {
		return err
	}
	if !rec.Status.CanTransitionTo(next) {
		return &domain.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot transition %s -> %s", rec.Status, next),
		}
	}
	_, err = r.db.Exec(`
		UPDATE recommendations SET status = ?, updated_at = datetime('now')
		WHERE uuid = ?`, string(next), id)
	if err != nil {
		return fmt.Errorf("failed to update recommendation status: %w", err)
	}
	r.log.Info().Str("uuid", id).
		Str("from", string(rec.Status)).Str("to", string(next)).
		Msg("Recommendation status updated")
	return nil
}

// DismissPending marks every PENDING recommendation DISMISSED. Used when
// the portfolio hash changes and the plan they came from is stale.
func (r *RecommendationRepository) DismissPending() (int64, error) {
	result, err := r.db.Exec(`
		UPDATE recommendations SET status = ?, updated_at = datetime('now')
		WHERE status = ?`,
		string(domain.RecommendationDismissed), string(domain.RecommendationPending))
	if err != nil {
		return 0, fmt.Errorf("failed to dismiss pending recommendations: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// PruneOlderThan removes terminal recommendations past the retention age.
func (r *RecommendationRepository) PruneOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Format("2006-01-02 15:04:05")
	result, err := r.db.Exec(`
		DELETE FROM recommendations
		WHERE status != ? AND created_at < ?`,
		string(domain.RecommendationPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune recommendations: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecommendation(row rowScanner) (*domain.Recommendation, error) {
	var rec domain.Recommendation
	var status, createdAt string
	err := row.Scan(&rec.UUID, &rec.Symbol, &rec.Side, &rec.Quantity,
		&rec.EstimatedPrice, &rec.EstimatedValue, &rec.Currency,
		&rec.Reason, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recommendation: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}
	rec.Status = domain.RecommendationStatus(status)
	if t, perr := time.Parse("2006-01-02 15:04:05", createdAt); perr == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}
