package portfolio

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// SnapshotRepository stores daily portfolio snapshots for history and
// retention-pruned analytics.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a snapshot repository.
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repository", "snapshots").Logger(),
	}
}

// Record writes (or overwrites) the snapshot for a date.
func (r *SnapshotRepository) Record(date time.Time, totalEUR, cashEUR float64, positions []domain.Position) error {
	positionsJSON, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot positions: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO portfolio_snapshots (snapshot_date, total_value_eur, cash_value_eur, positions_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(snapshot_date) DO UPDATE SET
			total_value_eur = excluded.total_value_eur,
			cash_value_eur = excluded.cash_value_eur,
			positions_json = excluded.positions_json`,
		date.UTC().Format("2006-01-02"), totalEUR, cashEUR, string(positionsJSON))
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// HasSnapshot reports whether a snapshot exists for the date.
func (r *SnapshotRepository) HasSnapshot(date time.Time) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM portfolio_snapshots WHERE snapshot_date = ?",
		date.UTC().Format("2006-01-02")).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot: %w", err)
	}
	return count > 0, nil
}

// LatestTotalBefore returns the most recent snapshot total strictly
// before the date. ok is false when no earlier snapshot exists.
func (r *SnapshotRepository) LatestTotalBefore(date time.Time) (float64, bool, error) {
	var total float64
	err := r.db.QueryRow(`
		SELECT total_value_eur FROM portfolio_snapshots
		WHERE snapshot_date < ? ORDER BY snapshot_date DESC LIMIT 1`,
		date.UTC().Format("2006-01-02")).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read previous snapshot: %w", err)
	}
	return total, true, nil
}

// PruneOlderThan deletes snapshots older than the retention window and
// returns the number removed.
func (r *SnapshotRepository) PruneOlderThan(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	result, err := r.db.Exec(
		"DELETE FROM portfolio_snapshots WHERE snapshot_date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
