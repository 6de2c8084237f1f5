package jobs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HistoryRepository persists job run history in config.db.
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository creates a job history repository.
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("repository", "job_history").Logger(),
	}
}

// Record appends one run record.
func (r *HistoryRepository) Record(rec *JobHistoryRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO job_history (job_id, job_type, status, error, duration_ms, executed_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.JobType, string(rec.Status), rec.Error, rec.DurationMs,
		rec.ExecutedAt.UTC().Format("2006-01-02 15:04:05"), rec.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to record job history: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first, deduplicated by
// job type.
func (r *HistoryRepository) Recent(limit int) ([]JobHistoryRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, job_id, job_type, status, error, duration_ms, executed_at, retry_count
		FROM job_history ORDER BY executed_at DESC, id DESC LIMIT ?`, limit*10)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var records []JobHistoryRecord
	for rows.Next() {
		var rec JobHistoryRecord
		var status, executedAt string
		err := rows.Scan(&rec.ID, &rec.JobID, &rec.JobType, &status, &rec.Error,
			&rec.DurationMs, &executedAt, &rec.RetryCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job history: %w", err)
		}
		if seen[rec.JobType] {
			continue
		}
		seen[rec.JobType] = true
		rec.Status = JobStatus(status)
		rec.ExecutedAt, _ = time.Parse("2006-01-02 15:04:05", executedAt)
		records = append(records, rec)
		if len(records) >= limit {
			break
		}
	}
	return records, rows.Err()
}

// PruneOlderThan removes history older than the retention window.
func (r *HistoryRepository) PruneOlderThan(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02 15:04:05")
	result, err := r.db.Exec("DELETE FROM job_history WHERE executed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
