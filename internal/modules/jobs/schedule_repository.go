package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// ScheduleRepository persists job schedules in config.db.
type ScheduleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScheduleRepository creates a job schedule repository.
func NewScheduleRepository(db *sql.DB, log zerolog.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:  db,
		log: log.With().Str("repository", "job_schedules").Logger(),
	}
}

const scheduleColumns = `job_type, interval_minutes, interval_market_open_minutes,
	market_timing, enabled, last_run, consecutive_failures, category,
	description, depends_on, param_source, param_field`

func scanSchedule(row interface{ Scan(...interface{}) error }) (*JobSchedule, error) {
	var s JobSchedule
	var marketOpen sql.NullInt64
	var timing, dependsOn string
	err := row.Scan(&s.JobType, &s.IntervalMinutes, &marketOpen, &timing,
		&s.Enabled, &s.LastRun, &s.ConsecutiveFailures, &s.Category,
		&s.Description, &dependsOn, &s.ParamSource, &s.ParamField)
	if err != nil {
		return nil, err
	}
	if marketOpen.Valid {
		v := int(marketOpen.Int64)
		s.IntervalMarketOpenMinutes = &v
	}
	s.MarketTiming = MarketTiming(timing)
	if dependsOn != "" {
		s.DependsOn = strings.Split(dependsOn, ",")
	}
	return &s, nil
}

// GetAll returns every schedule row.
func (r *ScheduleRepository) GetAll() ([]JobSchedule, error) {
	rows, err := r.db.Query("SELECT " + scheduleColumns + " FROM job_schedules ORDER BY job_type")
	if err != nil {
		return nil, fmt.Errorf("failed to query job schedules: %w", err)
	}
	defer rows.Close()

	var schedules []JobSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// Get returns one schedule row.
func (r *ScheduleRepository) Get(jobType string) (*JobSchedule, error) {
	row := r.db.QueryRow("SELECT "+scheduleColumns+" FROM job_schedules WHERE job_type = ?", jobType)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job schedule %s: %w", jobType, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job schedule %s: %w", jobType, err)
	}
	return s, nil
}

// Upsert writes a schedule row, preserving run bookkeeping on conflict.
func (r *ScheduleRepository) Upsert(s *JobSchedule) error {
	var marketOpen interface{}
	if s.IntervalMarketOpenMinutes != nil {
		marketOpen = *s.IntervalMarketOpenMinutes
	}
	_, err := r.db.Exec(`
		INSERT INTO job_schedules (job_type, interval_minutes, interval_market_open_minutes,
			market_timing, enabled, category, description, depends_on, param_source, param_field)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_type) DO UPDATE SET
			interval_minutes = excluded.interval_minutes,
			interval_market_open_minutes = excluded.interval_market_open_minutes,
			market_timing = excluded.market_timing,
			enabled = excluded.enabled,
			category = excluded.category,
			description = excluded.description,
			depends_on = excluded.depends_on,
			param_source = excluded.param_source,
			param_field = excluded.param_field`,
		s.JobType, s.IntervalMinutes, marketOpen, string(s.MarketTiming),
		s.Enabled, s.Category, s.Description, strings.Join(s.DependsOn, ","),
		s.ParamSource, s.ParamField)
	if err != nil {
		return fmt.Errorf("failed to upsert job schedule %s: %w", s.JobType, err)
	}
	return nil
}

// MarkSuccess records a completed run: last_run now, failures cleared.
func (r *ScheduleRepository) MarkSuccess(jobType string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE job_schedules SET last_run = ?, consecutive_failures = 0 WHERE job_type = ?`,
		at.Unix(), jobType)
	if err != nil {
		return fmt.Errorf("failed to mark job %s success: %w", jobType, err)
	}
	return nil
}

// MarkFailure increments the consecutive failure count.
func (r *ScheduleRepository) MarkFailure(jobType string) error {
	_, err := r.db.Exec(`
		UPDATE job_schedules SET consecutive_failures = consecutive_failures + 1
		WHERE job_type = ?`, jobType)
	if err != nil {
		return fmt.Errorf("failed to mark job %s failure: %w", jobType, err)
	}
	return nil
}
