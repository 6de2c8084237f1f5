// Package jobs persists scheduler configuration rows and run history.
package jobs

import "time"

// MarketTiming gates when a job may run relative to global market state.
type MarketTiming string

const (
	TimingAny              MarketTiming = "ANY"
	TimingDuringOpen       MarketTiming = "DURING_OPEN"
	TimingAfterClose       MarketTiming = "AFTER_CLOSE"
	TimingAllMarketsClosed MarketTiming = "ALL_MARKETS_CLOSED"
)

// JobSchedule is one configured scheduler job.
type JobSchedule struct {
	JobType                   string       `json:"job_type"`
	IntervalMinutes           int          `json:"interval_minutes"`
	IntervalMarketOpenMinutes *int         `json:"interval_market_open_minutes"`
	MarketTiming              MarketTiming `json:"market_timing"`
	Enabled                   bool         `json:"enabled"`
	LastRun                   int64        `json:"last_run"` // epoch seconds
	ConsecutiveFailures       int          `json:"consecutive_failures"`
	Category                  string       `json:"category"`
	Description               string       `json:"description"`
	DependsOn                 []string     `json:"depends_on"`
	ParamSource               string       `json:"param_source"` // e.g. "securities"
	ParamField                string       `json:"param_field"`  // e.g. "symbol"
}

// PickInterval returns the effective interval for the current market state.
func (s *JobSchedule) PickInterval(marketOpen bool) int {
	if marketOpen && s.IntervalMarketOpenMinutes != nil {
		return *s.IntervalMarketOpenMinutes
	}
	return s.IntervalMinutes
}

// EffectiveIntervalMinutes applies the failure backoff policy: between one
// and two consecutive failures the interval is 2^failures minutes.
func (s *JobSchedule) EffectiveIntervalMinutes(marketOpen bool) int {
	if s.ConsecutiveFailures > 0 && s.ConsecutiveFailures < 3 {
		return 1 << s.ConsecutiveFailures
	}
	return s.PickInterval(marketOpen)
}

// IsExpired reports whether the job is due to run now.
func (s *JobSchedule) IsExpired(now time.Time, marketOpen bool) bool {
	if !s.Enabled {
		return false
	}
	interval := time.Duration(s.EffectiveIntervalMinutes(marketOpen)) * time.Minute
	return now.Unix()-s.LastRun >= int64(interval.Seconds())
}

// JobStatus is the terminal state of one job run.
type JobStatus string

const (
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusSkipped   JobStatus = "skipped"
)

// JobHistoryRecord is one executed (or skipped) job run.
type JobHistoryRecord struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	JobType    string    `json:"job_type"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error"`
	DurationMs int64     `json:"duration_ms"`
	ExecutedAt time.Time `json:"executed_at"`
	RetryCount int       `json:"retry_count"`
}
