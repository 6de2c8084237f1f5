// Package scheduler owns the in-process timer set: configuration-driven
// jobs, market-aware interval bands, dependency gating and run history.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/jobs"
	"github.com/aristath/helmsman/internal/modules/markethours"
)

const (
	jobTimeout      = 15 * time.Minute
	watcherInterval = 5 * time.Minute
	catchUpDelay    = 30 * time.Second
)

// Task is one registered job implementation. Parameterized jobs carry
// RunParam and fan out over the resolved parameter list.
type Task struct {
	Run       func(ctx context.Context) error
	RunParam  func(ctx context.Context, param string) error
	DependsOn []string
}

// ParamResolver expands a schedule's param_source/param_field pair into
// concrete parameter values (e.g. the ML-enabled symbols).
type ParamResolver interface {
	Resolve(source, field string) ([]string, error)
}

// RunReport is the synchronous answer to RunNow.
type RunReport struct {
	Status     jobs.JobStatus `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// UpcomingJob is one scheduled future run.
type UpcomingJob struct {
	JobType string    `json:"job_type"`
	NextRun time.Time `json:"next_run"`
}

// StatusReport is the control-plane view of the runner.
type StatusReport struct {
	Current  string                  `json:"current"`
	Upcoming []UpcomingJob           `json:"upcoming"`
	Recent   []jobs.JobHistoryRecord `json:"recent"`
}

// Runner drives the cron timer set from job_schedules rows.
type Runner struct {
	schedules *jobs.ScheduleRepository
	history   *jobs.HistoryRepository
	markets   *markethours.Service
	params    ParamResolver
	bus       *events.Bus
	log       zerolog.Logger

	cron      *cron.Cron
	available map[string]bool
	registry  map[string]Task

	mu         sync.Mutex
	entries    map[string]cron.EntryID
	inFlight   map[string]bool
	currentJob string
	marketOpen bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a scheduler runner. available names the wired
// dependency objects tasks may declare in DependsOn.
func NewRunner(schedules *jobs.ScheduleRepository, history *jobs.HistoryRepository, markets *markethours.Service, params ParamResolver, bus *events.Bus, available []string, log zerolog.Logger) *Runner {
	avail := make(map[string]bool, len(available))
	for _, name := range available {
		avail[name] = true
	}
	return &Runner{
		schedules: schedules,
		history:   history,
		markets:   markets,
		params:    params,
		bus:       bus,
		log:       log.With().Str("service", "scheduler").Logger(),
		cron:      cron.New(),
		available: avail,
		registry:  make(map[string]Task),
		entries:   make(map[string]cron.EntryID),
		inFlight:  make(map[string]bool),
	}
}

// Register binds a job type to its task implementation.
func (r *Runner) Register(jobType string, t Task) {
	r.registry[jobType] = t
}

// Start installs one timer per enabled schedule and spawns the market
// watcher and the startup catch-up.
func (r *Runner) Start(ctx context.Context) error {
	r.markets.Refresh(time.Now())
	r.mu.Lock()
	r.marketOpen = r.markets.AnyMarketOpen()
	r.mu.Unlock()

	schedules, err := r.schedules.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load job schedules: %w", err)
	}
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		if _, ok := r.registry[s.JobType]; !ok {
			r.log.Warn().Str("job", s.JobType).Msg("Schedule row has no registered task")
			continue
		}
		if err := r.addEntry(s); err != nil {
			return err
		}
	}
	r.cron.Start()

	wctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(2)
	go r.marketWatcher(wctx)
	go r.startupCatchUp(wctx)

	r.log.Info().Int("jobs", len(r.entries)).Msg("Scheduler started")
	return nil
}

// Stop cancels the watchers and shuts the timer set down, waiting for
// the running job (if any) to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.wg.Wait()
	r.log.Info().Msg("Scheduler stopped")
}

// RunNow executes one job immediately, ignoring the market-timing gate.
func (r *Runner) RunNow(jobType string) RunReport {
	return r.execute(jobType, true)
}

// Reschedule reloads a schedule row and reinstalls its timer with the
// interval for the current market state.
func (r *Runner) Reschedule(jobType string) error {
	s, err := r.schedules.Get(jobType)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if id, ok := r.entries[jobType]; ok {
		r.cron.Remove(id)
		delete(r.entries, jobType)
	}
	r.mu.Unlock()

	if !s.Enabled {
		return nil
	}
	return r.addEntry(*s)
}

// Status reports the current job, the next three upcoming runs and the
// last three distinct job results.
func (r *Runner) Status() (*StatusReport, error) {
	r.mu.Lock()
	current := r.currentJob
	byID := make(map[cron.EntryID]string, len(r.entries))
	for jobType, id := range r.entries {
		byID[id] = jobType
	}
	r.mu.Unlock()

	var upcoming []UpcomingJob
	for _, e := range r.cron.Entries() {
		jobType, ok := byID[e.ID]
		if !ok {
			continue
		}
		upcoming = append(upcoming, UpcomingJob{JobType: jobType, NextRun: e.Next})
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].NextRun.Before(upcoming[j].NextRun) })
	if len(upcoming) > 3 {
		upcoming = upcoming[:3]
	}

	recent, err := r.history.Recent(3)
	if err != nil {
		return nil, err
	}
	return &StatusReport{Current: current, Upcoming: upcoming, Recent: recent}, nil
}

// addEntry installs the cron timer for one schedule.
func (r *Runner) addEntry(s jobs.JobSchedule) error {
	r.mu.Lock()
	interval := s.PickInterval(r.marketOpen)
	r.mu.Unlock()
	if interval <= 0 {
		interval = 60
	}

	jobType := s.JobType
	id, err := r.cron.AddFunc(fmt.Sprintf("@every %dm", interval), func() {
		r.execute(jobType, false)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", jobType, err)
	}

	r.mu.Lock()
	r.entries[jobType] = id
	r.mu.Unlock()
	return nil
}

// execute is the wrapper around every job run: single-instance guard,
// market-timing gate, dependency resolution, timeout and bookkeeping.
func (r *Runner) execute(jobType string, ignoreGate bool) RunReport {
	r.mu.Lock()
	if r.inFlight[jobType] {
		r.mu.Unlock()
		r.log.Debug().Str("job", jobType).Msg("Previous run still in flight, skipping tick")
		return RunReport{Status: jobs.StatusSkipped, Error: "already running"}
	}
	r.inFlight[jobType] = true
	r.currentJob = jobType
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inFlight, jobType)
		if r.currentJob == jobType {
			r.currentJob = ""
		}
		r.mu.Unlock()
	}()

	schedule, err := r.schedules.Get(jobType)
	if err != nil {
		return r.finish(jobType, jobs.StatusFailed, 0, err)
	}
	task := r.registry[jobType]

	r.markets.Refresh(time.Now())
	if !ignoreGate && !r.timingAllowed(schedule.MarketTiming) {
		return r.record(jobType, jobs.StatusSkipped, 0, "market timing gate")
	}
	for _, dep := range task.DependsOn {
		if !r.available[dep] {
			r.log.Warn().Str("job", jobType).Str("dependency", dep).Msg("Missing dependency, skipping job")
			return r.record(jobType, jobs.StatusSkipped, 0, "missing dependency: "+dep)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	r.bus.EmitTyped(events.JobStart, "scheduler", &events.JobEventData{JobType: jobType})
	start := time.Now()
	err = r.runTask(ctx, schedule, task)
	duration := time.Since(start)

	if err != nil {
		return r.finish(jobType, jobs.StatusFailed, duration, err)
	}
	return r.finish(jobType, jobs.StatusCompleted, duration, nil)
}

// runTask invokes the task, fanning a parameterized job out over its
// resolved parameter list. The first per-parameter failure wins but the
// remaining parameters still run.
func (r *Runner) runTask(ctx context.Context, s *jobs.JobSchedule, task Task) error {
	if s.ParamSource == "" || task.RunParam == nil {
		return task.Run(ctx)
	}

	params, err := r.params.Resolve(s.ParamSource, s.ParamField)
	if err != nil {
		return fmt.Errorf("failed to resolve parameters for %s: %w", s.JobType, err)
	}
	var firstErr error
	for _, p := range params {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := task.RunParam(ctx, p); err != nil {
			r.log.Warn().Err(err).Str("job", s.JobType).Str("param", p).Msg("Parameterized run failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// timingAllowed evaluates the job's market-timing gate against the
// oracle.
func (r *Runner) timingAllowed(t jobs.MarketTiming) bool {
	switch t {
	case jobs.TimingDuringOpen:
		return r.markets.AnyMarketOpen()
	case jobs.TimingAfterClose:
		return !r.markets.AnyMarketOpen()
	case jobs.TimingAllMarketsClosed:
		return r.markets.AllMarketsClosed()
	default:
		return true
	}
}

// finish writes run bookkeeping and history, then reports the outcome.
func (r *Runner) finish(jobType string, status jobs.JobStatus, duration time.Duration, err error) RunReport {
	message := ""
	if err != nil {
		message = err.Error()
	}

	switch status {
	case jobs.StatusCompleted:
		if err := r.schedules.MarkSuccess(jobType, time.Now()); err != nil {
			r.log.Error().Err(err).Str("job", jobType).Msg("Failed to mark job success")
		}
		r.log.Info().Str("job", jobType).Dur("duration", duration).Msg("Job completed")
	case jobs.StatusFailed:
		if err := r.schedules.MarkFailure(jobType); err != nil {
			r.log.Error().Err(err).Str("job", jobType).Msg("Failed to mark job failure")
		}
		r.log.Error().Str("job", jobType).Str("error", message).Dur("duration", duration).Msg("Job failed")
	}
	return r.record(jobType, status, duration, message)
}

// record appends the history row and emits the completion event.
func (r *Runner) record(jobType string, status jobs.JobStatus, duration time.Duration, message string) RunReport {
	rec := &jobs.JobHistoryRecord{
		JobID:      fmt.Sprintf("%s-%d", jobType, time.Now().UnixNano()),
		JobType:    jobType,
		Status:     status,
		Error:      message,
		DurationMs: duration.Milliseconds(),
		ExecutedAt: time.Now().UTC(),
	}
	if err := r.history.Record(rec); err != nil {
		r.log.Error().Err(err).Str("job", jobType).Msg("Failed to record job history")
	}
	r.bus.EmitTyped(events.JobComplete, "scheduler", &events.JobEventData{
		JobType:    jobType,
		Status:     string(status),
		DurationMs: duration.Milliseconds(),
	})
	return RunReport{Status: status, DurationMs: duration.Milliseconds(), Error: message}
}

// marketWatcher refreshes the oracle every five minutes and reinstalls
// timers whose interval band changed with the market state.
func (r *Runner) marketWatcher(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(watcherInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.markets.Refresh(time.Now())
		open := r.markets.AnyMarketOpen()

		r.mu.Lock()
		changed := open != r.marketOpen
		r.marketOpen = open
		r.mu.Unlock()
		if !changed {
			continue
		}

		r.log.Info().Bool("market_open", open).Msg("Market state transition, rescheduling interval-banded jobs")
		schedules, err := r.schedules.GetAll()
		if err != nil {
			r.log.Error().Err(err).Msg("Failed to load schedules on market transition")
			continue
		}
		for _, s := range schedules {
			if s.IntervalMarketOpenMinutes == nil || *s.IntervalMarketOpenMinutes == s.IntervalMinutes {
				continue
			}
			if err := r.Reschedule(s.JobType); err != nil {
				r.log.Error().Err(err).Str("job", s.JobType).Msg("Failed to reschedule job")
			}
		}
	}
}

// startupCatchUp force-runs the snapshot backfill shortly after boot so
// a restart never loses a day.
func (r *Runner) startupCatchUp(ctx context.Context) {
	defer r.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-time.After(catchUpDelay):
	}
	report := r.RunNow("snapshot:backfill")
	r.log.Info().Str("status", string(report.Status)).Msg("Startup snapshot catch-up finished")
}
