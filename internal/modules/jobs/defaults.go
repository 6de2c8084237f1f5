package jobs

import "fmt"

func minutes(n int) *int { return &n }

// DefaultSchedules is the normative job registry. Operators tune rows in
// place; seeding never overwrites an existing row.
func DefaultSchedules() []JobSchedule {
	return []JobSchedule{
		{JobType: "sync:portfolio", IntervalMinutes: 30, IntervalMarketOpenMinutes: minutes(5), MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Mirror broker positions and cash balances", DependsOn: []string{"broker", "portfolio"}},
		{JobType: "sync:prices", IntervalMinutes: 60, IntervalMarketOpenMinutes: minutes(15), MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Refresh daily price history for the universe", DependsOn: []string{"db", "broker", "cache"}},
		{JobType: "sync:quotes", IntervalMinutes: 60, IntervalMarketOpenMinutes: minutes(5), MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Refresh live quotes for held positions", DependsOn: []string{"db", "broker"}},
		{JobType: "sync:metadata", IntervalMinutes: 1440, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Backfill security profiles (country, industry)", DependsOn: []string{"db", "broker"}},
		{JobType: "sync:exchange_rates", IntervalMinutes: 360, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Warm the FX rate cache"},
		{JobType: "sync:trades", IntervalMinutes: 60, IntervalMarketOpenMinutes: minutes(15), MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Import broker trade history into the ledger", DependsOn: []string{"db", "broker"}},
		{JobType: "sync:cashflows", IntervalMinutes: 120, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Import broker cash flows into the ledger", DependsOn: []string{"db", "broker"}},
		{JobType: "sync:dividends", IntervalMinutes: 720, MarketTiming: TimingAny, Enabled: true,
			Category: "sync", Description: "Record dividend cash flows", DependsOn: []string{"db", "broker"}},
		{JobType: "snapshot:backfill", IntervalMinutes: 1440, MarketTiming: TimingAfterClose, Enabled: true,
			Category: "aggregation", Description: "Record today's portfolio snapshot if missing", DependsOn: []string{"db", "currency"}},
		{JobType: "aggregate:compute", IntervalMinutes: 1440, MarketTiming: TimingAfterClose, Enabled: true,
			Category: "aggregation", Description: "Roll up monthly aggregates and daily P&L", DependsOn: []string{"db"}},
		{JobType: "scoring:calculate", IntervalMinutes: 360, MarketTiming: TimingAfterClose, Enabled: true,
			Category: "scoring", Description: "Recompute per-security scores", DependsOn: []string{"analyzer"}},
		{JobType: "trading:check_markets", IntervalMinutes: 15, IntervalMarketOpenMinutes: minutes(5), MarketTiming: TimingAny, Enabled: true,
			Category: "trading", Description: "Refresh market state and advance the planner", DependsOn: []string{"broker", "db", "planner"}},
		{JobType: "trading:execute", IntervalMinutes: 60, IntervalMarketOpenMinutes: minutes(15), MarketTiming: TimingDuringOpen, Enabled: true,
			Category: "trading", Description: "Execute the rebalance plan against open exchanges", DependsOn: []string{"broker", "db", "planner"}},
		{JobType: "trading:rebalance", IntervalMinutes: 360, MarketTiming: TimingAny, Enabled: true,
			Category: "trading", Description: "Regenerate and publish the rebalance plan", DependsOn: []string{"planner"}},
		{JobType: "trading:balance_fix", IntervalMinutes: 120, MarketTiming: TimingAny, Enabled: true,
			Category: "trading", Description: "Convert positive balances to cover negative ones", DependsOn: []string{"db", "broker"}},
		{JobType: "planning:refresh", IntervalMinutes: 60, IntervalMarketOpenMinutes: minutes(30), MarketTiming: TimingAny, Enabled: true,
			Category: "planning", Description: "Prune superseded planner state and run a batch", DependsOn: []string{"db", "planner", "broker"}},
		{JobType: "backup:daily", IntervalMinutes: 1440, MarketTiming: TimingAllMarketsClosed, Enabled: true,
			Category: "maintenance", Description: "Daily backup and retention chain", DependsOn: []string{"db"}},
		{JobType: "backup:weekly", IntervalMinutes: 10080, MarketTiming: TimingAllMarketsClosed, Enabled: true,
			Category: "maintenance", Description: "Weekly database integrity check", DependsOn: []string{"db"}},
		{JobType: "backup:r2", IntervalMinutes: 1440, MarketTiming: TimingAllMarketsClosed, Enabled: true,
			Category: "maintenance", Description: "Upload backup archive to R2", DependsOn: []string{"db"}},
		{JobType: "ml:retrain", IntervalMinutes: 1440, MarketTiming: TimingAllMarketsClosed, Enabled: true,
			Category: "ml", Description: "Retrain the signal model per ML-enabled symbol", DependsOn: []string{"db"},
			ParamSource: "securities", ParamField: "symbol"},
		{JobType: "ml:monitor", IntervalMinutes: 360, MarketTiming: TimingAny, Enabled: true,
			Category: "ml", Description: "Check cached signal models for drift", DependsOn: []string{"db", "cache"},
			ParamSource: "securities", ParamField: "symbol"},
	}
}

// Seed inserts any schedule rows that do not exist yet. Existing rows
// keep their operator-tuned values.
func (r *ScheduleRepository) Seed(defaults []JobSchedule) error {
	for _, s := range defaults {
		exists, err := r.exists(s.JobType)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := r.Upsert(&s); err != nil {
			return err
		}
		r.log.Info().Str("job", s.JobType).Msg("Seeded default job schedule")
	}
	return nil
}

func (r *ScheduleRepository) exists(jobType string) (bool, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM job_schedules WHERE job_type = ?", jobType).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check job schedule %s: %w", jobType, err)
	}
	return count > 0, nil
}
