// Package settings stores runtime knobs in the config database and
// materializes the typed configuration records downstream code consumes.
package settings

// SettingDefaults holds the default value for every configurable setting.
// Values read from the database override these; unknown keys fall back here.
var SettingDefaults = map[string]interface{}{
	// Trading mode: "live" or "research" - research logs would-be trades
	"trading_mode": "research",

	// Planner
	"planner_batch_size":     50.0,
	"planner_batch_size_api": 20.0,
	"max_plan_depth":         5.0,
	"risk_profile":           "balanced", // conservative / balanced / aggressive

	// Transaction costs
	"transaction_cost_fixed":   2.0,   // EUR per order
	"transaction_cost_percent": 0.002, // 0.2% of order value

	// Trade sizing
	"base_trade_amount_eur": 500.0,
	"min_trade_value":       500.0,
	"min_trade_size":        500.0,
	"min_cash_reserve":      500.0,

	// Contrarian strategy
	"strategy_min_opp_score":              0.55,
	"strategy_core_target":                0.75,
	"strategy_opportunity_target":         0.25,
	"strategy_max_opportunity_target":     0.40,
	"strategy_max_boost":                  0.25,
	"strategy_entry_t1_dd":                -0.12,
	"strategy_entry_t2_dd":                -0.20,
	"strategy_entry_t3_dd":                -0.28,
	"strategy_time_stop_days":             270.0,
	"strategy_lot_standard_max_pct":       0.02,
	"strategy_lot_coarse_max_pct":         0.05,
	"strategy_core_floor_pct":             0.03,
	"strategy_max_funding_sells_per_cycle": 2.0,
	"strategy_max_funding_turnover_pct":   0.10,

	// Sequence generation caps
	"enable_combinatorial_generation":          1.0,
	"priority_threshold_for_combinations":      2.0,
	"combinatorial_max_combinations_per_depth": 200.0,
	"combinatorial_max_sells":                  2.0,
	"combinatorial_max_buys":                   3.0,
	"combinatorial_max_candidates":             12.0,
	"max_opportunities_per_category":           5.0,
	"correlation_threshold":                    0.7,

	// Trade frequency limits
	"trade_frequency_limits_enabled":  1.0,
	"min_time_between_trades_minutes": 60.0,
	"max_trades_per_day":              4.0,
	"max_trades_per_week":             10.0,

	// P&L guardrails
	"pnl_warning_threshold": -0.02, // daily loss fraction for warning
	"pnl_halt_threshold":    -0.05, // daily loss fraction for halt

	// Currency management
	"balance_buffer_eur": 10.0,

	// Rebalancing
	"event_driven_rebalancing_enabled":   1.0,
	"rebalance_position_drift_threshold": 0.05,

	// Market regime detection
	"market_regime_detection_enabled": 1.0,
	"market_regime_bull_threshold":    0.05,
	"market_regime_bear_threshold":    -0.05,

	// Security discovery
	"stock_discovery_enabled":               0.0,
	"stock_discovery_score_threshold":       0.75,
	"stock_discovery_max_per_month":         2.0,
	"stock_discovery_require_manual_review": 1.0,

	// Retention
	"snapshot_retention_days":    90.0,
	"daily_price_retention_days": 365.0,
	"backup_retention_count":     7.0,
}

// StringSettings lists keys whose values are strings rather than numbers.
var StringSettings = map[string]bool{
	"trading_mode": true,
	"risk_profile": true,
}

// StrategyConfig is the typed configuration record consumed by the
// signals, rebalancing and planning code.
type StrategyConfig struct {
	MinOppScore           float64
	CoreTarget            float64
	OpportunityTarget     float64
	MaxOpportunityTarget  float64
	MaxBoost              float64
	EntryT1DD             float64
	EntryT2DD             float64
	EntryT3DD             float64
	TimeStopDays          int
	LotStandardMaxPct     float64
	LotCoarseMaxPct       float64
	CoreFloorPct          float64
	MaxFundingSells       int
	MaxFundingTurnoverPct float64

	BaseTradeAmountEUR     float64
	MinTradeValue          float64
	TransactionCostFixed   float64
	TransactionCostPercent float64
}

// PlannerSettings is the typed configuration for the planner.
type PlannerSettings struct {
	BatchSize    int
	BatchSizeAPI int
	MaxPlanDepth int
	RiskProfile  string
}
