package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
)

// Repository reads and writes the settings table in config.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a settings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// Get returns the stored value for key, or the default when absent.
func (r *Repository) Get(key, defaultValue string) (string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if dv, ok := SettingDefaults[key]; ok {
			if s, isStr := dv.(string); isStr {
				return s, nil
			}
			if f, isFloat := dv.(float64); isFloat {
				return strconv.FormatFloat(f, 'f', -1, 64), nil
			}
		}
		return defaultValue, nil
	}
	if err != nil {
		return defaultValue, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// GetFloat returns the setting parsed as float64, or the default.
func (r *Repository) GetFloat(key string, defaultValue float64) (float64, error) {
	raw, err := r.Get(key, "")
	if err != nil {
		return defaultValue, err
	}
	if raw == "" {
		if dv, ok := SettingDefaults[key].(float64); ok {
			return dv, nil
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.log.Warn().Str("key", key).Str("value", raw).Msg("Setting is not a number, using default")
		return defaultValue, nil
	}
	return value, nil
}

// GetInt returns the setting parsed as int, or the default.
func (r *Repository) GetInt(key string, defaultValue int) (int, error) {
	value, err := r.GetFloat(key, float64(defaultValue))
	if err != nil {
		return defaultValue, err
	}
	return int(value), nil
}

// GetBool treats any non-zero numeric setting as true.
func (r *Repository) GetBool(key string, defaultValue bool) (bool, error) {
	dv := 0.0
	if defaultValue {
		dv = 1.0
	}
	value, err := r.GetFloat(key, dv)
	if err != nil {
		return defaultValue, err
	}
	return value != 0, nil
}

// Set stores a setting value.
func (r *Repository) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// SetFloat stores a numeric setting value.
func (r *Repository) SetFloat(key string, value float64) error {
	return r.Set(key, strconv.FormatFloat(value, 'f', -1, 64))
}

// GetAll returns every stored setting.
func (r *Repository) GetAll() (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}

// TradingMode returns "research" or "live".
func (r *Repository) TradingMode() string {
	mode, err := r.Get("trading_mode", "research")
	if err != nil || (mode != "live" && mode != "research") {
		return "research"
	}
	return mode
}

// StrategyConfig materializes the typed strategy record from settings.
func (r *Repository) StrategyConfig() *StrategyConfig {
	cfg := &StrategyConfig{}
	cfg.MinOppScore, _ = r.GetFloat("strategy_min_opp_score", 0.55)
	cfg.CoreTarget, _ = r.GetFloat("strategy_core_target", 0.75)
	cfg.OpportunityTarget, _ = r.GetFloat("strategy_opportunity_target", 0.25)
	cfg.MaxOpportunityTarget, _ = r.GetFloat("strategy_max_opportunity_target", 0.40)
	cfg.MaxBoost, _ = r.GetFloat("strategy_max_boost", 0.25)
	cfg.EntryT1DD, _ = r.GetFloat("strategy_entry_t1_dd", -0.12)
	cfg.EntryT2DD, _ = r.GetFloat("strategy_entry_t2_dd", -0.20)
	cfg.EntryT3DD, _ = r.GetFloat("strategy_entry_t3_dd", -0.28)
	cfg.TimeStopDays, _ = r.GetInt("strategy_time_stop_days", 270)
	cfg.LotStandardMaxPct, _ = r.GetFloat("strategy_lot_standard_max_pct", 0.02)
	cfg.LotCoarseMaxPct, _ = r.GetFloat("strategy_lot_coarse_max_pct", 0.05)
	cfg.CoreFloorPct, _ = r.GetFloat("strategy_core_floor_pct", 0.03)
	cfg.MaxFundingSells, _ = r.GetInt("strategy_max_funding_sells_per_cycle", 2)
	cfg.MaxFundingTurnoverPct, _ = r.GetFloat("strategy_max_funding_turnover_pct", 0.10)
	cfg.BaseTradeAmountEUR, _ = r.GetFloat("base_trade_amount_eur", 500)
	cfg.MinTradeValue, _ = r.GetFloat("min_trade_value", 500)
	cfg.TransactionCostFixed, _ = r.GetFloat("transaction_cost_fixed", 2.0)
	cfg.TransactionCostPercent, _ = r.GetFloat("transaction_cost_percent", 0.002)
	return cfg
}

// PlannerSettings materializes the typed planner record from settings.
func (r *Repository) PlannerSettings() *PlannerSettings {
	s := &PlannerSettings{}
	s.BatchSize, _ = r.GetInt("planner_batch_size", 50)
	s.BatchSizeAPI, _ = r.GetInt("planner_batch_size_api", 20)
	s.MaxPlanDepth, _ = r.GetInt("max_plan_depth", 5)
	s.RiskProfile, _ = r.Get("risk_profile", "balanced")
	return s
}
