package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/planning/planner"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
	"github.com/aristath/helmsman/internal/signals"
)

// rebalanceCacheKey is where the latest rebalance plan is published for
// the control API.
const rebalanceCacheKey = "recommendation:rebalance"

// tradingCheckMarkets refreshes the market oracle and nudges the
// planner while any market is open.
func (t *Tasks) tradingCheckMarkets(ctx context.Context) error {
	t.Markets.Refresh(time.Now())
	open := t.Markets.GetOpenMarkets()
	t.Log.Debug().Strs("open", open).Msg("Market status checked")
	if len(open) == 0 {
		return nil
	}

	done, err := t.Planner.AllEvaluated()
	if err != nil {
		return err
	}
	if !done {
		_, err = t.Planner.RunBatch(ctx, planner.ModeScheduled, 0)
	}
	return err
}

// tradingExecute is the scheduled batch trading path, used when
// event-driven trading is off: regenerate the rebalance plan and work
// through it sells-first, each side by priority, against open exchanges
// only. Research mode logs the would-be trades.
func (t *Tasks) tradingExecute(ctx context.Context) error {
	eventDriven, _ := t.Settings.GetBool("event_driven_rebalancing_enabled", true)
	if eventDriven {
		t.Log.Debug().Msg("Event-driven trading active, scheduled execution skipped")
		return nil
	}

	return t.Locks.WithLock("event_based_trading", 600*time.Second, func() error {
		in, err := t.Inputs.BuildRebalanceInput(ctx)
		if err != nil {
			return err
		}
		recs, err := t.Rebalance.Generate(in)
		if err != nil {
			return err
		}

		ordered := sellsFirst(recs)
		research := t.Settings.TradingMode() != "live"
		executed := 0
		for _, rec := range ordered {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !t.exchangeOpen(rec.Symbol, rec.Side) {
				continue
			}
			if research {
				t.Log.Info().Str("symbol", rec.Symbol).Str("side", rec.Side).
					Int("quantity", rec.Quantity).Float64("value_eur", rec.ValueEUR).
					Str("reason", rec.Reason).Msg("Research mode: would trade")
				continue
			}
			result, err := t.Execution.Execute(ctx, toRecommendation(rec))
			if err != nil {
				t.Log.Error().Err(err).Str("symbol", rec.Symbol).Msg("Scheduled trade failed")
				continue
			}
			if result.Status == "success" {
				executed++
			}
		}
		if executed > 0 {
			return t.Sync.Sync(ctx)
		}
		return nil
	})
}

// tradingRebalance regenerates the rebalance plan and publishes it.
func (t *Tasks) tradingRebalance(ctx context.Context) error {
	return t.Locks.WithLock("rebalance", 600*time.Second, func() error {
		t.Bus.Emit(events.RebalanceStart, "scheduler", nil)

		in, err := t.Inputs.BuildRebalanceInput(ctx)
		if err != nil {
			return err
		}
		recs, err := t.Rebalance.Generate(in)
		if err != nil {
			return err
		}

		if err := t.Cache.Set(rebalanceCacheKey, recs, time.Hour); err != nil {
			t.Log.Warn().Err(err).Msg("Failed to cache rebalance plan")
		}
		t.Bus.Emit(events.RebalanceComplete, "scheduler", map[string]interface{}{
			"recommendations": len(recs),
		})
		t.Log.Info().Int("recommendations", len(recs)).Msg("Rebalance plan generated")
		return nil
	})
}

// tradingBalanceFix cures negative cash balances by converting from
// positive ones, preferring EUR as the source.
func (t *Tasks) tradingBalanceFix(ctx context.Context) error {
	balances, err := t.CashRepo.GetAll()
	if err != nil {
		return err
	}
	buffer, _ := t.Settings.GetFloat("balance_buffer_eur", 10.0)

	for _, b := range balances {
		if b.Amount >= 0 {
			continue
		}
		t.Log.Info().Str("currency", b.Currency).Float64("amount", b.Amount).
			Msg("Negative balance detected, converting to cover")
		converted, err := t.Router.EnsureBalance(ctx, b.Currency, buffer, domain.CurrencyEUR, balances)
		if err != nil {
			t.Log.Error().Err(err).Str("currency", b.Currency).Msg("Balance fix failed")
			continue
		}
		if !converted {
			t.Log.Warn().Str("currency", b.Currency).Msg("No positive source balance available")
		}
	}
	return nil
}

// planningRefresh prunes superseded planner state and advances the
// current hash by one batch.
func (t *Tasks) planningRefresh(ctx context.Context) error {
	hash, err := t.Sync.CurrentHash(false)
	if err != nil {
		return err
	}
	if _, err := t.PlannerRepo.PruneSuperseded(hash); err != nil {
		return err
	}
	_, err = t.Planner.RunBatch(ctx, planner.ModeScheduled, 0)
	return err
}

// backupDaily runs the daily maintenance chain.
func (t *Tasks) backupDaily(ctx context.Context) error {
	return t.Maintenance.RunDaily(ctx)
}

// backupWeekly runs the integrity check.
func (t *Tasks) backupWeekly(ctx context.Context) error {
	return t.Maintenance.RunWeekly(ctx)
}

// backupR2 uploads a fresh archive to R2 when configured.
func (t *Tasks) backupR2(ctx context.Context) error {
	if t.R2 == nil {
		t.Log.Debug().Msg("R2 backup not configured, skipping")
		return nil
	}
	return t.R2.Backup(ctx)
}

// mlRetrain recomputes and caches the signal model for one symbol.
func (t *Tasks) mlRetrain(ctx context.Context, symbol string) error {
	closes, err := t.History.GetCloses(symbol, 300)
	if err != nil {
		return err
	}
	block := signals.Compute(closes)
	if err := t.Cache.Set("ml:model:"+symbol, block, 7*24*time.Hour); err != nil {
		return fmt.Errorf("failed to cache model for %s: %w", symbol, err)
	}
	t.Log.Debug().Str("symbol", symbol).Float64("opp_score", block.OppScore).Msg("Signal model retrained")
	return nil
}

// mlMonitor compares the cached model against fresh signals and flags
// drift; a missing model triggers a retrain.
func (t *Tasks) mlMonitor(ctx context.Context, symbol string) error {
	var baseline signals.Block
	ok, err := t.Cache.Get("ml:model:"+symbol, &baseline)
	if err != nil {
		return err
	}
	if !ok {
		t.Log.Warn().Str("symbol", symbol).Msg("No cached model, retraining")
		return t.mlRetrain(ctx, symbol)
	}

	closes, err := t.History.GetCloses(symbol, 300)
	if err != nil {
		return err
	}
	fresh := signals.Compute(closes)
	drift := math.Abs(fresh.OppScore-baseline.OppScore) + math.Abs(fresh.Mom20-baseline.Mom20)
	if drift > 0.25 {
		t.Log.Warn().Str("symbol", symbol).Float64("drift", drift).
			Msg("Signal drift detected, model stale")
	}
	return nil
}

// sellsFirst orders a plan sells-before-buys, each side already sorted
// by priority.
func sellsFirst(recs []rebalancing.TradeRecommendation) []rebalancing.TradeRecommendation {
	ordered := make([]rebalancing.TradeRecommendation, 0, len(recs))
	for _, r := range recs {
		if r.Side == string(domain.SideSell) {
			ordered = append(ordered, r)
		}
	}
	for _, r := range recs {
		if r.Side == string(domain.SideBuy) {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

// exchangeOpen applies the market-hours policy for one trade.
func (t *Tasks) exchangeOpen(symbol, side string) bool {
	sec, err := t.Universe.GetBySymbol(symbol)
	if err != nil {
		return true
	}
	if !t.Markets.ShouldCheckMarketHours(sec.Exchange, side) {
		return true
	}
	return t.Markets.IsMarketOpen(sec.Exchange, time.Now())
}

// toRecommendation maps a rebalance line onto the execution contract.
func toRecommendation(rec rebalancing.TradeRecommendation) domain.Recommendation {
	return domain.Recommendation{
		Symbol:         rec.Symbol,
		Side:           rec.Side,
		Quantity:       rec.Quantity,
		EstimatedPrice: rec.Price,
		EstimatedValue: rec.AbsValueEUR(),
		Currency:       rec.Currency,
		Reason:         rec.Reason,
		Status:         domain.RecommendationPending,
	}
}
