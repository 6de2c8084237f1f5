package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/lockfile"
	"github.com/aristath/helmsman/internal/modules/cache"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/internal/modules/markethours"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/planning/planner"
	"github.com/aristath/helmsman/internal/modules/settings"
	"github.com/aristath/helmsman/internal/modules/universe"
)

const (
	planningPollInterval = 10 * time.Second
	planningPollLimit    = 360 // ~1 hour

	monitorPhase1Interval = 30 * time.Second
	monitorPhase1Ticks    = 10 // 5 minutes
	monitorPhase2Interval = 60 * time.Second
	monitorPhase2Ticks    = 15 // 15 more minutes
)

// ExecutionLoop is the event-based trading loop: wait for planning,
// take the best next step, gate it, execute it, then watch the
// portfolio settle.
type ExecutionLoop struct {
	locks           *lockfile.Manager
	planner         *planner.Service
	recommendations *planning.RecommendationRepository
	pnl             *ledger.PnLTracker
	trades          *ledger.TradeRepository
	frequency       *TradeFrequencyService
	execution       *TradeExecutionService
	sync            *PortfolioSyncService
	markets         *markethours.Service
	universe        *universe.Repository
	settings        *settings.Repository
	cache           *cache.Repository
	bus             *events.Bus
	log             zerolog.Logger
}

// NewExecutionLoop creates the trading loop.
func NewExecutionLoop(locks *lockfile.Manager, plannerSvc *planner.Service, recommendations *planning.RecommendationRepository, pnl *ledger.PnLTracker, trades *ledger.TradeRepository, frequency *TradeFrequencyService, execution *TradeExecutionService, syncSvc *PortfolioSyncService, markets *markethours.Service, universeRepo *universe.Repository, settingsRepo *settings.Repository, cacheRepo *cache.Repository, bus *events.Bus, log zerolog.Logger) *ExecutionLoop {
	return &ExecutionLoop{
		locks:           locks,
		planner:         plannerSvc,
		recommendations: recommendations,
		pnl:             pnl,
		trades:          trades,
		frequency:       frequency,
		execution:       execution,
		sync:            syncSvc,
		markets:         markets,
		universe:        universeRepo,
		settings:        settingsRepo,
		cache:           cacheRepo,
		bus:             bus,
		log:             log.With().Str("service", "execution_loop").Logger(),
	}
}

// Run holds the trading lock and cycles until the context ends. A
// failing cycle emits ERROR_OCCURRED and continues after a pause.
func (l *ExecutionLoop) Run(ctx context.Context) error {
	return l.locks.WithLock("event_based_trading", time.Hour, func() error {
		for ctx.Err() == nil {
			l.bus.Emit(events.ProcessStart, "execution_loop", nil)
			err := l.cycle(ctx)
			l.bus.Emit(events.ProcessEnd, "execution_loop", nil)
			if err != nil && ctx.Err() == nil {
				l.bus.EmitTyped(events.ErrorOccurred, "execution_loop", &events.ErrorEventData{
					Message: "trading cycle failed",
					Error:   err.Error(),
				})
				l.log.Error().Err(err).Msg("Trading cycle failed")
				l.sleep(ctx, time.Minute)
			}
		}
		return ctx.Err()
	})
}

// cycle runs one pass of the loop. Returning nil means the cycle ended
// cleanly (including deliberate skips).
func (l *ExecutionLoop) cycle(ctx context.Context) error {
	if !l.waitForPlanning(ctx) {
		return ctx.Err()
	}

	rec, err := l.nextRecommendation()
	if err != nil {
		l.sleep(ctx, time.Minute)
		return nil
	}

	check, err := l.pnl.Check()
	if err != nil {
		return fmt.Errorf("pnl check failed: %w", err)
	}
	if check.Status == ledger.PnLHalted {
		l.bus.EmitTyped(events.ErrorOccurred, "execution_loop", &events.ErrorEventData{
			Message: "trading halted by P&L guardrail",
			Error:   check.Reason,
		})
		l.sleep(ctx, 5*time.Minute)
		return nil
	}

	if reason, ok := l.validateAction(ctx, rec, check); !ok {
		l.log.Info().Str("symbol", rec.Symbol).Str("side", rec.Side).
			Str("reason", reason).Msg("Recommendation blocked, skipping cycle")
		l.sleep(ctx, time.Minute)
		return nil
	}

	if !l.marketOpenFor(rec) {
		l.log.Info().Str("symbol", rec.Symbol).Msg("Market closed, skipping cycle")
		l.sleep(ctx, 5*time.Minute)
		return nil
	}

	result, err := l.execution.Execute(ctx, *rec)
	if err != nil || result.Status == ExecutionFailed {
		l.sleep(ctx, 5*time.Minute)
		return err
	}
	if result.Status == ExecutionSkipped {
		l.sleep(ctx, time.Minute)
		return nil
	}

	if err := l.recommendations.UpdateStatus(rec.UUID, domain.RecommendationExecuted); err != nil {
		l.log.Warn().Err(err).Str("uuid", rec.UUID).Msg("Failed to mark recommendation executed")
	}
	if err := l.sync.Sync(ctx); err != nil {
		l.log.Warn().Err(err).Msg("Post-trade portfolio sync failed")
	}

	l.monitorSettlement(ctx)
	return nil
}

// waitForPlanning polls evaluation completion, nudging the planner
// along, then proceeds with whatever the best result is so far.
func (l *ExecutionLoop) waitForPlanning(ctx context.Context) bool {
	for i := 0; i < planningPollLimit; i++ {
		done, err := l.planner.AllEvaluated()
		if err != nil {
			l.log.Warn().Err(err).Msg("Failed to check planning status")
		} else if done {
			return true
		}
		if _, err := l.planner.RunBatch(ctx, planner.ModeScheduled, 0); err != nil {
			l.log.Warn().Err(err).Msg("Planner batch failed while waiting")
		}
		if !l.sleep(ctx, planningPollInterval) {
			return false
		}
	}
	l.log.Warn().Msg("Planning did not finish in time, proceeding with best result so far")
	return ctx.Err() == nil
}

// nextRecommendation materializes the first step of the best sequence
// as a PENDING recommendation.
func (l *ExecutionLoop) nextRecommendation() (*domain.Recommendation, error) {
	best, err := l.planner.BestResult()
	if err != nil {
		return nil, err
	}
	if len(best.Actions) == 0 {
		return nil, fmt.Errorf("best result has no actions: %w", domain.ErrNotFound)
	}
	action := best.Actions[0]

	rec := domain.Recommendation{
		Symbol:         action.Symbol,
		Side:           action.Side,
		Quantity:       action.Quantity,
		EstimatedPrice: action.Price,
		EstimatedValue: action.ValueEUR,
		Currency:       action.Currency,
		Reason:         action.Reason,
		Status:         domain.RecommendationPending,
	}
	id, err := l.recommendations.Create(rec)
	if err != nil {
		return nil, err
	}
	rec.UUID = id
	return &rec, nil
}

// validateAction runs the compound gate: frequency pacing, cash floor
// and P&L direction flags for buys, recent-sell guard for sells.
func (l *ExecutionLoop) validateAction(ctx context.Context, rec *domain.Recommendation, check *ledger.PnLCheck) (string, bool) {
	ok, reason, err := l.frequency.CanExecuteTrade(rec.Symbol, rec.Side)
	if err != nil {
		return err.Error(), false
	}
	if !ok {
		return reason, false
	}

	if rec.Side == string(domain.SideBuy) {
		if !check.CanBuy {
			return "buys blocked: " + check.Reason, false
		}
		minTradeSize, _ := l.settings.GetFloat("min_trade_size", 500)
		available, err := l.sync.CashEUR(ctx)
		if err != nil {
			return err.Error(), false
		}
		if available < minTradeSize {
			return fmt.Sprintf("available cash %.2f below minimum trade size %.2f",
				available, minTradeSize), false
		}
	} else {
		if !check.CanSell {
			return "sells blocked: " + check.Reason, false
		}
		guardMinutes, _ := l.settings.GetInt("recent_sell_guard_minutes", 30)
		recent, err := l.trades.HasRecentSellOrder(rec.Symbol, guardMinutes)
		if err != nil {
			return err.Error(), false
		}
		if recent {
			return "recent sell order still settling", false
		}
	}
	return "", true
}

// marketOpenFor applies the market-hours gate for the trade's exchange.
func (l *ExecutionLoop) marketOpenFor(rec *domain.Recommendation) bool {
	security, err := l.universe.GetBySymbol(rec.Symbol)
	if err != nil {
		// Unknown security: fail open, the broker is the backstop.
		return true
	}
	if !l.markets.ShouldCheckMarketHours(security.Exchange, rec.Side) {
		return true
	}
	return l.markets.IsMarketOpen(security.Exchange, time.Now())
}

// monitorSettlement watches the portfolio hash in two phases and
// invalidates recommendation caches once the executed trade lands.
func (l *ExecutionLoop) monitorSettlement(ctx context.Context) {
	baseline, err := l.sync.CurrentHash(false)
	if err != nil {
		l.log.Warn().Err(err).Msg("Failed to compute baseline hash, skipping monitor")
		return
	}

	if l.monitorPhase(ctx, baseline, monitorPhase1Interval, monitorPhase1Ticks) {
		return
	}
	if l.monitorPhase(ctx, baseline, monitorPhase2Interval, monitorPhase2Ticks) {
		return
	}
	l.log.Info().Msg("Portfolio hash unchanged after monitoring window, restarting cycle")
}

// monitorPhase resyncs on each tick; a hash change invalidates caches
// and ends monitoring.
func (l *ExecutionLoop) monitorPhase(ctx context.Context, baseline string, interval time.Duration, ticks int) bool {
	for i := 0; i < ticks; i++ {
		if !l.sleep(ctx, interval) {
			return true
		}
		if err := l.sync.Sync(ctx); err != nil {
			l.log.Warn().Err(err).Msg("Resync failed during settlement monitor")
			continue
		}
		hash, err := l.sync.CurrentHash(false)
		if err != nil {
			continue
		}
		if hash != baseline {
			l.invalidateRecommendations(hash)
			return true
		}
	}
	return false
}

// invalidateRecommendations clears stale plan output once the portfolio
// state moved.
func (l *ExecutionLoop) invalidateRecommendations(newHash string) {
	if n, err := l.recommendations.DismissPending(); err != nil {
		l.log.Warn().Err(err).Msg("Failed to dismiss pending recommendations")
	} else if n > 0 {
		l.log.Info().Int64("dismissed", n).Msg("Dismissed stale recommendations")
	}
	if _, err := l.cache.DeletePrefix("recommendation:"); err != nil {
		l.log.Warn().Err(err).Msg("Failed to clear recommendation cache")
	}
	l.bus.Emit(events.RecommendationsInvalidated, "execution_loop", map[string]interface{}{
		"portfolio_hash": planning.ShortHash(newHash),
	})
}

// sleep waits unless the context ends first.
func (l *ExecutionLoop) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
