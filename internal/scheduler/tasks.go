package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/tradernet"
	"github.com/aristath/helmsman/internal/clients/yahoo"
	"github.com/aristath/helmsman/internal/currency"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/lockfile"
	"github.com/aristath/helmsman/internal/modules/cache"
	"github.com/aristath/helmsman/internal/modules/history"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/internal/modules/markethours"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/planning/planner"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
	"github.com/aristath/helmsman/internal/modules/scoring"
	"github.com/aristath/helmsman/internal/modules/settings"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/reliability"
	"github.com/aristath/helmsman/internal/services"
)

// tradeSyncLookback is how far back the trade/cash-flow syncs reach on
// an empty ledger.
const tradeSyncLookback = 90 * 24 * time.Hour

// Tasks bundles every dependency the job implementations touch and
// registers them with the runner.
type Tasks struct {
	Broker  *tradernet.Client
	Yahoo   *yahoo.Client
	Router  *currency.Router
	Markets *markethours.Service
	Locks   *lockfile.Manager

	Universe    *universe.Repository
	Scores      *universe.ScoreRepository
	History     *history.Repository
	Positions   *portfolio.Repository
	CashRepo    *portfolio.CashRepository
	Snapshots   *portfolio.SnapshotRepository
	Trades      *ledger.TradeRepository
	CashFlows   *ledger.CashFlowRepository
	PnL         *ledger.PnLTracker
	Cache       *cache.Repository
	Settings    *settings.Repository
	PlannerRepo *planning.Repository

	Analyzer    *scoring.Analyzer
	Sync        *services.PortfolioSyncService
	Execution   *services.TradeExecutionService
	Inputs      *services.PlanInputService
	Rebalance   *rebalancing.Service
	Planner     *planner.Service
	Maintenance *reliability.Maintenance
	R2          *reliability.R2BackupService

	Bus *events.Bus
	Log zerolog.Logger
}

// Resolve expands a schedule's parameter source. The only shape in use
// is the ML-enabled securities fan-out.
func (t *Tasks) Resolve(source, field string) ([]string, error) {
	if source != "securities" || field != "symbol" {
		return nil, fmt.Errorf("unknown parameter source %s.%s", source, field)
	}
	securities, err := t.Universe.GetAllActive()
	if err != nil {
		return nil, err
	}
	var symbols []string
	for _, sec := range securities {
		if sec.MLEnabled {
			symbols = append(symbols, sec.Symbol)
		}
	}
	return symbols, nil
}

// RegisterAll binds every job type to its implementation.
func (t *Tasks) RegisterAll(r *Runner) {
	r.Register("sync:portfolio", Task{Run: t.syncPortfolio, DependsOn: []string{"broker", "portfolio"}})
	r.Register("sync:prices", Task{Run: t.syncPrices, DependsOn: []string{"db", "broker", "cache"}})
	r.Register("sync:quotes", Task{Run: t.syncQuotes, DependsOn: []string{"db", "broker"}})
	r.Register("sync:metadata", Task{Run: t.syncMetadata, DependsOn: []string{"db", "broker"}})
	r.Register("sync:exchange_rates", Task{Run: t.syncExchangeRates})
	r.Register("sync:trades", Task{Run: t.syncTrades, DependsOn: []string{"db", "broker"}})
	r.Register("sync:cashflows", Task{Run: t.syncCashFlows, DependsOn: []string{"db", "broker"}})
	r.Register("sync:dividends", Task{Run: t.syncDividends, DependsOn: []string{"db", "broker"}})
	r.Register("snapshot:backfill", Task{Run: t.snapshotBackfill, DependsOn: []string{"db", "currency"}})
	r.Register("aggregate:compute", Task{Run: t.aggregateCompute, DependsOn: []string{"db"}})
	r.Register("scoring:calculate", Task{Run: t.scoringCalculate, DependsOn: []string{"analyzer"}})
	r.Register("trading:check_markets", Task{Run: t.tradingCheckMarkets, DependsOn: []string{"broker", "db", "planner"}})
	r.Register("trading:execute", Task{Run: t.tradingExecute, DependsOn: []string{"broker", "db", "planner"}})
	r.Register("trading:rebalance", Task{Run: t.tradingRebalance, DependsOn: []string{"planner"}})
	r.Register("trading:balance_fix", Task{Run: t.tradingBalanceFix, DependsOn: []string{"db", "broker"}})
	r.Register("planning:refresh", Task{Run: t.planningRefresh, DependsOn: []string{"db", "planner", "broker"}})
	r.Register("backup:daily", Task{Run: t.backupDaily, DependsOn: []string{"db"}})
	r.Register("backup:weekly", Task{Run: t.backupWeekly, DependsOn: []string{"db"}})
	r.Register("backup:r2", Task{Run: t.backupR2, DependsOn: []string{"db"}})
	r.Register("ml:retrain", Task{RunParam: t.mlRetrain, DependsOn: []string{"db"}})
	r.Register("ml:monitor", Task{RunParam: t.mlMonitor, DependsOn: []string{"db", "cache"}})
}

// syncPortfolio mirrors the broker account into the local portfolio.
func (t *Tasks) syncPortfolio(ctx context.Context) error {
	return t.Sync.Sync(ctx)
}

// syncPrices refreshes the daily bar history for every active security.
// The analysis cache is cleared before fetching so nothing downstream
// mixes pre- and post-refresh data.
func (t *Tasks) syncPrices(ctx context.Context) error {
	if _, err := t.Cache.DeletePrefix("analysis:"); err != nil {
		return fmt.Errorf("failed to clear analysis cache: %w", err)
	}

	securities, err := t.Universe.GetAllActive()
	if err != nil {
		return err
	}

	t.Bus.EmitTyped(events.SyncStart, "scheduler", &events.SyncEventData{Source: "prices"})
	synced := 0
	for _, sec := range securities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bars, err := t.Yahoo.GetHistoricalPrices(sec.Symbol, sec.YahooSymbol, "3mo")
		if err != nil {
			t.Log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Price fetch failed")
			continue
		}
		if err := t.History.UpsertBars(bars); err != nil {
			t.Log.Error().Err(err).Str("symbol", sec.Symbol).Msg("Failed to store price bars")
			continue
		}
		synced++
	}
	t.Bus.EmitTyped(events.SyncComplete, "scheduler", &events.SyncEventData{Source: "prices", Count: synced})

	if synced == 0 && len(securities) > 0 {
		return fmt.Errorf("price sync failed for all %d securities", len(securities))
	}
	return nil
}

// syncQuotes refreshes current prices on held positions.
func (t *Tasks) syncQuotes(ctx context.Context) error {
	positions, err := t.Positions.GetAll()
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	symbolMap := make(map[string]string, len(positions))
	for _, p := range positions {
		yahooSymbol := ""
		if sec, err := t.Universe.GetBySymbol(p.Symbol); err == nil {
			yahooSymbol = sec.YahooSymbol
		}
		symbolMap[p.Symbol] = yahooSymbol
	}

	quotes, err := t.Yahoo.GetBatchQuotes(symbolMap)
	if err != nil {
		return fmt.Errorf("failed to fetch quotes: %w", err)
	}

	updated := 0
	for i := range positions {
		p := positions[i]
		price, ok := quotes[strings.ToUpper(p.Symbol)]
		if !ok || price <= 0 {
			continue
		}
		rate, err := t.Router.GetRate(ctx, p.Currency, domain.CurrencyEUR)
		if err != nil {
			rate = 1.0
		}
		p.CurrentPrice = price
		p.MarketValueEUR = float64(p.Quantity) * price * rate
		if err := t.Positions.Upsert(&p); err != nil {
			t.Log.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to update quote")
			continue
		}
		updated++
	}
	t.Log.Info().Int("updated", updated).Msg("Quotes synced")
	return nil
}

// syncMetadata backfills country/industry classification from the price
// provider for securities missing it.
func (t *Tasks) syncMetadata(ctx context.Context) error {
	securities, err := t.Universe.GetAllActive()
	if err != nil {
		return err
	}
	for _, sec := range securities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sec.Country != "" && sec.Industry != "" {
			continue
		}
		profile, err := t.Yahoo.GetSecurityProfile(sec.Symbol, sec.YahooSymbol)
		if err != nil {
			t.Log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Metadata lookup failed")
			continue
		}
		fields := make(map[string]interface{})
		if sec.Country == "" && profile.Country != "" {
			fields["country"] = profile.Country
		}
		if sec.Industry == "" && profile.Industry != "" {
			fields["industry"] = profile.Industry
		}
		if len(fields) == 0 {
			continue
		}
		if err := t.Universe.Update(sec.Symbol, fields); err != nil {
			t.Log.Error().Err(err).Str("symbol", sec.Symbol).Msg("Failed to update metadata")
		}
	}
	return nil
}

// syncExchangeRates warms the EUR rate for every supported currency so
// the fallback cache stays fresh.
func (t *Tasks) syncExchangeRates(ctx context.Context) error {
	for _, cur := range currency.AvailableCurrencies() {
		if cur == domain.CurrencyEUR {
			continue
		}
		if _, err := t.Router.GetRate(ctx, cur, domain.CurrencyEUR); err != nil {
			t.Log.Warn().Err(err).Str("currency", cur).Msg("Rate refresh failed")
		}
	}
	return nil
}

// syncTrades imports broker trade history into the ledger. Records are
// keyed by broker order id; duplicates are skipped silently.
func (t *Tasks) syncTrades(ctx context.Context) error {
	since := time.Now().Add(-tradeSyncLookback)
	if last, err := t.Trades.LastTradeTime(); err == nil && !last.IsZero() {
		since = last.AddDate(0, 0, -7)
	}

	t.Bus.Emit(events.TradeSyncStart, "scheduler", nil)
	brokerTrades, err := t.Broker.GetTradesHistory(ctx, since)
	if err != nil {
		return err
	}

	imported := 0
	for _, bt := range brokerTrades {
		rate, err := t.Router.GetRate(ctx, bt.Currency, domain.CurrencyEUR)
		if err != nil {
			rate = 1.0
		}
		commissionEUR := bt.Commission
		if bt.CommissionCurrency != "" && !strings.EqualFold(bt.CommissionCurrency, domain.CurrencyEUR) {
			if cr, err := t.Router.GetRate(ctx, bt.CommissionCurrency, domain.CurrencyEUR); err == nil {
				commissionEUR = bt.Commission * cr
			}
		}
		inserted, err := t.Trades.Record(&ledger.Trade{
			OrderID:       bt.ID,
			Symbol:        bt.Symbol,
			Side:          bt.Side,
			Quantity:      bt.Quantity,
			Price:         bt.Price,
			Currency:      bt.Currency,
			ValueEUR:      bt.Quantity * bt.Price * rate,
			CommissionEUR: commissionEUR,
			ExecutedAt:    bt.ExecutedAt,
		})
		if err != nil {
			t.Log.Error().Err(err).Str("order_id", bt.ID).Msg("Failed to record trade")
			continue
		}
		if inserted {
			imported++
		}
	}
	t.Bus.Emit(events.TradeSyncComplete, "scheduler", map[string]interface{}{"imported": imported})
	t.Log.Info().Int("fetched", len(brokerTrades)).Int("imported", imported).Msg("Trades synced")
	return nil
}

// syncCashFlows imports account transactions; the repository dedups by
// content hash.
func (t *Tasks) syncCashFlows(ctx context.Context) error {
	t.Bus.Emit(events.CashFlowSyncStart, "scheduler", nil)
	flows, err := t.Broker.GetCashFlows(ctx, time.Now().Add(-tradeSyncLookback))
	if err != nil {
		return err
	}

	imported := 0
	for _, f := range flows {
		inserted, err := t.CashFlows.Record(&ledger.CashFlow{
			ExternalID:  f.ID,
			FlowType:    f.FlowType,
			Amount:      f.Amount,
			Currency:    f.Currency,
			OccurredAt:  f.OccurredAt,
			Description: f.Comment,
		})
		if err != nil {
			t.Log.Error().Err(err).Str("external_id", f.ID).Msg("Failed to record cash flow")
			continue
		}
		if inserted {
			imported++
		}
	}
	t.Bus.Emit(events.CashFlowSyncComplete, "scheduler", map[string]interface{}{"imported": imported})
	t.Log.Info().Int("fetched", len(flows)).Int("imported", imported).Msg("Cash flows synced")
	return nil
}

// syncDividends records dividend transactions under a normalized flow
// type so income reporting does not depend on broker type ids.
func (t *Tasks) syncDividends(ctx context.Context) error {
	flows, err := t.Broker.GetCashFlows(ctx, time.Now().Add(-tradeSyncLookback))
	if err != nil {
		return err
	}

	imported := 0
	for _, f := range flows {
		if !isDividend(f) {
			continue
		}
		inserted, err := t.CashFlows.Record(&ledger.CashFlow{
			ExternalID:  f.ID,
			FlowType:    "dividend",
			Amount:      f.Amount,
			Currency:    f.Currency,
			OccurredAt:  f.OccurredAt,
			Description: f.Comment,
		})
		if err != nil {
			t.Log.Error().Err(err).Str("external_id", f.ID).Msg("Failed to record dividend")
			continue
		}
		if inserted {
			imported++
		}
	}
	if imported > 0 {
		t.Log.Info().Int("imported", imported).Msg("Dividends synced")
	}
	return nil
}

func isDividend(f tradernet.BrokerCashFlow) bool {
	haystack := strings.ToLower(f.FlowType + " " + f.Comment)
	return strings.Contains(haystack, "div")
}

// snapshotBackfill records today's portfolio snapshot if missing.
func (t *Tasks) snapshotBackfill(ctx context.Context) error {
	today := time.Now().UTC()
	has, err := t.Snapshots.HasSnapshot(today)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	positions, err := t.Positions.GetAll()
	if err != nil {
		return err
	}
	totalEUR, err := t.Sync.TotalValueEUR(ctx)
	if err != nil {
		return err
	}
	cashEUR, err := t.Sync.CashEUR(ctx)
	if err != nil {
		return err
	}
	if err := t.Snapshots.Record(today, totalEUR, cashEUR, positions); err != nil {
		return err
	}
	t.Log.Info().Float64("total_eur", totalEUR).Msg("Snapshot recorded")
	return nil
}

// aggregateCompute rolls daily bars up into monthly history and updates
// the daily P&L row backing the trading gates.
func (t *Tasks) aggregateCompute(ctx context.Context) error {
	if err := t.History.RollUpMonthly(); err != nil {
		return err
	}

	totalEUR, err := t.Sync.TotalValueEUR(ctx)
	if err != nil {
		return err
	}
	today := time.Now().UTC()
	prevTotal, ok, err := t.Snapshots.LatestTotalBefore(today)
	if err != nil {
		return err
	}
	if !ok || prevTotal <= 0 {
		// First day: no baseline yet, gate stays open.
		return t.PnL.RecordDay(today, 0, 0, totalEUR)
	}

	dayChange := totalEUR - prevTotal
	realized := 0.0
	trades, err := t.Trades.GetTrades(ledger.TradeFilters{Since: today.Truncate(24 * time.Hour)}, 500, 0)
	if err == nil {
		for _, tr := range trades {
			realized -= tr.CommissionEUR
		}
	}
	return t.PnL.RecordDay(today, realized, dayChange-realized, totalEUR)
}

// scoringCalculate refreshes every security's score under the score
// refresh lock.
func (t *Tasks) scoringCalculate(ctx context.Context) error {
	return t.Locks.WithLock("score_refresh", 600*time.Second, func() error {
		t.Bus.Emit(events.ScoreRefreshStart, "scheduler", nil)
		securities, err := t.Universe.GetAllActive()
		if err != nil {
			return err
		}
		scored := t.Analyzer.ScoreAll(securities)
		t.Bus.Emit(events.ScoreRefreshComplete, "scheduler", map[string]interface{}{"scored": scored})
		return nil
	})
}
