package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/currency"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/history"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/planning/planner"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
	"github.com/aristath/helmsman/internal/modules/sequences"
	"github.com/aristath/helmsman/internal/modules/settings"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/signals"
)

// recentBuyWindow marks symbols bought within this window so the
// averaging-down calculator leaves them alone.
const recentBuyWindow = 7 * 24 * time.Hour

// tradeReplayLimit bounds the ledger replay used to derive position
// stage state.
const tradeReplayLimit = 10000

// PlanInputService assembles the in-memory snapshots the planning stack
// consumes from the persisted portfolio, universe and ledger state. It
// backs the planner's sequence and snapshot sources and the rebalance
// tasks.
type PlanInputService struct {
	universe    *universe.Repository
	scores      *universe.ScoreRepository
	positions   *portfolio.Repository
	cash        *portfolio.CashRepository
	historyRepo *history.Repository
	allocations *allocation.Repository
	trades      *ledger.TradeRepository
	settings    *settings.Repository
	sync        *PortfolioSyncService
	registry    *opportunities.Registry
	sequences   *sequences.Service
	router      *currency.Router
	log         zerolog.Logger
}

// NewPlanInputService creates a plan input service.
func NewPlanInputService(universeRepo *universe.Repository, scores *universe.ScoreRepository, positions *portfolio.Repository, cash *portfolio.CashRepository, historyRepo *history.Repository, allocations *allocation.Repository, trades *ledger.TradeRepository, settingsRepo *settings.Repository, syncSvc *PortfolioSyncService, registry *opportunities.Registry, sequenceSvc *sequences.Service, router *currency.Router, log zerolog.Logger) *PlanInputService {
	return &PlanInputService{
		universe:    universeRepo,
		scores:      scores,
		positions:   positions,
		cash:        cash,
		historyRepo: historyRepo,
		allocations: allocations,
		trades:      trades,
		settings:    settingsRepo,
		sync:        syncSvc,
		registry:    registry,
		sequences:   sequenceSvc,
		router:      router,
		log:         log.With().Str("service", "plan_inputs").Logger(),
	}
}

// CurrentHash digests positions plus active security config.
func (s *PlanInputService) CurrentHash() (string, error) {
	return s.sync.CurrentHash(false)
}

// Snapshot builds the planner's simulation baseline.
func (s *PlanInputService) Snapshot() (*planner.Snapshot, error) {
	positions, err := s.positions.GetAll()
	if err != nil {
		return nil, err
	}
	scores, err := s.scores.GetAll()
	if err != nil {
		return nil, err
	}
	cashEUR, err := s.sync.CashEUR(context.Background())
	if err != nil {
		return nil, err
	}

	valueBySymbol := make(map[string]float64, len(positions))
	for _, p := range positions {
		if p.Quantity > 0 {
			valueBySymbol[strings.ToUpper(p.Symbol)] = p.MarketValueEUR
		}
	}

	metrics := make(map[string]planning.Metrics, len(scores))
	for symbol, sc := range scores {
		metrics[symbol] = metricsFromScore(sc)
	}

	ps := s.settings.PlannerSettings()
	cfg := s.settings.StrategyConfig()
	return &planner.Snapshot{
		Positions:              valueBySymbol,
		CashEUR:                cashEUR,
		Metrics:                metrics,
		Profile:                planning.RiskProfile(ps.RiskProfile),
		TransactionCostFixed:   cfg.TransactionCostFixed,
		TransactionCostPercent: cfg.TransactionCostPercent,
	}, nil
}

// GenerateSequences runs the full candidate pipeline for the current
// portfolio state: calculators, patterns, generators and filters.
func (s *PlanInputService) GenerateSequences() ([]planning.ActionSequence, error) {
	octx, err := s.BuildOpportunityContext(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to build opportunity context: %w", err)
	}

	ps := s.settings.PlannerSettings()
	cfg := planning.ConfigurationForProfile(ps.RiskProfile)
	cfg.MaxPlanDepth = ps.MaxPlanDepth

	opps, err := s.registry.Identify(octx, cfg)
	if err != nil {
		return nil, err
	}

	countryBySymbol := make(map[string]string)
	industryBySymbol := make(map[string]string)
	for symbol, sec := range octx.Securities {
		countryBySymbol[symbol] = sec.Country
		industryBySymbol[symbol] = sec.Industry
	}

	in := &sequences.Input{
		Opportunities:    opps,
		AvailableCashEUR: octx.AvailableCashEUR,
		MaxDepth:         ps.MaxPlanDepth,
		CountryBySymbol:  countryBySymbol,
		IndustryBySymbol: industryBySymbol,
	}
	return s.sequences.GenerateSequences(in, cfg)
}

// BuildOpportunityContext loads everything the calculators look at.
func (s *PlanInputService) BuildOpportunityContext(ctx context.Context) (*opportunities.Context, error) {
	positions, err := s.positions.GetAll()
	if err != nil {
		return nil, err
	}
	securities, err := s.activeSecurities()
	if err != nil {
		return nil, err
	}
	scores, err := s.scores.GetAll()
	if err != nil {
		return nil, err
	}

	blocks := s.signalBlocks(securities)
	prices := s.priceMap(positions, securities)
	fxRates := s.fxRates(ctx, securities)

	cashEUR, err := s.sync.CashEUR(ctx)
	if err != nil {
		return nil, err
	}
	totalEUR, err := s.sync.TotalValueEUR(ctx)
	if err != nil {
		return nil, err
	}

	countryGroups, err := s.allocations.GetGroupMap("geography")
	if err != nil {
		return nil, err
	}
	industryGroups, err := s.allocations.GetGroupMap("industry")
	if err != nil {
		return nil, err
	}
	countryTargets, err := s.allocations.GetTargets("geography")
	if err != nil {
		return nil, err
	}
	industryTargets, err := s.allocations.GetTargets("industry")
	if err != nil {
		return nil, err
	}

	cfg := s.settings.StrategyConfig()
	return &opportunities.Context{
		Positions:  positions,
		Securities: securities,
		Scores:     scores,
		Signals:    blocks,

		CountryAllocations:  groupAllocations(positions, countryGroups, totalEUR),
		IndustryAllocations: groupAllocations(positions, industryGroups, totalEUR),
		CountryToGroup:      countryGroups,
		IndustryToGroup:     industryGroups,
		CountryWeights:      countryTargets,
		IndustryWeights:     industryTargets,

		Prices:            prices,
		FxRates:           fxRates,
		AvailableCashEUR:  cashEUR,
		PortfolioValueEUR: totalEUR,

		TransactionCostFixed:   cfg.TransactionCostFixed,
		TransactionCostPercent: cfg.TransactionCostPercent,
		BaseTradeAmountEUR:     cfg.BaseTradeAmountEUR,

		RecentlyBought: s.recentlyBought(securities),
		AllowBuy:       true,
		AllowSell:      true,
	}, nil
}

// BuildRebalanceInput loads the drift-rebalancer's working set: targets,
// signal blocks, stage state replayed from the ledger, prices and cash.
func (s *PlanInputService) BuildRebalanceInput(ctx context.Context) (*rebalancing.Input, error) {
	positions, err := s.positions.GetAll()
	if err != nil {
		return nil, err
	}
	securities, err := s.activeSecurities()
	if err != nil {
		return nil, err
	}
	scores, err := s.scores.GetAll()
	if err != nil {
		return nil, err
	}
	balances, err := s.cash.GetAll()
	if err != nil {
		return nil, err
	}

	blocks := s.signalBlocks(securities)
	convictions := make(map[string]float64, len(securities))
	for symbol, sec := range securities {
		if sec.PriorityMultiplier > 0 {
			convictions[symbol] = sec.PriorityMultiplier
		}
	}

	cfg := s.settings.StrategyConfig()
	targets, sleeves := signals.ComputeSymbolTargets(signals.TargetInput{
		Signals:              blocks,
		UserMultipliers:      convictions,
		CoreTarget:           cfg.CoreTarget,
		OpportunityTarget:    cfg.OpportunityTarget,
		MinOppScore:          cfg.MinOppScore,
		MaxOpportunityTarget: cfg.MaxOpportunityTarget,
	})

	trades, err := s.trades.GetTrades(ledger.TradeFilters{}, tradeReplayLimit, 0)
	if err != nil {
		return nil, err
	}

	cashEUR, err := s.sync.CashEUR(ctx)
	if err != nil {
		return nil, err
	}
	totalEUR, err := s.sync.TotalValueEUR(ctx)
	if err != nil {
		return nil, err
	}

	return &rebalancing.Input{
		Positions:  positions,
		Securities: securities,
		Scores:     scores,
		Signals:    blocks,

		TargetAllocations: targets,
		Sleeves:           sleeves,
		States:            rebalancing.DeriveStates(trades),
		Convictions:       convictions,

		Prices:            s.priceMap(positions, securities),
		CashBalances:      balances,
		FxRates:           s.fxRates(ctx, securities),
		AvailableCashEUR:  cashEUR,
		PortfolioValueEUR: totalEUR,
	}, nil
}

// activeSecurities returns the active universe keyed by symbol.
func (s *PlanInputService) activeSecurities() (map[string]universe.Security, error) {
	list, err := s.universe.GetAllActive()
	if err != nil {
		return nil, err
	}
	bySymbol := make(map[string]universe.Security, len(list))
	for _, sec := range list {
		bySymbol[strings.ToUpper(sec.Symbol)] = sec
	}
	return bySymbol, nil
}

// signalBlocks computes the contrarian block per symbol from stored
// closes. Short histories get the neutral block.
func (s *PlanInputService) signalBlocks(securities map[string]universe.Security) map[string]signals.Block {
	blocks := make(map[string]signals.Block, len(securities))
	for symbol := range securities {
		closes, err := s.historyRepo.GetCloses(symbol, 300)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("No price history for signals")
			blocks[symbol] = signals.NeutralBlock()
			continue
		}
		blocks[symbol] = signals.Compute(closes)
	}
	return blocks
}

// priceMap collects a native price per symbol: held positions carry
// their broker price, the rest fall back to the latest stored close.
func (s *PlanInputService) priceMap(positions []domain.Position, securities map[string]universe.Security) map[string]float64 {
	prices := make(map[string]float64, len(securities))
	for _, p := range positions {
		if p.CurrentPrice > 0 {
			prices[strings.ToUpper(p.Symbol)] = p.CurrentPrice
		}
	}
	for symbol := range securities {
		if _, ok := prices[symbol]; ok {
			continue
		}
		closes, err := s.historyRepo.GetCloses(symbol, 1)
		if err == nil && len(closes) > 0 && closes[len(closes)-1] > 0 {
			prices[symbol] = closes[len(closes)-1]
		}
	}
	return prices
}

// fxRates resolves currency->EUR for every currency in the universe.
func (s *PlanInputService) fxRates(ctx context.Context, securities map[string]universe.Security) map[string]float64 {
	rates := map[string]float64{domain.CurrencyEUR: 1.0}
	for _, sec := range securities {
		cur := strings.ToUpper(sec.Currency)
		if cur == "" {
			continue
		}
		if _, ok := rates[cur]; ok {
			continue
		}
		rate, err := s.router.GetRate(ctx, cur, domain.CurrencyEUR)
		if err != nil {
			s.log.Warn().Err(err).Str("currency", cur).Msg("No FX rate, conversions skip this currency")
			continue
		}
		rates[cur] = rate
	}
	return rates
}

// recentlyBought flags symbols with a buy inside the cool-off window.
func (s *PlanInputService) recentlyBought(securities map[string]universe.Security) map[string]bool {
	recent := make(map[string]bool)
	cutoff := time.Now().Add(-recentBuyWindow)
	for symbol := range securities {
		last, err := s.trades.LastBuyTime(symbol)
		if err != nil || last.IsZero() {
			continue
		}
		if last.After(cutoff) {
			recent[symbol] = true
		}
	}
	return recent
}

// groupAllocations computes current weight per group from position EUR
// values.
func groupAllocations(positions []domain.Position, groups map[string]string, totalEUR float64) map[string]float64 {
	alloc := make(map[string]float64)
	if totalEUR <= 0 {
		return alloc
	}
	for _, p := range positions {
		group, ok := groups[strings.ToUpper(p.Symbol)]
		if !ok || p.MarketValueEUR <= 0 {
			continue
		}
		alloc[group] += p.MarketValueEUR / totalEUR
	}
	return alloc
}

// metricsFromScore maps the stored score row onto the planner's metric
// set.
func metricsFromScore(sc universe.Score) planning.Metrics {
	quality := sc.QualityScore
	return planning.Metrics{
		Sortino:             sc.SortinoRatio,
		Sharpe:              sc.SharpeRatio,
		VolatilityAnnual:    sc.Volatility,
		MaxDrawdown:         sc.MaxDrawdown,
		CAGR5Y:              sc.AnnualizedReturn,
		PayoutRatio:         sc.PayoutRatio,
		DividendConsistency: sc.DividendConsistency,
		FinancialStrength:   &quality,
		Opinion:             sc.AnalystScore,
	}
}
