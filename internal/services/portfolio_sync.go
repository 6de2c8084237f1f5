package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/currency"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/universe"
)

// PortfolioSyncService mirrors the broker account into portfolio.db and
// answers the current portfolio hash.
type PortfolioSyncService struct {
	broker    domain.Broker
	router    *currency.Router
	positions *portfolio.Repository
	cash      *portfolio.CashRepository
	universe  *universe.Repository
	bus       *events.Bus
	log       zerolog.Logger
}

// NewPortfolioSyncService creates a portfolio sync service.
func NewPortfolioSyncService(broker domain.Broker, router *currency.Router, positions *portfolio.Repository, cash *portfolio.CashRepository, universeRepo *universe.Repository, bus *events.Bus, log zerolog.Logger) *PortfolioSyncService {
	return &PortfolioSyncService{
		broker:    broker,
		router:    router,
		positions: positions,
		cash:      cash,
		universe:  universeRepo,
		bus:       bus,
		log:       log.With().Str("service", "portfolio_sync").Logger(),
	}
}

// Sync pulls positions and cash from the broker, fills in EUR values,
// and replaces the local state.
func (s *PortfolioSyncService) Sync(ctx context.Context) error {
	s.bus.EmitTyped(events.SyncStart, "portfolio_sync", &events.SyncEventData{Source: "portfolio"})

	positions, balances, err := s.broker.GetPortfolio(ctx)
	if err != nil {
		return &domain.BrokerError{Op: "get_portfolio", Err: err}
	}

	for i := range positions {
		p := &positions[i]
		rate, err := s.router.GetRate(ctx, p.Currency, domain.CurrencyEUR)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", p.Symbol).Str("currency", p.Currency).
				Msg("No FX rate for position, assuming 1.0")
			rate = 1.0
		}
		p.MarketValueEUR = float64(p.Quantity) * p.CurrentPrice * rate
		p.CostBasisEUR = float64(p.Quantity) * p.AvgPrice * rate
	}

	if err := s.positions.ReplaceAll(positions); err != nil {
		return err
	}
	if err := s.cash.ReplaceAll(balances); err != nil {
		return err
	}

	s.bus.EmitTyped(events.SyncComplete, "portfolio_sync",
		&events.SyncEventData{Source: "portfolio", Count: len(positions)})
	s.log.Info().Int("positions", len(positions)).Int("balances", len(balances)).
		Msg("Portfolio synced")
	return nil
}

// CurrentHash digests the stored portfolio state. Balances are only
// included when requested; most planner calls hash positions and
// security config alone so FX noise cannot invalidate plans.
func (s *PortfolioSyncService) CurrentHash(includeBalances bool) (string, error) {
	positions, err := s.positions.GetAll()
	if err != nil {
		return "", fmt.Errorf("failed to load positions: %w", err)
	}
	securities, err := s.universe.GetAllActive()
	if err != nil {
		return "", fmt.Errorf("failed to load active securities: %w", err)
	}
	symbols := make([]string, 0, len(securities))
	for _, sec := range securities {
		symbols = append(symbols, strings.ToUpper(sec.Symbol))
	}

	in := planning.HashInput{
		Positions:       positions,
		ActiveSymbols:   symbols,
		IncludeBalances: includeBalances,
	}
	if includeBalances {
		balances, err := s.cash.GetAll()
		if err != nil {
			return "", fmt.Errorf("failed to load cash balances: %w", err)
		}
		in.CashBalances = balances
	}
	return planning.ComputePortfolioHash(in), nil
}

// TotalValueEUR returns the portfolio's position value plus cash, in EUR.
func (s *PortfolioSyncService) TotalValueEUR(ctx context.Context) (float64, error) {
	total, err := s.positions.TotalValueEUR()
	if err != nil {
		return 0, err
	}
	balances, err := s.cash.GetAll()
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		rate, err := s.router.GetRate(ctx, b.Currency, domain.CurrencyEUR)
		if err != nil {
			continue
		}
		total += b.Amount * rate
	}
	return total, nil
}

// CashEUR sums the stored cash balances into EUR.
func (s *PortfolioSyncService) CashEUR(ctx context.Context) (float64, error) {
	balances, err := s.cash.GetAll()
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, b := range balances {
		rate, err := s.router.GetRate(ctx, b.Currency, domain.CurrencyEUR)
		if err != nil {
			continue
		}
		total += b.Amount * rate
	}
	return total, nil
}

// WaitAfterSync gives the broker time to settle before resyncing.
// Exposed for the execution loop's monitor phases.
func WaitAfterSync(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
