// Package services holds the orchestration layer: trade execution, the
// event-based execution loop, frequency limits and portfolio sync.
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
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/settings"
)

// Execution outcomes.
const (
	ExecutionSuccess = "success"
	ExecutionSkipped = "skipped"
	ExecutionFailed  = "failed"
)

// ExecutionResult is the outcome of one trade attempt.
type ExecutionResult struct {
	Status   string  `json:"status"`
	OrderID  string  `json:"order_id,omitempty"`
	Message  string  `json:"message,omitempty"`
	ValueEUR float64 `json:"value_eur,omitempty"`
}

// TradeExecutionService validates and places single orders, records
// them in the ledger, and models transaction costs.
type TradeExecutionService struct {
	broker   domain.Broker
	router   *currency.Router
	trades   *ledger.TradeRepository
	cash     *portfolio.CashRepository
	settings *settings.Repository
	bus      *events.Bus
	log      zerolog.Logger

	costFixed   float64
	costPercent float64
}

// NewTradeExecutionService creates a trade execution service.
func NewTradeExecutionService(broker domain.Broker, router *currency.Router, trades *ledger.TradeRepository, cash *portfolio.CashRepository, settingsRepo *settings.Repository, bus *events.Bus, log zerolog.Logger) *TradeExecutionService {
	costFixed, _ := settingsRepo.GetFloat("transaction_cost_fixed", 2.0)
	costPercent, _ := settingsRepo.GetFloat("transaction_cost_percent", 0.002)
	return &TradeExecutionService{
		broker:      broker,
		router:      router,
		trades:      trades,
		cash:        cash,
		settings:    settingsRepo,
		bus:         bus,
		log:         log.With().Str("service", "trade_execution").Logger(),
		costFixed:   costFixed,
		costPercent: costPercent,
	}
}

// Commission models the broker fee: a fixed amount plus a percentage
// of the order value.
func (s *TradeExecutionService) Commission(valueEUR float64) float64 {
	if valueEUR < 0 {
		valueEUR = -valueEUR
	}
	return s.costFixed + valueEUR*s.costPercent
}

// Execute validates and places one order. Research mode logs the
// would-be trade and returns skipped without touching the broker.
func (s *TradeExecutionService) Execute(ctx context.Context, rec domain.Recommendation) (*ExecutionResult, error) {
	if err := s.validate(ctx, rec); err != nil {
		return &ExecutionResult{Status: ExecutionFailed, Message: err.Error()}, err
	}

	fx, err := s.router.GetRate(ctx, rec.Currency, domain.CurrencyEUR)
	if err != nil {
		fx = 1.0
	}
	valueEUR := float64(rec.Quantity) * rec.EstimatedPrice * fx

	if s.settings.TradingMode() != "live" {
		s.log.Info().Str("symbol", rec.Symbol).Str("side", rec.Side).
			Int("quantity", rec.Quantity).Float64("value_eur", valueEUR).
			Str("reason", rec.Reason).
			Msg("Research mode: trade logged, not executed")
		return &ExecutionResult{Status: ExecutionSkipped, Message: "research mode", ValueEUR: valueEUR}, nil
	}

	order, err := s.broker.PlaceOrder(ctx, rec.Symbol, rec.Side, float64(rec.Quantity))
	if err != nil {
		s.bus.Emit(events.BrokerError, "trade_execution", map[string]interface{}{
			"symbol": rec.Symbol, "side": rec.Side, "error": err.Error(),
		})
		return &ExecutionResult{Status: ExecutionFailed, Message: err.Error()},
			&domain.BrokerError{Op: "place_order", Err: err}
	}

	commission := s.Commission(valueEUR)
	if _, err := s.trades.Record(&ledger.Trade{
		OrderID:       order.OrderID,
		Symbol:        rec.Symbol,
		Side:          rec.Side,
		Quantity:      float64(rec.Quantity),
		Price:         order.Price,
		Currency:      rec.Currency,
		ValueEUR:      valueEUR,
		CommissionEUR: commission,
		ExecutedAt:    time.Now().UTC(),
	}); err != nil {
		// The order is live; a ledger failure must not look like a
		// failed trade.
		s.log.Error().Err(err).Str("order_id", order.OrderID).Msg("Failed to record executed trade")
	}

	s.bus.EmitTyped(events.TradeExecuted, "trade_execution", &events.TradeExecutedData{
		Symbol:   rec.Symbol,
		Side:     rec.Side,
		Quantity: float64(rec.Quantity),
		Price:    order.Price,
		ValueEUR: valueEUR,
		OrderID:  order.OrderID,
	})
	s.log.Info().Str("symbol", rec.Symbol).Str("side", rec.Side).
		Int("quantity", rec.Quantity).Str("order_id", order.OrderID).
		Float64("value_eur", valueEUR).Msg("Trade executed")

	return &ExecutionResult{Status: ExecutionSuccess, OrderID: order.OrderID, ValueEUR: valueEUR}, nil
}

// validate runs the pre-flight checks: side sanity and, for buys, the
// two-level cash check (trade currency first, then convertible total).
func (s *TradeExecutionService) validate(ctx context.Context, rec domain.Recommendation) error {
	side := strings.ToUpper(rec.Side)
	if side != string(domain.SideBuy) && side != string(domain.SideSell) {
		return &domain.InvalidTradeError{Symbol: rec.Symbol, Side: rec.Side, Reason: "unknown side"}
	}
	if rec.Quantity <= 0 {
		return &domain.InvalidTradeError{Symbol: rec.Symbol, Side: rec.Side, Reason: "non-positive quantity"}
	}
	if side == string(domain.SideBuy) {
		return s.validateBuyCash(ctx, rec)
	}
	return nil
}

// validateBuyCash checks the native-currency balance first; when it
// falls short it checks whether the total across currencies could cover
// the cost after conversion, and tops the balance up via the router.
func (s *TradeExecutionService) validateBuyCash(ctx context.Context, rec domain.Recommendation) error {
	required := float64(rec.Quantity)*rec.EstimatedPrice + s.Commission(rec.EstimatedValue)

	available, err := s.cash.Get(rec.Currency)
	if err != nil {
		return fmt.Errorf("failed to read cash balance: %w", err)
	}
	if available >= required {
		return nil
	}

	balances, err := s.cash.GetAll()
	if err != nil {
		return fmt.Errorf("failed to read cash balances: %w", err)
	}
	totalEUR := 0.0
	for _, b := range balances {
		rate, err := s.router.GetRate(ctx, b.Currency, domain.CurrencyEUR)
		if err != nil {
			continue
		}
		totalEUR += b.Amount * rate
	}
	requiredEUR := required
	if rate, err := s.router.GetRate(ctx, rec.Currency, domain.CurrencyEUR); err == nil {
		requiredEUR = required * rate
	}
	if totalEUR < requiredEUR {
		return &domain.InsufficientFundsError{
			Currency: rec.Currency, Required: required, Available: available,
		}
	}

	converted, err := s.router.EnsureBalance(ctx, rec.Currency, required, domain.CurrencyEUR, balances)
	if err != nil {
		return fmt.Errorf("failed to top up %s balance: %w", rec.Currency, err)
	}
	if converted {
		s.log.Info().Str("currency", rec.Currency).Float64("required", required).
			Msg("Converted cash to cover buy")
	}
	return nil
}
