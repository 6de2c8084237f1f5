package services

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/internal/modules/settings"
)

// TradeFrequencyService enforces the pacing limits: minimum spacing
// between trades plus daily and weekly caps.
type TradeFrequencyService struct {
	trades   *ledger.TradeRepository
	settings *settings.Repository
	log      zerolog.Logger
}

// NewTradeFrequencyService creates a trade frequency service.
func NewTradeFrequencyService(trades *ledger.TradeRepository, settingsRepo *settings.Repository, log zerolog.Logger) *TradeFrequencyService {
	return &TradeFrequencyService{
		trades:   trades,
		settings: settingsRepo,
		log:      log.With().Str("service", "trade_frequency").Logger(),
	}
}

// CanExecuteTrade reports whether a trade may run now; a false answer
// carries the human-readable reason.
func (s *TradeFrequencyService) CanExecuteTrade(symbol, side string) (bool, string, error) {
	enabled, err := s.settings.GetBool("trade_frequency_limits_enabled", true)
	if err != nil || !enabled {
		return true, "", err
	}

	minMinutes, _ := s.settings.GetInt("min_time_between_trades_minutes", 60)
	maxPerDay, _ := s.settings.GetInt("max_trades_per_day", 4)
	maxPerWeek, _ := s.settings.GetInt("max_trades_per_week", 10)

	last, err := s.trades.LastTradeTime()
	if err != nil {
		return false, "", fmt.Errorf("failed to read last trade time: %w", err)
	}
	if !last.IsZero() {
		since := time.Since(last)
		if since < time.Duration(minMinutes)*time.Minute {
			return false, fmt.Sprintf("last trade %s ago, minimum spacing is %dm",
				since.Round(time.Minute), minMinutes), nil
		}
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := s.trades.CountSince(dayStart)
	if err != nil {
		return false, "", fmt.Errorf("failed to count trades today: %w", err)
	}
	if maxPerDay > 0 && today >= maxPerDay {
		return false, fmt.Sprintf("daily trade cap reached (%d)", maxPerDay), nil
	}

	week, err := s.trades.CountSince(now.AddDate(0, 0, -7))
	if err != nil {
		return false, "", fmt.Errorf("failed to count trades this week: %w", err)
	}
	if maxPerWeek > 0 && week >= maxPerWeek {
		return false, fmt.Sprintf("weekly trade cap reached (%d)", maxPerWeek), nil
	}

	return true, "", nil
}
