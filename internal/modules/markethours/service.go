package markethours

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Service is the market-hours oracle. Pure over a snapshot of clock and
// calendar; Refresh recomputes the cached open-market set, and an external
// push source (the broker websocket) may call Refresh at any time.
type Service struct {
	log zerolog.Logger

	mu           sync.RWMutex
	holidayCache map[string]map[int][]time.Time // exchange code → year → holidays
	openMarkets  []string
	refreshedAt  time.Time
}

// NewService creates a market-hours oracle.
func NewService(log zerolog.Logger) *Service {
	return &Service{
		log:          log.With().Str("service", "market_hours").Logger(),
		holidayCache: make(map[string]map[int][]time.Time),
	}
}

// IsMarketOpen reports whether the exchange is open for trading at t.
// Unknown exchanges report closed; trade gating fails open separately via
// ShouldCheckMarketHours.
func (s *Service) IsMarketOpen(exchange string, t time.Time) bool {
	code, ok := ResolveExchangeCode(exchange)
	if !ok {
		return false
	}
	config := exchangeConfigs[code]

	marketTime := t.In(config.Timezone)
	if marketTime.Weekday() == time.Saturday || marketTime.Weekday() == time.Sunday {
		return false
	}

	if s.isHoliday(&config, marketTime) {
		return false
	}

	openTime := time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
		config.TradingHours.OpenHour, config.TradingHours.OpenMinute, 0, 0, config.Timezone)
	closeTime := time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
		config.TradingHours.CloseHour, config.TradingHours.CloseMinute, 0, 0, config.Timezone)
	if marketTime.Before(openTime) || !marketTime.Before(closeTime) {
		return false
	}

	if lb := config.LunchBreak; lb != nil {
		lunchStart := time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
			lb.StartHour, lb.StartMinute, 0, 0, config.Timezone)
		lunchEnd := time.Date(marketTime.Year(), marketTime.Month(), marketTime.Day(),
			lb.EndHour, lb.EndMinute, 0, 0, config.Timezone)
		if !marketTime.Before(lunchStart) && marketTime.Before(lunchEnd) {
			return false
		}
	}

	return true
}

func (s *Service) isHoliday(config *ExchangeConfig, marketTime time.Time) bool {
	year := marketTime.Year()

	s.mu.Lock()
	byYear, ok := s.holidayCache[config.Code]
	if !ok {
		byYear = make(map[int][]time.Time)
		s.holidayCache[config.Code] = byYear
	}
	holidays, ok := byYear[year]
	if !ok {
		holidays = holidaysForYear(config, year)
		byYear[year] = holidays
	}
	s.mu.Unlock()

	dateStr := marketTime.Format("2006-01-02")
	for _, holiday := range holidays {
		if holiday.Format("2006-01-02") == dateStr {
			return true
		}
	}
	return false
}

// ShouldCheckMarketHours reports whether a trade must pass an open-hours
// check. SELL orders always require the check; BUY orders only on strict
// exchanges. Unknown exchanges fail open (no check, trade allowed).
func (s *Service) ShouldCheckMarketHours(exchange, side string) bool {
	code, ok := ResolveExchangeCode(exchange)
	if !ok {
		return false
	}

	switch side {
	case "SELL":
		return true
	case "BUY":
		return strictMarketHoursExchanges[code]
	default:
		// Unknown side: safe default is to require the check.
		return true
	}
}

// Refresh recomputes the open-market snapshot for t.
func (s *Service) Refresh(t time.Time) {
	open := make([]string, 0, len(exchangeConfigs))
	for code := range exchangeConfigs {
		if s.IsMarketOpen(code, t) {
			open = append(open, code)
		}
	}

	s.mu.Lock()
	s.openMarkets = open
	s.refreshedAt = t
	s.mu.Unlock()
}

// snapshot returns the cached open set, refreshing when stale (>5 min).
func (s *Service) snapshot() []string {
	s.mu.RLock()
	stale := time.Since(s.refreshedAt) > 5*time.Minute
	open := s.openMarkets
	s.mu.RUnlock()

	if stale {
		s.Refresh(time.Now())
		s.mu.RLock()
		open = s.openMarkets
		s.mu.RUnlock()
	}
	return open
}

// GetOpenMarkets returns the exchanges currently open.
func (s *Service) GetOpenMarkets() []string {
	open := s.snapshot()
	result := make([]string, len(open))
	copy(result, open)
	return result
}

// AnyMarketOpen reports whether at least one tracked exchange is open.
func (s *Service) AnyMarketOpen() bool {
	return len(s.snapshot()) > 0
}

// AllMarketsClosed reports whether every tracked exchange is closed.
func (s *Service) AllMarketsClosed() bool {
	return len(s.snapshot()) == 0
}
