package services

import (
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/history"
	"github.com/aristath/helmsman/internal/modules/sequences"
)

const (
	// correlationWindow is the number of daily closes per symbol.
	correlationWindow = 252
	// correlationMinLen is the minimum overlapping return count for a
	// pair to be scored at all.
	correlationMinLen = 60
)

// CorrelationService derives pairwise return correlations from stored
// price history for the sequence filters.
type CorrelationService struct {
	history *history.Repository
	log     zerolog.Logger
}

// NewCorrelationService creates a correlation provider.
func NewCorrelationService(historyRepo *history.Repository, log zerolog.Logger) *CorrelationService {
	return &CorrelationService{
		history: historyRepo,
		log:     log.With().Str("service", "correlations").Logger(),
	}
}

// CorrelationMap returns pairwise correlations keyed "SYM1:SYM2".
// Symbols without enough history are simply absent, which the filter
// treats as uncorrelated.
func (s *CorrelationService) CorrelationMap(symbols []string) (map[string]float64, error) {
	returns := make(map[string][]float64, len(symbols))
	for _, symbol := range symbols {
		closes, err := s.history.GetCloses(symbol, correlationWindow)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("No history for correlation")
			continue
		}
		if len(closes) < correlationMinLen+1 {
			continue
		}
		rets := make([]float64, 0, len(closes)-1)
		for i := 1; i < len(closes); i++ {
			if closes[i-1] == 0 {
				continue
			}
			rets = append(rets, closes[i]/closes[i-1]-1)
		}
		returns[symbol] = rets
	}

	return sequences.BuildCorrelationMap(returns, correlationMinLen), nil
}
