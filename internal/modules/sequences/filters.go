package sequences

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/helmsman/internal/modules/planning"
)

// Filter prunes generated sequences by some risk rule.
type Filter interface {
	Name() string
	DefaultParams() map[string]float64
	Filter(sequences []planning.ActionSequence, params map[string]float64) ([]planning.ActionSequence, error)
}

// CorrelationProvider supplies the pairwise correlation map, keyed
// "SYM1:SYM2". Nil or empty data means the filter passes everything.
type CorrelationProvider interface {
	CorrelationMap(symbols []string) (map[string]float64, error)
}

// CorrelationAwareFilter drops sequences whose BUY legs contain a pair
// of highly correlated symbols.
type CorrelationAwareFilter struct {
	provider CorrelationProvider
	log      zerolog.Logger
}

// NewCorrelationAwareFilter creates a correlation-aware filter.
func NewCorrelationAwareFilter(provider CorrelationProvider, log zerolog.Logger) *CorrelationAwareFilter {
	return &CorrelationAwareFilter{
		provider: provider,
		log:      log.With().Str("filter", "correlation_aware").Logger(),
	}
}

func (f *CorrelationAwareFilter) Name() string { return "correlation_aware" }

// DefaultParams returns the correlation threshold.
func (f *CorrelationAwareFilter) DefaultParams() map[string]float64 {
	return map[string]float64{"correlation_threshold": 0.7}
}

// Filter drops any sequence whose buys contain a pair with |rho| above
// the threshold. Without correlation data everything passes through.
func (f *CorrelationAwareFilter) Filter(sequences []planning.ActionSequence, params map[string]float64) ([]planning.ActionSequence, error) {
	if len(sequences) == 0 {
		return sequences, nil
	}
	threshold := param(params, "correlation_threshold", 0.7)

	correlations := f.correlations(sequences)
	if len(correlations) == 0 {
		f.log.Debug().Msg("No correlation data available, returning all sequences")
		return sequences, nil
	}

	filtered := make([]planning.ActionSequence, 0, len(sequences))
	removed := 0
	for _, seq := range sequences {
		buySymbols := buySymbolsOf(seq)
		if len(buySymbols) < 2 || !hasHighCorrelation(buySymbols, correlations, threshold) {
			filtered = append(filtered, seq)
			continue
		}
		removed++
	}

	if removed > 0 {
		f.log.Info().Int("before", len(sequences)).Int("after", len(filtered)).
			Float64("threshold", threshold).Msg("Correlation filtering complete")
	}
	return filtered, nil
}

func (f *CorrelationAwareFilter) correlations(sequences []planning.ActionSequence) map[string]float64 {
	if f.provider == nil {
		return nil
	}
	symbolSet := make(map[string]bool)
	for _, seq := range sequences {
		for _, s := range buySymbolsOf(seq) {
			symbolSet[s] = true
		}
	}
	if len(symbolSet) < 2 {
		return nil
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	correlations, err := f.provider.CorrelationMap(symbols)
	if err != nil {
		// Graceful degradation: no data, no filtering.
		f.log.Warn().Err(err).Msg("Failed to build correlation data, passing all sequences through")
		return nil
	}
	return correlations
}

func buySymbolsOf(seq planning.ActionSequence) []string {
	var symbols []string
	for _, a := range seq.Actions {
		if a.Side == "BUY" {
			symbols = append(symbols, a.Symbol)
		}
	}
	return symbols
}

func hasHighCorrelation(symbols []string, correlations map[string]float64, threshold float64) bool {
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			rho, ok := correlations[symbols[i]+":"+symbols[j]]
			if !ok {
				rho, ok = correlations[symbols[j]+":"+symbols[i]]
			}
			if ok && math.Abs(rho) > threshold {
				return true
			}
		}
	}
	return false
}

// BuildCorrelationMap computes the pairwise return correlations for the
// supplied series, keyed "SYM1:SYM2". Series shorter than minLen or of
// unequal length with their pair are skipped.
func BuildCorrelationMap(returns map[string][]float64, minLen int) map[string]float64 {
	symbols := make([]string, 0, len(returns))
	for s := range returns {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	correlations := make(map[string]float64)
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			a, b := returns[symbols[i]], returns[symbols[j]]
			n := len(a)
			if len(b) < n {
				n = len(b)
			}
			if n < minLen {
				continue
			}
			rho := stat.Correlation(a[len(a)-n:], b[len(b)-n:], nil)
			if !math.IsNaN(rho) {
				correlations[symbols[i]+":"+symbols[j]] = rho
			}
		}
	}
	return correlations
}
