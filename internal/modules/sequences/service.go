package sequences

import (
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/planning"
)

// Service runs the enabled patterns, generators and filters in order
// and returns a deduplicated sequence set ready for evaluation.
type Service struct {
	patterns   []Pattern
	generators []Generator
	filters    []Filter
	log        zerolog.Logger
}

// NewService creates a sequence composition service. A nil correlation
// provider disables correlation filtering (pass-through).
func NewService(provider CorrelationProvider, log zerolog.Logger) *Service {
	slog := log.With().Str("service", "sequences").Logger()
	return &Service{
		patterns: []Pattern{
			NewDirectBuyPattern(slog),
			NewSingleBestPattern(slog),
			NewProfitTakingPattern(slog),
			NewOpportunityFirstPattern(slog),
			NewCashGenerationPattern(slog),
			NewCostOptimizedPattern(slog),
			NewDeepRebalancePattern(slog),
		},
		generators: []Generator{
			NewCombinatorialGenerator(slog),
			NewEnhancedCombinatorialGenerator(slog),
		},
		filters: []Filter{
			NewCorrelationAwareFilter(provider, slog),
		},
		log: slog,
	}
}

// GenerateSequences composes candidates into the full sequence set:
// patterns first, then generators, then filters, then dedup by
// sequence hash and the depth cap.
func (s *Service) GenerateSequences(in *Input, cfg *planning.Configuration) ([]planning.ActionSequence, error) {
	var all []planning.ActionSequence

	for _, p := range s.patterns {
		if !cfg.PatternEnabled(p.Name()) {
			continue
		}
		params := planning.MergedParams(p.DefaultParams(), cfg.Patterns, p.Name())
		sequences, err := p.Generate(in, params)
		if err != nil {
			s.log.Error().Err(err).Str("pattern", p.Name()).Msg("Pattern failed")
			continue
		}
		all = append(all, sequences...)
	}

	for _, g := range s.generators {
		if !cfg.GeneratorEnabled(g.Name()) {
			continue
		}
		params := planning.MergedParams(g.DefaultParams(), cfg.Generators, g.Name())
		sequences, err := g.Generate(in, params)
		if err != nil {
			s.log.Error().Err(err).Str("generator", g.Name()).Msg("Generator failed")
			continue
		}
		all = append(all, sequences...)
	}

	for _, f := range s.filters {
		if !cfg.FilterEnabled(f.Name()) {
			continue
		}
		params := planning.MergedParams(f.DefaultParams(), cfg.Filters, f.Name())
		filtered, err := f.Filter(all, params)
		if err != nil {
			s.log.Error().Err(err).Str("filter", f.Name()).Msg("Filter failed")
			continue
		}
		all = filtered
	}

	seen := make(map[string]bool, len(all))
	deduped := all[:0]
	for _, seq := range all {
		if seen[seq.SequenceHash] {
			continue
		}
		if cfg.MaxPlanDepth > 0 && seq.Depth > cfg.MaxPlanDepth {
			continue
		}
		if !seq.IsOrdered() {
			// Patterns build sells-first; a violation here is a bug.
			s.log.Warn().Str("pattern", seq.PatternType).Msg("Dropping out-of-order sequence")
			continue
		}
		seen[seq.SequenceHash] = true
		deduped = append(deduped, seq)
	}

	s.log.Info().Int("sequences", len(deduped)).Msg("Sequence generation complete")
	return deduped, nil
}
