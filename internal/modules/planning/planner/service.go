// Package planner drives the incremental sequence search: generate
// once per portfolio hash, evaluate in batches, keep the best result.
package planner

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/planning"
)

// Mode selects who re-enters the planner between batches.
type Mode string

const (
	// ModeScheduled relies on the scheduler re-invoking the planner.
	ModeScheduled Mode = "scheduled"
	// ModeAPI self-triggers the next batch over HTTP, best-effort.
	ModeAPI Mode = "api"
)

// maxChainDepth caps API self-trigger chains.
const maxChainDepth = 100000

// SequenceSource generates the full sequence set for the current
// portfolio state.
type SequenceSource interface {
	GenerateSequences() ([]planning.ActionSequence, error)
}

// SnapshotSource supplies the current portfolio state the evaluator
// simulates against.
type SnapshotSource interface {
	CurrentHash() (string, error)
	Snapshot() (*Snapshot, error)
}

// Snapshot is the simulation baseline: EUR position values, cash, and
// the per-symbol metric cache.
type Snapshot struct {
	Positions map[string]float64 // symbol -> EUR value
	CashEUR   float64
	Metrics   map[string]planning.Metrics
	Profile   planning.RiskProfile

	TransactionCostFixed   float64
	TransactionCostPercent float64
}

// Config holds the planner knobs.
type Config struct {
	BatchSize      int    // scheduled-mode batch
	BatchSizeAPI   int    // request-driven batch
	SelfTriggerURL string // POST target for API-mode chaining
}

// Service is the incremental planner.
type Service struct {
	repo      *planning.Repository
	sequences SequenceSource
	snapshots SnapshotSource
	bus       *events.Bus
	cfg       Config
	client    *http.Client
	log       zerolog.Logger
}

// NewService creates a planner service.
func NewService(repo *planning.Repository, sequences SequenceSource, snapshots SnapshotSource, bus *events.Bus, cfg Config, log zerolog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchSizeAPI <= 0 {
		cfg.BatchSizeAPI = 20
	}
	return &Service{
		repo:      repo,
		sequences: sequences,
		snapshots: snapshots,
		bus:       bus,
		cfg:       cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log.With().Str("service", "planner").Logger(),
	}
}

// RunBatch executes one planner step: ensure sequences exist for the
// current hash, evaluate one batch, update the best result, emit
// progress. In API mode an unfinished hash triggers the next batch.
func (s *Service) RunBatch(ctx context.Context, mode Mode, depth int) (*planning.Progress, error) {
	hash, err := s.snapshots.CurrentHash()
	if err != nil {
		return nil, fmt.Errorf("failed to compute portfolio hash: %w", err)
	}
	logger := s.log.With().Str("hash", planning.ShortHash(hash)).Logger()

	hasSequences, err := s.repo.HasSequences(hash)
	if err != nil {
		return nil, err
	}
	if !hasSequences {
		if err := s.generate(hash, logger); err != nil {
			return nil, err
		}
	}

	snap, err := s.snapshots.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio snapshot: %w", err)
	}

	size := s.cfg.BatchSize
	if mode == ModeAPI {
		size = s.cfg.BatchSizeAPI
	}
	batch, err := s.repo.GetUnevaluatedBatch(hash, size)
	if err != nil {
		return nil, err
	}

	for _, seq := range batch {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result := Evaluate(seq, snap)
		if err := s.repo.MarkSequenceEvaluated(hash, seq.SequenceHash, result.EndScore); err != nil {
			logger.Error().Err(err).Str("sequence", planning.ShortHash(seq.SequenceHash)).
				Msg("Failed to mark sequence evaluated")
			continue
		}
		if result.Feasible {
			if err := s.repo.UpsertBestResult(hash, seq, result.EndScore); err != nil {
				logger.Error().Err(err).Msg("Failed to upsert best result")
			}
		}
	}

	progress, err := s.Progress(hash)
	if err != nil {
		return nil, err
	}

	s.bus.EmitTyped(events.PlannerBatchComplete, "planner", &events.PlannerBatchCompleteData{
		PortfolioHash: planning.ShortHash(hash),
		Evaluated:     progress.EvaluatedCount,
		Total:         progress.TotalSequences,
		Finished:      progress.IsFinished,
	})
	logger.Info().Int("evaluated", progress.EvaluatedCount).
		Int("total", progress.TotalSequences).
		Float64("pct", progress.ProgressPercentage).
		Msg("Planner batch complete")

	if mode == ModeAPI && !progress.IsFinished {
		s.selfTrigger(depth, logger)
	}
	return progress, nil
}

// generate builds and persists the sequence set for a fresh hash.
func (s *Service) generate(hash string, logger zerolog.Logger) error {
	sequences, err := s.sequences.GenerateSequences()
	if err != nil {
		return fmt.Errorf("failed to generate sequences: %w", err)
	}
	if err := s.repo.PersistSequences(hash, sequences); err != nil {
		return err
	}
	s.bus.EmitTyped(events.PlannerSequencesGenerated, "planner", &events.PlannerSequencesGeneratedData{
		PortfolioHash: planning.ShortHash(hash),
		Count:         len(sequences),
	})
	logger.Info().Int("sequences", len(sequences)).Msg("Sequences generated")
	return nil
}

// Progress reports the evaluation state for one hash.
func (s *Service) Progress(hash string) (*planning.Progress, error) {
	total, err := s.repo.GetTotalSequenceCount(hash)
	if err != nil {
		return nil, err
	}
	evaluated, err := s.repo.GetEvaluationCount(hash)
	if err != nil {
		return nil, err
	}

	pct := 0.0
	if total > 0 {
		pct = float64(evaluated) / float64(total) * 100
	}
	return &planning.Progress{
		PortfolioHash:      planning.ShortHash(hash),
		HasSequences:       total > 0,
		TotalSequences:     total,
		EvaluatedCount:     evaluated,
		IsPlanning:         total > 0 && evaluated < total,
		IsFinished:         total > 0 && evaluated == total,
		ProgressPercentage: pct,
	}, nil
}

// BestResult returns the winning sequence for the current hash.
func (s *Service) BestResult() (*planning.BestResult, error) {
	hash, err := s.snapshots.CurrentHash()
	if err != nil {
		return nil, err
	}
	return s.repo.GetBestResult(hash)
}

// AllEvaluated reports whether the current hash is fully evaluated.
func (s *Service) AllEvaluated() (bool, error) {
	hash, err := s.snapshots.CurrentHash()
	if err != nil {
		return false, err
	}
	return s.repo.AreAllSequencesEvaluated(hash)
}

// selfTrigger fires the next API-mode batch, best-effort. The depth
// counter guards against unbounded chains.
func (s *Service) selfTrigger(depth int, logger zerolog.Logger) {
	if depth >= maxChainDepth {
		logger.Warn().Int("depth", depth).Msg("Planner chain depth cap reached, stopping")
		return
	}
	if s.cfg.SelfTriggerURL == "" {
		return
	}
	body := bytes.NewReader([]byte(fmt.Sprintf(`{"depth":%d}`, depth+1)))
	req, err := http.NewRequest(http.MethodPost, s.cfg.SelfTriggerURL, body)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to build planner self-trigger request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("Planner self-trigger failed")
		return
	}
	resp.Body.Close()
}
