package planning

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Repository persists planner sequences and best results in agents.db,
// grouped by portfolio hash.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a planner repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "planner").Logger(),
	}
}

// HasSequences reports whether any sequences exist for the hash.
func (r *Repository) HasSequences(portfolioHash string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM planner_sequences WHERE portfolio_hash = ?",
		portfolioHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count sequences: %w", err)
	}
	return count > 0, nil
}

// AreAllSequencesEvaluated reports whether every sequence for the hash
// has a score. A hash with no sequences is not "finished".
func (r *Repository) AreAllSequencesEvaluated(portfolioHash string) (bool, error) {
	var total, evaluated int
	err := r.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(evaluated), 0) FROM planner_sequences
		WHERE portfolio_hash = ?`, portfolioHash).Scan(&total, &evaluated)
	if err != nil {
		return false, fmt.Errorf("failed to count evaluated sequences: %w", err)
	}
	return total > 0 && evaluated == total, nil
}

// GetTotalSequenceCount returns the sequence count for the hash.
func (r *Repository) GetTotalSequenceCount(portfolioHash string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM planner_sequences WHERE portfolio_hash = ?",
		portfolioHash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sequences: %w", err)
	}
	return count, nil
}

// GetEvaluationCount returns how many sequences are already scored.
func (r *Repository) GetEvaluationCount(portfolioHash string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM planner_sequences WHERE portfolio_hash = ? AND evaluated = 1",
		portfolioHash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count evaluations: %w", err)
	}
	return count, nil
}

// PersistSequences stores a fresh generation run for the hash. Duplicate
// sequence hashes within the batch are skipped silently.
func (r *Repository) PersistSequences(portfolioHash string, sequences []ActionSequence) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin sequence persist: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO planner_sequences (portfolio_hash, sequence_hash, pattern_type,
			actions_json, priority, depth)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_hash, sequence_hash) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare sequence insert: %w", err)
	}
	defer stmt.Close()

	for _, seq := range sequences {
		actionsJSON, err := json.Marshal(seq.Actions)
		if err != nil {
			return fmt.Errorf("failed to marshal sequence actions: %w", err)
		}
		_, err = stmt.Exec(portfolioHash, seq.SequenceHash, seq.PatternType,
			string(actionsJSON), seq.Priority, seq.Depth)
		if err != nil {
			return fmt.Errorf("failed to insert sequence %s: %w", ShortHash(seq.SequenceHash), err)
		}
	}
	return tx.Commit()
}

// GetUnevaluatedBatch returns up to limit unevaluated sequences for the
// hash, highest aggregate priority first.
func (r *Repository) GetUnevaluatedBatch(portfolioHash string, limit int) ([]ActionSequence, error) {
	rows, err := r.db.Query(`
		SELECT sequence_hash, pattern_type, actions_json, priority, depth
		FROM planner_sequences
		WHERE portfolio_hash = ? AND evaluated = 0
		ORDER BY priority DESC, sequence_hash ASC LIMIT ?`,
		portfolioHash, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unevaluated sequences: %w", err)
	}
	defer rows.Close()

	var sequences []ActionSequence
	for rows.Next() {
		var seq ActionSequence
		var actionsJSON string
		err := rows.Scan(&seq.SequenceHash, &seq.PatternType, &actionsJSON,
			&seq.Priority, &seq.Depth)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sequence: %w", err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &seq.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sequence actions: %w", err)
		}
		sequences = append(sequences, seq)
	}
	return sequences, rows.Err()
}

// MarkSequenceEvaluated stores the end-state score for one sequence.
func (r *Repository) MarkSequenceEvaluated(portfolioHash, sequenceHash string, score float64) error {
	result, err := r.db.Exec(`
		UPDATE planner_sequences SET evaluated = 1, score = ?
		WHERE portfolio_hash = ? AND sequence_hash = ?`,
		score, portfolioHash, sequenceHash)
	if err != nil {
		return fmt.Errorf("failed to mark sequence evaluated: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("sequence %s: %w", ShortHash(sequenceHash), domain.ErrNotFound)
	}
	return nil
}

// BestResult is the winning sequence for a portfolio hash.
type BestResult struct {
	PortfolioHash string            `json:"portfolio_hash"`
	SequenceHash  string            `json:"sequence_hash"`
	Score         float64           `json:"score"`
	Actions       []ActionCandidate `json:"actions"`
}

// UpsertBestResult records a new best sequence when it beats the stored
// score for the hash.
func (r *Repository) UpsertBestResult(portfolioHash string, seq ActionSequence, score float64) error {
	actionsJSON, err := json.Marshal(seq.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal best result actions: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO planner_best_results (portfolio_hash, sequence_hash, score, actions_json, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(portfolio_hash) DO UPDATE SET
			sequence_hash = excluded.sequence_hash,
			score = excluded.score,
			actions_json = excluded.actions_json,
			updated_at = excluded.updated_at
		WHERE excluded.score > planner_best_results.score`,
		portfolioHash, seq.SequenceHash, score, string(actionsJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert best result: %w", err)
	}
	return nil
}

// GetBestResult returns the highest-scoring sequence for the hash.
func (r *Repository) GetBestResult(portfolioHash string) (*BestResult, error) {
	var best BestResult
	var actionsJSON string
	err := r.db.QueryRow(`
		SELECT portfolio_hash, sequence_hash, score, actions_json
		FROM planner_best_results WHERE portfolio_hash = ?`,
		portfolioHash).Scan(&best.PortfolioHash, &best.SequenceHash, &best.Score, &actionsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("best result for %s: %w", ShortHash(portfolioHash), domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get best result: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &best.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal best result actions: %w", err)
	}
	return &best, nil
}

// GetBestSequenceFromHash retrieves one persisted sequence by its pair
// of hashes, for replaying the winning actions.
func (r *Repository) GetBestSequenceFromHash(portfolioHash, sequenceHash string) (*ActionSequence, error) {
	var seq ActionSequence
	var actionsJSON string
	err := r.db.QueryRow(`
		SELECT sequence_hash, pattern_type, actions_json, priority, depth
		FROM planner_sequences
		WHERE portfolio_hash = ? AND sequence_hash = ?`,
		portfolioHash, sequenceHash).Scan(&seq.SequenceHash, &seq.PatternType,
		&actionsJSON, &seq.Priority, &seq.Depth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sequence %s: %w", ShortHash(sequenceHash), domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &seq.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sequence actions: %w", err)
	}
	return &seq, nil
}

// PruneSuperseded garbage-collects sequences and best results for every
// hash other than the current one. Safe once no consumer reads them.
func (r *Repository) PruneSuperseded(currentHash string) (int64, error) {
	result, err := r.db.Exec(
		"DELETE FROM planner_sequences WHERE portfolio_hash != ?", currentHash)
	if err != nil {
		return 0, fmt.Errorf("failed to prune superseded sequences: %w", err)
	}
	n, _ := result.RowsAffected()
	_, err = r.db.Exec(
		"DELETE FROM planner_best_results WHERE portfolio_hash != ?", currentHash)
	if err != nil {
		return n, fmt.Errorf("failed to prune superseded best results: %w", err)
	}
	return n, nil
}
