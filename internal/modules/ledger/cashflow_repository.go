package ledger

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CashFlowRepository persists account cash flows in ledger.db. Rows are
// idempotent on the broker-provided external id; flows without one are
// keyed by a content hash.
type CashFlowRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCashFlowRepository creates a cash flow repository.
func NewCashFlowRepository(db *sql.DB, log zerolog.Logger) *CashFlowRepository {
	return &CashFlowRepository{
		db:  db,
		log: log.With().Str("repository", "cash_flows").Logger(),
	}
}

// contentHash derives a stable id for flows the broker reports without one.
func contentHash(f *CashFlow) string {
	payload := fmt.Sprintf("%s|%.4f|%s|%s",
		f.FlowType, f.Amount, f.Currency, f.OccurredAt.UTC().Format("2006-01-02 15:04:05"))
	sum := md5.Sum([]byte(payload))
	return "ch-" + hex.EncodeToString(sum[:])
}

// Record inserts a flow; returns false when a duplicate was skipped.
func (r *CashFlowRepository) Record(f *CashFlow) (bool, error) {
	externalID := f.ExternalID
	if externalID == "" {
		externalID = contentHash(f)
	}

	result, err := r.db.Exec(`
		INSERT INTO cash_flows (external_id, flow_type, amount, currency, occurred_at, description)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) WHERE external_id != '' DO NOTHING`,
		externalID, f.FlowType, f.Amount, f.Currency,
		f.OccurredAt.UTC().Format("2006-01-02 15:04:05"), f.Description)
	if err != nil {
		return false, fmt.Errorf("failed to record cash flow: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// GetSince returns flows at or after cutoff, newest first.
func (r *CashFlowRepository) GetSince(cutoff time.Time) ([]CashFlow, error) {
	rows, err := r.db.Query(`
		SELECT id, external_id, flow_type, amount, currency, occurred_at, description
		FROM cash_flows WHERE occurred_at >= ? ORDER BY occurred_at DESC`,
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, fmt.Errorf("failed to query cash flows: %w", err)
	}
	defer rows.Close()

	var flows []CashFlow
	for rows.Next() {
		var f CashFlow
		var occurredAt string
		err := rows.Scan(&f.ID, &f.ExternalID, &f.FlowType, &f.Amount,
			&f.Currency, &occurredAt, &f.Description)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		f.OccurredAt, _ = time.Parse("2006-01-02 15:04:05", occurredAt)
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
