package planning

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
)

// HashInput is the portfolio state the hash digests: held quantities,
// the active security identities (a config change invalidates plans),
// and optionally the cash balances.
type HashInput struct {
	Positions       []domain.Position
	ActiveSymbols   []string
	CashBalances    []domain.CashBalance // optional
	IncludeBalances bool
}

// ComputePortfolioHash returns the deterministic digest identifying the
// state the planner is planning for. It is a grouping key, never a
// primary identity.
func ComputePortfolioHash(in HashInput) string {
	parts := make([]string, 0, len(in.Positions)+len(in.ActiveSymbols)+len(in.CashBalances))

	for _, p := range in.Positions {
		if p.Quantity <= 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("pos:%s=%d", strings.ToUpper(p.Symbol), p.Quantity))
	}
	for _, s := range in.ActiveSymbols {
		parts = append(parts, "sec:"+strings.ToUpper(s))
	}
	if in.IncludeBalances {
		for _, b := range in.CashBalances {
			// Cents precision: sub-cent noise must not invalidate plans.
			parts = append(parts, fmt.Sprintf("cash:%s=%.2f", strings.ToUpper(b.Currency), b.Amount))
		}
	}

	sort.Strings(parts)
	sum := md5.Sum([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:])
}

// ShortHash abbreviates a portfolio hash for logs and progress events.
func ShortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
