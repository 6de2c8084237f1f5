package rebalancing

import (
	"math"
	"sort"
)

// reconcile enforces the cash constraint: sells fund buys, buys that
// exceed the budget are trimmed by rank, scaled down to minimum lots,
// then topped back up while budget remains.
func (s *Service) reconcile(in *Input, recs []TradeRecommendation) []TradeRecommendation {
	var buys, sells []TradeRecommendation
	for _, rec := range recs {
		if rec.Side == "BUY" {
			buys = append(buys, rec)
		} else {
			sells = append(sells, rec)
		}
	}

	budget := in.AvailableCashEUR
	for _, sell := range sells {
		fee := s.cfg.TransactionCostFixed + sell.AbsValueEUR()*s.cfg.TransactionCostPercent
		budget += sell.AbsValueEUR() - fee
	}

	if s.buyCost(buys) <= budget {
		return append(sells, buys...)
	}

	// Step 1: rank-trim below the median, low conviction first.
	if len(buys) >= 2 {
		buys = s.trimByRank(buys, budget)
	}

	// Step 2: raise extra cash with capped funding sells.
	if s.buyCost(buys) > budget {
		funding := s.fundingSells(in, buys, s.buyCost(buys)-budget)
		for _, sell := range funding {
			fee := s.cfg.TransactionCostFixed + sell.AbsValueEUR()*s.cfg.TransactionCostPercent
			budget += sell.AbsValueEUR() - fee
		}
		sells = append(sells, funding...)
	}

	// Step 3: shrink every buy to its minimum whole-lot ticket, dropping
	// any that no longer clears min_trade_value.
	if s.buyCost(buys) > budget {
		buys = s.scaleToMinimumLots(in, buys)
	}

	// Step 4: greedy top-up by whole lots while the leftover lasts.
	buys = s.topUp(in, buys, budget)

	return append(sells, buys...)
}

// buyCost sums buy notionals plus fees.
func (s *Service) buyCost(buys []TradeRecommendation) float64 {
	total := 0.0
	for _, b := range buys {
		total += b.ValueEUR + s.cfg.TransactionCostFixed + b.ValueEUR*s.cfg.TransactionCostPercent
	}
	return total
}

// trimByRank drops buys ranked below the median until the rest fit.
// Rank is priority scaled by conviction, so low-conviction names go
// first.
func (s *Service) trimByRank(buys []TradeRecommendation, budget float64) []TradeRecommendation {
	ranked := append([]TradeRecommendation(nil), buys...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return rank(ranked[i]) > rank(ranked[j])
	})

	ranks := make([]float64, len(ranked))
	for i, b := range ranked {
		ranks[i] = rank(b)
	}
	median := ranks[len(ranks)/2]

	for s.buyCost(ranked) > budget && len(ranked) > 1 {
		last := ranked[len(ranked)-1]
		if rank(last) > median {
			break
		}
		ranked = ranked[:len(ranked)-1]
	}
	return ranked
}

func rank(rec TradeRecommendation) float64 {
	return rec.Priority * (0.5 + rec.Conviction)
}

// scaleToMinimumLots shrinks each buy to one lot, keeping only those
// that still clear min_trade_value.
func (s *Service) scaleToMinimumLots(in *Input, buys []TradeRecommendation) []TradeRecommendation {
	var kept []TradeRecommendation
	for _, b := range buys {
		minLot := b.MinLot
		if minLot < 1 {
			minLot = 1
		}
		fx := in.fxToEUR(b.Currency)
		lotEUR := float64(minLot) * b.Price * fx
		if lotEUR < s.cfg.MinTradeValue {
			continue
		}
		b.Quantity = minLot
		b.ValueEUR = lotEUR
		kept = append(kept, b)
	}
	return kept
}

// topUp adds whole lots to the highest-gap buys while the budget holds.
// Each buy's ideal cost is its allocation-delta notional; the leftover
// is spread by remaining gap.
func (s *Service) topUp(in *Input, buys []TradeRecommendation, budget float64) []TradeRecommendation {
	leftover := budget - s.buyCost(buys)
	if leftover <= 0 || len(buys) == 0 {
		return buys
	}

	for {
		bestIdx := -1
		bestGap := 0.0
		for i, b := range buys {
			ideal := math.Abs(b.AllocationDelta) * in.PortfolioValueEUR
			gap := ideal - b.ValueEUR
			minLot := b.MinLot
			if minLot < 1 {
				minLot = 1
			}
			fx := in.fxToEUR(b.Currency)
			lotEUR := float64(minLot) * b.Price * fx
			lotCost := lotEUR + lotEUR*s.cfg.TransactionCostPercent
			if gap > bestGap && lotCost <= leftover && lotEUR > 0 {
				bestGap = gap
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			return buys
		}
		b := &buys[bestIdx]
		minLot := b.MinLot
		if minLot < 1 {
			minLot = 1
		}
		fx := in.fxToEUR(b.Currency)
		lotEUR := float64(minLot) * b.Price * fx
		b.Quantity += minLot
		b.ValueEUR += lotEUR
		leftover -= lotEUR + lotEUR*s.cfg.TransactionCostPercent
	}
}
