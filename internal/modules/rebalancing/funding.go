package rebalancing

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
)

// balanceBufferEUR pads deficit estimates against rate drift.
const balanceBufferEUR = 10.0

// fundingSells raises shortfallEUR for pending buys by rotating out of
// overweight, low-conviction holdings. Sell count and turnover are
// capped; a holding more convicted than the best pending buy is never
// rotated.
func (s *Service) fundingSells(in *Input, buys []TradeRecommendation, shortfallEUR float64) []TradeRecommendation {
	if shortfallEUR <= 0 {
		return nil
	}

	maxBuyConviction := 0.0
	for _, b := range buys {
		if b.Conviction > maxBuyConviction {
			maxBuyConviction = b.Conviction
		}
	}

	candidates := s.sellCandidates(in, buys)
	// Funding rotation order: most overweight first, then conviction^2,
	// score, size.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.overweight != b.overweight {
			return a.overweight > b.overweight
		}
		ca, cb := a.conviction*a.conviction, b.conviction*b.conviction
		if ca != cb {
			return ca < cb
		}
		if a.score != b.score {
			return a.score < b.score
		}
		return a.valueEUR < b.valueEUR
	})

	maxTurnover := s.cfg.MaxFundingTurnoverPct * in.PortfolioValueEUR
	var sells []TradeRecommendation
	raised := 0.0

	for _, cand := range candidates {
		if len(sells) >= s.cfg.MaxFundingSells || raised >= shortfallEUR || s.turnover(sells) >= maxTurnover {
			break
		}
		// Never rotate a higher-conviction holding into a lower one.
		if maxBuyConviction > 0 && cand.conviction > maxBuyConviction {
			continue
		}
		rec, ok := s.sellToCover(in, cand, shortfallEUR-raised, ReasonFundingSell,
			fmt.Sprintf("rotating %.2f conviction holding to fund buys", cand.conviction))
		if !ok {
			continue
		}
		raised += rec.AbsValueEUR()
		sells = append(sells, rec)
	}
	return sells
}

// fundDeficits cures negative currency balances by selling the weakest
// holdings. The deficit is netted against positive balances first.
func (s *Service) fundDeficits(in *Input, recs []TradeRecommendation) []TradeRecommendation {
	deficitEUR := 0.0
	surplusEUR := 0.0
	for _, balance := range in.CashBalances {
		eur := balance.Amount * in.fxToEUR(balance.Currency)
		if balance.Amount < 0 {
			deficitEUR += -eur + balanceBufferEUR
		} else {
			surplusEUR += eur
		}
	}
	remaining := deficitEUR - surplusEUR
	if remaining <= 0 {
		return recs
	}

	candidates := s.sellCandidates(in, nil)
	// Cash-deficit order: weakest first, smallest first.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].valueEUR < candidates[j].valueEUR
	})

	for _, cand := range candidates {
		if remaining <= 0 {
			break
		}
		rec, ok := s.sellToCover(in, cand, remaining, ReasonDeficitSell,
			"selling to cure negative cash balance")
		if !ok {
			continue
		}
		remaining -= rec.AbsValueEUR()
		recs = append(recs, rec)
	}
	return recs
}

type sellCandidate struct {
	position   domain.Position
	minLot     int
	overweight float64
	conviction float64
	score      float64
	valueEUR   float64
}

// sellCandidates lists sellable holdings not already being bought or
// sold in this run.
func (s *Service) sellCandidates(in *Input, exclude []TradeRecommendation) []sellCandidate {
	excluded := make(map[string]bool, len(exclude))
	for _, rec := range exclude {
		excluded[strings.ToUpper(rec.Symbol)] = true
	}

	var candidates []sellCandidate
	for _, position := range in.Positions {
		symbol := strings.ToUpper(position.Symbol)
		if excluded[symbol] {
			continue
		}
		security, ok := in.Securities[symbol]
		if !ok || !security.AllowSell {
			continue
		}
		current := position.MarketValueEUR / in.PortfolioValueEUR
		candidates = append(candidates, sellCandidate{
			position:   position,
			minLot:     security.MinLot,
			overweight: current - in.TargetAllocations[symbol],
			conviction: in.conviction(symbol),
			score:      in.score(symbol),
			valueEUR:   position.MarketValueEUR,
		})
	}
	return candidates
}

// sellToCover builds a lot-aligned sell covering up to neededEUR,
// capped at the held quantity.
func (s *Service) sellToCover(in *Input, cand sellCandidate, neededEUR float64, reasonCode, reason string) (TradeRecommendation, bool) {
	minLot := cand.minLot
	if minLot < 1 {
		minLot = 1
	}
	fx := in.fxToEUR(cand.position.Currency)
	unit := cand.position.CurrentPrice * fx
	if unit <= 0 {
		return TradeRecommendation{}, false
	}

	quantity := int(math.Ceil(neededEUR/unit/float64(minLot))) * minLot
	if quantity > cand.position.Quantity {
		quantity = cand.position.Quantity
	}
	if quantity <= 0 {
		return TradeRecommendation{}, false
	}

	symbol := strings.ToUpper(cand.position.Symbol)
	current := cand.position.MarketValueEUR / in.PortfolioValueEUR
	return TradeRecommendation{
		Symbol:            symbol,
		Side:              "SELL",
		Quantity:          quantity,
		MinLot:            minLot,
		Price:             cand.position.CurrentPrice,
		Currency:          cand.position.Currency,
		ValueEUR:          -float64(quantity) * unit,
		CurrentAllocation: current,
		TargetAllocation:  in.TargetAllocations[symbol],
		AllocationDelta:   in.TargetAllocations[symbol] - current,
		Conviction:        cand.conviction,
		Sleeve:            in.Sleeves[symbol],
		Priority:          5 + cand.overweight, // funding sells run early
		ReasonCode:        reasonCode,
		Reason:            reason,
	}, true
}

// turnover sums the absolute EUR value of funding sells so far.
func (s *Service) turnover(sells []TradeRecommendation) float64 {
	total := 0.0
	for _, rec := range sells {
		total += rec.AbsValueEUR()
	}
	return total
}
