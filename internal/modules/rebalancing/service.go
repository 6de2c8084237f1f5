package rebalancing

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/settings"
	"github.com/aristath/helmsman/internal/signals"
)

// Service is the rebalance engine.
type Service struct {
	cfg *settings.StrategyConfig
	log zerolog.Logger
}

// NewService creates a rebalance engine.
func NewService(cfg *settings.StrategyConfig, log zerolog.Logger) *Service {
	return &Service{
		cfg: cfg,
		log: log.With().Str("service", "rebalancing").Logger(),
	}
}

// Generate runs the full pipeline: base actions, priorities, cash
// reconciliation, deficit funding, annotation. The result is ordered
// best-first.
func (s *Service) Generate(in *Input) ([]TradeRecommendation, error) {
	if in.PortfolioValueEUR <= 0 {
		return nil, fmt.Errorf("portfolio value must be positive")
	}

	recs := s.baseActions(in)
	recs = s.reconcile(in, recs)
	recs = s.fundDeficits(in, recs)
	s.annotate(in, recs)

	kept := recs[:0]
	for _, rec := range recs {
		if rec.Quantity > 0 {
			kept = append(kept, rec)
		}
	}
	recs = kept
	sortByPriority(recs)

	s.log.Info().Int("recommendations", len(recs)).Msg("Rebalance run complete")
	return recs, nil
}

// baseActions chooses one action per symbol: the state machine first
// for opportunity-sleeve holdings, allocation drift otherwise.
func (s *Service) baseActions(in *Input) []TradeRecommendation {
	var recs []TradeRecommendation
	seen := make(map[string]bool)

	for _, position := range in.Positions {
		symbol := strings.ToUpper(position.Symbol)
		seen[symbol] = true
		if rec, ok := s.heldAction(in, symbol); ok {
			recs = append(recs, rec)
		}
	}
	for symbol := range in.TargetAllocations {
		symbol = strings.ToUpper(symbol)
		if seen[symbol] {
			continue
		}
		if rec, ok := s.entryAction(in, symbol); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

// heldAction picks the action for a held symbol.
func (s *Service) heldAction(in *Input, symbol string) (TradeRecommendation, bool) {
	position, ok := in.position(symbol)
	if !ok {
		return TradeRecommendation{}, false
	}
	security, ok := in.Securities[symbol]
	if !ok {
		return TradeRecommendation{}, false
	}

	current := position.MarketValueEUR / in.PortfolioValueEUR
	target := in.TargetAllocations[symbol]
	delta := target - current
	gain := position.GainPercent()
	block := in.Signals[symbol]
	state := in.States[symbol]
	sleeve := in.Sleeves[symbol]

	base := TradeRecommendation{
		Symbol:            symbol,
		Name:              security.Name,
		MinLot:            security.MinLot,
		Price:             position.CurrentPrice,
		Currency:          position.Currency,
		CurrentAllocation: current,
		TargetAllocation:  target,
		AllocationDelta:   delta,
		ContrarianScore:   block.OppScore,
		Conviction:        in.conviction(symbol),
		Sleeve:            sleeve,
	}

	if sleeve == signals.SleeveOpportunity && security.AllowSell {
		// Scale-out ladder and exits come before drift corrections.
		switch {
		case state.ScaleoutStage >= 1 && block.Mom20 < block.Mom60 && gain > 0:
			return s.fillSell(in, base, position.Quantity, 1.0, ReasonExitMomentum,
				fmt.Sprintf("momentum rolled over at %.1f%% gain - full exit", gain*100)), true
		case state.ScaleoutStage == 0 && gain >= 0.10:
			return s.fillSell(in, base, position.Quantity, 0.30, ReasonScaleout10,
				fmt.Sprintf("%.1f%% gain - first scale-out", gain*100)), true
		case state.ScaleoutStage == 1 && gain >= 0.18:
			return s.fillSell(in, base, position.Quantity, 0.30, ReasonScaleout18,
				fmt.Sprintf("%.1f%% gain - second scale-out", gain*100)), true
		}

		if s.cfg.TimeStopDays > 0 && !position.FirstBoughtAt.IsZero() {
			age := time.Since(position.FirstBoughtAt)
			if age > time.Duration(s.cfg.TimeStopDays)*24*time.Hour && gain < 0.10 {
				return s.fillSell(in, base, position.Quantity, 1.0, ReasonTimeStop,
					fmt.Sprintf("held %.0f days without progress - rotating out", age.Hours()/24)), true
			}
		}

		desired := DesiredTrancheStage(block.DD252, s.cfg.EntryT1DD, s.cfg.EntryT2DD, s.cfg.EntryT3DD)
		if desired > state.TrancheStage && security.AllowBuy && !block.FreefallBlock {
			base.ReasonCode = ReasonTrancheEntry
			base.Reason = fmt.Sprintf("drawdown %.1f%% - entry tranche %d", block.DD252*100, desired)
			return s.fillBuy(in, base, security.MinLot), true
		}
	}

	// Allocation drift.
	if math.Abs(delta)*in.PortfolioValueEUR < s.cfg.MinTradeValue {
		return TradeRecommendation{}, false
	}
	base.ReasonCode = ReasonRebalance
	if delta > 0 && security.AllowBuy {
		base.Reason = fmt.Sprintf("%.1f%% underweight", delta*100)
		return s.fillBuy(in, base, security.MinLot), true
	}
	if delta < 0 && security.AllowSell {
		fraction := math.Min(1, -delta*in.PortfolioValueEUR/position.MarketValueEUR)
		base.Reason = fmt.Sprintf("%.1f%% overweight", -delta*100)
		return s.fillSell(in, base, position.Quantity, fraction, ReasonRebalance, base.Reason), true
	}
	return TradeRecommendation{}, false
}

// entryAction opens a position the targets call for but the portfolio
// lacks.
func (s *Service) entryAction(in *Input, symbol string) (TradeRecommendation, bool) {
	security, ok := in.Securities[symbol]
	if !ok || !security.AllowBuy || !security.Active {
		return TradeRecommendation{}, false
	}
	target := in.TargetAllocations[symbol]
	if target*in.PortfolioValueEUR < s.cfg.MinTradeValue {
		return TradeRecommendation{}, false
	}
	block := in.Signals[symbol]
	if block.FreefallBlock {
		return TradeRecommendation{}, false
	}

	price := priceOf(in, symbol)
	if price <= 0 {
		return TradeRecommendation{}, false
	}
	base := TradeRecommendation{
		Symbol:           symbol,
		Name:             security.Name,
		MinLot:           security.MinLot,
		Price:            price,
		Currency:         security.Currency,
		TargetAllocation: target,
		AllocationDelta:  target,
		ContrarianScore:  block.OppScore,
		Conviction:       in.conviction(symbol),
		Sleeve:           in.Sleeves[symbol],
		ReasonCode:       ReasonRebalance,
		Reason:           fmt.Sprintf("new position toward %.1f%% target", target*100),
	}
	return s.fillBuy(in, base, security.MinLot), true
}

// fillBuy completes a BUY recommendation with quantity, value and
// priority. Stronger contrarian signals raise buy priority.
func (s *Service) fillBuy(in *Input, rec TradeRecommendation, minLot int) TradeRecommendation {
	rec.Side = "BUY"
	fx := in.fxToEUR(rec.Currency)

	targetEUR := math.Abs(rec.AllocationDelta) * in.PortfolioValueEUR
	if targetEUR < s.cfg.BaseTradeAmountEUR {
		targetEUR = s.cfg.BaseTradeAmountEUR
	}
	if minLot < 1 {
		minLot = 1
	}
	lotCost := float64(minLot) * rec.Price * fx
	quantity := 0
	if lotCost > 0 {
		quantity = int(math.Floor(targetEUR/lotCost)) * minLot
	}
	if quantity < minLot {
		quantity = minLot
	}
	rec.Quantity = quantity
	rec.ValueEUR = float64(quantity) * rec.Price * fx
	rec.Priority = 10*math.Abs(rec.AllocationDelta) + rec.ContrarianScore
	return rec
}

// fillSell completes a SELL recommendation. Stronger contrarian signals
// lower sell priority (the dip argues for holding).
func (s *Service) fillSell(in *Input, rec TradeRecommendation, held int, fraction float64, reasonCode, reason string) TradeRecommendation {
	rec.Side = "SELL"
	rec.ReasonCode = reasonCode
	rec.Reason = reason

	minLot := rec.MinLot
	if minLot < 1 {
		minLot = 1
	}
	quantity := held
	if fraction < 1 {
		quantity = int(math.Floor(float64(held)*fraction/float64(minLot))) * minLot
		if quantity <= 0 {
			quantity = minLot
		}
		if quantity > held {
			quantity = held
		}
	}
	fx := in.fxToEUR(rec.Currency)
	rec.Quantity = quantity
	rec.ValueEUR = -float64(quantity) * rec.Price * fx
	rec.Priority = 10*math.Abs(rec.AllocationDelta) - rec.ContrarianScore
	return rec
}

// annotate applies lot classification and the core floor to the final
// set.
func (s *Service) annotate(in *Input, recs []TradeRecommendation) {
	for i := range recs {
		rec := &recs[i]
		fx := in.fxToEUR(rec.Currency)
		info := signals.ClassifyLotSize(rec.MinLot, rec.Price, fx, in.PortfolioValueEUR,
			s.cfg.TransactionCostFixed, s.cfg.TransactionCostPercent,
			s.cfg.LotStandardMaxPct, s.cfg.LotCoarseMaxPct)
		rec.LotClass = info.Class
		rec.TicketPct = info.TicketPct

		if rec.Side == "SELL" && rec.Sleeve == signals.SleeveCore {
			s.applyCoreFloor(in, rec, fx)
		}
	}
}

// applyCoreFloor trims a core sell so the remaining position stays at
// or above the floor percentage of portfolio value.
func (s *Service) applyCoreFloor(in *Input, rec *TradeRecommendation, fx float64) {
	if s.cfg.CoreFloorPct <= 0 {
		return
	}
	position, ok := in.position(rec.Symbol)
	if !ok {
		return
	}
	floorEUR := s.cfg.CoreFloorPct * in.PortfolioValueEUR
	remaining := position.MarketValueEUR - rec.AbsValueEUR()
	if remaining >= floorEUR {
		return
	}

	rec.CoreFloorActive = true
	maxSellEUR := position.MarketValueEUR - floorEUR
	if maxSellEUR <= 0 {
		rec.Quantity = 0
		rec.ValueEUR = 0
		return
	}
	minLot := rec.MinLot
	if minLot < 1 {
		minLot = 1
	}
	unit := rec.Price * fx
	if unit <= 0 {
		return
	}
	quantity := int(math.Floor(maxSellEUR/unit/float64(minLot))) * minLot
	if quantity > position.Quantity {
		quantity = position.Quantity
	}
	rec.Quantity = quantity
	rec.ValueEUR = -float64(quantity) * unit
}

func priceOf(in *Input, symbol string) float64 {
	if p, ok := in.Prices[strings.ToUpper(symbol)]; ok && p > 0 {
		return p
	}
	if pos, ok := in.position(symbol); ok {
		return pos.CurrentPrice
	}
	return 0
}
