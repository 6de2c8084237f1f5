package signals

// LotClass buckets a security by how coarse its minimum ticket is
// relative to portfolio value.
type LotClass string

const (
	LotStandard LotClass = "standard"
	LotCoarse   LotClass = "coarse"
	LotJumbo    LotClass = "jumbo"
)

// LotInfo describes the smallest possible ticket for a security.
type LotInfo struct {
	MinTicketEUR float64
	TicketPct    float64
	Class        LotClass
}

// ClassifyLotSize computes the minimum ticket cost for one lot including
// fees, and buckets it against the portfolio value. standardMaxPct and
// coarseMaxPct are fractions of portfolio value.
func ClassifyLotSize(lotSize int, price, fxToEUR, portfolioValueEUR, fixedFee, pctFee, standardMaxPct, coarseMaxPct float64) LotInfo {
	if lotSize < 1 {
		lotSize = 1
	}

	notional := float64(lotSize) * price * fxToEUR
	ticket := notional + fixedFee + notional*pctFee

	pct := 0.0
	if portfolioValueEUR > 0 {
		pct = ticket / portfolioValueEUR
	}

	class := LotJumbo
	switch {
	case pct <= standardMaxPct:
		class = LotStandard
	case pct <= coarseMaxPct:
		class = LotCoarse
	}

	return LotInfo{MinTicketEUR: ticket, TicketPct: pct, Class: class}
}
