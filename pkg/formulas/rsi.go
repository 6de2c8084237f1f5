package formulas

import "github.com/markcheno/go-talib"

// RSI returns the latest Relative Strength Index value over the given
// period, or (0, false) when the series is too short or the indicator
// is undefined.
func RSI(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}

	series := talib.Rsi(closes, period)
	if len(series) == 0 {
		return 0, false
	}
	last := series[len(series)-1]
	if last != last { // NaN
		return 0, false
	}
	return last, true
}
