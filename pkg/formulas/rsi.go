package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateRSI returns the latest Wilder RSI value over the given period,
// or nil when the series is shorter than period+1 closes.
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}
