package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// SMA calculates the simple moving average and returns the latest value,
// or nil if there is insufficient data
func SMA(values []float64, period int) *float64 {
	series := SMASeries(values, period)
	if len(series) == 0 {
		return nil
	}
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}

// SMASeries calculates the full simple moving average series. Leading
// entries (fewer than period inputs) are zero, matching talib convention.
func SMASeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	return talib.Sma(values, period)
}

// MACDSeries calculates the MACD(12,26) line and its 9-period EMA signal
// line. Returns nil slices if there is insufficient data.
func MACDSeries(closes []float64) (macdLine, signalLine []float64) {
	// talib needs at least slowPeriod + signalPeriod bars
	if len(closes) < 35 {
		return nil, nil
	}
	macdLine, signalLine, _ = talib.Macd(closes, 12, 26, 9)
	return macdLine, signalLine
}

// Highest returns the maximum of the last n values, or nil if fewer exist
func Highest(values []float64, n int) *float64 {
	if len(values) < n || n <= 0 {
		return nil
	}
	window := values[len(values)-n:]
	high := window[0]
	for _, v := range window {
		if v > high {
			high = v
		}
	}
	return &high
}

// Lowest returns the minimum of the last n values, or nil if fewer exist
func Lowest(values []float64, n int) *float64 {
	if len(values) < n || n <= 0 {
		return nil
	}
	window := values[len(values)-n:]
	low := window[0]
	for _, v := range window {
		if v < low {
			low = v
		}
	}
	return &low
}
