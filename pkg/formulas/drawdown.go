package formulas

// DrawdownMetrics describes how far a value series sits below its peak
type DrawdownMetrics struct {
	MaxDrawdown     float64 `json:"max_drawdown"`     // worst peak-to-trough loss, 0.25 = 25%
	CurrentDrawdown float64 `json:"current_drawdown"` // drawdown at the end of the series
	DaysInDrawdown  int     `json:"days_in_drawdown"` // observations since the peak
	PeakValue       float64 `json:"peak_value"`
	CurrentValue    float64 `json:"current_value"`
}

// CalculateMaxDrawdown returns the worst peak-to-trough decline in the
// series as a positive fraction, or nil for fewer than two points.
func CalculateMaxDrawdown(prices []float64) *float64 {
	if len(prices) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := prices[0]

	for _, price := range prices {
		if price > peak {
			peak = price
		}
		if peak > 0 {
			if dd := (peak - price) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	return &maxDrawdown
}

// CalculateDrawdownMetrics reports the full drawdown picture for a series:
// worst drawdown, the current one, and how long the series has been below
// its peak.
func CalculateDrawdownMetrics(prices []float64) *DrawdownMetrics {
	if len(prices) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := prices[0]
	peakIndex := 0
	currentValue := prices[len(prices)-1]

	for i, price := range prices {
		if price > peak {
			peak = price
			peakIndex = i
		}
		if peak > 0 {
			if dd := (peak - price) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	currentDrawdown := 0.0
	if peak > 0 {
		currentDrawdown = (peak - currentValue) / peak
	}

	return &DrawdownMetrics{
		MaxDrawdown:     maxDrawdown,
		CurrentDrawdown: currentDrawdown,
		DaysInDrawdown:  len(prices) - 1 - peakIndex,
		PeakValue:       peak,
		CurrentValue:    currentValue,
	}
}
