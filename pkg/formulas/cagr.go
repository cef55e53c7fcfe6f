package formulas

import (
	"math"
	"time"
)

// PricePoint is a dated price or NAV observation
type PricePoint struct {
	Date  time.Time
	Value float64
}

// CalculateCAGR computes the compound annual growth rate across the full
// span of a dated series. Returns nil when the series spans less than six
// months or has non-positive endpoints.
func CalculateCAGR(points []PricePoint) *float64 {
	if len(points) < 2 {
		return nil
	}

	first := points[0]
	last := points[len(points)-1]

	years := last.Date.Sub(first.Date).Hours() / (24 * 365.25)
	if years < 0.5 || first.Value <= 0 || last.Value <= 0 {
		return nil
	}

	cagr := math.Pow(last.Value/first.Value, 1/years) - 1
	return &cagr
}

// CAGRBetween computes the compound annual growth rate between two values
// over a known span in years. Returns nil on non-positive inputs.
func CAGRBetween(startValue, endValue, years float64) *float64 {
	if startValue <= 0 || endValue <= 0 || years <= 0 {
		return nil
	}

	cagr := math.Pow(endValue/startValue, 1/years) - 1
	return &cagr
}
