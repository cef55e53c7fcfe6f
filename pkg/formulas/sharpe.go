package formulas

import (
	"math"
)

// CalculateSharpeRatio computes the annualized Sharpe ratio for a series
// of periodic returns. riskFreeRate is annual (0.065 for 6.5%);
// periodsPerYear annualizes both the excess return and the ratio (252 for
// daily returns). Returns nil on fewer than two observations or zero
// variance.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (Mean(returns) - periodicRiskFree) / stdDev

	annualized := sharpe * math.Sqrt(float64(periodsPerYear))
	return &annualized
}
