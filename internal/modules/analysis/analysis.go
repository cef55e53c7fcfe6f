// Package analysis holds the scorers that turn raw market and company data
// into bounded 0-100 scores: fundamental quality, technical setup, macro
// context and mutual-fund quality. Scorers are pure; fetching and caching
// live in the sources alongside them.
package analysis

import "math"

// clampScore bounds a score to the [0,100] scale shared by all scorers
func clampScore(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}

// Verdict maps a composite score to a human-readable call
func Verdict(score float64) string {
	switch {
	case score >= 80:
		return "STRONG BUY"
	case score >= 65:
		return "BUY"
	case score >= 50:
		return "HOLD"
	default:
		return "AVOID"
	}
}
