package analysis

import (
	"testing"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testMacroParams() config.MacroParams {
	return config.MacroParams{
		VIXNoBuys:           25,
		VIXCaution:          20,
		VIXFavorable:        15,
		FIISellingStreakDay: 10,
	}
}

func TestMacroSuppressedByVIX(t *testing.T) {
	scorer := NewMacroScorer(testMacroParams(), zerolog.Nop())

	result := scorer.Analyze(domain.MacroSnapshot{
		VIX:               28,
		NewBuysSuppressed: true,
		Regime:            domain.RegimeBear,
	})

	assert.Equal(t, 0.0, result.Score)
	assert.True(t, result.NewBuysSuppressed)
	assert.Equal(t, 0, result.ConfidencePenalty)
	assert.Contains(t, result.Summary, "SUPPRESSED")
	assert.Equal(t, domain.RegimeBear, result.Regime)
}

func TestMacroSuppressedByIndexWeakness(t *testing.T) {
	scorer := NewMacroScorer(testMacroParams(), zerolog.Nop())

	result := scorer.Analyze(domain.MacroSnapshot{
		VIX:               18,
		NewBuysSuppressed: true,
		Regime:            domain.RegimeBear,
	})

	assert.Equal(t, 0.0, result.Score)
	assert.True(t, result.NewBuysSuppressed)
	assert.Contains(t, result.Summary, "bear market mode")
}

func TestMacroFavorableEnvironment(t *testing.T) {
	scorer := NewMacroScorer(testMacroParams(), zerolog.Nop())

	result := scorer.Analyze(domain.MacroSnapshot{
		VIX:               12,
		IndexDeviationPct: 5,
		FIINetFlows:       []float64{200, 500},
		Regime:            domain.RegimeBull,
		RepoRate:          6.5,
	})

	// 50 +20 (VIX) +15 (index) +10 (FII buying) +10 (bull) = 105, clamped
	assert.Equal(t, 100.0, result.Score)
	assert.Equal(t, 0, result.ConfidencePenalty)
	assert.False(t, result.NewBuysSuppressed)
}

func TestMacroNeutralDefault(t *testing.T) {
	scorer := NewMacroScorer(testMacroParams(), zerolog.Nop())

	result := scorer.Analyze(domain.NeutralMacroSnapshot())

	// 50 +8 (VIX 15 is neutral, not favorable) +15 (4.76% above mean) = 73
	assert.InDelta(t, 73.0, result.Score, 0.001)
	assert.Equal(t, 0, result.ConfidencePenalty)
	assert.False(t, result.NewBuysSuppressed)
	assert.Contains(t, result.Summary, "Sideways")
}

func TestMacroStressedEnvironment(t *testing.T) {
	scorer := NewMacroScorer(testMacroParams(), zerolog.Nop())

	selling := make([]float64, 12)
	for i := range selling {
		selling[i] = -800
	}

	result := scorer.Analyze(domain.MacroSnapshot{
		VIX:               22,
		IndexDeviationPct: -2,
		FIINetFlows:       selling,
		Regime:            domain.RegimeHighVolatility,
		RepoRate:          6.75,
	})

	// 50 -15 -8 -15 -10 -5 = -3, clamped to 0
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, 25, result.ConfidencePenalty)
	assert.Contains(t, result.Summary, "FII selling 12 consecutive days")
}

func TestMacroExtendedIndexPenalty(t *testing.T) {
	scorer := NewMacroScorer(testMacroParams(), zerolog.Nop())

	result := scorer.Analyze(domain.MacroSnapshot{
		VIX:               12,
		IndexDeviationPct: 24,
		Regime:            domain.RegimeBull,
	})

	// 50 +20 (VIX) -5 (extended) +10 (bull) = 75, with an 8-point penalty
	assert.InDelta(t, 75.0, result.Score, 0.001)
	assert.Equal(t, 8, result.ConfidencePenalty)
	assert.Contains(t, result.Summary, "extended")
}
