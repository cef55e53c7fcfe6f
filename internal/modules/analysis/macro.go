package analysis

import (
	"fmt"
	"strings"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/rs/zerolog"
)

// MacroResult is the typed output of one macro evaluation
type MacroResult struct {
	Score             float64             `json:"score"`
	Summary           string              `json:"summary"`
	NewBuysSuppressed bool                `json:"new_buys_suppressed"`
	ConfidencePenalty int                 `json:"confidence_penalty"`
	Regime            domain.MarketRegime `json:"regime"`
}

// MacroScorer evaluates market-wide conditions. It acts as a filter over all
// per-stock signals: it can suppress new buys outright or shave confidence
// across the board via the penalty.
type MacroScorer struct {
	cfg config.MacroParams
	log zerolog.Logger
}

// NewMacroScorer creates a macro scorer
func NewMacroScorer(cfg config.MacroParams, log zerolog.Logger) *MacroScorer {
	return &MacroScorer{
		cfg: cfg,
		log: log.With().Str("scorer", "macro").Logger(),
	}
}

// Analyze scores the macro environment on a 0-100 scale. When new buys are
// suppressed the score is 0 and only the reason is reported.
func (m *MacroScorer) Analyze(snap domain.MacroSnapshot) MacroResult {
	if snap.NewBuysSuppressed {
		reason := "Nifty significantly below 200 DMA — bear market mode"
		if snap.VIX > m.cfg.VIXNoBuys {
			reason = fmt.Sprintf("India VIX=%.1f > %.0f — all new buys SUPPRESSED",
				snap.VIX, m.cfg.VIXNoBuys)
		}
		return MacroResult{
			Score:             0,
			Summary:           reason,
			NewBuysSuppressed: true,
			Regime:            snap.Regime,
		}
	}

	score := 50.0
	penalty := 0
	var summary strings.Builder

	// India VIX
	switch {
	case snap.VIX < m.cfg.VIXFavorable:
		score += 20
		fmt.Fprintf(&summary, "VIX=%.1f favorable ✓. ", snap.VIX)
	case snap.VIX < m.cfg.VIXCaution:
		score += 8
		fmt.Fprintf(&summary, "VIX=%.1f neutral. ", snap.VIX)
	default:
		score -= 15
		penalty += 10
		fmt.Fprintf(&summary, "VIX=%.1f elevated — caution. ", snap.VIX)
	}

	// Index vs its 200-day mean
	pctAbove := snap.IndexDeviationPct
	switch {
	case pctAbove > 0 && pctAbove <= 10:
		score += 15
		fmt.Fprintf(&summary, "Nifty %.1f%% above 200 DMA ✓. ", pctAbove)
	case pctAbove > 10 && pctAbove <= 20:
		score += 8
		penalty += 5
		fmt.Fprintf(&summary, "Nifty %.1f%% above 200 DMA — avoid FOMO tops. ", pctAbove)
	case pctAbove <= 0 && pctAbove > -5:
		score -= 8
		summary.WriteString("Nifty near/below 200 DMA — defensive mode. ")
	case pctAbove <= -5:
		score -= 20
		summary.WriteString("Nifty well below 200 DMA — bear market warning. ")
	default:
		// more than 20% above the long mean
		score -= 5
		penalty += 8
		fmt.Fprintf(&summary, "Nifty %.1f%% above 200 DMA — extended. ", pctAbove)
	}

	// Foreign institutional flows
	sellingDays := snap.ConsecutiveFIISellingDays()
	netFlow := snap.LatestFIINetFlow()
	if sellingDays >= m.cfg.FIISellingStreakDay {
		score -= 15
		penalty += 15
		fmt.Fprintf(&summary, "FII selling %d consecutive days ✗. ", sellingDays)
	} else if netFlow > 0 {
		score += 10
		summary.WriteString("FII net buying ✓. ")
	} else if netFlow < -1000 {
		score -= 5
		summary.WriteString("FII net selling — caution. ")
	}

	// Regime adjustment
	switch snap.Regime {
	case domain.RegimeBull:
		score += 10
		summary.WriteString("Bull market regime ✓. ")
	case domain.RegimeBear:
		score -= 20
		summary.WriteString("Bear market regime ✗. ")
	case domain.RegimeHighVolatility:
		score -= 10
		summary.WriteString("High volatility regime — reduce sizes. ")
	default:
		summary.WriteString("Sideways market — selective entries only. ")
	}

	// Rate cycle: an elevated repo rate is hawkish for rate-sensitive sectors
	if snap.RepoRate > 6.5 {
		score -= 5
		summary.WriteString("Elevated repo rate — NBFC/real estate caution. ")
	}

	score = clampScore(score)
	m.log.Debug().
		Float64("score", score).
		Float64("vix", snap.VIX).
		Float64("pct_above_200dma", pctAbove).
		Str("regime", string(snap.Regime)).
		Msg("Macro score computed")

	return MacroResult{
		Score:             score,
		Summary:           strings.TrimSpace(summary.String()),
		NewBuysSuppressed: false,
		ConfidencePenalty: penalty,
		Regime:            snap.Regime,
	}
}
