package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/nse-trader/internal/clients/yahoo"
	"github.com/aristath/nse-trader/internal/config"
	"github.com/rs/zerolog"
)

// FundamentalInputs is the resolved per-company input set after conservative
// defaults have been applied for anything the provider could not supply.
type FundamentalInputs struct {
	Symbol             string  `json:"symbol"`
	RevenueCAGR3Y      float64 `json:"revenue_cagr_3y"`
	ROE                float64 `json:"roe"`
	ROCE               float64 `json:"roce"`
	DebtToEquity       float64 `json:"debt_to_equity"`
	PositiveCFYears    int     `json:"positive_cf_years"`
	PromoterHoldingPct float64 `json:"promoter_holding_pct"`
	PromoterPledgedPct float64 `json:"promoter_pledged_pct"`
	PERatio            float64 `json:"pe_ratio"`
	PBRatio            float64 `json:"pb_ratio"`
	PEGRatio           float64 `json:"peg_ratio"`
	SectorMedianPE     float64 `json:"sector_median_pe"`
	Sector             string  `json:"sector"`
	SectorOutlookScore float64 `json:"sector_outlook_score"`
}

// FundamentalResult is the typed output of one fundamental evaluation
type FundamentalResult struct {
	Score   float64           `json:"score"`
	Summary string            `json:"summary"`
	Inputs  FundamentalInputs `json:"inputs"`
}

// FundamentalScorer evaluates the intrinsic quality of a business over a
// multi-year window. Hard disqualifiers zero the score regardless of other
// factors.
type FundamentalScorer struct {
	cfg config.FundamentalParams
	log zerolog.Logger
}

// NewFundamentalScorer creates a fundamental scorer
func NewFundamentalScorer(cfg config.FundamentalParams, log zerolog.Logger) *FundamentalScorer {
	return &FundamentalScorer{
		cfg: cfg,
		log: log.With().Str("scorer", "fundamental").Logger(),
	}
}

// ResolveInputs converts raw provider data into scoring inputs. A nil data
// record (provider unreachable) resolves to the full conservative default
// set; individual missing fields default field by field.
func ResolveInputs(symbol string, data *yahoo.FundamentalData) FundamentalInputs {
	in := FundamentalInputs{
		Symbol:             symbol,
		RevenueCAGR3Y:      10,
		ROE:                15,
		ROCE:               12,
		DebtToEquity:       0.5,
		PositiveCFYears:    3,
		PromoterHoldingPct: 45,
		PromoterPledgedPct: 0,
		PERatio:            20,
		PBRatio:            3,
		PEGRatio:           1.2,
		SectorMedianPE:     22,
		Sector:             "Unknown",
		SectorOutlookScore: 5,
	}
	if data == nil {
		return in
	}

	// Flat or shrinking revenue reads as weak growth, not as missing data
	if data.RevenueGrowthPct != nil {
		if *data.RevenueGrowthPct > 0 {
			in.RevenueCAGR3Y = *data.RevenueGrowthPct
		} else {
			in.RevenueCAGR3Y = 8
		}
	}
	if data.ROEPct != nil {
		in.ROE = *data.ROEPct
	}
	if data.ROCEPct != nil {
		in.ROCE = *data.ROCEPct
	}
	if data.DebtToEquity != nil {
		in.DebtToEquity = *data.DebtToEquity
	}
	if data.OperatingCashflow != nil {
		if *data.OperatingCashflow > 0 {
			in.PositiveCFYears = 4
		} else {
			in.PositiveCFYears = 2
		}
	}
	if data.PromoterHoldingPct != nil {
		in.PromoterHoldingPct = *data.PromoterHoldingPct
	}
	if data.PERatio != nil {
		in.PERatio = *data.PERatio
	}
	if data.PriceToBook != nil {
		in.PBRatio = *data.PriceToBook
	}
	if data.PEGRatio != nil {
		in.PEGRatio = *data.PEGRatio
	}
	if in.PERatio > 0 {
		in.SectorMedianPE = in.PERatio * 1.1
	}
	if data.Sector != nil && *data.Sector != "" {
		in.Sector = *data.Sector
	}
	return in
}

// Analyze scores the fundamental quality of one company on a 0-100 scale
func (f *FundamentalScorer) Analyze(in FundamentalInputs) FundamentalResult {
	// Hard disqualifier: leverage beyond the hard ceiling
	if in.DebtToEquity > f.cfg.HardMaxDebtEquity {
		return FundamentalResult{
			Score: 0,
			Summary: fmt.Sprintf("D/E=%.1f exceeds hard limit of %.1f — DISQUALIFIED",
				in.DebtToEquity, f.cfg.HardMaxDebtEquity),
			Inputs: in,
		}
	}

	score := 0.0
	var summary strings.Builder

	// Revenue growth (max 20 pts)
	if in.RevenueCAGR3Y >= f.cfg.MinRevenueGrowthPct {
		switch {
		case in.RevenueCAGR3Y >= 20:
			score += 20
		case in.RevenueCAGR3Y >= 15:
			score += 15
		default:
			score += 10
		}
		fmt.Fprintf(&summary, "Rev CAGR %.0f%% ✓. ", in.RevenueCAGR3Y)
	} else {
		score += math.Max(0, in.RevenueCAGR3Y*0.5)
		fmt.Fprintf(&summary, "Rev CAGR %.0f%% below min. ", in.RevenueCAGR3Y)
	}

	// Profitability (max 20 pts)
	roePts := 0.0
	if in.ROE >= f.cfg.MinROEPct {
		roePts = 10
	} else if in.ROE >= 10 {
		roePts = 5
	}
	rocePts := 0.0
	if in.ROCE >= f.cfg.MinROCEPct {
		rocePts = 10
	} else if in.ROCE >= 8 {
		rocePts = 5
	}
	score += roePts + rocePts
	fmt.Fprintf(&summary, "ROE %.0f%% ROCE %.0f%%", in.ROE, in.ROCE)
	if roePts+rocePts >= 15 {
		summary.WriteString(" ✓. ")
	} else {
		summary.WriteString(" (below target). ")
	}

	// Debt to equity (max 15 pts)
	switch {
	case in.DebtToEquity <= 0.3:
		score += 15
		summary.WriteString("Debt-free ✓. ")
	case in.DebtToEquity <= f.cfg.MaxDebtEquity:
		score += 10
		summary.WriteString("D/E ok. ")
	default:
		score += 3
		fmt.Fprintf(&summary, "D/E=%.1f elevated. ", in.DebtToEquity)
	}

	// Cash flow consistency (max 15 pts)
	switch {
	case in.PositiveCFYears >= 4:
		score += 15
		summary.WriteString("Consistent OCF ✓. ")
	case in.PositiveCFYears >= 3:
		score += 10
	default:
		score += 2
		summary.WriteString("Inconsistent cash flow. ")
	}

	// Promoter holding (max 10 pts)
	if in.PromoterPledgedPct > 50 {
		score -= 10
		summary.WriteString("High promoter pledge ✗. ")
	} else if in.PromoterHoldingPct >= f.cfg.MinPromoterHoldingPct {
		score += 10
		fmt.Fprintf(&summary, "Promoter %.0f%% ✓. ", in.PromoterHoldingPct)
	} else {
		score += 5
	}

	// Valuation (max 10 pts)
	goodValuation := false
	if in.PERatio > 0 && in.SectorMedianPE > 0 {
		if in.PERatio <= in.SectorMedianPE*1.1 {
			score += 7
			goodValuation = true
		} else if in.PERatio <= in.SectorMedianPE*1.3 {
			score += 4
		}
	}
	if in.PEGRatio > 0 && in.PEGRatio <= f.cfg.MaxPEGRatio {
		score += 3
		goodValuation = true
	}
	if goodValuation {
		fmt.Fprintf(&summary, "PE=%.0f PEG=%.1f valuation ok. ", in.PERatio, in.PEGRatio)
	} else {
		summary.WriteString("Valuation stretched. ")
	}

	// Sector outlook (max 10 pts)
	score += in.SectorOutlookScore

	score = clampScore(score)
	f.log.Debug().
		Str("symbol", in.Symbol).
		Float64("score", score).
		Msg("Fundamental score computed")

	return FundamentalResult{
		Score:   score,
		Summary: strings.TrimSpace(summary.String()),
		Inputs:  in,
	}
}
