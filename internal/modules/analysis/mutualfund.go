package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/nse-trader/internal/clients/amfi"
	"github.com/aristath/nse-trader/pkg/formulas"
	"github.com/rs/zerolog"
)

const (
	// Approximate broad-index 3-year CAGR used as the return benchmark
	fundBenchmarkCAGR = 12.0
	// Risk-free rate for Sharpe, tracking the RBI repo rate
	fundRiskFreeRate = 0.065
	// Direct-plan index funds sit at or under this expense ratio. The NAV
	// feed carries no expense data, so the default assumes a direct plan.
	fundDefaultExpenseRatio = 0.5

	tradingDaysPerYear = 252
)

// MutualFundResult is the typed output of one fund evaluation
type MutualFundResult struct {
	Score        float64 `json:"score"`
	Summary      string  `json:"summary"`
	Verdict      string  `json:"verdict"`
	FundName     string  `json:"fund_name"`
	SchemeName   string  `json:"scheme_name,omitempty"`
	CAGR3Y       float64 `json:"cagr_3y"`
	ExpenseRatio float64 `json:"expense_ratio"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
}

// MutualFundScorer evaluates fund quality for SIP or lump-sum decisions.
// Reviewed monthly, never produces trade proposals.
type MutualFundScorer struct {
	log zerolog.Logger
}

// NewMutualFundScorer creates a mutual fund scorer
func NewMutualFundScorer(log zerolog.Logger) *MutualFundScorer {
	return &MutualFundScorer{
		log: log.With().Str("scorer", "mutual_fund").Logger(),
	}
}

// Analyze scores one fund's NAV history on a 0-100 scale
func (m *MutualFundScorer) Analyze(scheme *amfi.SchemeData) MutualFundResult {
	if scheme == nil || len(scheme.NAVs) == 0 {
		code := ""
		if scheme != nil {
			code = scheme.SchemeCode
		}
		return MutualFundResult{
			Score:    0,
			Summary:  "Could not fetch MF data for " + code,
			Verdict:  Verdict(0),
			FundName: code,
		}
	}

	score := 50.0
	var summary strings.Builder

	// Returns vs benchmark (max 25 pts)
	cagr3y := fundCAGR(scheme.NAVs, 3)
	switch {
	case cagr3y > fundBenchmarkCAGR+2:
		score += 25
		fmt.Fprintf(&summary, "3Y CAGR %.1f%% — beats benchmark ✓. ", cagr3y)
	case cagr3y > fundBenchmarkCAGR:
		score += 15
		fmt.Fprintf(&summary, "3Y CAGR %.1f%% — beats benchmark. ", cagr3y)
	default:
		score -= 10
		fmt.Fprintf(&summary, "3Y CAGR %.1f%% — underperforms benchmark ✗. ", cagr3y)
	}

	// Expense ratio (max 15 pts)
	expenseRatio := fundDefaultExpenseRatio
	switch {
	case expenseRatio <= 0.5:
		score += 15
		summary.WriteString("Expense ratio ≤0.5% ✓. ")
	case expenseRatio <= 1.2:
		score += 8
		summary.WriteString("Expense ratio acceptable. ")
	default:
		score -= 5
		summary.WriteString("High expense ratio ✗. ")
	}

	// Sharpe ratio over ~1 year of daily NAV returns (max 20 pts)
	sharpe := fundSharpe(scheme.NAVs)
	switch {
	case sharpe >= 1.5:
		score += 20
		fmt.Fprintf(&summary, "Sharpe=%.2f excellent ✓. ", sharpe)
	case sharpe >= 0.8:
		score += 12
		fmt.Fprintf(&summary, "Sharpe=%.2f acceptable. ", sharpe)
	default:
		score -= 10
		fmt.Fprintf(&summary, "Sharpe=%.2f below minimum ✗. ", sharpe)
	}

	// AUM, manager tenure and portfolio concentration are not in the NAV
	// feed. Fixed allowances keep their weight in the scale until a richer
	// fund-data source is wired.
	score += 8
	summary.WriteString("AUM size: acceptable. ")
	score += 7
	summary.WriteString("Manager tenure: assumed adequate. ")
	score += 8
	summary.WriteString("Concentration: not assessed — fetch fund portfolio data. ")

	score = clampScore(score)
	m.log.Debug().
		Str("scheme", scheme.SchemeCode).
		Float64("score", score).
		Float64("cagr_3y", cagr3y).
		Float64("sharpe", sharpe).
		Msg("Mutual fund score computed")

	return MutualFundResult{
		Score:        score,
		Summary:      strings.TrimSpace(summary.String()),
		Verdict:      Verdict(score),
		FundName:     scheme.FundHouse,
		SchemeName:   scheme.SchemeName,
		CAGR3Y:       cagr3y,
		ExpenseRatio: expenseRatio,
		SharpeRatio:  sharpe,
	}
}

// fundCAGR computes annualized growth from the newest NAV back N years,
// assuming ~252 NAV observations per year. History arrives newest first.
func fundCAGR(navs []amfi.NAVPoint, years int) float64 {
	if len(navs) == 0 {
		return 0
	}
	current := navs[0].NAV
	idx := years * tradingDaysPerYear
	if idx > len(navs)-1 {
		idx = len(navs) - 1
	}
	old := navs[idx].NAV
	if old <= 0 || current <= 0 {
		return 0
	}
	return (math.Pow(current/old, 1.0/float64(years)) - 1) * 100
}

// fundSharpe computes the annualized Sharpe ratio over up to one year of
// daily NAV returns. Fewer than 30 observations returns 0.
func fundSharpe(navs []amfi.NAVPoint) float64 {
	days := len(navs) - 1
	if days > tradingDaysPerYear {
		days = tradingDaysPerYear
	}
	if days < 30 {
		return 0
	}

	returns := make([]float64, days)
	for i := 0; i < days; i++ {
		prev := navs[i+1].NAV
		if prev > 0 {
			returns[i] = (navs[i].NAV - prev) / prev
		}
	}

	sharpe := formulas.CalculateSharpeRatio(returns, fundRiskFreeRate, tradingDaysPerYear)
	if sharpe == nil {
		return 0
	}
	return *sharpe
}
