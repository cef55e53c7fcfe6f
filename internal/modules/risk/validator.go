// Package risk enforces the hard pre-trade rules. A single blocking
// failure rejects the proposal regardless of its confidence score.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/rs/zerolog"
)

// Result reports the rule outcomes for one proposal. A failed result
// carries only failures; warnings surface only on a pass.
type Result struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// PortfolioValue reports the portfolio value used for exposure percentages
type PortfolioValue interface {
	Value() float64
}

// BuyCounter is the slice of the trade store the weekly-budget rule reads
type BuyCounter interface {
	CountBuysSince(since time.Time) (int, error)
}

// Validator applies the full rule set to one proposal at a time
type Validator struct {
	strategy  *config.Strategy
	trades    BuyCounter
	portfolio PortfolioValue
	log       zerolog.Logger
	now       func() time.Time
}

// NewValidator creates the risk validator
func NewValidator(strategy *config.Strategy, trades BuyCounter, portfolio PortfolioValue, log zerolog.Logger) *Validator {
	return &Validator{
		strategy:  strategy,
		trades:    trades,
		portfolio: portfolio,
		log:       log.With().Str("service", "risk").Logger(),
		now:       time.Now,
	}
}

// Validate checks every rule and collects all violations rather than
// stopping at the first
func (v *Validator) Validate(sig *domain.TradeSignal, openPositions []*domain.TradeRecord) Result {
	var failures, warnings []string

	risk := v.strategy.Risk
	filters := v.strategy.Filters
	sizing := v.strategy.Sizing
	portfolio := v.strategy.Portfolio

	entry := sig.EntryPrice
	stop := sig.StopLoss

	// 1. Penny-stock filter
	if entry < filters.MinStockPrice {
		failures = append(failures,
			fmt.Sprintf("PENNY STOCK: price ₹%.2f < minimum ₹%.0f", entry, filters.MinStockPrice))
	}

	// 2. Minimum risk-reward
	if sig.RRRatio < risk.MinRiskRewardRatio {
		failures = append(failures,
			fmt.Sprintf("R:R %.2f below minimum %.1f", sig.RRRatio, risk.MinRiskRewardRatio))
	}

	// 3. Stop-loss distance bounds
	slPct := math.Abs(entry-stop) / entry * 100
	if slPct < risk.MinStopLossPct {
		failures = append(failures,
			fmt.Sprintf("Stop-loss %.1f%% below minimum %.0f%%", slPct, risk.MinStopLossPct))
	}
	if slPct > risk.MaxStopLossPct {
		failures = append(failures,
			fmt.Sprintf("Stop-loss %.1f%% exceeds maximum %.0f%%", slPct, risk.MaxStopLossPct))
	}

	// 4. Target above entry for a BUY
	if sig.TargetPrice <= entry {
		failures = append(failures, "Target price must be above entry price for BUY signal")
	}

	// 5. Hard single-stock cap
	if sig.AllocationPct > sizing.HardCapSingleStockPct {
		failures = append(failures,
			fmt.Sprintf("Allocation %.1f%% exceeds hard cap %.0f%%", sig.AllocationPct, sizing.HardCapSingleStockPct))
	}

	// 6. Open-position ceiling
	active := 0
	for _, p := range openPositions {
		if p.Status == domain.StatusExecuted {
			active++
		}
	}
	if active >= portfolio.MaxOpenPositions {
		failures = append(failures,
			fmt.Sprintf("Max open positions reached: %d/%d", active, portfolio.MaxOpenPositions))
	}

	// 7. Emergency cash buffer
	if !sig.CashBufferOK {
		failures = append(failures, "Trade would breach emergency cash buffer")
	}

	// 8. Sector concentration
	exposure := sectorExposurePct(sig.Sector, openPositions, v.portfolio.Value())
	if exposure+sig.AllocationPct > sizing.MaxSectorPct {
		failures = append(failures,
			fmt.Sprintf("Sector '%s' exposure %.1f%% would exceed %.0f%% limit",
				sig.Sector, exposure+sig.AllocationPct, sizing.MaxSectorPct))
	}

	// 9. No averaging down
	for _, p := range openPositions {
		if p.Status == domain.StatusExecuted && p.Symbol == sig.Symbol {
			failures = append(failures,
				fmt.Sprintf("Already holding %s — no averaging down allowed", sig.Symbol))
			break
		}
	}

	// 10. LIMIT orders only
	if strings.EqualFold(v.strategy.Execution.OrderType, "MARKET") {
		failures = append(failures, "Market orders are prohibited — use LIMIT orders only")
	}

	// 11. Margin flag
	if v.strategy.Execution.AllowMargin {
		warnings = append(warnings, "Margin trading is enabled — use with extreme caution")
	}

	// 12. Weekly buy budget
	newBuys, err := v.trades.CountBuysSince(v.now().AddDate(0, 0, -7))
	if err != nil {
		v.log.Warn().Err(err).Msg("Weekly buy count unavailable, treating as zero")
	} else if newBuys >= risk.MaxNewBuysPerWeek {
		failures = append(failures,
			fmt.Sprintf("Max new buys per week reached: %d/%d", newBuys, risk.MaxNewBuysPerWeek))
	}

	// 13. Minimum position size
	if sig.Allocation < sizing.MinPositionSize {
		failures = append(failures,
			fmt.Sprintf("Allocation ₹%.0f below minimum ₹%.0f", sig.Allocation, sizing.MinPositionSize))
	}

	// Non-blocking advisories
	if sig.Confidence.Composite < 70 {
		warnings = append(warnings,
			fmt.Sprintf("Moderate confidence %.0f%% — consider reducing position size by 50%%", sig.Confidence.Composite))
	}
	if slPct > 10 {
		warnings = append(warnings, fmt.Sprintf("Wide stop-loss %.1f%% — high risk trade", slPct))
	}

	if len(failures) > 0 {
		v.log.Info().
			Str("symbol", sig.Symbol).
			Int("violations", len(failures)).
			Str("reasons", strings.Join(failures, "; ")).
			Msg("Risk validation FAILED")
		return Result{Passed: false, Failures: failures}
	}

	v.log.Info().
		Str("symbol", sig.Symbol).
		Int("warnings", len(warnings)).
		Msg("Risk validation PASSED")
	return Result{Passed: true, Warnings: warnings}
}

// sectorExposurePct sums the allocation of executed positions in the
// sector as a percentage of the portfolio
func sectorExposurePct(sector string, openPositions []*domain.TradeRecord, portfolioValue float64) float64 {
	if sector == "" || portfolioValue <= 0 {
		return 0
	}
	capital := 0.0
	for _, p := range openPositions {
		if p.Status == domain.StatusExecuted && strings.EqualFold(p.Sector, sector) {
			capital += p.Allocation
		}
	}
	return capital / portfolioValue * 100
}
