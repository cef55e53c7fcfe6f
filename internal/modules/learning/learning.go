// Package learning reduces closed-trade history into performance insights:
// win rates, confidence calibration, sector performance and rejection
// patterns. It is purely observational. It never modifies trading rules;
// flagged patterns are for manual parameter review.
package learning

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/modules/reports"
)

// PerformanceStats aggregates the outcomes of a set of closed trades. A
// trade counts as a win when it reached its target.
type PerformanceStats struct {
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	AvgWinPct    float64
	AvgLossPct   float64
	WinLossRatio float64
	TotalPnL     float64
}

// Service runs the periodic reviews and the store-backed reducers.
type Service struct {
	trades domain.TradeStore
	chat   domain.Chat
	log    zerolog.Logger

	now func() time.Time
}

// NewService creates a new learning service
func NewService(trades domain.TradeStore, chat domain.Chat, log zerolog.Logger) *Service {
	return &Service{
		trades: trades,
		chat:   chat,
		log:    log.With().Str("service", "learning").Logger(),
		now:    time.Now,
	}
}

// MonthlyReview summarizes the past month of closed trades and pushes the
// report to chat. Quiet months are skipped without a message.
func (s *Service) MonthlyReview() {
	s.log.Info().Msg("Running monthly review")

	now := s.now()
	closed, err := s.trades.GetClosedBetween(now.AddDate(0, -1, 0), now)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not load closed trades for review")
		return
	}
	if len(closed) == 0 {
		s.log.Info().Msg("No closed trades in the past month, skipping review")
		return
	}

	stats := Stats(closed)
	s.log.Info().
		Int("trades", stats.TotalTrades).
		Float64("win_rate", stats.WinRate).
		Float64("total_pnl", stats.TotalPnL).
		Msg("Monthly review complete")

	if err := s.chat.Send(reports.Alert("📈 MONTHLY PERFORMANCE REVIEW", monthlyReport(stats, closed))); err != nil {
		s.log.Warn().Err(err).Msg("Could not send monthly review")
	}
}

// RejectionAnalysis summarizes why the operator rejected signals. Frequent
// reasons hint at approval criteria worth revisiting.
func (s *Service) RejectionAnalysis() string {
	rejected, err := s.trades.GetByStatus(domain.StatusRejected)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not load rejected signals")
		return "Rejection analysis unavailable."
	}
	if len(rejected) == 0 {
		return "No rejected signals to analyse."
	}

	counts := make(map[string]int)
	for _, t := range rejected {
		if t.RejectionReason != "" {
			counts[t.RejectionReason]++
		}
	}

	type reasonCount struct {
		reason string
		count  int
	}
	ranked := make([]reasonCount, 0, len(counts))
	for reason, count := range counts {
		ranked = append(ranked, reasonCount{reason, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].reason < ranked[j].reason
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rejected Signal Analysis (%d signals):\n", len(rejected))
	b.WriteString("Top rejection reasons:\n")
	for _, rc := range ranked {
		fmt.Fprintf(&b, "  • %s (%d times)\n", rc.reason, rc.count)
	}
	return b.String()
}

// Stats computes the aggregate outcome numbers for a set of closed trades.
func Stats(trades []*domain.TradeRecord) PerformanceStats {
	stats := PerformanceStats{TotalTrades: len(trades)}

	var winSum, lossSum float64
	var winN, lossN int
	for _, t := range trades {
		if t.TargetHit {
			stats.Wins++
			if t.PnLPercent != nil {
				winSum += *t.PnLPercent
				winN++
			}
		} else if t.PnLPercent != nil {
			lossSum += *t.PnLPercent
			lossN++
		}
		if t.RealizedPnL != nil {
			stats.TotalPnL += *t.RealizedPnL
		}
	}

	stats.Losses = stats.TotalTrades - stats.Wins
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
	}
	if winN > 0 {
		stats.AvgWinPct = winSum / float64(winN)
	}
	if lossN > 0 {
		stats.AvgLossPct = lossSum / float64(lossN)
	}
	if stats.AvgLossPct != 0 {
		stats.WinLossRatio = math.Abs(stats.AvgWinPct / stats.AvgLossPct)
	}
	return stats
}

// Calibration buckets closed trades by confidence band and reports the win
// rate per band. A well-calibrated model wins more often at higher bands.
func Calibration(trades []*domain.TradeRecord) string {
	if len(trades) < 10 {
		return "Insufficient data for calibration (need 10+ closed trades)"
	}

	type bracket struct {
		label  string
		trades []*domain.TradeRecord
	}
	brackets := []bracket{
		{label: "85-100 (High)"},
		{label: "70-84 (Strong)"},
		{label: "60-69 (Moderate)"},
	}
	for _, t := range trades {
		switch {
		case t.CompositeScore >= 85:
			brackets[0].trades = append(brackets[0].trades, t)
		case t.CompositeScore >= 70:
			brackets[1].trades = append(brackets[1].trades, t)
		default:
			brackets[2].trades = append(brackets[2].trades, t)
		}
	}

	var b strings.Builder
	b.WriteString("Confidence Calibration:\n")
	for _, br := range brackets {
		if len(br.trades) == 0 {
			continue
		}
		wins := countWins(br.trades)
		winRate := float64(wins) / float64(len(br.trades)) * 100
		fmt.Fprintf(&b, "  %s: %.0f%% win rate (%d/%d trades)\n",
			br.label, winRate, wins, len(br.trades))
	}
	return b.String()
}

// SectorAnalysis reports win rate and average P&L per sector, best first.
func SectorAnalysis(trades []*domain.TradeRecord) string {
	bySector := make(map[string][]*domain.TradeRecord)
	for _, t := range trades {
		if strings.TrimSpace(t.Sector) == "" {
			continue
		}
		bySector[t.Sector] = append(bySector[t.Sector], t)
	}

	type sectorStat struct {
		sector  string
		winRate float64
		avgPnL  float64
		trades  int
	}
	stats := make([]sectorStat, 0, len(bySector))
	for sector, ts := range bySector {
		wins := countWins(ts)
		var pnlSum float64
		var pnlN int
		for _, t := range ts {
			if t.PnLPercent != nil {
				pnlSum += *t.PnLPercent
				pnlN++
			}
		}
		var avgPnL float64
		if pnlN > 0 {
			avgPnL = pnlSum / float64(pnlN)
		}
		stats = append(stats, sectorStat{
			sector:  sector,
			winRate: float64(wins) / float64(len(ts)) * 100,
			avgPnL:  avgPnL,
			trades:  len(ts),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].winRate != stats[j].winRate {
			return stats[i].winRate > stats[j].winRate
		}
		return stats[i].sector < stats[j].sector
	})

	var b strings.Builder
	b.WriteString("Sector Performance:\n")
	for _, st := range stats {
		fmt.Fprintf(&b, "  %s: %.0f%% win rate | avg P&L %.1f%% (%d trades)\n",
			st.sector, st.winRate, st.avgPnL, st.trades)
	}
	return b.String()
}

func monthlyReport(stats PerformanceStats, trades []*domain.TradeRecord) string {
	sign := ""
	if stats.TotalPnL >= 0 {
		sign = "+"
	}
	return fmt.Sprintf(
		"Period: Last 30 days\n"+
			"Total trades  : %d\n"+
			"Win / Loss    : %d / %d (%.0f%% win rate)\n"+
			"Avg Win       : +%.1f%%\n"+
			"Avg Loss      : %.1f%%\n"+
			"Win/Loss Ratio: %.2f\n"+
			"Total P&L     : %s₹%.0f\n\n"+
			"%s\n%s",
		stats.TotalTrades, stats.Wins, stats.Losses, stats.WinRate,
		stats.AvgWinPct, stats.AvgLossPct, stats.WinLossRatio,
		sign, stats.TotalPnL,
		Calibration(trades), SectorAnalysis(trades))
}

func countWins(trades []*domain.TradeRecord) int {
	n := 0
	for _, t := range trades {
		if t.TargetHit {
			n++
		}
	}
	return n
}
