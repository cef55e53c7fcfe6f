package learning

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nse-trader/internal/domain"
)

type stubChat struct {
	mu   sync.Mutex
	sent []string
}

func (c *stubChat) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *stubChat) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type stubStore struct {
	records []*domain.TradeRecord
}

func (s *stubStore) Create(t *domain.TradeRecord) error { return nil }
func (s *stubStore) Update(t *domain.TradeRecord) error { return nil }

func (s *stubStore) GetByID(tradeID string) (*domain.TradeRecord, error) { return nil, nil }

func (s *stubStore) GetByStatus(status domain.SignalStatus) ([]*domain.TradeRecord, error) {
	var out []*domain.TradeRecord
	for _, record := range s.records {
		if record.Status == status {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *stubStore) GetByStatusSince(status domain.SignalStatus, since time.Time) ([]*domain.TradeRecord, error) {
	return nil, nil
}

func (s *stubStore) GetSince(since time.Time) ([]*domain.TradeRecord, error) { return nil, nil }

func (s *stubStore) GetClosedBetween(from, to time.Time) ([]*domain.TradeRecord, error) {
	var out []*domain.TradeRecord
	for _, record := range s.records {
		if record.Status != domain.StatusClosed || record.ClosedAt == nil {
			continue
		}
		if record.ClosedAt.Before(from) || record.ClosedAt.After(to) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *stubStore) CountByStatus(status domain.SignalStatus) (int, error) { return 0, nil }
func (s *stubStore) CountBuysSince(since time.Time) (int, error)           { return 0, nil }
func (s *stubStore) ExistsOpen(symbol string) (bool, error)                { return false, nil }
func (s *stubStore) SectorExposure(sector string) (float64, error)         { return 0, nil }

var reviewNow = time.Date(2025, time.April, 1, 7, 0, 0, 0, time.UTC)

func closedTrade(id string, composite float64, sector string, targetHit bool, pnlPct, pnl float64) *domain.TradeRecord {
	closedAt := reviewNow.Add(-72 * time.Hour)
	return &domain.TradeRecord{
		TradeID:        id,
		Symbol:         "RELIANCE",
		Sector:         sector,
		Action:         domain.SideBuy,
		Status:         domain.StatusClosed,
		CompositeScore: composite,
		TargetHit:      targetHit,
		PnLPercent:     &pnlPct,
		RealizedPnL:    &pnl,
		ClosedAt:       &closedAt,
	}
}

func TestStatsAggregates(t *testing.T) {
	trades := []*domain.TradeRecord{
		closedTrade("TRD-1", 80, "Energy", true, 10, 5000),
		closedTrade("TRD-2", 75, "Energy", true, 8, 4000),
		closedTrade("TRD-3", 90, "IT", true, 12, 6000),
		closedTrade("TRD-4", 70, "IT", false, -4, -2000),
		closedTrade("TRD-5", 65, "Pharma", false, -6, -3000),
	}

	stats := Stats(trades)

	assert.Equal(t, 5, stats.TotalTrades)
	assert.Equal(t, 3, stats.Wins)
	assert.Equal(t, 2, stats.Losses)
	assert.InDelta(t, 60, stats.WinRate, 0.001)
	assert.InDelta(t, 10, stats.AvgWinPct, 0.001)
	assert.InDelta(t, -5, stats.AvgLossPct, 0.001)
	assert.InDelta(t, 2, stats.WinLossRatio, 0.001)
	assert.InDelta(t, 10000, stats.TotalPnL, 0.001)
}

func TestStatsEmpty(t *testing.T) {
	stats := Stats(nil)
	assert.Equal(t, PerformanceStats{}, stats)
}

func TestStatsAllLossesHasNoRatio(t *testing.T) {
	trades := []*domain.TradeRecord{
		closedTrade("TRD-1", 70, "Energy", false, -4, -2000),
		closedTrade("TRD-2", 70, "Energy", false, -6, -3000),
	}

	stats := Stats(trades)

	assert.Equal(t, 0, stats.Wins)
	assert.InDelta(t, -5, stats.AvgLossPct, 0.001)
	assert.Zero(t, stats.WinLossRatio)
}

func TestCalibrationNeedsTenTrades(t *testing.T) {
	trades := make([]*domain.TradeRecord, 9)
	for i := range trades {
		trades[i] = closedTrade("TRD-X", 75, "Energy", true, 5, 1000)
	}

	assert.Equal(t, "Insufficient data for calibration (need 10+ closed trades)", Calibration(trades))
}

func TestCalibrationBands(t *testing.T) {
	var trades []*domain.TradeRecord
	for i := 0; i < 4; i++ { // high band, 3 wins
		trades = append(trades, closedTrade("TRD-H", 90, "Energy", i < 3, 5, 1000))
	}
	for i := 0; i < 5; i++ { // strong band, 2 wins
		trades = append(trades, closedTrade("TRD-S", 75, "Energy", i < 2, 5, 1000))
	}
	for i := 0; i < 3; i++ { // moderate band, no wins
		trades = append(trades, closedTrade("TRD-M", 65, "Energy", false, -5, -1000))
	}

	want := "Confidence Calibration:\n" +
		"  85-100 (High): 75% win rate (3/4 trades)\n" +
		"  70-84 (Strong): 40% win rate (2/5 trades)\n" +
		"  60-69 (Moderate): 0% win rate (0/3 trades)\n"
	assert.Equal(t, want, Calibration(trades))
}

func TestCalibrationSkipsEmptyBands(t *testing.T) {
	var trades []*domain.TradeRecord
	for i := 0; i < 10; i++ {
		trades = append(trades, closedTrade("TRD-S", 75, "Energy", i%2 == 0, 5, 1000))
	}

	want := "Confidence Calibration:\n" +
		"  70-84 (Strong): 50% win rate (5/10 trades)\n"
	assert.Equal(t, want, Calibration(trades))
}

func TestSectorAnalysisOrdering(t *testing.T) {
	trades := []*domain.TradeRecord{
		closedTrade("TRD-1", 80, "IT", true, 12, 6000),
		closedTrade("TRD-2", 80, "IT", false, -6, -3000),
		closedTrade("TRD-3", 80, "Energy", true, 10, 5000),
		closedTrade("TRD-4", 80, "Energy", true, 20, 9000),
		closedTrade("TRD-5", 80, "Pharma", false, -5, -2500),
		closedTrade("TRD-6", 80, "", true, 5, 1000), // no sector, excluded
	}

	want := "Sector Performance:\n" +
		"  Energy: 100% win rate | avg P&L 15.0% (2 trades)\n" +
		"  IT: 50% win rate | avg P&L 3.0% (2 trades)\n" +
		"  Pharma: 0% win rate | avg P&L -5.0% (1 trades)\n"
	assert.Equal(t, want, SectorAnalysis(trades))
}

func TestRejectionAnalysisTopReasons(t *testing.T) {
	store := &stubStore{}
	for i := 0; i < 3; i++ {
		store.records = append(store.records, &domain.TradeRecord{
			TradeID: "TRD-R", Status: domain.StatusRejected, RejectionReason: "Too close to earnings",
		})
	}
	for i := 0; i < 2; i++ {
		store.records = append(store.records, &domain.TradeRecord{
			TradeID: "TRD-R", Status: domain.StatusRejected, RejectionReason: "User rejected",
		})
	}
	store.records = append(store.records, &domain.TradeRecord{
		TradeID: "TRD-R", Status: domain.StatusRejected,
	})

	service := NewService(store, &stubChat{}, zerolog.Nop())

	want := "Rejected Signal Analysis (6 signals):\n" +
		"Top rejection reasons:\n" +
		"  • Too close to earnings (3 times)\n" +
		"  • User rejected (2 times)\n"
	assert.Equal(t, want, service.RejectionAnalysis())
}

func TestRejectionAnalysisEmpty(t *testing.T) {
	service := NewService(&stubStore{}, &stubChat{}, zerolog.Nop())
	assert.Equal(t, "No rejected signals to analyse.", service.RejectionAnalysis())
}

func TestMonthlyReviewSendsReport(t *testing.T) {
	store := &stubStore{records: []*domain.TradeRecord{
		closedTrade("TRD-1", 80, "Energy", true, 10, 5000),
		closedTrade("TRD-2", 75, "IT", false, -4, -2000),
	}}
	chat := &stubChat{}
	service := NewService(store, chat, zerolog.Nop())
	service.now = func() time.Time { return reviewNow }

	service.MonthlyReview()

	messages := chat.messages()
	require.Len(t, messages, 1)
	report := messages[0]
	assert.Contains(t, report, "<b>📈 MONTHLY PERFORMANCE REVIEW</b>")
	assert.Contains(t, report, "Period: Last 30 days")
	assert.Contains(t, report, "Total trades  : 2")
	assert.Contains(t, report, "Win / Loss    : 1 / 1 (50% win rate)")
	assert.Contains(t, report, "Total P&L     : +₹3000")
	assert.Contains(t, report, "Insufficient data for calibration")
	assert.Contains(t, report, "Sector Performance:")
}

func TestMonthlyReviewQuietMonthSendsNothing(t *testing.T) {
	old := closedTrade("TRD-1", 80, "Energy", true, 10, 5000)
	stale := reviewNow.AddDate(0, -2, 0)
	old.ClosedAt = &stale

	chat := &stubChat{}
	service := NewService(&stubStore{records: []*domain.TradeRecord{old}}, chat, zerolog.Nop())
	service.now = func() time.Time { return reviewNow }

	service.MonthlyReview()

	assert.Empty(t, chat.messages())
}
