package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/events"
)

type stubBroker struct {
	mu     sync.Mutex
	prices map[string][]float64 // "EXCHANGE:token" → successive LTPs, last repeats
	errs   map[string]error
	calls  []string
}

func newStubBroker() *stubBroker {
	return &stubBroker{
		prices: make(map[string][]float64),
		errs:   make(map[string]error),
	}
}

func (b *stubBroker) EnsureSession(ctx context.Context) error { return nil }

func (b *stubBroker) Quotes(ctx context.Context, exchange string, tokens []string) ([]domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := exchange + ":" + tokens[0]
	b.calls = append(b.calls, key)
	if err := b.errs[key]; err != nil {
		return nil, err
	}
	seq := b.prices[key]
	if len(seq) == 0 {
		return nil, nil
	}
	price := seq[0]
	if len(seq) > 1 {
		b.prices[key] = seq[1:]
	}
	return []domain.Quote{{Token: tokens[0], Exchange: exchange, LTP: price}}, nil
}

func (b *stubBroker) DailyCandles(ctx context.Context, exchange, token string, from, to time.Time) ([]domain.Candle, error) {
	return nil, nil
}

func (b *stubBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	return "", errors.New("not used")
}

func (b *stubBroker) AvailableCash(ctx context.Context) (float64, error) { return 0, nil }

func (b *stubBroker) Holdings(ctx context.Context) ([]domain.Holding, error) { return nil, nil }

func (b *stubBroker) quoteCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

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

func (c *stubChat) containing(substr string) []string {
	var out []string
	for _, msg := range c.messages() {
		if strings.Contains(msg, substr) {
			out = append(out, msg)
		}
	}
	return out
}

type stubStore struct {
	mu      sync.Mutex
	records map[string]*domain.TradeRecord
}

func newStubStore() *stubStore {
	return &stubStore{records: make(map[string]*domain.TradeRecord)}
}

func (s *stubStore) Create(t *domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.records[t.TradeID] = &cp
	return nil
}

func (s *stubStore) Update(t *domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[t.TradeID]; !ok {
		return fmt.Errorf("trade %s not found", t.TradeID)
	}
	cp := *t
	s.records[t.TradeID] = &cp
	return nil
}

func (s *stubStore) GetByID(tradeID string) (*domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[tradeID]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (s *stubStore) GetByStatus(status domain.SignalStatus) ([]*domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TradeRecord
	for _, record := range s.records {
		if record.Status == status {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubStore) GetByStatusSince(status domain.SignalStatus, since time.Time) ([]*domain.TradeRecord, error) {
	return nil, nil
}

func (s *stubStore) GetSince(since time.Time) ([]*domain.TradeRecord, error) { return nil, nil }

func (s *stubStore) GetClosedBetween(from, to time.Time) ([]*domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TradeRecord
	for _, record := range s.records {
		if record.Status != domain.StatusClosed || record.ClosedAt == nil {
			continue
		}
		if record.ClosedAt.Before(from) || record.ClosedAt.After(to) {
			continue
		}
		cp := *record
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubStore) CountByStatus(status domain.SignalStatus) (int, error) { return 0, nil }
func (s *stubStore) CountBuysSince(since time.Time) (int, error)           { return 0, nil }
func (s *stubStore) ExistsOpen(symbol string) (bool, error)                { return false, nil }
func (s *stubStore) SectorExposure(sector string) (float64, error)         { return 0, nil }

func (s *stubStore) get(t *testing.T, tradeID string) *domain.TradeRecord {
	t.Helper()
	record, err := s.GetByID(tradeID)
	require.NoError(t, err)
	require.NotNil(t, record)
	return record
}

type sellCall struct {
	symbol, token, exchange string
	quantity                int
	price                   float64
	reason                  string
}

type stubSeller struct {
	mu    sync.Mutex
	calls []sellCall
	err   error
}

func (s *stubSeller) PlaceSell(ctx context.Context, symbol, token, exchange string, quantity int, price float64, reason string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sellCall{symbol, token, exchange, quantity, price, reason})
	if s.err != nil {
		return "", s.err
	}
	return "PAPER-1", nil
}

func (s *stubSeller) sells() []sellCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sellCall(nil), s.calls...)
}

type stubResolver struct {
	instruments map[string]domain.Instrument // "SYMBOL:EXCHANGE"
}

func (r *stubResolver) Resolve(symbol, exchange string) (domain.Instrument, bool) {
	inst, ok := r.instruments[symbol+":"+exchange]
	return inst, ok
}

type stubValuation struct {
	value float64
	cash  float64
	ok    bool
}

func (v *stubValuation) Value() float64 { return v.value }

func (v *stubValuation) Breakdown() (float64, float64, bool) { return v.cash, 0, v.ok }

type stubSnapshots struct {
	mu      sync.Mutex
	peak    float64
	peakErr error
	saved   []domain.PortfolioSnapshot
}

func (s *stubSnapshots) Upsert(snap domain.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func (s *stubSnapshots) PeakValue() (float64, error) {
	return s.peak, s.peakErr
}

func (s *stubSnapshots) snapshots() []domain.PortfolioSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PortfolioSnapshot(nil), s.saved...)
}

var fixedNow = time.Date(2025, time.March, 3, 15, 30, 0, 0, time.UTC)

type harness struct {
	monitor   *Monitor
	broker    *stubBroker
	chat      *stubChat
	store     *stubStore
	seller    *stubSeller
	resolver  *stubResolver
	valuation *stubValuation
	snapshots *stubSnapshots
	strategy  *config.Strategy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	strategy, err := config.LoadStrategy(filepath.Join(t.TempDir(), "strategy.yaml"))
	require.NoError(t, err)

	h := &harness{
		broker:    newStubBroker(),
		chat:      &stubChat{},
		store:     newStubStore(),
		seller:    &stubSeller{},
		resolver:  &stubResolver{instruments: make(map[string]domain.Instrument)},
		valuation: &stubValuation{value: 500000},
		snapshots: &stubSnapshots{},
		strategy:  strategy,
	}
	h.monitor = NewMonitor(h.broker, h.chat, h.store, h.seller, h.resolver,
		h.valuation, h.snapshots, strategy, events.NewManager(zerolog.Nop()), zerolog.Nop())
	h.monitor.now = func() time.Time { return fixedNow }
	return h
}

func openPosition(id string) *domain.TradeRecord {
	executed := fixedNow.Add(-48 * time.Hour)
	return &domain.TradeRecord{
		TradeID:     id,
		Symbol:      "RELIANCE",
		Token:       "2885",
		Exchange:    domain.ExchangeNSE,
		Sector:      "Energy",
		Action:      domain.SideBuy,
		Status:      domain.StatusExecuted,
		EntryPrice:  100,
		StopLoss:    95,
		CurrentStop: 95,
		TargetPrice: 120,
		RRRatio:     4,
		Quantity:    500,
		Allocation:  50000,
		GeneratedAt: executed.Add(-time.Hour),
		ExecutedAt:  &executed,
	}
}

func fptr(v float64) *float64 { return &v }

func TestTickStopLossBreach(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create(openPosition("TRD-AAAA11112222")))
	h.broker.prices["NSE:2885"] = []float64{94.5}

	h.monitor.Tick(context.Background())

	sells := h.seller.sells()
	require.Len(t, sells, 1)
	assert.Equal(t, sellCall{"RELIANCE", "2885", domain.ExchangeNSE, 500, 94.5, "STOP-LOSS HIT"}, sells[0])

	record := h.store.get(t, "TRD-AAAA11112222")
	assert.Equal(t, domain.StatusClosed, record.Status)
	assert.Equal(t, domain.ExitStopLoss, record.ExitReason)
	require.NotNil(t, record.ExitPrice)
	assert.Equal(t, 94.5, *record.ExitPrice)
	require.NotNil(t, record.RealizedPnL)
	assert.InDelta(t, -2750, *record.RealizedPnL, 0.001)
	require.NotNil(t, record.PnLPercent)
	assert.InDelta(t, -5.5, *record.PnLPercent, 0.001)
	require.NotNil(t, record.ClosedAt)
	assert.True(t, record.ClosedAt.Equal(fixedNow))

	alerts := h.chat.containing("STOP-LOSS TRIGGERED")
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "RELIANCE sold @ ₹94.50 | P&L: ₹-2750")
}

func TestTickTrailingStopMonotonic(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create(openPosition("TRD-AAAA11112222")))
	h.broker.prices["NSE:2885"] = []float64{100, 110, 112, 108, 115}

	wantStops := []float64{95, 95, 107, 107, 110}
	for i, want := range wantStops {
		h.monitor.Tick(context.Background())
		record := h.store.get(t, "TRD-AAAA11112222")
		assert.Equal(t, want, record.CurrentStop, "stop after tick %d", i+1)
		assert.Equal(t, 95.0, record.StopLoss, "initial stop must never change")
		assert.Equal(t, domain.StatusExecuted, record.Status)
	}

	notices := h.chat.containing("TRAILING STOP UPDATED")
	require.Len(t, notices, 2)
	assert.Contains(t, notices[0], "Stop-loss raised: ₹95.00 → ₹107.00")
	assert.Contains(t, notices[1], "Stop-loss raised: ₹107.00 → ₹110.00")
	assert.Empty(t, h.seller.sells(), "trailing must never sell")
}

func TestTickDrawdownExit(t *testing.T) {
	h := newHarness(t)
	position := openPosition("TRD-AAAA11112222")
	// Stop parked below the drawdown trigger so the drawdown path fires first.
	position.StopLoss = 84
	position.CurrentStop = 84
	require.NoError(t, h.store.Create(position))
	h.broker.prices["NSE:2885"] = []float64{85}

	h.monitor.Tick(context.Background())

	sells := h.seller.sells()
	require.Len(t, sells, 1)
	assert.Equal(t, "MAX DRAWDOWN 15.0% exceeded", sells[0].reason)
	assert.Equal(t, 85.0, sells[0].price)

	record := h.store.get(t, "TRD-AAAA11112222")
	assert.Equal(t, domain.StatusClosed, record.Status)
	assert.Equal(t, domain.ExitMaxDrawdown, record.ExitReason)
	require.NotNil(t, record.RealizedPnL)
	assert.InDelta(t, -7500, *record.RealizedPnL, 0.001)
}

func TestTickTargetHitNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	h.strategy.Risk.TrailingStopActivatePct = 50 // keep trailing quiet
	require.NoError(t, h.store.Create(openPosition("TRD-AAAA11112222")))
	h.broker.prices["NSE:2885"] = []float64{121, 122}

	h.monitor.Tick(context.Background())
	h.monitor.Tick(context.Background())

	alerts := h.chat.containing("TARGET HIT")
	require.Len(t, alerts, 1, "target alert must fire once")
	assert.Contains(t, alerts[0], "RELIANCE @ ₹121.00 — Target ₹120.00 reached!")
	assert.Contains(t, alerts[0], "Estimated gain: ₹10500")
	assert.Contains(t, alerts[0], "Reply APPROVE TRD-AAAA11112222 to book profits.")

	record := h.store.get(t, "TRD-AAAA11112222")
	assert.True(t, record.TargetHit)
	assert.Equal(t, domain.StatusExecuted, record.Status, "target never auto-sells")
	assert.Empty(t, h.seller.sells())
}

func TestTickPartialProfitNoteOnce(t *testing.T) {
	h := newHarness(t)
	h.strategy.Risk.TrailingStopActivatePct = 50
	require.NoError(t, h.store.Create(openPosition("TRD-AAAA11112222")))
	h.broker.prices["NSE:2885"] = []float64{111, 112}

	h.monitor.Tick(context.Background())
	h.monitor.Tick(context.Background())

	notes := h.chat.containing("PARTIAL PROFIT OPPORTUNITY")
	require.Len(t, notes, 1, "partial note must fire once")
	assert.Contains(t, notes[0], "RELIANCE at 50% of target.")
	assert.Contains(t, notes[0], "Current: ₹111.00 | Target: ₹120.00")

	record := h.store.get(t, "TRD-AAAA11112222")
	assert.True(t, record.PartialNotified)
	assert.False(t, record.TargetHit)
}

func TestTickBelowMidpointNoPartialNote(t *testing.T) {
	h := newHarness(t)
	h.strategy.Risk.TrailingStopActivatePct = 50
	require.NoError(t, h.store.Create(openPosition("TRD-AAAA11112222")))
	h.broker.prices["NSE:2885"] = []float64{109}

	h.monitor.Tick(context.Background())

	assert.Empty(t, h.chat.messages())
	record := h.store.get(t, "TRD-AAAA11112222")
	assert.False(t, record.PartialNotified)
}

func TestTickFallsBackToSecondaryExchange(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create(openPosition("TRD-AAAA11112222")))
	h.broker.errs["NSE:2885"] = errors.New("timeout")
	h.resolver.instruments["RELIANCE:BSE"] = domain.Instrument{
		Token: "500325", Symbol: "RELIANCE", Exchange: domain.ExchangeBSE,
	}
	h.broker.prices["BSE:500325"] = []float64{94}

	h.monitor.Tick(context.Background())

	assert.Equal(t, []string{"NSE:2885", "BSE:500325"}, h.broker.quoteCalls())

	sells := h.seller.sells()
	require.Len(t, sells, 1)
	assert.Equal(t, domain.ExchangeNSE, sells[0].exchange, "exit goes to the holding exchange")
	assert.Equal(t, 94.0, sells[0].price)
	assert.Equal(t, domain.StatusClosed, h.store.get(t, "TRD-AAAA11112222").Status)
}

func TestTickSkipsPositionWhenPriceUnavailable(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create(openPosition("TRD-AAAA11112222")))
	h.broker.errs["NSE:2885"] = errors.New("timeout")

	h.monitor.Tick(context.Background())

	assert.Empty(t, h.seller.sells())
	assert.Empty(t, h.chat.messages())
	assert.Equal(t, domain.StatusExecuted, h.store.get(t, "TRD-AAAA11112222").Status)
}

func TestTickStopLossSellFailureKeepsPositionOpen(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create(openPosition("TRD-AAAA11112222")))
	h.broker.prices["NSE:2885"] = []float64{94.5}
	h.seller.err = errors.New("exchange closed")

	h.monitor.Tick(context.Background())

	record := h.store.get(t, "TRD-AAAA11112222")
	assert.Equal(t, domain.StatusExecuted, record.Status, "unfilled exit must stay open for the next tick")
	assert.Empty(t, h.chat.containing("STOP-LOSS TRIGGERED"))
}

func TestTickNoPositions(t *testing.T) {
	h := newHarness(t)

	h.monitor.Tick(context.Background())

	assert.Empty(t, h.broker.quoteCalls())
	assert.Empty(t, h.chat.messages())
}

func TestEndOfDayZeros(t *testing.T) {
	h := newHarness(t)

	h.monitor.EndOfDay(context.Background())

	messages := h.chat.messages()
	require.Len(t, messages, 1)
	assert.Equal(t,
		"<b>📊 END-OF-DAY SUMMARY</b>\nOpen positions : 0\nClosed today   : 0\nToday's P&L    : +₹0\nMode           : PAPER TRADING",
		messages[0])

	snapshots := h.snapshots.snapshots()
	require.Len(t, snapshots, 1)
	assert.Equal(t, 500000.0, snapshots[0].TotalValue)
	assert.Equal(t, 500000.0, snapshots[0].Cash)
	assert.Equal(t, 0, snapshots[0].OpenPositions)
	assert.Equal(t, 500000.0, snapshots[0].PeakValue)
	assert.Equal(t, 0.0, snapshots[0].DrawdownPercent)
}

func TestEndOfDayCountsAndPnL(t *testing.T) {
	h := newHarness(t)

	open := openPosition("TRD-AAAA11112222")
	require.NoError(t, h.store.Create(open))
	h.broker.prices["NSE:2885"] = []float64{104}

	closedToday := openPosition("TRD-BBBB33334444")
	closedToday.Status = domain.StatusClosed
	closedAt := fixedNow.Add(-2 * time.Hour)
	closedToday.ClosedAt = &closedAt
	closedToday.RealizedPnL = fptr(1500)
	require.NoError(t, h.store.Create(closedToday))

	lostToday := openPosition("TRD-CCCC55556666")
	lostToday.Status = domain.StatusClosed
	lostToday.ClosedAt = &closedAt
	lostToday.RealizedPnL = fptr(-500)
	require.NoError(t, h.store.Create(lostToday))

	closedYesterday := openPosition("TRD-DDDD77778888")
	closedYesterday.Status = domain.StatusClosed
	yesterday := fixedNow.Add(-26 * time.Hour)
	closedYesterday.ClosedAt = &yesterday
	closedYesterday.RealizedPnL = fptr(900)
	require.NoError(t, h.store.Create(closedYesterday))

	h.monitor.EndOfDay(context.Background())

	summaries := h.chat.containing("END-OF-DAY SUMMARY")
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0], "Open positions : 1")
	assert.Contains(t, summaries[0], "Closed today   : 2")
	assert.Contains(t, summaries[0], "Today's P&L    : +₹1000")

	snapshots := h.snapshots.snapshots()
	require.Len(t, snapshots, 1)
	snap := snapshots[0]
	assert.Equal(t, 50000.0, snap.Invested)
	assert.InDelta(t, 2000, snap.UnrealizedPnL, 0.001) // (104-100)*500
	// 500000 virtual + 1900 realized overall + 2000 unrealized
	assert.InDelta(t, 503900, snap.TotalValue, 0.001)
	assert.Equal(t, 1, snap.OpenPositions)
	assert.InDelta(t, 1000, snap.DayPnL, 0.001)
}

func TestEndOfDayPortfolioDrawdownAlert(t *testing.T) {
	h := newHarness(t)
	h.snapshots.peak = 600000

	lost := openPosition("TRD-BBBB33334444")
	lost.Status = domain.StatusClosed
	yesterday := fixedNow.Add(-26 * time.Hour)
	lost.ClosedAt = &yesterday
	lost.RealizedPnL = fptr(-20000)
	require.NoError(t, h.store.Create(lost))

	h.monitor.EndOfDay(context.Background())

	// 500000 virtual - 20000 realized = 480000 → 20% off the 600000 peak
	alerts := h.chat.containing("PORTFOLIO DRAWDOWN ALERT")
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "down 20.0% from its peak of ₹600000")
	assert.Contains(t, alerts[0], "Current value: ₹480000 | Limit: 20%")

	snapshots := h.snapshots.snapshots()
	require.Len(t, snapshots, 1)
	assert.Equal(t, 600000.0, snapshots[0].PeakValue)
	assert.InDelta(t, 20.0, snapshots[0].DrawdownPercent, 0.001)
}
