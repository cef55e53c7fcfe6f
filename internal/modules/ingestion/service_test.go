package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBroker struct {
	mu         sync.Mutex
	byToken    map[string]domain.Quote
	candles    map[string][]domain.Candle
	candleErrs map[string]error
	quoteErr   error
	quoteCalls int
}

func (b *stubBroker) EnsureSession(context.Context) error { return nil }

func (b *stubBroker) Quotes(_ context.Context, _ string, tokens []string) ([]domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quoteCalls++
	if b.quoteErr != nil {
		return nil, b.quoteErr
	}
	var out []domain.Quote
	for _, tok := range tokens {
		if q, ok := b.byToken[tok]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *stubBroker) DailyCandles(_ context.Context, _, token string, _, _ time.Time) ([]domain.Candle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.candleErrs[token]; err != nil {
		return nil, err
	}
	return b.candles[token], nil
}

func (b *stubBroker) PlaceOrder(context.Context, domain.OrderRequest) (string, error) {
	return "", errors.New("not supported")
}

func (b *stubBroker) AvailableCash(context.Context) (float64, error) { return 1_000_000, nil }

func (b *stubBroker) Holdings(context.Context) ([]domain.Holding, error) { return nil, nil }

type stubCatalog struct {
	instruments []domain.Instrument
}

func (c *stubCatalog) SymbolsOn(exchange string) []domain.Instrument {
	var out []domain.Instrument
	for _, inst := range c.instruments {
		if inst.Exchange == exchange {
			out = append(out, inst)
		}
	}
	return out
}

func (c *stubCatalog) Resolve(symbol, exchange string) (domain.Instrument, bool) {
	for _, inst := range c.instruments {
		if strings.EqualFold(inst.Symbol, symbol) && inst.Exchange == exchange {
			return inst, true
		}
	}
	return domain.Instrument{}, false
}

type stubIndex struct {
	closes []float64
	err    error
}

func (s *stubIndex) IndexCloses(context.Context, string, string) ([]float64, error) {
	return s.closes, s.err
}

type stubValuation struct {
	refreshed bool
}

func (v *stubValuation) Refresh(context.Context) (float64, error) {
	v.refreshed = true
	return 500_000, nil
}

func flatCandles(n int, close float64, volume int64) []domain.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, n)
	for i := range candles {
		candles[i] = domain.Candle{
			Date:   start.AddDate(0, 0, i),
			Open:   close,
			High:   close + 1,
			Low:    close - 1,
			Close:  close,
			Volume: volume,
		}
	}
	return candles
}

// bullishIndex: 200 closes at 20000 then 50 at 23000 puts the last price
// well above the 200-day mean of 20750
func bullishIndex() []float64 {
	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 20000
		if i >= 200 {
			closes[i] = 23000
		}
	}
	return closes
}

func testIngestionConfig(watchlist ...string) Config {
	return Config{
		Filters: config.FilterParams{
			MinStockPrice:       50,
			MinAvgDailyVolume:   10_000_000,
			MaxAnalysisUniverse: 50,
		},
		Macro: config.MacroParams{
			VIXNoBuys:    25,
			VIXCaution:   20,
			VIXFavorable: 15,
		},
		Watchlist: watchlist,
	}
}

func newTestService(t *testing.T, broker *stubBroker, catalog *stubCatalog, index *stubIndex, cfg Config) (*Service, *SnapshotStore, *stubValuation) {
	t.Helper()
	store := NewSnapshotStore()
	history, err := NewHistoryStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	valuation := &stubValuation{}
	svc := NewService(broker, catalog, index, valuation, store, history,
		events.NewManager(zerolog.Nop()), cfg, zerolog.Nop())
	return svc, store, valuation
}

func TestRefreshAllBuildsUniverse(t *testing.T) {
	catalog := &stubCatalog{instruments: []domain.Instrument{
		{Token: "1", Symbol: "RELIANCE", Exchange: domain.ExchangeNSE},
		{Token: "2", Symbol: "PENNY", Exchange: domain.ExchangeNSE},
		{Token: "3", Symbol: "ILLIQUID", Exchange: domain.ExchangeNSE},
		{Token: "4", Symbol: "THINVOL", Exchange: domain.ExchangeNSE},
		{Token: "5", Symbol: "WATCHPENNY", Exchange: domain.ExchangeNSE},
	}}
	broker := &stubBroker{
		byToken: map[string]domain.Quote{
			"1":      {Token: "1", Symbol: "RELIANCE", LTP: 2900, TradedValue: 50_000_000},
			"2":      {Token: "2", Symbol: "PENNY", LTP: 12, TradedValue: 50_000_000},
			"3":      {Token: "3", Symbol: "ILLIQUID", LTP: 300, TradedValue: 5_000_000},
			"4":      {Token: "4", Symbol: "THINVOL", LTP: 200, TradedValue: 20_000_000},
			"5":      {Token: "5", Symbol: "WATCHPENNY", LTP: 8, TradedValue: 1000},
			vixToken: {Token: vixToken, Symbol: "INDIAVIX", LTP: 12},
		},
		candles: map[string][]domain.Candle{
			"1": flatCandles(25, 100, 200_000), // avg traded value 2e7, passes
			"4": flatCandles(25, 200, 100),     // avg traded value 2e4, fails
			"5": flatCandles(25, 8, 10),        // fails floors but watchlisted
		},
	}
	index := &stubIndex{closes: bullishIndex()}

	svc, store, valuation := newTestService(t, broker, catalog, index, testIngestionConfig("WATCHPENNY"))
	require.NoError(t, svc.RefreshAll(context.Background()))

	assert.True(t, valuation.refreshed)
	assert.False(t, svc.InProgress())
	assert.False(t, store.Partial())

	// Quote-stage rejects: price floor (PENNY), traded-value floor (ILLIQUID).
	// History-stage reject: 20-day traded value (THINVOL). Watchlisted
	// WATCHPENNY survives both despite failing every filter.
	assert.Equal(t, 2, store.Count())
	assert.Nil(t, store.Get("PENNY"))
	assert.Nil(t, store.Get("ILLIQUID"))
	assert.Nil(t, store.Get("THINVOL"))

	rel := store.Get("RELIANCE")
	require.NotNil(t, rel)
	assert.InDelta(t, 2900.0, rel.LTP, 0.001)
	assert.InDelta(t, 20_000_000.0, rel.AvgTradedValue20D, 1)
	assert.Len(t, rel.Candles, 25)
	require.NotNil(t, store.Get("WATCHPENNY"))

	macro := store.Macro()
	assert.InDelta(t, 12.0, macro.VIX, 0.001)
	assert.InDelta(t, 23000.0, macro.IndexPrice, 0.001)
	assert.InDelta(t, 20750.0, macro.IndexMean200, 0.001)
	assert.Equal(t, domain.RegimeBull, macro.Regime)
	assert.False(t, macro.NewBuysSuppressed)
}

func TestRefreshAllCapsUniverse(t *testing.T) {
	catalog := &stubCatalog{instruments: []domain.Instrument{
		{Token: "1", Symbol: "BIG", Exchange: domain.ExchangeNSE},
		{Token: "2", Symbol: "WATCH", Exchange: domain.ExchangeNSE},
	}}
	broker := &stubBroker{
		byToken: map[string]domain.Quote{
			"1":      {Token: "1", Symbol: "BIG", LTP: 500, TradedValue: 50_000_000},
			"2":      {Token: "2", Symbol: "WATCH", LTP: 400, TradedValue: 50_000_000},
			vixToken: {Token: vixToken, LTP: 14},
		},
		candles: map[string][]domain.Candle{
			"1": flatCandles(25, 500, 100_000),
			"2": flatCandles(25, 400, 100_000),
		},
	}
	cfg := testIngestionConfig("WATCH")
	cfg.Filters.MaxAnalysisUniverse = 1

	svc, store, _ := newTestService(t, broker, catalog, &stubIndex{closes: bullishIndex()}, cfg)
	require.NoError(t, svc.RefreshAll(context.Background()))

	// Watchlist symbols lead the candidate order, so the cap keeps WATCH
	assert.Equal(t, 1, store.Count())
	assert.NotNil(t, store.Get("WATCH"))
	assert.Nil(t, store.Get("BIG"))
}

func TestRefreshAllSurvivesQuoteOutage(t *testing.T) {
	catalog := &stubCatalog{instruments: []domain.Instrument{
		{Token: "1", Symbol: "RELIANCE", Exchange: domain.ExchangeNSE},
	}}
	broker := &stubBroker{quoteErr: errors.New("exchange session down")}

	svc, store, _ := newTestService(t, broker, catalog, &stubIndex{closes: bullishIndex()}, testIngestionConfig())
	require.NoError(t, svc.RefreshAll(context.Background()))

	assert.Zero(t, store.Count())
	// VIX fetch fails on the same outage, so the neutral context holds
	assert.InDelta(t, 15.0, store.Macro().VIX, 0.001)
	assert.Equal(t, domain.RegimeSideways, store.Macro().Regime)
}

func TestRefreshAllMacroFallsBackToNeutral(t *testing.T) {
	catalog := &stubCatalog{instruments: []domain.Instrument{
		{Token: "1", Symbol: "RELIANCE", Exchange: domain.ExchangeNSE},
	}}
	broker := &stubBroker{
		byToken: map[string]domain.Quote{
			"1":      {Token: "1", Symbol: "RELIANCE", LTP: 2900, TradedValue: 50_000_000},
			vixToken: {Token: vixToken, LTP: 12},
		},
		candles: map[string][]domain.Candle{"1": flatCandles(25, 100, 200_000)},
	}
	index := &stubIndex{err: errors.New("provider rate limited")}

	svc, store, _ := newTestService(t, broker, catalog, index, testIngestionConfig())
	require.NoError(t, svc.RefreshAll(context.Background()))

	// Universe still publishes even when the macro source is down
	assert.Equal(t, 1, store.Count())
	assert.InDelta(t, 15.0, store.Macro().VIX, 0.001)
	assert.False(t, store.Macro().NewBuysSuppressed)
}

func TestSnapshotForPrefersPublished(t *testing.T) {
	broker := &stubBroker{}
	svc, store, _ := newTestService(t, broker, &stubCatalog{}, &stubIndex{}, testIngestionConfig())

	store.Publish(map[string]*domain.StockSnapshot{
		"TCS": {Instrument: domain.Instrument{Symbol: "TCS"}, LTP: 4100},
	}, domain.NeutralMacroSnapshot(), false)

	snap, err := svc.SnapshotFor(context.Background(), "tcs")
	require.NoError(t, err)
	assert.InDelta(t, 4100.0, snap.LTP, 0.001)
	assert.Zero(t, broker.quoteCalls)
}

func TestSnapshotForLiveFetch(t *testing.T) {
	catalog := &stubCatalog{instruments: []domain.Instrument{
		{Token: "11536", Symbol: "TCS", Exchange: domain.ExchangeNSE},
	}}
	broker := &stubBroker{
		byToken: map[string]domain.Quote{
			"11536": {Token: "11536", Symbol: "TCS", LTP: 4100},
		},
		candles: map[string][]domain.Candle{"11536": flatCandles(30, 4000, 50_000)},
	}

	svc, _, _ := newTestService(t, broker, catalog, &stubIndex{}, testIngestionConfig())

	snap, err := svc.SnapshotFor(context.Background(), "TCS")
	require.NoError(t, err)
	assert.InDelta(t, 4100.0, snap.LTP, 0.001)
	assert.Len(t, snap.Candles, 30)
	assert.InDelta(t, 200_000_000.0, snap.AvgTradedValue20D, 1)
}

func TestSnapshotForFallsBackToCache(t *testing.T) {
	catalog := &stubCatalog{instruments: []domain.Instrument{
		{Token: "11536", Symbol: "TCS", Exchange: domain.ExchangeNSE},
	}}
	broker := &stubBroker{
		quoteErr:   errors.New("session expired"),
		candleErrs: map[string]error{"11536": errors.New("session expired")},
	}

	store := NewSnapshotStore()
	history, err := NewHistoryStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, history.Save("TCS", flatCandles(30, 4000, 50_000)))

	svc := NewService(broker, catalog, &stubIndex{}, &stubValuation{}, store, history,
		events.NewManager(zerolog.Nop()), testIngestionConfig(), zerolog.Nop())

	snap, err := svc.SnapshotFor(context.Background(), "TCS")
	require.NoError(t, err)
	// Quote failed too, so last cached close stands in for LTP
	assert.InDelta(t, 4000.0, snap.LTP, 0.001)
	assert.Len(t, snap.Candles, 30)
}

func TestSnapshotForUnknownSymbol(t *testing.T) {
	svc, _, _ := newTestService(t, &stubBroker{}, &stubCatalog{}, &stubIndex{}, testIngestionConfig())

	_, err := svc.SnapshotFor(context.Background(), "NOSUCH")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown symbol")
}
