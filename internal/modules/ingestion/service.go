package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/events"
	"github.com/aristath/nse-trader/internal/metrics"
	"github.com/aristath/nse-trader/pkg/formulas"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// quoteBatchSize is the broker's per-call token limit
	quoteBatchSize = 250
	// phase2Concurrency bounds parallel history downloads
	phase2Concurrency = 10
	// phase2Deadline caps the whole history phase; on expiry the partial
	// universe is published with a warning
	phase2Deadline = 10 * time.Minute
	// historyLookbackDays covers a year of trading days with slack for
	// holidays and weekends
	historyLookbackDays = 400

	// vixToken is the NSE instrument token for the India VIX index
	vixToken = "26017"
	// indexSymbol is the broad-market index on the secondary provider
	indexSymbol = "^NSEI"
	// repoRateDefault stands in until a rates feed is wired
	repoRateDefault = 6.5
)

// Catalog is the instrument registry surface the refresh consumes
type Catalog interface {
	SymbolsOn(exchange string) []domain.Instrument
	Resolve(symbol, exchange string) (domain.Instrument, bool)
}

// IndexProvider fetches broad-index close series from the secondary source
type IndexProvider interface {
	IndexCloses(ctx context.Context, symbol, period string) ([]float64, error)
}

// Valuation refreshes the portfolio value ahead of the universe build
type Valuation interface {
	Refresh(ctx context.Context) (float64, error)
}

// Config carries the strategy sections the refresh needs
type Config struct {
	Filters   config.FilterParams
	Macro     config.MacroParams
	Watchlist []string
}

// Service builds the analysis universe: a pre-market pass that values the
// portfolio, filters the instrument catalog down to liquid candidates,
// pulls a year of bars for each and refreshes the macro context.
type Service struct {
	broker    domain.Broker
	catalog   Catalog
	index     IndexProvider
	valuation Valuation
	store     *SnapshotStore
	history   *HistoryStore
	events    *events.Manager
	cfg       Config
	log       zerolog.Logger
	running   atomic.Bool
}

// NewService creates the ingestion service
func NewService(broker domain.Broker, catalog Catalog, index IndexProvider, valuation Valuation,
	store *SnapshotStore, history *HistoryStore, bus *events.Manager, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		broker:    broker,
		catalog:   catalog,
		index:     index,
		valuation: valuation,
		store:     store,
		history:   history,
		events:    bus,
		cfg:       cfg,
		log:       log.With().Str("service", "ingestion").Logger(),
	}
}

// InProgress reports whether a refresh is currently running
func (s *Service) InProgress() bool {
	return s.running.Load()
}

// RefreshAll rebuilds the whole analysis universe. A second call while one
// is running is a no-op.
func (s *Service) RefreshAll(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("Refresh already in progress, skipping")
		return nil
	}
	defer s.running.Store(false)

	start := time.Now()
	s.events.Emit(events.UniverseRefreshStart, "ingestion", nil)

	if _, err := s.valuation.Refresh(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Portfolio valuation failed, continuing with cached value")
	}

	candidates := s.buildCandidates(ctx)
	if len(candidates) > s.cfg.Filters.MaxAnalysisUniverse {
		candidates = candidates[:s.cfg.Filters.MaxAnalysisUniverse]
	}

	snapshots, partial := s.fetchHistories(ctx, candidates)
	macro := s.refreshMacro(ctx)

	s.store.Publish(snapshots, macro, partial)
	metrics.UniverseSize.Set(float64(len(snapshots)))
	metrics.RefreshDuration.Observe(time.Since(start).Seconds())

	evt := events.UniverseRefreshComplete
	if partial {
		evt = events.UniverseRefreshPartial
	}
	s.events.Emit(evt, "ingestion", map[string]interface{}{
		"candidates": len(candidates),
		"snapshots":  len(snapshots),
		"regime":     string(macro.Regime),
	})

	s.log.Info().
		Int("candidates", len(candidates)).
		Int("snapshots", len(snapshots)).
		Bool("partial", partial).
		Str("regime", string(macro.Regime)).
		Dur("took", time.Since(start)).
		Msg("Universe refresh complete")
	return nil
}

type candidate struct {
	inst        domain.Instrument
	ltp         float64
	watchlisted bool
}

// buildCandidates runs the batch quote filter: watchlist symbols are kept
// unconditionally and lead the result, everything else must clear the
// price and traded-value floors. A failed batch loses its symbols, not
// the phase.
func (s *Service) buildCandidates(ctx context.Context) []candidate {
	watchlisted := make(map[string]bool, len(s.cfg.Watchlist))
	for _, w := range s.cfg.Watchlist {
		inst, ok := s.catalog.Resolve(w, domain.ExchangeNSE)
		if !ok {
			s.log.Warn().Str("symbol", w).Msg("Watchlist symbol not in instrument catalog")
			continue
		}
		watchlisted[inst.Symbol] = true
	}

	exchanges := []string{domain.ExchangeNSE}
	if s.cfg.Filters.IncludeSecondaryExchange {
		exchanges = append(exchanges, domain.ExchangeBSE)
	}

	var fromWatchlist, filtered []candidate
	for _, exchange := range exchanges {
		instruments := s.catalog.SymbolsOn(exchange)
		byToken := make(map[string]domain.Instrument, len(instruments))
		tokens := make([]string, 0, len(instruments))
		for _, inst := range instruments {
			byToken[inst.Token] = inst
			tokens = append(tokens, inst.Token)
		}

		for batchStart := 0; batchStart < len(tokens); batchStart += quoteBatchSize {
			batch := tokens[batchStart:min(batchStart+quoteBatchSize, len(tokens))]
			quotes, err := s.broker.Quotes(ctx, exchange, batch)
			if err != nil {
				s.log.Warn().Err(err).
					Str("exchange", exchange).
					Int("batch_size", len(batch)).
					Msg("Quote batch failed, skipping")
				continue
			}
			for _, q := range quotes {
				inst, ok := byToken[q.Token]
				if !ok {
					continue
				}
				c := candidate{inst: inst, ltp: q.LTP, watchlisted: watchlisted[inst.Symbol]}
				switch {
				case c.watchlisted:
					fromWatchlist = append(fromWatchlist, c)
				case q.LTP >= s.cfg.Filters.MinStockPrice && q.TradedValue >= s.cfg.Filters.MinAvgDailyVolume:
					filtered = append(filtered, c)
				}
			}
		}
	}

	return append(fromWatchlist, filtered...)
}

// fetchHistories pulls daily bars for each candidate with bounded
// parallelism. A candidate joins the universe iff its 20-day average traded
// value clears the floor or it is watchlisted. Reports partial=true when
// the phase deadline cut the fetch short.
func (s *Service) fetchHistories(ctx context.Context, candidates []candidate) (map[string]*domain.StockSnapshot, bool) {
	deadline, cancel := context.WithTimeout(ctx, phase2Deadline)
	defer cancel()

	to := time.Now()
	from := to.AddDate(0, 0, -historyLookbackDays)

	var mu sync.Mutex
	snapshots := make(map[string]*domain.StockSnapshot, len(candidates))

	var g errgroup.Group
	g.SetLimit(phase2Concurrency)
	for _, c := range candidates {
		c := c // per-iteration copy; toolchain predates Go 1.22 loop scoping
		g.Go(func() error {
			if deadline.Err() != nil {
				return nil
			}
			candles, err := s.broker.DailyCandles(deadline, c.inst.Exchange, c.inst.Token, from, to)
			if err != nil {
				s.log.Debug().Err(err).Str("symbol", c.inst.Symbol).Msg("History fetch failed, dropping symbol")
				return nil
			}
			avgValue := avgTradedValue(candles, 20)
			if !c.watchlisted && avgValue < s.cfg.Filters.MinAvgDailyVolume {
				return nil
			}
			if err := s.history.Save(c.inst.Symbol, candles); err != nil {
				s.log.Debug().Err(err).Str("symbol", c.inst.Symbol).Msg("History cache write failed")
			}
			snap := &domain.StockSnapshot{
				Instrument:        c.inst,
				LTP:               c.ltp,
				Candles:           candles,
				AvgTradedValue20D: avgValue,
				FetchedAt:         time.Now(),
			}
			mu.Lock()
			snapshots[strings.ToUpper(c.inst.Symbol)] = snap
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	partial := errors.Is(deadline.Err(), context.DeadlineExceeded)
	if partial {
		s.log.Warn().
			Int("fetched", len(snapshots)).
			Int("candidates", len(candidates)).
			Msg("History phase deadline reached, publishing partial universe")
	}
	return snapshots, partial
}

// refreshMacro rebuilds the market-wide context. Any failure installs the
// neutral default so scoring keeps running.
func (s *Service) refreshMacro(ctx context.Context) domain.MacroSnapshot {
	closes, err := s.index.IndexCloses(ctx, indexSymbol, "1y")
	if err != nil || len(closes) < 200 {
		s.log.Warn().Err(err).Int("closes", len(closes)).
			Msg("Index history unavailable, installing neutral macro context")
		return domain.NeutralMacroSnapshot()
	}
	mean := formulas.SMA(closes, 200)
	if mean == nil || *mean <= 0 {
		s.log.Warn().Msg("Index 200-day mean unavailable, installing neutral macro context")
		return domain.NeutralMacroSnapshot()
	}

	vix, err := s.fetchVIX(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("VIX unavailable, installing neutral macro context")
		return domain.NeutralMacroSnapshot()
	}

	price := closes[len(closes)-1]
	mean200 := *mean
	snap := domain.MacroSnapshot{
		Date:              time.Now(),
		VIX:               vix,
		IndexPrice:        price,
		IndexMean200:      mean200,
		IndexDeviationPct: (price - mean200) / mean200 * 100,
		RepoRate:          repoRateDefault,
		Regime:            deriveRegime(vix, price, mean200, s.cfg.Macro),
		NewBuysSuppressed: vix > s.cfg.Macro.VIXNoBuys || price < 0.95*mean200,
	}

	s.events.Emit(events.MacroUpdated, "ingestion", map[string]interface{}{
		"vix":        vix,
		"regime":     string(snap.Regime),
		"suppressed": snap.NewBuysSuppressed,
	})
	return snap
}

func (s *Service) fetchVIX(ctx context.Context) (float64, error) {
	quotes, err := s.broker.Quotes(ctx, domain.ExchangeNSE, []string{vixToken})
	if err != nil {
		return 0, err
	}
	if len(quotes) == 0 || quotes[0].LTP <= 0 {
		return 0, fmt.Errorf("no quote for VIX token %s", vixToken)
	}
	return quotes[0].LTP, nil
}

// deriveRegime classifies the market environment
func deriveRegime(vix, price, mean200 float64, cfg config.MacroParams) domain.MarketRegime {
	switch {
	case vix > cfg.VIXNoBuys && price < mean200:
		return domain.RegimeBear
	case vix > cfg.VIXCaution:
		return domain.RegimeHighVolatility
	case price > 1.05*mean200 && vix < cfg.VIXFavorable:
		return domain.RegimeBull
	default:
		return domain.RegimeSideways
	}
}

// SnapshotFor serves on-demand analysis for one symbol, bypassing the
// liquidity filters: published universe first, then a live fetch, then the
// history cache.
func (s *Service) SnapshotFor(ctx context.Context, symbol string) (*domain.StockSnapshot, error) {
	if snap := s.store.Get(symbol); snap != nil {
		return snap, nil
	}

	inst, ok := s.catalog.Resolve(symbol, domain.ExchangeNSE)
	if !ok && s.cfg.Filters.IncludeSecondaryExchange {
		inst, ok = s.catalog.Resolve(symbol, domain.ExchangeBSE)
	}
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}

	var ltp float64
	if quotes, err := s.broker.Quotes(ctx, inst.Exchange, []string{inst.Token}); err == nil && len(quotes) > 0 {
		ltp = quotes[0].LTP
	}

	to := time.Now()
	candles, err := s.broker.DailyCandles(ctx, inst.Exchange, inst.Token, to.AddDate(0, 0, -historyLookbackDays), to)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", inst.Symbol).Msg("Live history fetch failed, trying cache")
		candles, err = s.history.Load(inst.Symbol, historyLookbackDays)
		if err != nil {
			return nil, fmt.Errorf("no history available for %s", inst.Symbol)
		}
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no history available for %s", inst.Symbol)
	}

	if ltp == 0 {
		ltp = candles[len(candles)-1].Close
	}

	return &domain.StockSnapshot{
		Instrument:        inst,
		LTP:               ltp,
		Candles:           candles,
		AvgTradedValue20D: avgTradedValue(candles, 20),
		FetchedAt:         time.Now(),
	}, nil
}

// avgTradedValue returns the mean of close×volume over the last n bars
func avgTradedValue(candles []domain.Candle, n int) float64 {
	if len(candles) == 0 {
		return 0
	}
	start := len(candles) - n
	if start < 0 {
		start = 0
	}
	window := candles[start:]
	total := 0.0
	for _, c := range window {
		total += c.Close * float64(c.Volume)
	}
	return total / float64(len(window))
}
