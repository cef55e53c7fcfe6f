// Package signals turns scored snapshots into concrete trade proposals:
// price levels from support/resistance, a weighted confidence composite,
// capital sizing against the live portfolio value, and a unique trade id.
package signals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/nse-trader/internal/clients/yahoo"
	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/events"
	"github.com/aristath/nse-trader/internal/metrics"
	"github.com/aristath/nse-trader/internal/modules/analysis"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// analysisConcurrency bounds the per-symbol fan-out; the fundamentals
// provider has its own tighter semaphore underneath
const analysisConcurrency = 10

// Universe is the published snapshot view the generator scans
type Universe interface {
	All() map[string]*domain.StockSnapshot
	Macro() domain.MacroSnapshot
}

// PortfolioValue reports the current portfolio value used for sizing
type PortfolioValue interface {
	Value() float64
}

// Levels are the derived price levels for a proposal
type Levels struct {
	Entry  float64 `json:"entry"`
	Stop   float64 `json:"stop"`
	Target float64 `json:"target"`
	RR     float64 `json:"risk_reward"`
}

// Analysis is the complete scoring bundle for one symbol. The analyse
// endpoint serves it unfiltered; Generate applies the drop rules on top.
type Analysis struct {
	Symbol      string                     `json:"symbol"`
	Fundamental analysis.FundamentalResult `json:"fundamental"`
	Technical   analysis.TechnicalResult   `json:"technical"`
	Macro       analysis.MacroResult       `json:"macro"`
	Levels      Levels                     `json:"levels"`
	Confidence  domain.ConfidenceScore     `json:"confidence"`
}

// Generator runs the scoring pipeline across the universe
type Generator struct {
	universe     Universe
	portfolio    PortfolioValue
	fundamentals *analysis.FundamentalSource
	fundamental  *analysis.FundamentalScorer
	technical    *analysis.TechnicalScorer
	macro        *analysis.MacroScorer
	strategy     *config.Strategy
	events       *events.Manager
	log          zerolog.Logger
}

// NewGenerator creates the signal generator
func NewGenerator(universe Universe, portfolio PortfolioValue, fundamentals *analysis.FundamentalSource,
	fundamental *analysis.FundamentalScorer, technical *analysis.TechnicalScorer, macro *analysis.MacroScorer,
	strategy *config.Strategy, bus *events.Manager, log zerolog.Logger) *Generator {
	return &Generator{
		universe:     universe,
		portfolio:    portfolio,
		fundamentals: fundamentals,
		fundamental:  fundamental,
		technical:    technical,
		macro:        macro,
		strategy:     strategy,
		events:       bus,
		log:          log.With().Str("service", "signals").Logger(),
	}
}

// Generate scans the whole universe and returns proposals above the
// confidence threshold, strongest first. The empty slice is a valid
// outcome; macro suppression short-circuits the scan entirely.
func (g *Generator) Generate(ctx context.Context) []*domain.TradeSignal {
	macroRes := g.macro.Analyze(g.universe.Macro())
	if macroRes.NewBuysSuppressed {
		g.log.Warn().Str("reason", macroRes.Summary).Msg("New buys suppressed by macro conditions")
		return nil
	}

	snapshots := g.universe.All()
	portfolioValue := g.portfolio.Value()

	var mu sync.Mutex
	var out []*domain.TradeSignal

	var grp errgroup.Group
	grp.SetLimit(analysisConcurrency)
	for _, snap := range snapshots {
		snap := snap // per-iteration copy; toolchain predates Go 1.22 loop scoping
		grp.Go(func() error {
			if sig := g.propose(ctx, snap, macroRes, portfolioValue); sig != nil {
				mu.Lock()
				out = append(out, sig)
				mu.Unlock()
			}
			return nil
		})
	}
	grp.Wait()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Confidence.Composite > out[j].Confidence.Composite
	})

	g.log.Info().
		Int("scanned", len(snapshots)).
		Int("signals", len(out)).
		Float64("threshold", g.strategy.Signal.MinConfidenceToNotify).
		Msg("Signal generation complete")
	return out
}

// Analyse runs the full pipeline for one symbol with no threshold filtering
func (g *Generator) Analyse(ctx context.Context, snap *domain.StockSnapshot) Analysis {
	return g.analyse(ctx, snap, g.macro.Analyze(g.universe.Macro()))
}

func (g *Generator) analyse(ctx context.Context, snap *domain.StockSnapshot, macroRes analysis.MacroResult) Analysis {
	// Fundamental data arrives over the network; overlap the fetch with the
	// local technical computation.
	var fundData *yahoo.FundamentalData
	fetched := make(chan struct{})
	go func() {
		defer close(fetched)
		fundData = g.fundamentals.Get(ctx, snap.Instrument.Symbol, snap.Instrument.Exchange)
	}()

	tech := g.technical.Analyze(snap)
	<-fetched
	fund := g.fundamental.Analyze(analysis.ResolveInputs(snap.Instrument.Symbol, fundData))

	levels := computeLevels(snap.LTP, tech.Support, tech.Resistance, g.strategy.Risk)

	conf := domain.ConfidenceScore{
		Fundamental: fund.Score,
		Technical:   tech.Score,
		Macro:       math.Max(0, macroRes.Score-float64(macroRes.ConfidencePenalty)),
		RiskReward:  scoreRiskReward(levels.RR),
	}
	w := g.strategy.Weights
	conf.Composite = conf.Fundamental*w.Fundamental + conf.Technical*w.Technical +
		conf.Macro*w.Macro + conf.RiskReward*w.RiskReward

	return Analysis{
		Symbol:      snap.Instrument.Symbol,
		Fundamental: fund,
		Technical:   tech,
		Macro:       macroRes,
		Levels:      levels,
		Confidence:  conf,
	}
}

func (g *Generator) propose(ctx context.Context, snap *domain.StockSnapshot, macroRes analysis.MacroResult, portfolioValue float64) *domain.TradeSignal {
	symbol := snap.Instrument.Symbol
	bundle := g.analyse(ctx, snap, macroRes)

	if bundle.Fundamental.Score == 0 {
		g.log.Debug().Str("symbol", symbol).Msg("Disqualified by fundamental analysis")
		metrics.SignalsDropped.WithLabelValues("fundamental_dq").Inc()
		return nil
	}
	if bundle.Confidence.Composite < g.strategy.Signal.MinConfidenceToNotify {
		g.log.Debug().Str("symbol", symbol).
			Float64("composite", bundle.Confidence.Composite).
			Msg("Below confidence threshold")
		metrics.SignalsDropped.WithLabelValues("below_threshold").Inc()
		return nil
	}

	allocation := portfolioValue * g.strategy.Sizing.MaxSingleStockPct / 100
	postTradeCash := portfolioValue -
		portfolioValue*g.strategy.Portfolio.EmergencyCashBufferPct/100 -
		allocation

	now := time.Now()
	sig := &domain.TradeSignal{
		TradeID:       newTradeID(),
		Symbol:        symbol,
		Token:         snap.Instrument.Token,
		Exchange:      snap.Instrument.Exchange,
		Sector:        bundle.Fundamental.Inputs.Sector,
		Action:        domain.SideBuy,
		EntryPrice:    bundle.Levels.Entry,
		TargetPrice:   bundle.Levels.Target,
		StopLoss:      bundle.Levels.Stop,
		RRRatio:       bundle.Levels.RR,
		Confidence:    bundle.Confidence,
		Allocation:    allocation,
		AllocationPct: g.strategy.Sizing.MaxSingleStockPct,
		PostTradeCash: postTradeCash,
		CashBufferOK:  postTradeCash >= 0,
		Thesis:        buildThesis(bundle),
		WorstCase:     buildWorstCase(allocation, bundle.Levels.Entry, bundle.Levels.Stop),
		Invalidation:  fmt.Sprintf("Price closes below ₹%.2f", bundle.Levels.Stop),
		Status:        domain.StatusPendingApproval,
		GeneratedAt:   now,
		ExpiresAt:     now.Add(time.Duration(g.strategy.Signal.ApprovalWindowMinutes) * time.Minute),
	}

	metrics.SignalsGenerated.Inc()
	g.events.Emit(events.SignalGenerated, "signals", map[string]interface{}{
		"trade_id":  sig.TradeID,
		"symbol":    sig.Symbol,
		"composite": sig.Confidence.Composite,
		"rr":        sig.RRRatio,
	})
	return sig
}

// computeLevels derives stop and target from the 20-day extremes. The stop
// sits just under support, clamped into the configured percent band below
// entry; the target is the next resistance when meaningful, else +10%.
func computeLevels(entry, support, resistance float64, risk config.RiskParams) Levels {
	fromSupport := entry * (1 - risk.MinStopLossPct/100)
	if support > 0 {
		fromSupport = support * 0.99
	}
	lowest := entry * (1 - risk.MaxStopLossPct/100)
	highest := entry * (1 - risk.MinStopLossPct/100)
	stop := math.Min(highest, math.Max(lowest, fromSupport))

	target := entry * 1.10
	if resistance > entry*1.03 {
		target = resistance
	}

	rr := 0.0
	if entry > stop {
		rr = (target - entry) / (entry - stop)
	}
	return Levels{Entry: entry, Stop: stop, Target: target, RR: rr}
}

func scoreRiskReward(rr float64) float64 {
	switch {
	case rr >= 3.0:
		return 100
	case rr >= 2.5:
		return 85
	case rr >= 2.0:
		return 70
	case rr >= 1.5:
		return 40
	default:
		return 0
	}
}

func buildThesis(b Analysis) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s %s",
		b.Fundamental.Summary, b.Technical.Summary, b.Macro.Summary))
}

func buildWorstCase(allocation, entry, stop float64) string {
	if entry <= 0 || allocation <= 0 {
		return ""
	}
	lossInr := allocation * math.Abs(entry-stop) / entry
	lossPct := lossInr / allocation * 100
	return fmt.Sprintf("If stop-loss hit → Loss of ₹%.0f (%.1f%% of allocated capital)", lossInr, lossPct)
}

// issuedIDs guards against trade-id reuse within one process lifetime
var issuedIDs sync.Map

// newTradeID mints a TRD- identifier: 12 uppercase hex characters drawn
// from a fresh UUID, unique for the life of the process
func newTradeID() string {
	for {
		hex := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
		id := "TRD-" + hex[:12]
		if _, dup := issuedIDs.LoadOrStore(id, struct{}{}); !dup {
			return id
		}
	}
}
