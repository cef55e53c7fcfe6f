package analysis

import (
	"fmt"
	"strings"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/pkg/formulas"
	"github.com/rs/zerolog"
)

// minBarsForAnalysis is the floor below which 200-period indicators are
// meaningless. Symbols with shorter histories score 0.
const minBarsForAnalysis = 210

// TechnicalResult is the typed output of one technical evaluation
type TechnicalResult struct {
	Score           float64 `json:"score"`
	Summary         string  `json:"summary"`
	SMA200          float64 `json:"sma_200"`
	SMA50           float64 `json:"sma_50"`
	SMA20           float64 `json:"sma_20"`
	RSI             float64 `json:"rsi"`
	MACD            float64 `json:"macd"`
	MACDSignal      float64 `json:"macd_signal"`
	Support         float64 `json:"support"`
	Resistance      float64 `json:"resistance"`
	GoldenCross     bool    `json:"golden_cross"`
	DeathCross      bool    `json:"death_cross"`
	VolumeConfirmed bool    `json:"volume_confirmed"`
}

// TechnicalScorer evaluates entry timing and price setup from daily bars.
// A fundamentally strong stock is only traded when the technical setup
// confirms a favorable entry point.
type TechnicalScorer struct {
	cfg config.TechnicalParams
	log zerolog.Logger
}

// NewTechnicalScorer creates a technical scorer
func NewTechnicalScorer(cfg config.TechnicalParams, log zerolog.Logger) *TechnicalScorer {
	return &TechnicalScorer{
		cfg: cfg,
		log: log.With().Str("scorer", "technical").Logger(),
	}
}

// Analyze scores the technical setup of one stock snapshot on a 0-100 scale
func (t *TechnicalScorer) Analyze(snap *domain.StockSnapshot) TechnicalResult {
	if snap == nil || len(snap.Candles) < minBarsForAnalysis {
		bars := 0
		symbol := ""
		if snap != nil {
			bars = len(snap.Candles)
			symbol = snap.Instrument.Symbol
		}
		t.log.Warn().
			Str("symbol", symbol).
			Int("bars", bars).
			Msg("Insufficient historical data, scoring 0")
		return TechnicalResult{Score: 0, Summary: "Insufficient data", RSI: 50}
	}

	closes := snap.Closes()
	volumes := snap.Volumes()
	last := len(closes) - 1
	price := closes[last]

	sma200Series := formulas.SMASeries(closes, t.cfg.MALongPeriod)
	sma50Series := formulas.SMASeries(closes, t.cfg.MAMediumPeriod)
	sma20Series := formulas.SMASeries(closes, t.cfg.MAShortPeriod)
	if sma200Series == nil || sma50Series == nil || sma20Series == nil {
		return TechnicalResult{Score: 0, Summary: "Insufficient data", RSI: 50}
	}
	v200 := sma200Series[last]
	v50 := sma50Series[last]
	v20 := sma20Series[last]

	rsi := 50.0
	if r := formulas.CalculateRSI(closes, t.cfg.RSIPeriod); r != nil {
		rsi = *r
	}

	macdLine, signalLine := formulas.MACDSeries(closes)
	macd := macdLine[last]
	signal := signalLine[last]
	prevMACD := macdLine[last-1]
	prevSignal := signalLine[last-1]
	macdBullish := macd > signal
	macdJustCrossedUp := prevMACD < prevSignal && macd >= signal

	avgVol20Series := formulas.SMASeries(volumes, 20)
	volumeConfirmed := volumes[last] > avgVol20Series[last]

	support := 0.0
	if l := formulas.Lowest(snap.Lows(), 20); l != nil {
		support = *l
	}
	resistance := 0.0
	if h := formulas.Highest(snap.Highs(), 20); h != nil {
		resistance = *h
	}

	prev50 := sma50Series[last-1]
	prev200 := sma200Series[last-1]
	goldenCross := prev50 < prev200 && v50 >= v200
	deathCross := prev50 > prev200 && v50 <= v200

	score := 50.0
	var summary strings.Builder

	// Price vs 200 DMA
	if price > v200 {
		pctAbove := (price - v200) / v200 * 100
		if pctAbove <= t.cfg.MaxAboveLongPct {
			score += 15
			summary.WriteString("Above 200 DMA. ")
		} else {
			score -= 10
			fmt.Fprintf(&summary, "%.1f%% above 200 DMA — extended. ", pctAbove)
		}
	} else {
		score -= 25
		summary.WriteString("Below 200 DMA — avoid. ")
	}

	// Price vs 50 DMA
	if price > v50 {
		score += 8
		summary.WriteString("Above 50 DMA. ")
	} else {
		score -= 8
	}

	// Price vs 20 DMA
	if price > v20 {
		score += 5
	}

	// Golden / Death cross
	if goldenCross {
		score += 12
		summary.WriteString("Golden cross. ")
	}
	if deathCross {
		score -= 20
		summary.WriteString("Death cross — bearish. ")
	}

	// RSI bands
	switch {
	case rsi < t.cfg.RSIOversold && rsi > 30:
		score += 8
		fmt.Fprintf(&summary, "RSI %.0f — oversold potential. ", rsi)
	case rsi >= 40 && rsi <= 60:
		score += 5
		fmt.Fprintf(&summary, "RSI %.0f — neutral. ", rsi)
	case rsi > t.cfg.RSIOverbought:
		score -= 15
		fmt.Fprintf(&summary, "RSI %.0f — overbought. ", rsi)
	case rsi <= 30:
		score -= 5
		fmt.Fprintf(&summary, "RSI %.0f — deeply oversold. ", rsi)
	}

	// MACD
	switch {
	case macdJustCrossedUp:
		score += 10
		summary.WriteString("MACD bullish crossover. ")
	case macdBullish:
		score += 5
	default:
		score -= 5
	}

	// Volume
	if volumeConfirmed {
		score += 7
		summary.WriteString("Volume confirmed. ")
	} else {
		score -= 5
		summary.WriteString("Low volume. ")
	}

	score = clampScore(score)
	t.log.Debug().
		Str("symbol", snap.Instrument.Symbol).
		Float64("score", score).
		Float64("rsi", rsi).
		Bool("macd_bullish", macdBullish).
		Bool("volume_confirmed", volumeConfirmed).
		Msg("Technical score computed")

	return TechnicalResult{
		Score:           score,
		Summary:         strings.TrimSpace(summary.String()),
		SMA200:          v200,
		SMA50:           v50,
		SMA20:           v20,
		RSI:             rsi,
		MACD:            macd,
		MACDSignal:      signal,
		Support:         support,
		Resistance:      resistance,
		GoldenCross:     goldenCross,
		DeathCross:      deathCross,
		VolumeConfirmed: volumeConfirmed,
	}
}
