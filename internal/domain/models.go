package domain

import "time"

// Exchange codes used for order routing and quote requests
const (
	ExchangeNSE = "NSE"
	ExchangeBSE = "BSE"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// SignalStatus represents the lifecycle state of a trade signal
type SignalStatus string

const (
	StatusPendingApproval SignalStatus = "PENDING_APPROVAL"
	StatusApproved        SignalStatus = "APPROVED"
	StatusRejected        SignalStatus = "REJECTED"
	StatusExpired         SignalStatus = "EXPIRED"
	StatusExecuted        SignalStatus = "EXECUTED"
	StatusCancelled       SignalStatus = "CANCELLED"
	StatusFailed          SignalStatus = "FAILED"
	StatusClosed          SignalStatus = "CLOSED"
)

// validTransitions is the status DAG. A status absent from the map is terminal.
var validTransitions = map[SignalStatus][]SignalStatus{
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusExpired, StatusCancelled},
	StatusApproved:        {StatusExecuted, StatusFailed},
	StatusExecuted:        {StatusClosed},
}

// CanTransitionTo reports whether moving from s to next is a legal transition
func (s SignalStatus) CanTransitionTo(next SignalStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s
func (s SignalStatus) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// MarketRegime classifies the broad market environment
type MarketRegime string

const (
	RegimeBull           MarketRegime = "BULL"
	RegimeBear           MarketRegime = "BEAR"
	RegimeSideways       MarketRegime = "SIDEWAYS"
	RegimeHighVolatility MarketRegime = "HIGH_VOLATILITY"
)

// Exit reasons recorded when a position closes
const (
	ExitStopLoss    = "STOP_LOSS_HIT"
	ExitMaxDrawdown = "MAX_DRAWDOWN"
	ExitTargetHit   = "TARGET_HIT"
	ExitManual      = "MANUAL_EXIT"
)

// Instrument is one tradable equity from the broker's instrument catalog
type Instrument struct {
	Token    string `json:"token"`
	Symbol   string `json:"symbol"` // trading symbol, e.g. RELIANCE-EQ
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// Candle is one daily OHLCV bar
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Quote is a point-in-time price snapshot for one instrument
type Quote struct {
	Token       string  `json:"token"`
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	LTP         float64 `json:"ltp"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"` // previous close
	Volume      int64   `json:"volume"`
	TradedValue float64 `json:"traded_value"` // total traded value for the day
}

// StockSnapshot is the per-symbol analysis input: the latest price plus
// roughly a year of daily bars in ascending date order.
type StockSnapshot struct {
	Instrument Instrument `json:"instrument"`
	LTP        float64    `json:"ltp"`
	Candles    []Candle   `json:"candles"`
	// AvgTradedValue20D is the 20-day mean of close×volume in rupees,
	// the liquidity measure Phase 2 admission checks against.
	AvgTradedValue20D float64   `json:"avg_traded_value_20d"`
	Sector            string    `json:"sector"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// Closes returns the close series in date order
func (s *StockSnapshot) Closes() []float64 {
	closes := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		closes[i] = c.Close
	}
	return closes
}

// Volumes returns the volume series in date order
func (s *StockSnapshot) Volumes() []float64 {
	volumes := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		volumes[i] = float64(c.Volume)
	}
	return volumes
}

// Lows returns the low series in date order
func (s *StockSnapshot) Lows() []float64 {
	lows := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		lows[i] = c.Low
	}
	return lows
}

// Highs returns the high series in date order
func (s *StockSnapshot) Highs() []float64 {
	highs := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		highs[i] = c.High
	}
	return highs
}

// MacroSnapshot is the market-wide context computed once per refresh
type MacroSnapshot struct {
	Date              time.Time    `json:"date"`
	VIX               float64      `json:"vix"`
	IndexPrice        float64      `json:"index_price"`
	IndexMean200      float64      `json:"index_mean_200"`
	IndexDeviationPct float64      `json:"index_deviation_pct"`
	FIINetFlows       []float64    `json:"fii_net_flows,omitempty"` // daily net flows, most recent last
	RepoRate          float64      `json:"repo_rate"`
	Regime            MarketRegime `json:"regime"`
	NewBuysSuppressed bool         `json:"new_buys_suppressed"`
}

// LatestFIINetFlow returns the most recent daily net foreign flow in crores,
// or 0 when no flow data is loaded.
func (m *MacroSnapshot) LatestFIINetFlow() float64 {
	if len(m.FIINetFlows) == 0 {
		return 0
	}
	return m.FIINetFlows[len(m.FIINetFlows)-1]
}

// ConsecutiveFIISellingDays counts negative daily flows back from the most
// recent observation.
func (m *MacroSnapshot) ConsecutiveFIISellingDays() int {
	days := 0
	for i := len(m.FIINetFlows) - 1; i >= 0; i-- {
		if m.FIINetFlows[i] >= 0 {
			break
		}
		days++
	}
	return days
}

// NeutralMacroSnapshot is the fallback installed when macro data cannot be
// fetched: calm volatility, index near its long mean, buys not suppressed.
func NeutralMacroSnapshot() MacroSnapshot {
	return MacroSnapshot{
		Date:              time.Now(),
		VIX:               15,
		IndexPrice:        22000,
		IndexMean200:      21000,
		IndexDeviationPct: 4.76,
		RepoRate:          6.5,
		Regime:            RegimeSideways,
		NewBuysSuppressed: false,
	}
}

// ConfidenceScore holds the four sub-scores and their weighted composite.
// The macro sub-score stored here is already penalty-adjusted.
type ConfidenceScore struct {
	Composite   float64 `json:"composite"`
	Fundamental float64 `json:"fundamental"`
	Technical   float64 `json:"technical"`
	Macro       float64 `json:"macro"`
	RiskReward  float64 `json:"risk_reward"`
}

// TradeSignal is a trade proposal produced by the signal generator
type TradeSignal struct {
	TradeID       string          `json:"trade_id"`
	Symbol        string          `json:"symbol"`
	Token         string          `json:"token"`
	Exchange      string          `json:"exchange"`
	Sector        string          `json:"sector"`
	Action        string          `json:"action"`
	EntryPrice    float64         `json:"entry_price"`
	TargetPrice   float64         `json:"target_price"`
	StopLoss      float64         `json:"stop_loss"`
	RRRatio       float64         `json:"rr_ratio"`
	Confidence    ConfidenceScore `json:"confidence"`
	Quantity      int             `json:"quantity"`
	Allocation    float64         `json:"allocation"`
	AllocationPct float64         `json:"allocation_pct"`
	PostTradeCash float64         `json:"post_trade_cash"`
	CashBufferOK  bool            `json:"cash_buffer_ok"`
	Thesis        string          `json:"thesis"`
	WorstCase     string          `json:"worst_case"`
	Invalidation  string          `json:"invalidation"`
	Warnings      []string        `json:"warnings,omitempty"`
	Status        SignalStatus    `json:"status"`
	GeneratedAt   time.Time       `json:"generated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Record converts the signal into its persisted mirror
func (s *TradeSignal) Record() *TradeRecord {
	expires := s.ExpiresAt
	return &TradeRecord{
		TradeID:          s.TradeID,
		Symbol:           s.Symbol,
		Token:            s.Token,
		Exchange:         s.Exchange,
		Sector:           s.Sector,
		Action:           s.Action,
		Status:           s.Status,
		EntryPrice:       s.EntryPrice,
		StopLoss:         s.StopLoss,
		CurrentStop:      s.StopLoss,
		TargetPrice:      s.TargetPrice,
		RRRatio:          s.RRRatio,
		Quantity:         s.Quantity,
		Allocation:       s.Allocation,
		CompositeScore:   s.Confidence.Composite,
		FundamentalScore: s.Confidence.Fundamental,
		TechnicalScore:   s.Confidence.Technical,
		MacroScore:       s.Confidence.Macro,
		RiskRewardScore:  s.Confidence.RiskReward,
		Thesis:           truncate(s.Thesis, 500),
		WorstCase:        truncate(s.WorstCase, 300),
		Invalidation:     truncate(s.Invalidation, 300),
		GeneratedAt:      s.GeneratedAt,
		ExpiresAt:        &expires,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// TradeRecord is the persisted mirror of a trade signal plus outcome fields.
// It is upserted at every status transition.
type TradeRecord struct {
	TradeID          string       `json:"trade_id"`
	Symbol           string       `json:"symbol"`
	Token            string       `json:"token"`
	Exchange         string       `json:"exchange"`
	Sector           string       `json:"sector"`
	Action           string       `json:"action"`
	Status           SignalStatus `json:"status"`
	EntryPrice       float64      `json:"entry_price"`
	StopLoss         float64      `json:"stop_loss"`     // initial stop, never mutated
	CurrentStop      float64      `json:"current_stop"`  // trailing stop, monotone non-decreasing
	TargetPrice      float64      `json:"target_price"`
	RRRatio          float64      `json:"rr_ratio"`
	Quantity         int          `json:"quantity"`
	Allocation       float64      `json:"allocation"`
	CompositeScore   float64      `json:"composite_score"`
	FundamentalScore float64      `json:"fundamental_score"`
	TechnicalScore   float64      `json:"technical_score"`
	MacroScore       float64      `json:"macro_score"`
	RiskRewardScore  float64      `json:"risk_reward_score"`
	Thesis           string       `json:"thesis,omitempty"`
	WorstCase        string       `json:"worst_case,omitempty"`
	Invalidation     string       `json:"invalidation,omitempty"`
	GeneratedAt      time.Time    `json:"generated_at"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
	ApprovedAt       *time.Time   `json:"approved_at,omitempty"`
	ExecutedAt       *time.Time   `json:"executed_at,omitempty"`
	ClosedAt         *time.Time   `json:"closed_at,omitempty"`
	ApprovedBy       string       `json:"approved_by,omitempty"`
	RejectionReason  string       `json:"rejection_reason,omitempty"`
	BrokerOrderID    string       `json:"broker_order_id,omitempty"`
	ExitPrice        *float64     `json:"exit_price,omitempty"`
	RealizedPnL      *float64     `json:"realized_pnl,omitempty"`
	PnLPercent       *float64     `json:"pnl_percent,omitempty"`
	ExitReason       string       `json:"exit_reason,omitempty"`
	TargetHit        bool         `json:"target_hit"`
	PartialNotified  bool         `json:"partial_notified"`
}

// Invested returns the capital actually deployed in the position
func (t *TradeRecord) Invested() float64 {
	return t.EntryPrice * float64(t.Quantity)
}

// Position is the live monitor view of an executed trade
type Position struct {
	TradeID       string  `json:"trade_id"`
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	CurrentStop   float64 `json:"current_stop"`
	TargetPrice   float64 `json:"target_price"`
	Invested      float64 `json:"invested"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	PnLPercent    float64 `json:"pnl_percent"`
	DaysHeld      int     `json:"days_held"`
}

// Holding is a demat holding reported by the broker
type Holding struct {
	Symbol       string  `json:"symbol"`
	Token        string  `json:"token"`
	Exchange     string  `json:"exchange"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LTP          float64 `json:"ltp"`
}

// OrderRequest describes a limit order to be placed at the broker
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Token    string  `json:"token"`
	Exchange string  `json:"exchange"`
	Side     string  `json:"side"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// PortfolioSnapshot is one end-of-day portfolio valuation row
type PortfolioSnapshot struct {
	Date            time.Time `json:"date"`
	TotalValue      float64   `json:"total_value"`
	Cash            float64   `json:"cash"`
	Invested        float64   `json:"invested"`
	InvestedPct     float64   `json:"invested_pct"`
	OpenPositions   int       `json:"open_positions"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
	DayPnL          float64   `json:"day_pnl"`
	PeakValue       float64   `json:"peak_value"`
	DrawdownPercent float64   `json:"drawdown_percent"`
}
