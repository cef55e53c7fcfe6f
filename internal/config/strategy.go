package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Strategy holds all tunable trading parameters, loaded from a single YAML
// file. Every option has a default so the agent runs out of the box in
// simulation mode.
type Strategy struct {
	Portfolio   PortfolioParams   `mapstructure:"portfolio"`
	Sizing      SizingParams      `mapstructure:"position_sizing"`
	Risk        RiskParams        `mapstructure:"risk"`
	Signal      SignalParams      `mapstructure:"signal"`
	Weights     WeightParams      `mapstructure:"confidence_weights"`
	Filters     FilterParams      `mapstructure:"filters"`
	Fundamental FundamentalParams `mapstructure:"fundamental"`
	Technical   TechnicalParams   `mapstructure:"technical"`
	Macro       MacroParams       `mapstructure:"macro"`
	Execution   ExecutionParams   `mapstructure:"execution"`
	Simulation  SimulationParams  `mapstructure:"simulation"`
	Watchlist   []string          `mapstructure:"watchlist"`
}

type PortfolioParams struct {
	TotalValue             float64 `mapstructure:"total_value"`
	EmergencyCashBufferPct float64 `mapstructure:"emergency_cash_buffer_pct"`
	MaxOpenPositions       int     `mapstructure:"max_open_positions"`
}

type SizingParams struct {
	MaxSingleStockPct     float64 `mapstructure:"max_single_stock_pct"`
	MaxSectorPct          float64 `mapstructure:"max_sector_pct"`
	MinPositionSize       float64 `mapstructure:"min_position_size"`
	HardCapSingleStockPct float64 `mapstructure:"hard_cap_single_stock_pct"`
}

type RiskParams struct {
	MaxSingleTradeDrawdownPct float64 `mapstructure:"max_single_trade_drawdown_pct"`
	MaxPortfolioDrawdownPct   float64 `mapstructure:"max_portfolio_drawdown_pct"`
	MinStopLossPct            float64 `mapstructure:"min_stop_loss_pct"`
	MaxStopLossPct            float64 `mapstructure:"max_stop_loss_pct"`
	MinRiskRewardRatio        float64 `mapstructure:"min_risk_reward_ratio"`
	TrailingStopActivatePct   float64 `mapstructure:"trailing_stop_activate_pct"`
	MaxNewBuysPerWeek         int     `mapstructure:"max_new_buys_per_week"`
}

type SignalParams struct {
	MinConfidenceToNotify float64 `mapstructure:"min_confidence_to_notify"`
	AutoExecuteThreshold  float64 `mapstructure:"auto_execute_threshold"`
	ApprovalWindowMinutes int     `mapstructure:"approval_window_minutes"`
}

type WeightParams struct {
	Fundamental float64 `mapstructure:"fundamental"`
	Technical   float64 `mapstructure:"technical"`
	Macro       float64 `mapstructure:"macro"`
	RiskReward  float64 `mapstructure:"risk_reward"`
}

type FilterParams struct {
	MinStockPrice            float64 `mapstructure:"min_stock_price"`
	MinAvgDailyVolume        float64 `mapstructure:"min_avg_daily_volume"`
	IncludeSecondaryExchange bool    `mapstructure:"include_secondary_exchange"`
	MaxAnalysisUniverse      int     `mapstructure:"max_analysis_universe"`
}

type FundamentalParams struct {
	MinRevenueGrowthPct   float64 `mapstructure:"min_revenue_growth_pct"`
	MinROEPct             float64 `mapstructure:"min_roe_pct"`
	MinROCEPct            float64 `mapstructure:"min_roce_pct"`
	MaxDebtEquity         float64 `mapstructure:"max_debt_equity"`
	HardMaxDebtEquity     float64 `mapstructure:"hard_max_debt_equity"`
	MinPromoterHoldingPct float64 `mapstructure:"min_promoter_holding_pct"`
	MaxPEGRatio           float64 `mapstructure:"max_peg_ratio"`
}

type TechnicalParams struct {
	MALongPeriod    int     `mapstructure:"ma_long_period"`
	MAMediumPeriod  int     `mapstructure:"ma_medium_period"`
	MAShortPeriod   int     `mapstructure:"ma_short_period"`
	RSIPeriod       int     `mapstructure:"rsi_period"`
	RSIOverbought   float64 `mapstructure:"rsi_overbought"`
	RSIOversold     float64 `mapstructure:"rsi_oversold"`
	MaxAboveLongPct float64 `mapstructure:"max_above_long_ma_pct"`
}

type MacroParams struct {
	VIXNoBuys           float64 `mapstructure:"vix_no_buys"`
	VIXCaution          float64 `mapstructure:"vix_caution"`
	VIXFavorable        float64 `mapstructure:"vix_favorable"`
	FIISellingStreakDay int     `mapstructure:"fii_selling_streak_days"`
}

type ExecutionParams struct {
	AutoMode                bool   `mapstructure:"auto_mode"`
	OrderType               string `mapstructure:"order_type"`
	AllowMargin             bool   `mapstructure:"allow_margin"`
	OrderFillTimeoutMinutes int    `mapstructure:"order_fill_timeout_minutes"`
}

type SimulationParams struct {
	Enabled        bool    `mapstructure:"enabled"`
	VirtualBalance float64 `mapstructure:"virtual_balance"`
}

// LoadStrategy reads the strategy file at path. A missing file is not an
// error: defaults apply. A malformed file or invalid parameter set is.
func LoadStrategy(path string) (*Strategy, error) {
	v := viper.New()
	setStrategyDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read strategy config %s: %w", path, err)
		}
	}

	var s Strategy
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse strategy config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate rejects parameter sets the agent must never run with.
func (s *Strategy) Validate() error {
	sum := s.Weights.Fundamental + s.Weights.Technical + s.Weights.Macro + s.Weights.RiskReward
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("confidence weights must sum to 1.0, got %.4f", sum)
	}
	if !strings.EqualFold(s.Execution.OrderType, "LIMIT") {
		return fmt.Errorf("order_type must be LIMIT, got %q", s.Execution.OrderType)
	}
	if s.Risk.MinStopLossPct <= 0 || s.Risk.MaxStopLossPct < s.Risk.MinStopLossPct {
		return fmt.Errorf("stop-loss bounds invalid: min=%.2f max=%.2f", s.Risk.MinStopLossPct, s.Risk.MaxStopLossPct)
	}
	if s.Signal.ApprovalWindowMinutes <= 0 {
		return fmt.Errorf("approval_window_minutes must be positive")
	}
	if s.Filters.MaxAnalysisUniverse <= 0 {
		return fmt.Errorf("max_analysis_universe must be positive")
	}
	return nil
}

func setStrategyDefaults(v *viper.Viper) {
	v.SetDefault("portfolio.total_value", 500000.0)
	v.SetDefault("portfolio.emergency_cash_buffer_pct", 20.0)
	v.SetDefault("portfolio.max_open_positions", 15)

	v.SetDefault("position_sizing.max_single_stock_pct", 10.0)
	v.SetDefault("position_sizing.max_sector_pct", 25.0)
	v.SetDefault("position_sizing.min_position_size", 5000.0)
	v.SetDefault("position_sizing.hard_cap_single_stock_pct", 25.0)

	v.SetDefault("risk.max_single_trade_drawdown_pct", 15.0)
	v.SetDefault("risk.max_portfolio_drawdown_pct", 20.0)
	v.SetDefault("risk.min_stop_loss_pct", 3.0)
	v.SetDefault("risk.max_stop_loss_pct", 15.0)
	v.SetDefault("risk.min_risk_reward_ratio", 2.0)
	v.SetDefault("risk.trailing_stop_activate_pct", 10.0)
	v.SetDefault("risk.max_new_buys_per_week", 3)

	v.SetDefault("signal.min_confidence_to_notify", 60.0)
	v.SetDefault("signal.auto_execute_threshold", 90.0)
	v.SetDefault("signal.approval_window_minutes", 30)

	v.SetDefault("confidence_weights.fundamental", 0.35)
	v.SetDefault("confidence_weights.technical", 0.30)
	v.SetDefault("confidence_weights.macro", 0.20)
	v.SetDefault("confidence_weights.risk_reward", 0.15)

	v.SetDefault("filters.min_stock_price", 10.0)
	v.SetDefault("filters.min_avg_daily_volume", 10000000.0) // ₹1 crore traded value
	v.SetDefault("filters.include_secondary_exchange", false)
	v.SetDefault("filters.max_analysis_universe", 500)

	v.SetDefault("fundamental.min_revenue_growth_pct", 10.0)
	v.SetDefault("fundamental.min_roe_pct", 15.0)
	v.SetDefault("fundamental.min_roce_pct", 12.0)
	v.SetDefault("fundamental.max_debt_equity", 1.0)
	v.SetDefault("fundamental.hard_max_debt_equity", 2.0)
	v.SetDefault("fundamental.min_promoter_holding_pct", 40.0)
	v.SetDefault("fundamental.max_peg_ratio", 1.5)

	v.SetDefault("technical.ma_long_period", 200)
	v.SetDefault("technical.ma_medium_period", 50)
	v.SetDefault("technical.ma_short_period", 20)
	v.SetDefault("technical.rsi_period", 14)
	v.SetDefault("technical.rsi_overbought", 75.0)
	v.SetDefault("technical.rsi_oversold", 40.0)
	v.SetDefault("technical.max_above_long_ma_pct", 15.0)

	v.SetDefault("macro.vix_no_buys", 25.0)
	v.SetDefault("macro.vix_caution", 20.0)
	v.SetDefault("macro.vix_favorable", 15.0)
	v.SetDefault("macro.fii_selling_streak_days", 10)

	v.SetDefault("execution.auto_mode", false)
	v.SetDefault("execution.order_type", "LIMIT")
	v.SetDefault("execution.allow_margin", false)
	v.SetDefault("execution.order_fill_timeout_minutes", 30)

	v.SetDefault("simulation.enabled", true)
	v.SetDefault("simulation.virtual_balance", 500000.0)

	v.SetDefault("watchlist", []string{})
}
