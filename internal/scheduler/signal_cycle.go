package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/locking"
	"github.com/aristath/nse-trader/internal/metrics"
	"github.com/aristath/nse-trader/internal/modules/reports"
	"github.com/aristath/nse-trader/internal/modules/risk"
)

// The 09:15 scan is allowed to wait this long for an unfinished
// pre-market refresh before proceeding on whatever has been published.
const refreshWait = 10 * time.Minute

// Universe is the published snapshot-store state the cycle inspects
type Universe interface {
	Count() int
	Partial() bool
}

// Refresher reports and drives the ingestion pipeline
type Refresher interface {
	InProgress() bool
	RefreshAll(ctx context.Context) error
}

// Proposer generates ranked trade proposals from the universe
type Proposer interface {
	Generate(ctx context.Context) []*domain.TradeSignal
}

// Screener applies the hard risk rules to one proposal
type Screener interface {
	Validate(sig *domain.TradeSignal, open []*domain.TradeRecord) risk.Result
}

// Gateway routes validated proposals into the approval flow
type Gateway interface {
	Submit(ctx context.Context, sig *domain.TradeSignal, warnings []string)
}

// SignalCycleJob orchestrates the morning scan: wait for the data
// refresh, generate proposals, screen them against the risk rules and
// hand survivors to the approval gateway.
type SignalCycleJob struct {
	log       zerolog.Logger
	locks     *locking.Manager
	calendar  *Calendar
	universe  Universe
	refresher Refresher
	proposer  Proposer
	screener  Screener
	gateway   Gateway
	trades    domain.TradeStore
	chat      domain.Chat

	now  func() time.Time
	poll time.Duration
}

// SignalCycleConfig holds configuration for the signal cycle job
type SignalCycleConfig struct {
	Log       zerolog.Logger
	Locks     *locking.Manager
	Calendar  *Calendar
	Universe  Universe
	Refresher Refresher
	Proposer  Proposer
	Screener  Screener
	Gateway   Gateway
	Trades    domain.TradeStore
	Chat      domain.Chat
}

// NewSignalCycleJob creates the morning scan job
func NewSignalCycleJob(cfg SignalCycleConfig) *SignalCycleJob {
	return &SignalCycleJob{
		log:       cfg.Log.With().Str("job", "signal_cycle").Logger(),
		locks:     cfg.Locks,
		calendar:  cfg.Calendar,
		universe:  cfg.Universe,
		refresher: cfg.Refresher,
		proposer:  cfg.Proposer,
		screener:  cfg.Screener,
		gateway:   cfg.Gateway,
		trades:    cfg.Trades,
		chat:      cfg.Chat,
		now:       time.Now,
		poll:      15 * time.Second,
	}
}

// Name returns the job name
func (j *SignalCycleJob) Name() string {
	return "signal_cycle"
}

// Run executes the morning scan
func (j *SignalCycleJob) Run() error {
	if !j.calendar.IsTradingDay(j.now()) {
		j.log.Debug().Msg("Not a trading day, skipping signal cycle")
		return nil
	}

	if err := j.locks.Acquire("signal_cycle"); err != nil {
		j.log.Warn().Err(err).Msg("Signal cycle already running")
		return nil
	}
	defer j.locks.Release("signal_cycle")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	j.log.Info().Msg("Starting signal cycle")
	start := j.now()

	timedOut := j.awaitRefresh(ctx)

	if j.universe.Count() == 0 && !timedOut {
		// Cold start: the agent came up after the pre-market slot, so the
		// refresh never ran today.
		j.log.Info().Msg("Universe empty, running refresh inline")
		if err := j.refresher.RefreshAll(ctx); err != nil {
			return fmt.Errorf("inline refresh failed: %w", err)
		}
	}

	if timedOut || j.universe.Partial() {
		j.warnPartial()
	}

	open, err := j.trades.GetByStatus(domain.StatusExecuted)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}

	proposals := j.proposer.Generate(ctx)

	submitted, dropped := 0, 0
	for _, sig := range proposals {
		res := j.screener.Validate(sig, open)
		if !res.Passed {
			dropped++
			metrics.SignalsDropped.WithLabelValues("risk_rules").Inc()
			j.log.Info().
				Str("symbol", sig.Symbol).
				Strs("failures", res.Failures).
				Msg("Proposal dropped by risk rules")
			continue
		}
		j.gateway.Submit(ctx, sig, res.Warnings)
		submitted++
	}

	j.log.Info().
		Int("proposals", len(proposals)).
		Int("submitted", submitted).
		Int("dropped", dropped).
		Dur("duration", time.Since(start)).
		Msg("Signal cycle completed")

	return nil
}

// awaitRefresh blocks while the pre-market refresh is still running,
// up to refreshWait. Reports true when the scan must proceed on an
// incomplete universe.
func (j *SignalCycleJob) awaitRefresh(ctx context.Context) bool {
	if !j.refresher.InProgress() {
		return false
	}

	j.log.Info().Dur("max_wait", refreshWait).Msg("Refresh in progress, waiting before the scan")
	deadline := j.now().Add(refreshWait)

	for j.refresher.InProgress() {
		if j.now().After(deadline) {
			j.log.Warn().Msg("Refresh still running after wait deadline, proceeding with partial universe")
			return true
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(j.poll):
		}
	}
	return false
}

func (j *SignalCycleJob) warnPartial() {
	text := reports.Alert("⚠️ PARTIAL DATA",
		fmt.Sprintf("Morning scan is starting with an incomplete universe (%d symbols).\nToday's signals may miss candidates.", j.universe.Count()))
	if err := j.chat.Send(text); err != nil {
		j.log.Warn().Err(err).Msg("Failed to send partial-data warning")
	}
}
