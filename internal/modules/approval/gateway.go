// Package approval owns the human-in-the-loop step between risk
// validation and execution. Proposals wait in an in-memory pending map
// keyed by trade id; operator replies arriving over chat drive them to
// APPROVED or REJECTED, and a periodic sweep expires the rest. Removal
// from the map is the single transition point out of PENDING_APPROVAL,
// so a proposal can never be executed twice.
package approval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/events"
	"github.com/aristath/nse-trader/internal/metrics"
	"github.com/aristath/nse-trader/internal/modules/reports"
)

// autoApprover is recorded as the approver on auto-executed proposals
const autoApprover = "AUTO"

var whitespace = regexp.MustCompile(`\s+`)

// Executor places the buy order for an approved signal
type Executor interface {
	Execute(ctx context.Context, sig *domain.TradeSignal) error
}

// Gateway manages the approval lifecycle for trade proposals
type Gateway struct {
	chat     domain.Chat
	trades   domain.TradeStore
	executor Executor
	strategy *config.Strategy
	events   *events.Manager
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]*domain.TradeSignal

	now func() time.Time
}

// NewGateway creates the approval gateway
func NewGateway(chat domain.Chat, trades domain.TradeStore, executor Executor, strategy *config.Strategy, ev *events.Manager, log zerolog.Logger) *Gateway {
	return &Gateway{
		chat:     chat,
		trades:   trades,
		executor: executor,
		strategy: strategy,
		events:   ev,
		log:      log.With().Str("service", "approval").Logger(),
		pending:  make(map[string]*domain.TradeSignal),
		now:      time.Now,
	}
}

// Submit sends the pre-trade report for a validated proposal and parks it
// in the pending map. A failed chat send discards the proposal with no
// retry. When auto-mode is on and the composite clears the auto-execute
// threshold, the proposal skips chat approval entirely.
func (g *Gateway) Submit(ctx context.Context, sig *domain.TradeSignal, warnings []string) {
	sig.Warnings = warnings

	if g.strategy.Execution.AutoMode && sig.Confidence.Composite >= g.strategy.Signal.AutoExecuteThreshold {
		g.autoExecute(ctx, sig)
		return
	}

	report := reports.PreTrade(sig, warnings)
	if err := g.chat.Send(report); err != nil {
		g.log.Warn().Err(err).
			Str("trade_id", sig.TradeID).
			Msg("Could not send pre-trade report, signal discarded")
		metrics.SignalsDropped.WithLabelValues("chat_send_failed").Inc()
		g.events.Emit(events.SignalDropped, "approval", map[string]interface{}{
			"trade_id": sig.TradeID,
			"symbol":   sig.Symbol,
			"reason":   "chat_send_failed",
		})
		return
	}

	g.mu.Lock()
	g.pending[sig.TradeID] = sig
	g.mu.Unlock()

	g.persist(sig.Record())

	g.log.Info().
		Str("trade_id", sig.TradeID).
		Str("symbol", sig.Symbol).
		Time("expires_at", sig.ExpiresAt).
		Msg("Signal submitted for approval")
}

// autoExecute records the approval transitions and hands straight to the
// execution engine, synchronously in simulation mode and in the
// background in live mode.
func (g *Gateway) autoExecute(ctx context.Context, sig *domain.TradeSignal) {
	g.log.Info().
		Str("trade_id", sig.TradeID).
		Float64("composite", sig.Confidence.Composite).
		Float64("threshold", g.strategy.Signal.AutoExecuteThreshold).
		Msg("Auto-executing signal above threshold")

	g.persist(sig.Record())
	g.approveRecord(sig, autoApprover)
	g.events.Emit(events.TradeApproved, "approval", map[string]interface{}{
		"trade_id":    sig.TradeID,
		"symbol":      sig.Symbol,
		"approved_by": autoApprover,
	})

	g.dispatch(ctx, sig)
}

// HandleReply processes one operator chat message. Recognised shapes are
// APPROVE <id>, REJECT <id> [reason], STATUS and POSITIONS; anything
// else is ignored.
func (g *Gateway) HandleReply(text, username string) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)

	switch {
	case strings.HasPrefix(upper, "APPROVE "):
		parts := whitespace.Split(trimmed, 3)
		if len(parts) >= 2 {
			g.approve(strings.ToUpper(parts[1]), username)
		}
	case strings.HasPrefix(upper, "REJECT "):
		parts := whitespace.Split(trimmed, 3)
		if len(parts) >= 2 {
			reason := "User rejected"
			if len(parts) == 3 && parts[2] != "" {
				reason = parts[2]
			}
			g.reject(strings.ToUpper(parts[1]), reason)
		}
	case upper == "STATUS":
		g.send(g.statusReply())
	case upper == "POSITIONS":
		g.send(g.positionsReply())
	}
}

func (g *Gateway) approve(tradeID, username string) {
	sig := g.take(tradeID)
	if sig == nil {
		g.send("❓ Unknown or already processed trade ID: " + tradeID)
		return
	}

	g.log.Info().
		Str("trade_id", tradeID).
		Str("approved_by", username).
		Msg("Signal approved by operator")

	g.approveRecord(sig, username)
	g.events.Emit(events.TradeApproved, "approval", map[string]interface{}{
		"trade_id":    tradeID,
		"symbol":      sig.Symbol,
		"approved_by": username,
	})

	g.dispatch(context.Background(), sig)
}

func (g *Gateway) reject(tradeID, reason string) {
	sig := g.take(tradeID)
	if sig == nil {
		g.send("❓ Unknown or already processed trade ID: " + tradeID)
		return
	}

	g.log.Info().
		Str("trade_id", tradeID).
		Str("reason", reason).
		Msg("Signal rejected by operator")

	sig.Status = domain.StatusRejected
	g.transition(sig, func(record *domain.TradeRecord) {
		record.Status = domain.StatusRejected
		record.RejectionReason = reason
	})
	g.events.Emit(events.TradeRejected, "approval", map[string]interface{}{
		"trade_id": tradeID,
		"symbol":   sig.Symbol,
		"reason":   reason,
	})

	g.send(reports.RejectionAck(tradeID, reason))
}

// ExpireTimedOut transitions every pending proposal past its deadline to
// EXPIRED and notifies the operator. Called on the monitor interval.
func (g *Gateway) ExpireTimedOut() {
	now := g.now()

	g.mu.Lock()
	var expired []*domain.TradeSignal
	for id, sig := range g.pending {
		if sig.ExpiresAt.Before(now) {
			expired = append(expired, sig)
			delete(g.pending, id)
		}
	}
	g.mu.Unlock()

	for _, sig := range expired {
		g.log.Info().
			Str("trade_id", sig.TradeID).
			Msg("Signal expired, no response received")

		sig.Status = domain.StatusExpired
		g.transition(sig, func(record *domain.TradeRecord) {
			record.Status = domain.StatusExpired
		})
		g.events.Emit(events.SignalExpired, "approval", map[string]interface{}{
			"trade_id": sig.TradeID,
			"symbol":   sig.Symbol,
		})

		g.send(reports.ExpiryNotice(sig.TradeID))
	}
}

// PendingCount reports the number of proposals awaiting a reply
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Pending returns the proposals awaiting a reply, newest first
func (g *Gateway) Pending() []*domain.TradeSignal {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*domain.TradeSignal, 0, len(g.pending))
	for _, sig := range g.pending {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GeneratedAt.After(out[j].GeneratedAt)
	})
	return out
}

// take removes and returns the pending proposal for an id, nil when the
// id is unknown or already processed. This is the only removal path, so
// whoever gets a non-nil result owns the transition.
func (g *Gateway) take(tradeID string) *domain.TradeSignal {
	g.mu.Lock()
	defer g.mu.Unlock()

	sig, ok := g.pending[tradeID]
	if !ok {
		return nil
	}
	delete(g.pending, tradeID)
	return sig
}

// dispatch hands an approved signal to the execution engine. Simulation
// fills are synchronous; live orders run in the background so the reply
// handler never blocks on the broker.
func (g *Gateway) dispatch(ctx context.Context, sig *domain.TradeSignal) {
	if g.strategy.Simulation.Enabled {
		if err := g.executor.Execute(ctx, sig); err != nil {
			g.log.Error().Err(err).Str("trade_id", sig.TradeID).Msg("Simulated execution failed")
		}
		return
	}

	go func() {
		if err := g.executor.Execute(context.Background(), sig); err != nil {
			g.log.Error().Err(err).Str("trade_id", sig.TradeID).Msg("Execution failed")
		}
	}()
}

func (g *Gateway) approveRecord(sig *domain.TradeSignal, approvedBy string) {
	now := g.now()
	sig.Status = domain.StatusApproved
	g.transition(sig, func(record *domain.TradeRecord) {
		record.Status = domain.StatusApproved
		record.ApprovedAt = &now
		record.ApprovedBy = approvedBy
	})
}

func (g *Gateway) statusReply() string {
	mode := "💰 LIVE"
	if g.strategy.Simulation.Enabled {
		mode = "📄 PAPER TRADING"
	}
	autoMode := "DISABLED"
	if g.strategy.Execution.AutoMode {
		autoMode = "ENABLED"
	}

	return fmt.Sprintf("<b>🤖 Agent Status</b>\n"+
		"Mode      : %s\n"+
		"Pending   : %d signals awaiting approval\n"+
		"Auto-mode : %s",
		mode, g.PendingCount(), autoMode)
}

func (g *Gateway) positionsReply() string {
	open, err := g.trades.GetByStatus(domain.StatusExecuted)
	if err != nil {
		g.log.Error().Err(err).Msg("Could not load open positions")
		return "⚠️ Could not load positions"
	}
	if len(open) == 0 {
		return "📊 No open positions."
	}

	var sb strings.Builder
	sb.WriteString("<b>📊 Open Positions</b>\n")
	for _, t := range open {
		sb.WriteString(fmt.Sprintf("• %s — Entry: ₹%.2f | SL: ₹%.2f | Target: ₹%.2f\n",
			t.Symbol, t.EntryPrice, t.CurrentStop, t.TargetPrice))
	}
	return sb.String()
}

// persist creates the initial PENDING_APPROVAL record for a submission
func (g *Gateway) persist(record *domain.TradeRecord) {
	existing, err := g.trades.GetByID(record.TradeID)
	if err == nil && existing != nil {
		err = g.trades.Update(record)
	} else if err == nil {
		err = g.trades.Create(record)
	}
	if err != nil {
		g.log.Error().Err(err).Str("trade_id", record.TradeID).Msg("Failed to persist trade record")
	}
}

// transition loads the signal's record, applies mutate, and writes it
// back, recreating the record from the signal when it is missing.
func (g *Gateway) transition(sig *domain.TradeSignal, mutate func(*domain.TradeRecord)) {
	record, err := g.trades.GetByID(sig.TradeID)
	if err != nil {
		g.log.Error().Err(err).Str("trade_id", sig.TradeID).Msg("Failed to load trade record")
		return
	}

	fresh := record == nil
	if fresh {
		record = sig.Record()
	}
	mutate(record)

	if fresh {
		err = g.trades.Create(record)
	} else {
		err = g.trades.Update(record)
	}
	if err != nil {
		g.log.Error().Err(err).Str("trade_id", sig.TradeID).Msg("Failed to persist trade record")
	}
}

func (g *Gateway) send(text string) {
	if err := g.chat.Send(text); err != nil {
		g.log.Warn().Err(err).Msg("Chat reply failed")
	}
}
