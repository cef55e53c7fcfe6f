// Package monitor watches open positions during market hours. It enforces
// stop-loss and drawdown exits autonomously, raises trailing stops
// monotonically, notifies on target hits and sends the end-of-day summary
// with the daily portfolio snapshot. Exits never wait for operator approval;
// only profit booking does.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/events"
	"github.com/aristath/nse-trader/internal/metrics"
	"github.com/aristath/nse-trader/internal/modules/reports"
)

// Seller places exit orders at the broker. Satisfied by the execution engine.
type Seller interface {
	PlaceSell(ctx context.Context, symbol, token, exchange string, quantity int, price float64, reason string) (string, error)
}

// Resolver maps a symbol to its instrument on a given exchange. Satisfied by
// the instrument registry.
type Resolver interface {
	Resolve(symbol, exchange string) (domain.Instrument, bool)
}

// Valuation exposes the current portfolio value. Satisfied by the portfolio
// valuator.
type Valuation interface {
	Value() float64
	Breakdown() (cash, holdings float64, ok bool)
}

// SnapshotStore persists daily portfolio valuations. Satisfied by the
// snapshot repository.
type SnapshotStore interface {
	Upsert(s domain.PortfolioSnapshot) error
	PeakValue() (float64, error)
}

// Monitor is the position watchdog. It is the only writer of current_stop.
type Monitor struct {
	broker    domain.Broker
	chat      domain.Chat
	trades    domain.TradeStore
	seller    Seller
	resolver  Resolver
	valuator  Valuation
	snapshots SnapshotStore
	strategy  *config.Strategy
	events    *events.Manager
	log       zerolog.Logger

	now func() time.Time
}

// NewMonitor creates a new position monitor
func NewMonitor(
	broker domain.Broker,
	chat domain.Chat,
	trades domain.TradeStore,
	seller Seller,
	resolver Resolver,
	valuator Valuation,
	snapshots SnapshotStore,
	strategy *config.Strategy,
	ev *events.Manager,
	log zerolog.Logger,
) *Monitor {
	return &Monitor{
		broker:    broker,
		chat:      chat,
		trades:    trades,
		seller:    seller,
		resolver:  resolver,
		valuator:  valuator,
		snapshots: snapshots,
		strategy:  strategy,
		events:    ev,
		log:       log.With().Str("service", "monitor").Logger(),
		now:       time.Now,
	}
}

// Tick checks every open position against its live price. Positions whose
// price cannot be fetched are skipped until the next tick.
func (m *Monitor) Tick(ctx context.Context) {
	positions, err := m.trades.GetByStatus(domain.StatusExecuted)
	if err != nil {
		m.log.Error().Err(err).Msg("Could not load open positions")
		m.events.EmitError("monitor", err, nil)
		return
	}
	if len(positions) == 0 {
		m.log.Debug().Msg("No open positions to monitor")
		return
	}

	m.log.Info().Int("positions", len(positions)).Msg("Monitoring open positions")

	for _, position := range positions {
		price, ok := m.priceFor(ctx, position)
		if !ok {
			m.log.Warn().Str("symbol", position.Symbol).Msg("Could not fetch price, skipping position this tick")
			continue
		}

		if m.checkStopLoss(ctx, position, price) {
			continue
		}
		if m.checkDrawdown(ctx, position, price) {
			continue
		}
		m.checkTarget(position, price)
		m.updateTrailingStop(position, price)
	}
}

// checkStopLoss exits the position when price trades at or below the current
// stop. Returns true when the position was closed.
func (m *Monitor) checkStopLoss(ctx context.Context, position *domain.TradeRecord, price float64) bool {
	if price > position.CurrentStop {
		return false
	}

	m.log.Warn().
		Str("symbol", position.Symbol).
		Float64("price", price).
		Float64("stop", position.CurrentStop).
		Msg("STOP-LOSS HIT, selling position")

	if _, err := m.seller.PlaceSell(ctx, position.Symbol, position.Token, position.Exchange,
		position.Quantity, price, "STOP-LOSS HIT"); err != nil {
		// Position stays open; the next tick retries the exit.
		m.log.Error().Err(err).Str("symbol", position.Symbol).Msg("Stop-loss sell failed")
		return false
	}

	m.close(position, price, domain.ExitStopLoss)

	pnl := (price - position.EntryPrice) * float64(position.Quantity)
	m.send(reports.Alert("🔴 STOP-LOSS TRIGGERED",
		fmt.Sprintf("%s sold @ ₹%.2f | P&L: ₹%.0f", position.Symbol, price, pnl)))

	m.events.Emit(events.StopLossTriggered, "monitor", map[string]interface{}{
		"trade_id": position.TradeID,
		"symbol":   position.Symbol,
		"price":    price,
		"stop":     position.CurrentStop,
	})
	return true
}

// checkDrawdown exits the position when the loss from entry exceeds the
// per-trade drawdown cap. Returns true when the position was closed.
func (m *Monitor) checkDrawdown(ctx context.Context, position *domain.TradeRecord, price float64) bool {
	if position.EntryPrice <= 0 {
		return false
	}
	drawdownPct := (position.EntryPrice - price) / position.EntryPrice * 100
	if drawdownPct < m.strategy.Risk.MaxSingleTradeDrawdownPct {
		return false
	}

	m.log.Warn().
		Str("symbol", position.Symbol).
		Float64("drawdown_pct", drawdownPct).
		Msg("MAX DRAWDOWN exceeded, selling position")

	if _, err := m.seller.PlaceSell(ctx, position.Symbol, position.Token, position.Exchange,
		position.Quantity, price, fmt.Sprintf("MAX DRAWDOWN %.1f%% exceeded", drawdownPct)); err != nil {
		m.log.Error().Err(err).Str("symbol", position.Symbol).Msg("Drawdown sell failed")
		return false
	}

	m.close(position, price, domain.ExitMaxDrawdown)

	m.events.Emit(events.DrawdownExit, "monitor", map[string]interface{}{
		"trade_id":     position.TradeID,
		"symbol":       position.Symbol,
		"price":        price,
		"drawdown_pct": drawdownPct,
	})
	return true
}

// checkTarget pushes a one-time profit-booking recommendation at target and
// a one-time partial-profit note past the halfway mark. Booking requires the
// operator; the monitor never sells at target on its own.
func (m *Monitor) checkTarget(position *domain.TradeRecord, price float64) {
	if price >= position.TargetPrice {
		if position.TargetHit {
			return
		}

		m.log.Info().
			Str("symbol", position.Symbol).
			Float64("price", price).
			Float64("target", position.TargetPrice).
			Msg("TARGET REACHED")

		gain := (price - position.EntryPrice) * float64(position.Quantity)
		m.send(reports.Alert("🎯 TARGET HIT",
			fmt.Sprintf("%s @ ₹%.2f — Target ₹%.2f reached!\nEstimated gain: ₹%.0f\nReply APPROVE %s to book profits.",
				position.Symbol, price, position.TargetPrice, gain, position.TradeID)))

		position.TargetHit = true
		m.persist(position)

		m.events.Emit(events.TargetReached, "monitor", map[string]interface{}{
			"trade_id": position.TradeID,
			"symbol":   position.Symbol,
			"price":    price,
			"target":   position.TargetPrice,
		})
		return
	}

	midpoint := position.EntryPrice + (position.TargetPrice-position.EntryPrice)*0.5
	if price >= midpoint && !position.PartialNotified {
		m.send(reports.Alert("💰 PARTIAL PROFIT OPPORTUNITY",
			fmt.Sprintf("%s at 50%% of target.\nConsider selling 50%% of position.\nCurrent: ₹%.2f | Target: ₹%.2f",
				position.Symbol, price, position.TargetPrice)))

		position.PartialNotified = true
		m.persist(position)
	}
}

// updateTrailingStop raises the stop once the paper gain exceeds the
// activation threshold. The new stop keeps the entry-to-initial-stop
// distance below the current price and only ever moves up.
func (m *Monitor) updateTrailingStop(position *domain.TradeRecord, price float64) {
	if position.EntryPrice <= 0 {
		return
	}
	profitPct := (price - position.EntryPrice) / position.EntryPrice * 100
	if profitPct <= m.strategy.Risk.TrailingStopActivatePct {
		return
	}

	newStop := price - (position.EntryPrice - position.StopLoss)
	if newStop <= position.CurrentStop {
		return
	}

	oldStop := position.CurrentStop
	position.CurrentStop = newStop
	m.persist(position)

	m.log.Info().
		Str("symbol", position.Symbol).
		Float64("old_stop", oldStop).
		Float64("new_stop", newStop).
		Msg("Trailing stop updated")

	m.send(fmt.Sprintf("📈 <b>TRAILING STOP UPDATED</b>\n%s — P&L: +%.1f%%\nStop-loss raised: ₹%.2f → ₹%.2f",
		position.Symbol, profitPct, oldStop, newStop))

	m.events.Emit(events.TrailingStopMoved, "monitor", map[string]interface{}{
		"trade_id": position.TradeID,
		"symbol":   position.Symbol,
		"old_stop": oldStop,
		"new_stop": newStop,
	})
}

// EndOfDay sends the daily P&L summary and writes the portfolio snapshot.
// Called once per trading day at market close.
func (m *Monitor) EndOfDay(ctx context.Context) {
	open, err := m.trades.GetByStatus(domain.StatusExecuted)
	if err != nil {
		m.log.Error().Err(err).Msg("Could not load open positions for summary")
		m.events.EmitError("monitor", err, nil)
		return
	}

	now := m.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	closedToday, err := m.trades.GetClosedBetween(startOfDay, now)
	if err != nil {
		m.log.Error().Err(err).Msg("Could not load closed trades for summary")
		m.events.EmitError("monitor", err, nil)
		return
	}

	var todayPnL float64
	for _, t := range closedToday {
		if t.RealizedPnL != nil {
			todayPnL += *t.RealizedPnL
		}
	}

	sign := ""
	if todayPnL >= 0 {
		sign = "+"
	}
	mode := "LIVE"
	if m.strategy.Simulation.Enabled {
		mode = "PAPER TRADING"
	}

	m.send(reports.Alert("📊 END-OF-DAY SUMMARY", fmt.Sprintf(
		"Open positions : %d\nClosed today   : %d\nToday's P&L    : %s₹%.0f\nMode           : %s",
		len(open), len(closedToday), sign, todayPnL, mode)))

	m.writeSnapshot(ctx, open, todayPnL, now)
}

// writeSnapshot records the daily valuation and raises an alert when the
// drawdown from the all-time peak breaches the portfolio limit. New buys are
// still gated by the macro path, not by this alert.
func (m *Monitor) writeSnapshot(ctx context.Context, open []*domain.TradeRecord, dayPnL float64, now time.Time) {
	var invested, unrealized float64
	for _, position := range open {
		invested += position.Invested()
		if price, ok := m.priceFor(ctx, position); ok {
			unrealized += (price - position.EntryPrice) * float64(position.Quantity)
		}
	}

	total := m.valuator.Value()
	if m.strategy.Simulation.Enabled {
		// The virtual balance is static; realized and paper P&L are layered
		// on top to get the mark-to-market value.
		total += m.totalRealized() + unrealized
	}

	cash := total - invested
	if c, _, ok := m.valuator.Breakdown(); ok {
		cash = c
	}

	var investedPct float64
	if total > 0 {
		investedPct = invested / total * 100
	}

	peak, err := m.snapshots.PeakValue()
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not read peak value, using today's total")
		peak = 0
	}
	if total > peak {
		peak = total
	}

	var drawdownPct float64
	if peak > 0 {
		drawdownPct = (peak - total) / peak * 100
	}

	snapshot := domain.PortfolioSnapshot{
		Date:            now,
		TotalValue:      total,
		Cash:            cash,
		Invested:        invested,
		InvestedPct:     investedPct,
		OpenPositions:   len(open),
		UnrealizedPnL:   unrealized,
		DayPnL:          dayPnL,
		PeakValue:       peak,
		DrawdownPercent: drawdownPct,
	}
	if err := m.snapshots.Upsert(snapshot); err != nil {
		m.log.Error().Err(err).Msg("Could not save portfolio snapshot")
	}

	m.log.Info().
		Float64("total", total).
		Float64("invested", invested).
		Float64("drawdown_pct", drawdownPct).
		Msg("Portfolio snapshot written")

	if drawdownPct >= m.strategy.Risk.MaxPortfolioDrawdownPct {
		m.send(reports.Alert("📉 PORTFOLIO DRAWDOWN ALERT",
			fmt.Sprintf("Portfolio is down %.1f%% from its peak of ₹%.0f.\nCurrent value: ₹%.0f | Limit: %.0f%%\nReview open positions before approving new buys.",
				drawdownPct, peak, total, m.strategy.Risk.MaxPortfolioDrawdownPct)))
	}
}

// priceFor fetches the live price for a position, preferring its own
// exchange and falling back to the instrument's listing on the other one.
func (m *Monitor) priceFor(ctx context.Context, position *domain.TradeRecord) (float64, bool) {
	price, err := m.quoteLTP(ctx, position.Exchange, position.Token)
	if err == nil && price > 0 {
		return price, true
	}
	if err != nil {
		m.log.Debug().Err(err).Str("symbol", position.Symbol).Str("exchange", position.Exchange).Msg("Primary exchange quote failed")
	}

	secondary := domain.ExchangeBSE
	if position.Exchange == domain.ExchangeBSE {
		secondary = domain.ExchangeNSE
	}
	instrument, ok := m.resolver.Resolve(position.Symbol, secondary)
	if !ok {
		return 0, false
	}
	price, err = m.quoteLTP(ctx, secondary, instrument.Token)
	if err == nil && price > 0 {
		return price, true
	}
	return 0, false
}

func (m *Monitor) quoteLTP(ctx context.Context, exchange, token string) (float64, error) {
	quotes, err := m.broker.Quotes(ctx, exchange, []string{token})
	if err != nil {
		return 0, err
	}
	if len(quotes) == 0 {
		return 0, fmt.Errorf("no quote for token %s on %s", token, exchange)
	}
	return quotes[0].LTP, nil
}

// close marks the position CLOSED with its realized outcome. Quantity is the
// quantity actually filled at execution, never recomputed from allocation.
func (m *Monitor) close(position *domain.TradeRecord, exitPrice float64, reason string) {
	now := m.now()
	pnl := (exitPrice - position.EntryPrice) * float64(position.Quantity)
	var pnlPct float64
	if position.EntryPrice > 0 {
		pnlPct = (exitPrice - position.EntryPrice) / position.EntryPrice * 100
	}

	position.Status = domain.StatusClosed
	position.ExitPrice = &exitPrice
	position.RealizedPnL = &pnl
	position.PnLPercent = &pnlPct
	position.ExitReason = reason
	position.ClosedAt = &now
	m.persist(position)

	m.log.Info().
		Str("symbol", position.Symbol).
		Float64("exit_price", exitPrice).
		Float64("pnl", pnl).
		Float64("pnl_pct", pnlPct).
		Str("reason", reason).
		Msg("Position closed")

	metrics.PositionsOpen.Dec()
	metrics.PositionExits.WithLabelValues(reason).Inc()

	m.events.Emit(events.PositionClosed, "monitor", map[string]interface{}{
		"trade_id":   position.TradeID,
		"symbol":     position.Symbol,
		"exit_price": exitPrice,
		"pnl":        pnl,
		"reason":     reason,
	})
}

func (m *Monitor) totalRealized() float64 {
	closed, err := m.trades.GetByStatus(domain.StatusClosed)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not load closed trades for valuation")
		return 0
	}
	var total float64
	for _, t := range closed {
		if t.RealizedPnL != nil {
			total += *t.RealizedPnL
		}
	}
	return total
}

func (m *Monitor) persist(position *domain.TradeRecord) {
	if err := m.trades.Update(position); err != nil {
		m.log.Error().Err(err).Str("trade_id", position.TradeID).Msg("Could not persist position update")
	}
}

func (m *Monitor) send(text string) {
	if err := m.chat.Send(text); err != nil {
		m.log.Warn().Err(err).Msg("Could not send chat message")
	}
}
