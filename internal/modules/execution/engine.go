// Package execution places limit orders at the broker: buy orders for
// approved proposals and sell orders for monitor-driven exits. MARKET
// orders are never placed. In simulation mode no network call is made
// and a synthetic PAPER order id is returned.
package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/events"
	"github.com/aristath/nse-trader/internal/metrics"
	"github.com/aristath/nse-trader/internal/modules/reports"
)

// Engine executes approved trade signals and exit sells
type Engine struct {
	broker   domain.Broker
	chat     domain.Chat
	trades   domain.TradeStore
	strategy *config.Strategy
	events   *events.Manager
	log      zerolog.Logger

	now   func() time.Time
	after func(d time.Duration, f func()) *time.Timer
}

// NewEngine creates the execution engine
func NewEngine(broker domain.Broker, chat domain.Chat, trades domain.TradeStore, strategy *config.Strategy, ev *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		broker:   broker,
		chat:     chat,
		trades:   trades,
		strategy: strategy,
		events:   ev,
		log:      log.With().Str("service", "execution").Logger(),
		now:      time.Now,
		after:    time.AfterFunc,
	}
}

// Execute places the limit buy order for an approved signal. Quantity is
// floor(allocation / entry); a zero quantity abandons the order with a
// user-visible error and the record goes to FAILED.
func (e *Engine) Execute(ctx context.Context, sig *domain.TradeSignal) error {
	quantity := 0
	if sig.EntryPrice > 0 {
		quantity = int(math.Floor(sig.Allocation / sig.EntryPrice))
	}
	if quantity <= 0 {
		e.log.Error().
			Str("trade_id", sig.TradeID).
			Float64("allocation", sig.Allocation).
			Float64("entry", sig.EntryPrice).
			Msg("Computed quantity is 0, cannot place order")
		e.failTrade(sig, "quantity computed as 0")
		e.send("❌ Order failed: quantity computed as 0 for " + sig.Symbol)
		return fmt.Errorf("quantity computed as 0 for %s", sig.Symbol)
	}
	sig.Quantity = quantity

	if e.strategy.Simulation.Enabled {
		orderID := fmt.Sprintf("PAPER-%d", e.now().UnixMilli())
		e.log.Info().
			Str("trade_id", sig.TradeID).
			Str("order_id", orderID).
			Msg("Simulated fill, no order sent to broker")
		e.markExecuted(sig, orderID)
		e.send(reports.PaperFill(sig))
		metrics.OrdersPlaced.WithLabelValues(domain.SideBuy, "simulated").Inc()
		e.emitExecuted(sig, orderID)
		return nil
	}

	e.log.Info().
		Str("trade_id", sig.TradeID).
		Str("symbol", sig.Symbol).
		Float64("price", sig.EntryPrice).
		Int("quantity", quantity).
		Msg("Placing buy order")

	orderID, err := e.broker.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   sig.Symbol,
		Token:    sig.Token,
		Exchange: sig.Exchange,
		Side:     domain.SideBuy,
		Quantity: quantity,
		Price:    sig.EntryPrice,
	})
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues(domain.SideBuy, "failed").Inc()
		e.log.Error().Err(err).Str("trade_id", sig.TradeID).Msg("Broker rejected buy order")
		e.failTrade(sig, err.Error())
		e.send("❌ Order placement FAILED for " + sig.Symbol + " — broker rejected the order")
		e.events.Emit(events.TradeFailed, "execution", map[string]interface{}{
			"trade_id": sig.TradeID,
			"symbol":   sig.Symbol,
			"error":    err.Error(),
		})
		return fmt.Errorf("order placement failed for %s: %w", sig.Symbol, err)
	}

	metrics.OrdersPlaced.WithLabelValues(domain.SideBuy, "placed").Inc()
	e.markExecuted(sig, orderID)
	e.send(reports.ExecutionConfirmation(sig, quantity, orderID))
	e.emitExecuted(sig, orderID)

	// Fill probe: remind the operator to verify; never auto-cancel
	timeout := time.Duration(e.strategy.Execution.OrderFillTimeoutMinutes) * time.Minute
	tradeID, symbol := sig.TradeID, sig.Symbol
	e.after(timeout, func() {
		e.fillTimeoutReminder(tradeID, symbol, orderID)
	})

	return nil
}

// PlaceSell places a limit sell order for an exit. Returns the broker
// order id; exits do not go through the approval gateway.
func (e *Engine) PlaceSell(ctx context.Context, symbol, token, exchange string, quantity int, price float64, reason string) (string, error) {
	if e.strategy.Simulation.Enabled {
		orderID := fmt.Sprintf("PAPER-%d", e.now().UnixMilli())
		e.log.Info().
			Str("symbol", symbol).
			Int("quantity", quantity).
			Float64("price", price).
			Str("reason", reason).
			Msg("Simulated sell")
		e.send(fmt.Sprintf("📄 <b>PAPER SELL EXECUTED</b>\n%s @ ₹%.2f × %d\nReason: %s",
			symbol, price, quantity, reason))
		metrics.OrdersPlaced.WithLabelValues(domain.SideSell, "simulated").Inc()
		return orderID, nil
	}

	orderID, err := e.broker.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   symbol,
		Token:    token,
		Exchange: exchange,
		Side:     domain.SideSell,
		Quantity: quantity,
		Price:    price,
	})
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues(domain.SideSell, "failed").Inc()
		e.log.Error().Err(err).Str("symbol", symbol).Str("reason", reason).Msg("Broker rejected sell order")
		e.send(reports.Alert("⚠️ SELL ORDER FAILED", fmt.Sprintf("%s @ ₹%.2f — %s", symbol, price, reason)))
		return "", fmt.Errorf("sell order failed for %s: %w", symbol, err)
	}

	metrics.OrdersPlaced.WithLabelValues(domain.SideSell, "placed").Inc()
	e.send(fmt.Sprintf("📤 <b>SELL ORDER PLACED</b>\n%s @ ₹%.2f × %d\nReason: %s\nOrder ID: %s",
		symbol, price, quantity, reason, orderID))
	return orderID, nil
}

// markExecuted upserts the EXECUTED transition onto the persisted record
func (e *Engine) markExecuted(sig *domain.TradeSignal, orderID string) {
	now := e.now()
	sig.Status = domain.StatusExecuted

	e.upsert(sig, func(record *domain.TradeRecord) {
		record.Status = domain.StatusExecuted
		record.Quantity = sig.Quantity
		record.BrokerOrderID = orderID
		record.ExecutedAt = &now
	})
	metrics.PositionsOpen.Inc()
}

// failTrade upserts the FAILED transition with the failure reason
func (e *Engine) failTrade(sig *domain.TradeSignal, reason string) {
	sig.Status = domain.StatusFailed

	e.upsert(sig, func(record *domain.TradeRecord) {
		record.Status = domain.StatusFailed
		record.RejectionReason = reason
	})
}

// upsert loads the signal's record, applies mutate, and writes it back.
// A missing record is recreated from the signal so a transition is never
// lost to an earlier persistence failure.
func (e *Engine) upsert(sig *domain.TradeSignal, mutate func(*domain.TradeRecord)) {
	record, err := e.trades.GetByID(sig.TradeID)
	if err != nil {
		e.log.Error().Err(err).Str("trade_id", sig.TradeID).Msg("Failed to load trade record")
		return
	}

	fresh := record == nil
	if fresh {
		record = sig.Record()
	}
	mutate(record)

	if fresh {
		err = e.trades.Create(record)
	} else {
		err = e.trades.Update(record)
	}
	if err != nil {
		e.log.Error().Err(err).Str("trade_id", sig.TradeID).Msg("Failed to persist trade record")
	}
}

func (e *Engine) fillTimeoutReminder(tradeID, symbol, orderID string) {
	e.log.Info().
		Str("trade_id", tradeID).
		Str("order_id", orderID).
		Msg("Order fill timeout reached, asking operator to verify")
	e.send(fmt.Sprintf("⏰ <b>ORDER TIMEOUT CHECK</b>\n"+
		"Trade ID  : %s\n"+
		"Symbol    : %s\n"+
		"Order ID  : %s\n"+
		"Action    : Please verify if order was filled. If unfilled, cancel manually.",
		tradeID, symbol, orderID))
}

func (e *Engine) emitExecuted(sig *domain.TradeSignal, orderID string) {
	e.events.Emit(events.TradeExecuted, "execution", map[string]interface{}{
		"trade_id": sig.TradeID,
		"symbol":   sig.Symbol,
		"quantity": sig.Quantity,
		"price":    sig.EntryPrice,
		"order_id": orderID,
	})
}

func (e *Engine) send(text string) {
	if err := e.chat.Send(text); err != nil {
		e.log.Warn().Err(err).Msg("Chat notification failed")
	}
}
