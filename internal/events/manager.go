package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	ErrorOccurred EventType = "ERROR_OCCURRED"

	// Universe / data events
	UniverseRefreshStart    EventType = "UNIVERSE_REFRESH_START"
	UniverseRefreshComplete EventType = "UNIVERSE_REFRESH_COMPLETE"
	UniverseRefreshPartial  EventType = "UNIVERSE_REFRESH_PARTIAL"
	RegistryReloaded        EventType = "REGISTRY_RELOADED"
	MacroUpdated            EventType = "MACRO_UPDATED"

	// Signal lifecycle events
	SignalGenerated EventType = "SIGNAL_GENERATED"
	SignalDropped   EventType = "SIGNAL_DROPPED"
	SignalExpired   EventType = "SIGNAL_EXPIRED"
	TradeApproved   EventType = "TRADE_APPROVED"
	TradeRejected   EventType = "TRADE_REJECTED"
	TradeExecuted   EventType = "TRADE_EXECUTED"
	TradeFailed     EventType = "TRADE_FAILED"

	// Position events
	StopLossTriggered EventType = "STOP_LOSS_TRIGGERED"
	DrawdownExit      EventType = "DRAWDOWN_EXIT"
	TargetReached     EventType = "TARGET_REACHED"
	TrailingStopMoved EventType = "TRAILING_STOP_MOVED"
	PositionClosed    EventType = "POSITION_CLOSED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager handles event emission and logging
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("service", "events").Logger(),
	}
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	// Log event
	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
