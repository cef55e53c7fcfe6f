package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/domain"
)

// ValuatorConfig holds the valuation parameters
type ValuatorConfig struct {
	Simulation     bool
	VirtualBalance float64
	FallbackValue  float64
}

// Valuator provides the portfolio value used for position sizing.
// In simulation mode the configured virtual balance is authoritative. In
// live mode the value is cash plus mark-to-market holdings, refreshed once
// per cycle; a failed refresh keeps the prior value, and the configured
// fallback serves until a first refresh succeeds.
type Valuator struct {
	broker domain.Broker
	cfg    ValuatorConfig
	log    zerolog.Logger

	mu            sync.RWMutex
	cached        float64
	cash          float64
	holdingsValue float64
	refreshedAt   time.Time
}

// NewValuator creates a new portfolio valuator
func NewValuator(broker domain.Broker, cfg ValuatorConfig, log zerolog.Logger) *Valuator {
	return &Valuator{
		broker: broker,
		cfg:    cfg,
		log:    log.With().Str("component", "valuator").Logger(),
	}
}

// Value returns the current portfolio value without touching the broker
func (v *Valuator) Value() float64 {
	if v.cfg.Simulation {
		return v.cfg.VirtualBalance
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.cached > 0 {
		return v.cached
	}
	return v.cfg.FallbackValue
}

// Refresh fetches cash and holdings from the broker and caches the total.
// Called at the start of each pre-market cycle.
func (v *Valuator) Refresh(ctx context.Context) (float64, error) {
	if v.cfg.Simulation {
		v.log.Info().Float64("value", v.cfg.VirtualBalance).Msg("Portfolio value (simulation)")
		return v.cfg.VirtualBalance, nil
	}

	cash, err := v.broker.AvailableCash(ctx)
	if err != nil {
		v.log.Error().Err(err).Msg("Portfolio refresh failed, keeping previous value")
		return v.Value(), fmt.Errorf("available cash fetch failed: %w", err)
	}

	holdings, err := v.broker.Holdings(ctx)
	if err != nil {
		v.log.Error().Err(err).Msg("Portfolio refresh failed, keeping previous value")
		return v.Value(), fmt.Errorf("holdings fetch failed: %w", err)
	}

	var holdingsValue float64
	for _, h := range holdings {
		holdingsValue += float64(h.Quantity) * h.LTP
	}

	total := cash + holdingsValue

	v.mu.Lock()
	v.cached = total
	v.cash = cash
	v.holdingsValue = holdingsValue
	v.refreshedAt = time.Now()
	v.mu.Unlock()

	v.log.Info().
		Float64("cash", cash).
		Float64("holdings", holdingsValue).
		Float64("total", total).
		Msg("Portfolio value refreshed")

	return total, nil
}

// Breakdown returns the cash/holdings split from the last successful
// refresh. ok is false in simulation mode or before any refresh; callers
// then derive the split themselves.
func (v *Valuator) Breakdown() (cash, holdings float64, ok bool) {
	if v.cfg.Simulation {
		return 0, 0, false
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.refreshedAt.IsZero() {
		return 0, 0, false
	}
	return v.cash, v.holdingsValue, true
}
