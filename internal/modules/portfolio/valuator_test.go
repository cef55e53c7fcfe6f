package portfolio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nse-trader/internal/domain"
)

type stubBroker struct {
	cash     float64
	holdings []domain.Holding
	fail     bool
}

func (b *stubBroker) EnsureSession(ctx context.Context) error { return nil }

func (b *stubBroker) Quotes(ctx context.Context, exchange string, tokens []string) ([]domain.Quote, error) {
	return nil, nil
}

func (b *stubBroker) DailyCandles(ctx context.Context, exchange, token string, from, to time.Time) ([]domain.Candle, error) {
	return nil, nil
}

func (b *stubBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	return "", nil
}

func (b *stubBroker) AvailableCash(ctx context.Context) (float64, error) {
	if b.fail {
		return 0, fmt.Errorf("rms unavailable")
	}
	return b.cash, nil
}

func (b *stubBroker) Holdings(ctx context.Context) ([]domain.Holding, error) {
	if b.fail {
		return nil, fmt.Errorf("holdings unavailable")
	}
	return b.holdings, nil
}

func TestValueSimulationMode(t *testing.T) {
	v := NewValuator(&stubBroker{}, ValuatorConfig{
		Simulation:     true,
		VirtualBalance: 500000,
		FallbackValue:  100000,
	}, zerolog.Nop())

	assert.Equal(t, 500000.0, v.Value())

	value, err := v.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500000.0, value)

	_, _, ok := v.Breakdown()
	assert.False(t, ok)
}

func TestRefreshLiveMode(t *testing.T) {
	broker := &stubBroker{
		cash: 120000,
		holdings: []domain.Holding{
			{Symbol: "RELIANCE-EQ", Quantity: 100, LTP: 2500},
			{Symbol: "TCS-EQ", Quantity: 50, LTP: 4000},
		},
	}
	v := NewValuator(broker, ValuatorConfig{FallbackValue: 500000}, zerolog.Nop())

	// Before any refresh the configured fallback serves
	assert.Equal(t, 500000.0, v.Value())

	value, err := v.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 570000.0, value) // 120000 + 250000 + 200000
	assert.Equal(t, 570000.0, v.Value())

	cash, holdings, ok := v.Breakdown()
	require.True(t, ok)
	assert.Equal(t, 120000.0, cash)
	assert.Equal(t, 450000.0, holdings)
}

func TestRefreshFailureKeepsPriorValue(t *testing.T) {
	broker := &stubBroker{cash: 100000}
	v := NewValuator(broker, ValuatorConfig{FallbackValue: 500000}, zerolog.Nop())

	_, err := v.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 100000.0, v.Value())

	broker.fail = true
	value, err := v.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 100000.0, value, "prior cached value is retained on failure")
	assert.Equal(t, 100000.0, v.Value())
}

func TestRefreshFailureWithoutPriorUsesFallback(t *testing.T) {
	v := NewValuator(&stubBroker{fail: true}, ValuatorConfig{FallbackValue: 500000}, zerolog.Nop())

	value, err := v.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 500000.0, value)
}
