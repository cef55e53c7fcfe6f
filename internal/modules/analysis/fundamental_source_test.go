package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/nse-trader/internal/clients/yahoo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	calls int
	data  *yahoo.FundamentalData
	err   error
}

func (s *stubProvider) Fundamentals(ctx context.Context, symbol, exchange string) (*yahoo.FundamentalData, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func TestFundamentalSourceCachesByTTL(t *testing.T) {
	provider := &stubProvider{data: &yahoo.FundamentalData{Symbol: "TCS", ROEPct: floatPtr(40)}}
	source := NewFundamentalSource(provider, zerolog.Nop())

	now := time.Now()
	source.now = func() time.Time { return now }

	first := source.Get(context.Background(), "tcs", "NSE")
	require.NotNil(t, first)
	assert.Equal(t, 1, provider.calls)

	// same symbol in different casing hits the cache
	second := source.Get(context.Background(), "TCS", "NSE")
	assert.Same(t, first, second)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, source.CacheSize())

	// a stale entry is refetched
	now = now.Add(fundamentalsTTL + time.Minute)
	source.Get(context.Background(), "TCS", "NSE")
	assert.Equal(t, 2, provider.calls)
}

func TestFundamentalSourceFailureNotCached(t *testing.T) {
	provider := &stubProvider{err: errors.New("boom")}
	source := NewFundamentalSource(provider, zerolog.Nop())

	assert.Nil(t, source.Get(context.Background(), "TCS", "NSE"))
	assert.Nil(t, source.Get(context.Background(), "TCS", "NSE"))
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, 0, source.CacheSize())
}
