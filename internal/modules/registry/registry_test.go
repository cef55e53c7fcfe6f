package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nse-trader/internal/clients/angelone"
	"github.com/aristath/nse-trader/internal/domain"
)

func entry(token, symbol, name, instrumentType string) angelone.ScripEntry {
	return angelone.ScripEntry{
		Token:          token,
		Symbol:         symbol,
		Name:           name,
		InstrumentType: instrumentType,
		ExchSeg:        "NSE",
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name  string
		entry angelone.ScripEntry
		want  bool
	}{
		{"plain equity", entry("2885", "RELIANCE-EQ", "RELIANCE INDUSTRIES", ""), true},
		{"equity instrument type", entry("11536", "TCS-EQ", "TATA CONSULTANCY", "EQ"), true},
		{"missing EQ suffix", entry("1", "RELIANCE-BE", "RELIANCE INDUSTRIES", ""), false},
		{"derivative type", entry("2", "RELIANCE-EQ", "RELIANCE INDUSTRIES", "FUTSTK"), false},
		{"etf by name", entry("3", "GOLDSHARE-EQ", "GOLDMAN SACHS ETF", ""), false},
		{"bees by symbol", entry("4", "NIFTYBEES-EQ", "NIPPON INDIA NIFTY", ""), false},
		{"liquid fund", entry("5", "ABCLIQUID-EQ", "ABC LIQUID FUND", ""), false},
		{"index fund by name", entry("6", "UTISXN50-EQ", "UTI S&P BSE INDEX FUND", ""), false},
		{"gilt by symbol", entry("7", "GILT5Y-EQ", "FIVE YEAR BOND", ""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eligible(tt.entry))
		})
	}
}

func TestLoadFiltersAndResolves(t *testing.T) {
	fetch := func(ctx context.Context, exchanges []string) ([]angelone.ScripEntry, error) {
		return []angelone.ScripEntry{
			entry("2885", "RELIANCE-EQ", "RELIANCE INDUSTRIES", ""),
			entry("11536", "TCS-EQ", "TATA CONSULTANCY", "EQ"),
			entry("99", "NIFTYBEES-EQ", "NIPPON INDIA NIFTY BEES", ""),
		}, nil
	}

	r := New(fetch, false, zerolog.Nop())
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, 2, r.Count())
	assert.False(t, r.UsingFallback())

	inst, ok := r.Resolve("RELIANCE-EQ", domain.ExchangeNSE)
	require.True(t, ok)
	assert.Equal(t, "2885", inst.Token)

	// Suffix-less lookup resolves too
	inst, ok = r.Resolve("tcs", domain.ExchangeNSE)
	require.True(t, ok)
	assert.Equal(t, "11536", inst.Token)

	_, ok = r.Resolve("NIFTYBEES", domain.ExchangeNSE)
	assert.False(t, ok, "excluded instruments must not resolve")

	symbols := r.SymbolsOn(domain.ExchangeNSE)
	assert.Len(t, symbols, 2)
	assert.Empty(t, r.SymbolsOn(domain.ExchangeBSE))
}

func TestLoadFailureInstallsFallbackWhenEmpty(t *testing.T) {
	fetch := func(ctx context.Context, exchanges []string) ([]angelone.ScripEntry, error) {
		return nil, fmt.Errorf("network down")
	}

	r := New(fetch, false, zerolog.Nop())
	err := r.Load(context.Background())
	require.Error(t, err)

	assert.True(t, r.UsingFallback())
	assert.Equal(t, 20, r.Count())

	inst, ok := r.Resolve("RELIANCE", domain.ExchangeNSE)
	require.True(t, ok)
	assert.Equal(t, "2885", inst.Token)
	inst, ok = r.Resolve("DRREDDY", domain.ExchangeNSE)
	require.True(t, ok)
	assert.Equal(t, "881", inst.Token)
}

func TestLoadFailureRetainsPreviousCatalog(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, exchanges []string) ([]angelone.ScripEntry, error) {
		calls++
		if calls == 1 {
			return []angelone.ScripEntry{entry("2885", "RELIANCE-EQ", "RELIANCE INDUSTRIES", "")}, nil
		}
		return nil, fmt.Errorf("catalog endpoint 503")
	}

	r := New(fetch, false, zerolog.Nop())
	require.NoError(t, r.Load(context.Background()))
	require.Equal(t, 1, r.Count())

	err := r.Load(context.Background())
	require.Error(t, err)

	// Previous catalog survives, no fallback swap
	assert.Equal(t, 1, r.Count())
	assert.False(t, r.UsingFallback())
	_, ok := r.Resolve("RELIANCE", domain.ExchangeNSE)
	assert.True(t, ok)
}

func TestLoadRequestsSecondaryExchange(t *testing.T) {
	var requested []string
	fetch := func(ctx context.Context, exchanges []string) ([]angelone.ScripEntry, error) {
		requested = exchanges
		return []angelone.ScripEntry{entry("2885", "RELIANCE-EQ", "RELIANCE INDUSTRIES", "")}, nil
	}

	r := New(fetch, true, zerolog.Nop())
	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, []string{"NSE", "BSE"}, requested)
}
