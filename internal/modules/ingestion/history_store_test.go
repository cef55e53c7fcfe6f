package ingestion

import (
	"testing"
	"time"

	"github.com/aristath/nse-trader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHistoryStore(t *testing.T) *HistoryStore {
	t.Helper()
	hs, err := NewHistoryStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return hs
}

func testCandles(n int, start time.Time) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := range candles {
		price := 100.0 + float64(i)
		candles[i] = domain.Candle{
			Date:   start.AddDate(0, 0, i),
			Open:   price - 0.5,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: int64(1000 + i),
		}
	}
	return candles
}

func TestHistoryStoreRoundTrip(t *testing.T) {
	hs := testHistoryStore(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, hs.Save("RELIANCE", testCandles(10, start)))

	loaded, err := hs.Load("RELIANCE", 400)
	require.NoError(t, err)
	require.Len(t, loaded, 10)

	// Ascending by date, values intact
	assert.Equal(t, "2025-01-01", loaded[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2025-01-10", loaded[9].Date.Format("2006-01-02"))
	assert.InDelta(t, 100.0, loaded[0].Close, 0.001)
	assert.InDelta(t, 109.0, loaded[9].Close, 0.001)
	assert.Equal(t, int64(1009), loaded[9].Volume)
}

func TestHistoryStoreLimitKeepsNewest(t *testing.T) {
	hs := testHistoryStore(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, hs.Save("TCS", testCandles(30, start)))

	loaded, err := hs.Load("TCS", 5)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	assert.Equal(t, "2025-01-26", loaded[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2025-01-30", loaded[4].Date.Format("2006-01-02"))
}

func TestHistoryStoreUpsertsByDate(t *testing.T) {
	hs := testHistoryStore(t)
	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, hs.Save("INFY", testCandles(5, start)))

	// Same dates again with revised closes must replace, not duplicate
	revised := testCandles(5, start)
	for i := range revised {
		revised[i].Close += 50
	}
	require.NoError(t, hs.Save("INFY", revised))

	loaded, err := hs.Load("INFY", 400)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	assert.InDelta(t, 150.0, loaded[0].Close, 0.001)
}

func TestHistoryStoreSanitizesSymbol(t *testing.T) {
	hs := testHistoryStore(t)
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// Ampersands and dashes appear in real NSE symbols and must not leak
	// into filenames
	require.NoError(t, hs.Save("M&M", testCandles(3, start)))

	loaded, err := hs.Load("M&M", 400)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestHistoryStoreEmptySave(t *testing.T) {
	hs := testHistoryStore(t)

	require.NoError(t, hs.Save("SBIN", nil))

	loaded, err := hs.Load("SBIN", 400)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
