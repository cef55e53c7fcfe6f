package repositories

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/nse-trader/internal/database"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestKVRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewKVRepository(db.Conn(), zerolog.Nop())

	_, found, err := repo.Get("telegram_offset")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.SetInt64("telegram_offset", 1005))

	v, found, err := repo.GetInt64("telegram_offset")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1005), v)

	// Overwrite
	require.NoError(t, repo.SetInt64("telegram_offset", 1010))
	v, _, err = repo.GetInt64("telegram_offset")
	require.NoError(t, err)
	assert.Equal(t, int64(1010), v)
}

func TestSnapshotRepositoryUpsert(t *testing.T) {
	db := newTestDB(t)
	repo := NewSnapshotRepository(db.Conn(), zerolog.Nop())

	latest, err := repo.GetLatest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	day := time.Date(2026, 2, 10, 15, 30, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(domain.PortfolioSnapshot{
		Date:          day,
		TotalValue:    500000,
		Cash:          400000,
		Invested:      100000,
		InvestedPct:   20,
		OpenPositions: 2,
		PeakValue:     510000,
	}))

	// Same-day upsert replaces the row instead of adding one
	require.NoError(t, repo.Upsert(domain.PortfolioSnapshot{
		Date:       day,
		TotalValue: 505000,
		Cash:       405000,
		Invested:   100000,
		PeakValue:  510000,
	}))

	latest, err = repo.GetLatest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 505000.0, latest.TotalValue)
	assert.Equal(t, "2026-02-10", latest.Date.Format("2006-01-02"))

	peak, err := repo.PeakValue()
	require.NoError(t, err)
	assert.Equal(t, 505000.0, peak)

	since, err := repo.GetSince(day.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Len(t, since, 1)
}
