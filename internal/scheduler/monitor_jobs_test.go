package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nse-trader/internal/locking"
)

type stubPositions struct {
	ticks int
	eods  int
}

func (p *stubPositions) Tick(context.Context)     { p.ticks++ }
func (p *stubPositions) EndOfDay(context.Context) { p.eods++ }

type stubExpirer struct{ sweeps int }

func (e *stubExpirer) ExpireTimedOut() { e.sweeps++ }

func testLocks(t *testing.T) *locking.Manager {
	t.Helper()
	locks, err := locking.NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return locks
}

func fixedNow(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestMonitorTickRunsInSession(t *testing.T) {
	cal := NewCalendar(zerolog.Nop())
	monitor := &stubPositions{}
	expirer := &stubExpirer{}

	job := NewMonitorTickJob(testLocks(t), cal, monitor, expirer, zerolog.Nop())
	job.now = fixedNow(time.Date(2025, time.March, 5, 10, 0, 0, 0, cal.Location()))

	require.NoError(t, job.Run())

	assert.Equal(t, 1, monitor.ticks)
	assert.Equal(t, 1, expirer.sweeps)
}

func TestMonitorTickSweepsExpiryOutsideSession(t *testing.T) {
	cal := NewCalendar(zerolog.Nop())
	monitor := &stubPositions{}
	expirer := &stubExpirer{}

	job := NewMonitorTickJob(testLocks(t), cal, monitor, expirer, zerolog.Nop())

	// 08:00 on a trading day and noon on a Saturday: no tick either
	// way, but the approval expiry sweep still runs.
	for _, at := range []time.Time{
		time.Date(2025, time.March, 5, 8, 0, 0, 0, cal.Location()),
		time.Date(2025, time.March, 8, 12, 0, 0, 0, cal.Location()),
	} {
		job.now = fixedNow(at)
		require.NoError(t, job.Run())
	}

	assert.Zero(t, monitor.ticks)
	assert.Equal(t, 2, expirer.sweeps)
}

func TestMonitorTickCoversSessionClose(t *testing.T) {
	cal := NewCalendar(zerolog.Nop())
	monitor := &stubPositions{}

	job := NewMonitorTickJob(testLocks(t), cal, monitor, &stubExpirer{}, zerolog.Nop())
	job.now = fixedNow(time.Date(2025, time.March, 5, 15, 30, 0, 0, cal.Location()))

	require.NoError(t, job.Run())

	assert.Equal(t, 1, monitor.ticks, "15:30 fire is the last look before the summary")
}

func TestEndOfDayRunsOnTradingDay(t *testing.T) {
	cal := NewCalendar(zerolog.Nop())
	monitor := &stubPositions{}

	job := NewEndOfDayJob(testLocks(t), cal, monitor, zerolog.Nop())
	job.now = fixedNow(time.Date(2025, time.March, 5, 15, 30, 0, 0, cal.Location()))

	require.NoError(t, job.Run())

	assert.Equal(t, 1, monitor.eods)
}

func TestEndOfDaySkipsHoliday(t *testing.T) {
	cal := NewCalendar(zerolog.Nop())
	monitor := &stubPositions{}

	job := NewEndOfDayJob(testLocks(t), cal, monitor, zerolog.Nop())
	job.now = fixedNow(time.Date(2025, time.October, 21, 15, 30, 0, 0, cal.Location()))

	require.NoError(t, job.Run())

	assert.Zero(t, monitor.eods)
}
