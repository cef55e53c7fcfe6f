package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/locking"
)

// RefreshJob runs the two-phase pre-market data refresh at 08:45 so the
// universe is published before the 09:15 scan.
type RefreshJob struct {
	log       zerolog.Logger
	locks     *locking.Manager
	calendar  *Calendar
	refresher Refresher
	now       func() time.Time
}

// NewRefreshJob creates the pre-market refresh job
func NewRefreshJob(locks *locking.Manager, calendar *Calendar, refresher Refresher, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		log:       log.With().Str("job", "refresh").Logger(),
		locks:     locks,
		calendar:  calendar,
		refresher: refresher,
		now:       time.Now,
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "refresh"
}

// Run executes the refresh
func (j *RefreshJob) Run() error {
	if !j.calendar.IsTradingDay(j.now()) {
		j.log.Debug().Msg("Not a trading day, skipping refresh")
		return nil
	}

	if err := j.locks.Acquire("refresh"); err != nil {
		j.log.Warn().Err(err).Msg("Refresh already running")
		return nil
	}
	defer j.locks.Release("refresh")

	// Budget: the Phase 2 history fetch carries its own 10-minute
	// deadline; the extra headroom covers valuation and Phase 1.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if err := j.refresher.RefreshAll(ctx); err != nil {
		return fmt.Errorf("pre-market refresh failed: %w", err)
	}
	return nil
}
