package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/locking"
)

// Positions is the monitor surface the intraday jobs drive
type Positions interface {
	Tick(ctx context.Context)
	EndOfDay(ctx context.Context)
}

// Expirer sweeps approval requests past their reply window
type Expirer interface {
	ExpireTimedOut()
}

// MonitorTickJob runs the position monitor every fifteen minutes of the
// session and sweeps expired approvals on every fire.
type MonitorTickJob struct {
	log      zerolog.Logger
	locks    *locking.Manager
	calendar *Calendar
	monitor  Positions
	expirer  Expirer
	now      func() time.Time
}

// NewMonitorTickJob creates the intraday monitor job
func NewMonitorTickJob(locks *locking.Manager, calendar *Calendar, monitor Positions, expirer Expirer, log zerolog.Logger) *MonitorTickJob {
	return &MonitorTickJob{
		log:      log.With().Str("job", "monitor_tick").Logger(),
		locks:    locks,
		calendar: calendar,
		monitor:  monitor,
		expirer:  expirer,
		now:      time.Now,
	}
}

// Name returns the job name
func (j *MonitorTickJob) Name() string {
	return "monitor_tick"
}

// Run executes one monitor pass
func (j *MonitorTickJob) Run() error {
	// The expiry sweep is cheap and venue-independent; it runs on every
	// fire so stale approvals never outlive their window by more than
	// one tick.
	j.expirer.ExpireTimedOut()

	if !j.calendar.InMonitorWindow(j.now()) {
		j.log.Debug().Msg("Outside monitor window, skipping tick")
		return nil
	}

	if err := j.locks.Acquire("monitor_tick"); err != nil {
		j.log.Warn().Err(err).Msg("Monitor tick already running")
		return nil
	}
	defer j.locks.Release("monitor_tick")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	j.monitor.Tick(ctx)
	return nil
}

// EndOfDayJob sends the 15:30 summary and writes the daily portfolio
// snapshot.
type EndOfDayJob struct {
	log      zerolog.Logger
	locks    *locking.Manager
	calendar *Calendar
	monitor  Positions
	now      func() time.Time
}

// NewEndOfDayJob creates the end-of-day job
func NewEndOfDayJob(locks *locking.Manager, calendar *Calendar, monitor Positions, log zerolog.Logger) *EndOfDayJob {
	return &EndOfDayJob{
		log:      log.With().Str("job", "end_of_day").Logger(),
		locks:    locks,
		calendar: calendar,
		monitor:  monitor,
		now:      time.Now,
	}
}

// Name returns the job name
func (j *EndOfDayJob) Name() string {
	return "end_of_day"
}

// Run sends the daily summary
func (j *EndOfDayJob) Run() error {
	if !j.calendar.IsTradingDay(j.now()) {
		j.log.Debug().Msg("Not a trading day, skipping end-of-day summary")
		return nil
	}

	if err := j.locks.Acquire("end_of_day"); err != nil {
		j.log.Warn().Err(err).Msg("End-of-day summary already running")
		return nil
	}
	defer j.locks.Release("end_of_day")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	j.monitor.EndOfDay(ctx)
	return nil
}
