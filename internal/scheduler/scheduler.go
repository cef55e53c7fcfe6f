// Package scheduler drives the agent's trading day: the pre-market data
// refresh, the 09:15 signal cycle, intraday position-monitor ticks, the
// end-of-day summary and the slower maintenance jobs. All cron specs use
// the seconds field and fire in exchange time (Asia/Kolkata).
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/metrics"
)

// Schedules for every recurring job. The monitor spec fires from 09:00,
// the calendar gate inside the job trims the window to 09:30-15:30.
const (
	SchedulePreMarketRefresh = "0 45 8 * * 1-5"
	ScheduleSignalCycle      = "0 15 9 * * 1-5"
	ScheduleMonitorTick      = "0 */15 9-15 * * 1-5"
	ScheduleEndOfDay         = "0 30 15 * * 1-5"
	ScheduleMaintenance      = "0 0 0 * * *"
	ScheduleMonthlyReview    = "0 0 7 1 * *"
	ScheduleHealthCheck      = "0 */10 * * * *"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler firing in the given timezone
func New(loc *time.Location, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		start := time.Now()

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}

		metrics.JobDuration.WithLabelValues(job.Name()).Observe(time.Since(start).Seconds())
	})

	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}
