package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/database"
	"github.com/aristath/nse-trader/internal/locking"
)

// SessionProbe reports broker session validity
type SessionProbe interface {
	Authenticated() bool
}

// ChatProbe reports chat transport reachability
type ChatProbe interface {
	TestConnection() error
}

// HealthCheckJob is the agent's ten-minute self-check: trade database
// integrity, WAL growth, broker session validity, chat reachability and
// stuck job locks. Findings are logged; the status endpoint reads the
// same probes live.
type HealthCheckJob struct {
	log    zerolog.Logger
	locks  *locking.Manager
	db     *database.DB
	broker SessionProbe
	chat   ChatProbe
}

// HealthCheckConfig holds configuration for the health check job
type HealthCheckConfig struct {
	Log    zerolog.Logger
	Locks  *locking.Manager
	DB     *database.DB
	Broker SessionProbe
	Chat   ChatProbe
}

// NewHealthCheckJob creates the health check job
func NewHealthCheckJob(cfg HealthCheckConfig) *HealthCheckJob {
	return &HealthCheckJob{
		log:    cfg.Log.With().Str("job", "health_check").Logger(),
		locks:  cfg.Locks,
		db:     cfg.DB,
		broker: cfg.Broker,
		chat:   cfg.Chat,
	}
}

// Name returns the job name
func (j *HealthCheckJob) Name() string {
	return "health_check"
}

// Run executes the health check
func (j *HealthCheckJob) Run() error {
	if err := j.locks.Acquire("health_check"); err != nil {
		j.log.Warn().Err(err).Msg("Health check already running")
		return nil
	}
	defer j.locks.Release("health_check")

	start := time.Now()

	// Trade database corruption is critical and cannot be auto-recovered.
	if err := j.checkDatabase(); err != nil {
		j.log.Error().Err(err).Msg("Trade database integrity check failed")
		return err
	}

	j.checkWALCheckpoint()
	j.checkBrokerSession()
	j.checkChat()
	j.clearStuckLocks()

	j.log.Debug().
		Dur("duration", time.Since(start)).
		Msg("Health check completed")

	return nil
}

// checkDatabase runs SQLite's PRAGMA integrity_check on the trade store
func (j *HealthCheckJob) checkDatabase() error {
	var result string
	if err := j.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned: %s", result)
	}
	return nil
}

// checkWALCheckpoint monitors WAL growth on the trade store
func (j *HealthCheckJob) checkWALCheckpoint() {
	var busy, frames, checkpointed int
	err := j.db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to check WAL checkpoint")
		return
	}

	if frames > 1000 {
		j.log.Warn().
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, checkpoint may be needed")
	}
}

// checkBrokerSession reports session validity. No login is forced here;
// broker calls refresh their own session and the operator can force one
// via the API.
func (j *HealthCheckJob) checkBrokerSession() {
	if j.broker.Authenticated() {
		j.log.Debug().Msg("Broker session valid")
		return
	}
	j.log.Info().Msg("Broker session absent or expired, next broker call will log in")
}

// checkChat verifies the chat transport can reach its API
func (j *HealthCheckJob) checkChat() {
	if err := j.chat.TestConnection(); err != nil {
		j.log.Warn().Err(err).Msg("Chat transport unreachable")
		return
	}
	j.log.Debug().Msg("Chat transport reachable")
}

// clearStuckLocks removes job locks older than 1 hour
func (j *HealthCheckJob) clearStuckLocks() {
	cleared, err := j.locks.ClearStuckLocks(1 * time.Hour)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to clear stuck locks")
		return
	}

	if len(cleared) > 0 {
		j.log.Warn().Strs("locks", cleared).Msg("Cleared stuck locks")
	}
}
