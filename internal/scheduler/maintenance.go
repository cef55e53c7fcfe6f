package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/locking"
)

// CatalogLoader reloads the instrument registry from the scrip master
type CatalogLoader interface {
	Load(ctx context.Context) error
}

// MaintenanceJob runs the midnight housekeeping pass: reload the
// instrument registry and verify the per-symbol history caches,
// deleting any that fail the integrity check so the next refresh
// rebuilds them.
type MaintenanceJob struct {
	log        zerolog.Logger
	locks      *locking.Manager
	catalog    CatalogLoader
	historyDir string
}

// NewMaintenanceJob creates the nightly maintenance job
func NewMaintenanceJob(locks *locking.Manager, catalog CatalogLoader, historyDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		log:        log.With().Str("job", "maintenance").Logger(),
		locks:      locks,
		catalog:    catalog,
		historyDir: historyDir,
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance pass
func (j *MaintenanceJob) Run() error {
	if err := j.locks.Acquire("maintenance"); err != nil {
		j.log.Warn().Err(err).Msg("Maintenance already running")
		return nil
	}
	defer j.locks.Release("maintenance")

	j.log.Info().Msg("=== Starting nightly maintenance ===")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Registry reload is the critical step; the agent can trade on a
	// stale catalog but should not start the day on one silently.
	if err := j.catalog.Load(ctx); err != nil {
		return fmt.Errorf("registry reload failed: %w", err)
	}

	j.checkHistoryDatabases()

	j.log.Info().
		Dur("duration", time.Since(start)).
		Msg("=== Nightly maintenance complete ===")

	return nil
}

// checkHistoryDatabases verifies integrity of per-symbol history caches.
// A corrupted cache is deleted; the next pre-market refresh rebuilds it
// from the broker's candle API.
func (j *MaintenanceJob) checkHistoryDatabases() {
	if j.historyDir == "" {
		j.log.Debug().Msg("History dir not configured, skipping cache checks")
		return
	}

	entries, err := os.ReadDir(j.historyDir)
	if err != nil {
		if os.IsNotExist(err) {
			j.log.Debug().Msg("History dir does not exist, skipping")
			return
		}
		j.log.Error().Err(err).Msg("Failed to read history dir")
		return
	}

	corrupted, removed := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}

		path := filepath.Join(j.historyDir, entry.Name())
		symbol := strings.TrimSuffix(entry.Name(), ".db")

		if err := checkIntegrity(path); err != nil {
			corrupted++
			j.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Str("path", path).
				Msg("History cache corrupted, removing for rebuild")

			if err := os.Remove(path); err != nil {
				j.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to remove corrupted cache")
			} else {
				removed++
			}
		}
	}

	if corrupted > 0 {
		j.log.Warn().
			Int("corrupted", corrupted).
			Int("removed", removed).
			Msg("History cache corruption detected and cleaned")
	} else {
		j.log.Debug().Int("caches", len(entries)).Msg("History caches OK")
	}
}

// checkIntegrity runs SQLite's PRAGMA integrity_check against one file
func checkIntegrity(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned: %s", result)
	}
	return nil
}

// Reviewer produces the monthly performance report
type Reviewer interface {
	MonthlyReview()
}

// MonthlyReviewJob pushes the learning module's performance review on
// the first morning of each month.
type MonthlyReviewJob struct {
	log      zerolog.Logger
	locks    *locking.Manager
	reviewer Reviewer
}

// NewMonthlyReviewJob creates the monthly review job
func NewMonthlyReviewJob(locks *locking.Manager, reviewer Reviewer, log zerolog.Logger) *MonthlyReviewJob {
	return &MonthlyReviewJob{
		log:      log.With().Str("job", "monthly_review").Logger(),
		locks:    locks,
		reviewer: reviewer,
	}
}

// Name returns the job name
func (j *MonthlyReviewJob) Name() string {
	return "monthly_review"
}

// Run produces the review
func (j *MonthlyReviewJob) Run() error {
	if err := j.locks.Acquire("monthly_review"); err != nil {
		j.log.Warn().Err(err).Msg("Monthly review already running")
		return nil
	}
	defer j.locks.Release("monthly_review")

	j.reviewer.MonthlyReview()
	return nil
}
