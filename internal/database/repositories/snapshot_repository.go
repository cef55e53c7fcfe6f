package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/nse-trader/internal/domain"
	"github.com/rs/zerolog"
)

// SnapshotRepository persists end-of-day portfolio valuations, one row per
// calendar day. The peak value across all rows drives portfolio-level
// drawdown tracking.
type SnapshotRepository struct {
	*BaseRepository
}

// NewSnapshotRepository creates a new portfolio snapshot repository
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		BaseRepository: NewBase(db, log.With().Str("repo", "snapshot").Logger()),
	}
}

// Upsert writes the snapshot for its calendar day, replacing any earlier
// snapshot taken the same day.
func (r *SnapshotRepository) Upsert(s domain.PortfolioSnapshot) error {
	query := `
		INSERT INTO portfolio_snapshots
		(date, total_value, cash, invested, invested_pct, open_positions,
		 unrealized_pnl, day_pnl, peak_value, drawdown_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_value = excluded.total_value,
			cash = excluded.cash,
			invested = excluded.invested,
			invested_pct = excluded.invested_pct,
			open_positions = excluded.open_positions,
			unrealized_pnl = excluded.unrealized_pnl,
			day_pnl = excluded.day_pnl,
			peak_value = excluded.peak_value,
			drawdown_pct = excluded.drawdown_pct
	`

	_, err := r.db.Exec(query,
		s.Date.Format("2006-01-02"),
		s.TotalValue,
		s.Cash,
		s.Invested,
		s.InvestedPct,
		s.OpenPositions,
		s.UnrealizedPnL,
		s.DayPnL,
		s.PeakValue,
		s.DrawdownPercent,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio snapshot: %w", err)
	}

	r.log.Debug().
		Str("date", s.Date.Format("2006-01-02")).
		Float64("total_value", s.TotalValue).
		Msg("Portfolio snapshot saved")

	return nil
}

// GetLatest returns the most recent snapshot, or nil when none exist
func (r *SnapshotRepository) GetLatest() (*domain.PortfolioSnapshot, error) {
	query := selectSnapshotColumns + " ORDER BY date DESC LIMIT 1"

	row := r.db.QueryRow(query)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return s, nil
}

// GetSince returns snapshots from the given date onwards, oldest first
func (r *SnapshotRepository) GetSince(from time.Time) ([]domain.PortfolioSnapshot, error) {
	query := selectSnapshotColumns + " WHERE date >= ? ORDER BY date ASC"

	rows, err := r.db.Query(query, from.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.PortfolioSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// PeakValue returns the highest total value ever recorded, 0 when empty
func (r *SnapshotRepository) PeakValue() (float64, error) {
	var peak sql.NullFloat64
	err := r.db.QueryRow("SELECT MAX(total_value) FROM portfolio_snapshots").Scan(&peak)
	if err != nil {
		return 0, fmt.Errorf("failed to get peak value: %w", err)
	}
	if !peak.Valid {
		return 0, nil
	}
	return peak.Float64, nil
}

const selectSnapshotColumns = `
	SELECT date, total_value, cash, invested, invested_pct, open_positions,
	       unrealized_pnl, day_pnl, peak_value, drawdown_pct
	FROM portfolio_snapshots`

type snapshotScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row snapshotScanner) (*domain.PortfolioSnapshot, error) {
	var s domain.PortfolioSnapshot
	var date string

	err := row.Scan(
		&date,
		&s.TotalValue,
		&s.Cash,
		&s.Invested,
		&s.InvestedPct,
		&s.OpenPositions,
		&s.UnrealizedPnL,
		&s.DayPnL,
		&s.PeakValue,
		&s.DrawdownPercent,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse("2006-01-02", date); err == nil {
		s.Date = t
	}
	return &s, nil
}
