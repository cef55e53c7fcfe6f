package ingestion

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/nse-trader/internal/domain"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
)

const historyDateLayout = "2006-01-02"

// HistoryStore persists daily bars in one small SQLite file per symbol.
// Writes happen during the refresh, best-effort; reads serve the on-demand
// analysis fallback when a live fetch fails.
type HistoryStore struct {
	dir string
	log zerolog.Logger
}

// NewHistoryStore creates a history store rooted at dir
func NewHistoryStore(dir string, log zerolog.Logger) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir %s: %w", dir, err)
	}
	return &HistoryStore{
		dir: dir,
		log: log.With().Str("component", "history_store").Logger(),
	}, nil
}

// Save upserts the bars for a symbol. Existing dates are overwritten so a
// re-run refresh converges on the latest data.
func (h *HistoryStore) Save(symbol string, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	db, err := h.open(symbol)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history tx for %s: %w", symbol, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_bars (date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history insert for %s: %w", symbol, err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Date.Format(historyDateLayout), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to insert bar for %s: %w", symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history for %s: %w", symbol, err)
	}

	h.log.Debug().Str("symbol", symbol).Int("bars", len(candles)).Msg("History saved")
	return nil
}

// Load returns up to limit bars for a symbol in ascending date order
func (h *HistoryStore) Load(symbol string, limit int) ([]domain.Candle, error) {
	db, err := h.open(symbol)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT date, open, high, low, close, volume
		FROM daily_bars
		ORDER BY date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var date string
		var volume sql.NullInt64
		if err := rows.Scan(&date, &c.Open, &c.High, &c.Low, &c.Close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar for %s: %w", symbol, err)
		}
		c.Date, err = time.Parse(historyDateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bar date %q for %s: %w", date, symbol, err)
		}
		if volume.Valid {
			c.Volume = volume.Int64
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history for %s: %w", symbol, err)
	}

	// newest-first from the query, analysis wants ascending
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// open opens (and initializes) the per-symbol database file
func (h *HistoryStore) open(symbol string) (*sql.DB, error) {
	path := filepath.Join(h.dir, sanitizeSymbol(symbol)+".db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db for %s: %w", symbol, err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_bars (
			date   TEXT PRIMARY KEY,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume INTEGER
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init history db for %s: %w", symbol, err)
	}

	return db, nil
}

// sanitizeSymbol maps a trading symbol to a safe filename stem,
// e.g. M&M-EQ -> M_M_EQ
func sanitizeSymbol(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.ToUpper(strings.TrimSpace(symbol)))
}
