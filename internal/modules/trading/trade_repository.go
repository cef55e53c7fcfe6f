package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/domain"
)

// TradeRepository persists trade records across their status lifecycle
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

const tradeColumns = `trade_id, symbol, token, exchange, sector, action, status,
	entry_price, stop_loss, current_stop, target_price, rr_ratio,
	quantity, allocation,
	composite_score, fundamental_score, technical_score, macro_score, rr_score,
	thesis, worst_case, invalidation,
	generated_at, expires_at, approved_at, executed_at, closed_at,
	approved_by, rejection_reason, broker_order_id,
	exit_price, realized_pnl, pnl_percent, exit_reason,
	target_hit, partial_notified`

// Create inserts a new trade record
func (r *TradeRepository) Create(t *domain.TradeRecord) error {
	query := `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?, ?)
	`

	_, err := r.db.Exec(query,
		t.TradeID,
		strings.ToUpper(strings.TrimSpace(t.Symbol)),
		t.Token,
		t.Exchange,
		t.Sector,
		t.Action,
		string(t.Status),
		t.EntryPrice,
		t.StopLoss,
		t.CurrentStop,
		t.TargetPrice,
		t.RRRatio,
		t.Quantity,
		t.Allocation,
		t.CompositeScore,
		t.FundamentalScore,
		t.TechnicalScore,
		t.MacroScore,
		t.RiskRewardScore,
		nullString(t.Thesis),
		nullString(t.WorstCase),
		nullString(t.Invalidation),
		t.GeneratedAt.Format(time.RFC3339),
		nullTimePtr(t.ExpiresAt),
		nullTimePtr(t.ApprovedAt),
		nullTimePtr(t.ExecutedAt),
		nullTimePtr(t.ClosedAt),
		nullString(t.ApprovedBy),
		nullString(t.RejectionReason),
		nullString(t.BrokerOrderID),
		nullFloat64Ptr(t.ExitPrice),
		nullFloat64Ptr(t.RealizedPnL),
		nullFloat64Ptr(t.PnLPercent),
		nullString(t.ExitReason),
		boolToInt(t.TargetHit),
		boolToInt(t.PartialNotified),
	)

	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	r.log.Info().
		Str("trade_id", t.TradeID).
		Str("symbol", t.Symbol).
		Str("status", string(t.Status)).
		Msg("Trade created")

	return nil
}

// Update rewrites the mutable fields of an existing trade record
func (r *TradeRepository) Update(t *domain.TradeRecord) error {
	query := `
		UPDATE trades SET
			status = ?, current_stop = ?, quantity = ?,
			expires_at = ?, approved_at = ?, executed_at = ?, closed_at = ?,
			approved_by = ?, rejection_reason = ?, broker_order_id = ?,
			exit_price = ?, realized_pnl = ?, pnl_percent = ?, exit_reason = ?,
			target_hit = ?, partial_notified = ?
		WHERE trade_id = ?
	`

	result, err := r.db.Exec(query,
		string(t.Status),
		t.CurrentStop,
		t.Quantity,
		nullTimePtr(t.ExpiresAt),
		nullTimePtr(t.ApprovedAt),
		nullTimePtr(t.ExecutedAt),
		nullTimePtr(t.ClosedAt),
		nullString(t.ApprovedBy),
		nullString(t.RejectionReason),
		nullString(t.BrokerOrderID),
		nullFloat64Ptr(t.ExitPrice),
		nullFloat64Ptr(t.RealizedPnL),
		nullFloat64Ptr(t.PnLPercent),
		nullString(t.ExitReason),
		boolToInt(t.TargetHit),
		boolToInt(t.PartialNotified),
		t.TradeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", t.TradeID, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("trade %s not found", t.TradeID)
	}

	r.log.Debug().
		Str("trade_id", t.TradeID).
		Str("status", string(t.Status)).
		Msg("Trade updated")

	return nil
}

// GetByID retrieves a trade by its id, nil when absent
func (r *TradeRepository) GetByID(tradeID string) (*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = ?`

	trade, err := scanTrade(r.db.QueryRow(query, strings.ToUpper(strings.TrimSpace(tradeID))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %s: %w", tradeID, err)
	}
	return trade, nil
}

// GetByStatus retrieves all trades in a given status, newest first
func (r *TradeRepository) GetByStatus(status domain.SignalStatus) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY generated_at DESC`
	return r.queryTrades(query, string(status))
}

// GetByStatusSince retrieves trades in a status generated at or after since
func (r *TradeRepository) GetByStatusSince(status domain.SignalStatus, since time.Time) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE status = ? AND generated_at >= ?
		ORDER BY generated_at DESC`
	return r.queryTrades(query, string(status), since.Format(time.RFC3339))
}

// GetSince retrieves all trades generated at or after since
func (r *TradeRepository) GetSince(since time.Time) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE generated_at >= ?
		ORDER BY generated_at DESC`
	return r.queryTrades(query, since.Format(time.RFC3339))
}

// GetClosedBetween retrieves trades closed within [from, to)
func (r *TradeRepository) GetClosedBetween(from, to time.Time) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE closed_at IS NOT NULL AND closed_at >= ? AND closed_at < ?
		ORDER BY closed_at DESC`
	return r.queryTrades(query, from.Format(time.RFC3339), to.Format(time.RFC3339))
}

// CountByStatus counts trades in a given status
func (r *TradeRepository) CountByStatus(status domain.SignalStatus) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades by status: %w", err)
	}
	return count, nil
}

// CountBuysSince counts BUY signals generated at or after since, in any
// status. Rejected and expired proposals still consume the weekly budget.
func (r *TradeRepository) CountBuysSince(since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM trades WHERE action = 'BUY' AND generated_at >= ?`,
		since.Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent buys: %w", err)
	}
	return count, nil
}

// ExistsOpen reports whether an EXECUTED position exists for the symbol
func (r *TradeRepository) ExistsOpen(symbol string) (bool, error) {
	var exists int
	err := r.db.QueryRow(
		`SELECT 1 FROM trades WHERE symbol = ? AND status = ? LIMIT 1`,
		strings.ToUpper(strings.TrimSpace(symbol)), string(domain.StatusExecuted),
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check open position: %w", err)
	}
	return true, nil
}

// SectorExposure sums the allocation of open positions in a sector
func (r *TradeRepository) SectorExposure(sector string) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRow(
		`SELECT SUM(allocation) FROM trades WHERE sector = ? COLLATE NOCASE AND status = ?`,
		sector, string(domain.StatusExecuted),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to compute sector exposure: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Float64, nil
}

func (r *TradeRepository) queryTrades(query string, args ...interface{}) ([]*domain.TradeRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// tradeScanner lets scanTrade work on both *sql.Row and *sql.Rows
type tradeScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row tradeScanner) (*domain.TradeRecord, error) {
	var t domain.TradeRecord
	var status string
	var thesis, worstCase, invalidation sql.NullString
	var generatedAt string
	var expiresAt, approvedAt, executedAt, closedAt sql.NullString
	var approvedBy, rejectionReason, brokerOrderID, exitReason sql.NullString
	var exitPrice, realizedPnL, pnlPercent sql.NullFloat64
	var targetHit, partialNotified int

	err := row.Scan(
		&t.TradeID,
		&t.Symbol,
		&t.Token,
		&t.Exchange,
		&t.Sector,
		&t.Action,
		&status,
		&t.EntryPrice,
		&t.StopLoss,
		&t.CurrentStop,
		&t.TargetPrice,
		&t.RRRatio,
		&t.Quantity,
		&t.Allocation,
		&t.CompositeScore,
		&t.FundamentalScore,
		&t.TechnicalScore,
		&t.MacroScore,
		&t.RiskRewardScore,
		&thesis,
		&worstCase,
		&invalidation,
		&generatedAt,
		&expiresAt,
		&approvedAt,
		&executedAt,
		&closedAt,
		&approvedBy,
		&rejectionReason,
		&brokerOrderID,
		&exitPrice,
		&realizedPnL,
		&pnlPercent,
		&exitReason,
		&targetHit,
		&partialNotified,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.SignalStatus(status)
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))

	if ts, ok := parseTime(generatedAt); ok {
		t.GeneratedAt = ts
	}
	t.ExpiresAt = parseTimeNull(expiresAt)
	t.ApprovedAt = parseTimeNull(approvedAt)
	t.ExecutedAt = parseTimeNull(executedAt)
	t.ClosedAt = parseTimeNull(closedAt)

	if thesis.Valid {
		t.Thesis = thesis.String
	}
	if worstCase.Valid {
		t.WorstCase = worstCase.String
	}
	if invalidation.Valid {
		t.Invalidation = invalidation.String
	}
	if approvedBy.Valid {
		t.ApprovedBy = approvedBy.String
	}
	if rejectionReason.Valid {
		t.RejectionReason = rejectionReason.String
	}
	if brokerOrderID.Valid {
		t.BrokerOrderID = brokerOrderID.String
	}
	if exitReason.Valid {
		t.ExitReason = exitReason.String
	}
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if realizedPnL.Valid {
		t.RealizedPnL = &realizedPnL.Float64
	}
	if pnlPercent.Valid {
		t.PnLPercent = &pnlPercent.Float64
	}
	t.TargetHit = targetHit != 0
	t.PartialNotified = partialNotified != 0

	return &t, nil
}

// parseTime handles the timestamp formats that can appear in the database:
// RFC3339, ISO8601 without timezone, and plain datetime.
func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s+"Z"); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseTimeNull(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	if t, ok := parseTime(ns.String); ok {
		return &t
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
