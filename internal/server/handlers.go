package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/modules/analysis"
	"github.com/aristath/nse-trader/internal/modules/learning"
	"github.com/aristath/nse-trader/internal/modules/signals"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "nse-trader",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleStatus reports the agent's live state: trading mode, session
// health of the broker and chat transports, queue depths and whether
// the exchange is currently in session.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	open, err := s.trades.CountByStatus(domain.StatusExecuted)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count open positions")
		return
	}

	mode := "LIVE"
	if s.strategy.Simulation.Enabled {
		mode = "PAPER_TRADING"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "RUNNING",
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"mode":                 mode,
		"auto_mode":            s.strategy.Execution.AutoMode,
		"market_open":          s.calendar.IsOpen(time.Now()),
		"broker_authenticated": s.broker.Authenticated(),
		"telegram_connected":   s.chat.TestConnection() == nil,
		"pending_signals":      s.approvals.PendingCount(),
		"open_positions":       open,
		"watchlist_size":       len(s.strategy.Watchlist),
	})
}

// handlePositions returns all open positions
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.trades.GetByStatus(domain.StatusExecuted)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load positions")
		return
	}
	s.writeTradeList(w, positions)
}

// handlePendingSignals returns signals still awaiting an approval reply
func (s *Server) handlePendingSignals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.trades.GetByStatus(domain.StatusPendingApproval)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load pending signals")
		return
	}
	s.writeTradeList(w, pending)
}

// handleSignalHistory returns every signal generated in the last
// ?days=N days (default 30), regardless of terminal status.
func (s *Server) handleSignalHistory(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			s.writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = d
	}

	history, err := s.trades.GetSince(time.Now().AddDate(0, 0, -days))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load signal history")
		return
	}
	s.writeTradeList(w, history)
}

// handlePerformance aggregates all closed trades into the win/loss
// summary plus the formatted calibration, sector and rejection reports.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	closed, err := s.trades.GetByStatus(domain.StatusClosed)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load closed trades")
		return
	}

	stats := learning.Stats(closed)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_closed_trades":    stats.TotalTrades,
		"wins":                   stats.Wins,
		"losses":                 stats.Losses,
		"win_rate_pct":           stats.WinRate,
		"total_realized_pnl_inr": stats.TotalPnL,
		"confidence_calibration": learning.Calibration(closed),
		"sector_analysis":        learning.SectorAnalysis(closed),
		"rejection_analysis":     s.insights.RejectionAnalysis(),
	})
}

// handleTelegramTest verifies the chat transport and, when reachable,
// pushes a visible test message to the configured chat.
func (s *Server) handleTelegramTest(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.TestConnection(); err != nil {
		s.log.Warn().Err(err).Msg("Telegram connectivity test failed")
		s.writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
		return
	}

	if err := s.chat.Send("✅ Agent test message — Telegram connected successfully!"); err != nil {
		s.log.Warn().Err(err).Msg("Telegram test message failed to send")
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

// handleBrokerLogin forces a fresh broker login, bypassing any session
// the client still holds. Used to recover from expired tokens without
// waiting for the next scheduled cycle.
func (s *Server) handleBrokerLogin(w http.ResponseWriter, r *http.Request) {
	err := s.broker.Login(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Broker login failed")
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{
		"success":       err == nil,
		"authenticated": s.broker.Authenticated(),
	})
}

// stockAnalysisResponse decorates the raw scoring bundle with the
// verdict shown to API consumers.
type stockAnalysisResponse struct {
	signals.Analysis
	Verdict      string `json:"verdict"`
	VerdictColor string `json:"verdict_color"`
}

// handleAnalyseStock runs the full scoring pipeline for one symbol on
// demand. Works for any NSE/BSE symbol, not just the scanned universe.
func (s *Server) handleAnalyseStock(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	snap, err := s.snapshots.SnapshotFor(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no market data for %s", symbol))
		return
	}

	result := s.analyser.Analyse(r.Context(), snap)

	s.writeJSON(w, http.StatusOK, stockAnalysisResponse{
		Analysis:     result,
		Verdict:      analysis.Verdict(result.Confidence.Composite),
		VerdictColor: verdictColor(result.Confidence.Composite),
	})
}

// handleAnalyseFund scores a mutual fund from its AMFI NAV history
func (s *Server) handleAnalyseFund(w http.ResponseWriter, r *http.Request) {
	scheme := chi.URLParam(r, "scheme")

	data, err := s.funds.GetNAVHistory(r.Context(), scheme)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no NAV history for scheme %s", scheme))
		return
	}

	s.writeJSON(w, http.StatusOK, s.fundScorer.Analyze(data))
}

func verdictColor(score float64) string {
	switch {
	case score >= 80:
		return "#3fb950"
	case score >= 65:
		return "#2ea043"
	case score >= 50:
		return "#d29922"
	default:
		return "#f85149"
	}
}

// writeTradeList writes trade records as a JSON array, never null
func (s *Server) writeTradeList(w http.ResponseWriter, records []*domain.TradeRecord) {
	if records == nil {
		records = []*domain.TradeRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
