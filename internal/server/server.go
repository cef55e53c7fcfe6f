// Package server exposes the operator API: agent status, open positions,
// signal history, performance reports and on-demand stock or fund analysis.
// It is a read-mostly surface; the only mutating endpoints are the broker
// re-login and the Telegram connectivity test.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/clients/amfi"
	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/modules/analysis"
	"github.com/aristath/nse-trader/internal/modules/signals"
)

// Broker is the slice of the broker client the API needs.
type Broker interface {
	Login(ctx context.Context) error
	Authenticated() bool
}

// Chat is the slice of the chat transport the API needs.
type Chat interface {
	Send(text string) error
	TestConnection() error
}

// Approvals reports the in-memory queue of signals awaiting a reply.
type Approvals interface {
	PendingCount() int
}

// Snapshots resolves a symbol to a market snapshot, fetching on demand
// when the symbol is not in the published universe.
type Snapshots interface {
	SnapshotFor(ctx context.Context, symbol string) (*domain.StockSnapshot, error)
}

// Analyser scores a snapshot without applying the signal drop rules.
type Analyser interface {
	Analyse(ctx context.Context, snap *domain.StockSnapshot) signals.Analysis
}

// FundData fetches mutual-fund NAV history by scheme code.
type FundData interface {
	GetNAVHistory(ctx context.Context, schemeCode string) (*amfi.SchemeData, error)
}

// Insights produces the formatted rejection breakdown for the
// performance report.
type Insights interface {
	RejectionAnalysis() string
}

// Calendar reports whether the exchange is in session.
type Calendar interface {
	IsOpen(at time.Time) bool
}

// Config holds server configuration
type Config struct {
	Port     int
	Log      zerolog.Logger
	Strategy *config.Strategy
	DevMode  bool

	Broker     Broker
	Chat       Chat
	Approvals  Approvals
	Trades     domain.TradeStore
	Snapshots  Snapshots
	Analyser   Analyser
	Funds      FundData
	FundScorer *analysis.MutualFundScorer
	Insights   Insights
	Calendar   Calendar
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	port   int

	strategy   *config.Strategy
	broker     Broker
	chat       Chat
	approvals  Approvals
	trades     domain.TradeStore
	snapshots  Snapshots
	analyser   Analyser
	funds      FundData
	fundScorer *analysis.MutualFundScorer
	insights   Insights
	calendar   Calendar
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		port:       cfg.Port,
		strategy:   cfg.Strategy,
		broker:     cfg.Broker,
		chat:       cfg.Chat,
		approvals:  cfg.Approvals,
		trades:     cfg.Trades,
		snapshots:  cfg.Snapshots,
		analyser:   cfg.Analyser,
		funds:      cfg.Funds,
		fundScorer: cfg.FundScorer,
		insights:   cfg.Insights,
		calendar:   cfg.Calendar,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check and Prometheus scrape endpoint
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/performance", s.handlePerformance)

		r.Route("/signals", func(r chi.Router) {
			r.Get("/pending", s.handlePendingSignals)
			r.Get("/history", s.handleSignalHistory)
		})

		r.Post("/telegram/test", s.handleTelegramTest)
		r.Post("/broker/login", s.handleBrokerLogin)

		r.Route("/analyse", func(r chi.Router) {
			r.Get("/fund/{scheme}", s.handleAnalyseFund)
			r.Get("/{symbol}", s.handleAnalyseStock)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
