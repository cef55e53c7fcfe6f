// Package main is the entry point for the NSE trading agent. The agent
// watches the NSE cash market, proposes swing trades over Telegram, executes
// approved orders through AngelOne and guards open positions with autonomous
// stop-loss and drawdown exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nse-trader/internal/chat"
	"github.com/aristath/nse-trader/internal/clients/amfi"
	"github.com/aristath/nse-trader/internal/clients/angelone"
	"github.com/aristath/nse-trader/internal/clients/yahoo"
	"github.com/aristath/nse-trader/internal/config"
	"github.com/aristath/nse-trader/internal/database"
	"github.com/aristath/nse-trader/internal/database/repositories"
	"github.com/aristath/nse-trader/internal/domain"
	"github.com/aristath/nse-trader/internal/events"
	"github.com/aristath/nse-trader/internal/locking"
	"github.com/aristath/nse-trader/internal/modules/analysis"
	"github.com/aristath/nse-trader/internal/modules/approval"
	"github.com/aristath/nse-trader/internal/modules/execution"
	"github.com/aristath/nse-trader/internal/modules/ingestion"
	"github.com/aristath/nse-trader/internal/modules/learning"
	"github.com/aristath/nse-trader/internal/modules/monitor"
	"github.com/aristath/nse-trader/internal/modules/portfolio"
	"github.com/aristath/nse-trader/internal/modules/registry"
	"github.com/aristath/nse-trader/internal/modules/risk"
	"github.com/aristath/nse-trader/internal/modules/signals"
	"github.com/aristath/nse-trader/internal/modules/trading"
	"github.com/aristath/nse-trader/internal/scheduler"
	"github.com/aristath/nse-trader/internal/server"
	"github.com/aristath/nse-trader/pkg/logger"
)

func main() {
	// Load configuration first to get the log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting NSE trading agent")

	// Strategy parameters: thresholds, weights and limits. A missing file
	// runs on defaults; a malformed one refuses to start.
	strategy, err := config.LoadStrategy(cfg.StrategyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load strategy configuration")
	}

	mode := "LIVE"
	if strategy.Simulation.Enabled {
		mode = "PAPER_TRADING"
	}
	log.Info().
		Str("mode", mode).
		Bool("auto_mode", strategy.Execution.AutoMode).
		Int("watchlist", len(strategy.Watchlist)).
		Msg("Strategy loaded")

	if !cfg.HasBrokerCredentials() {
		log.Warn().Msg("Broker credentials not configured, market data and order placement will fail")
	}

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Job locks live next to the database. A crashed run leaves its lock
	// files behind and nothing can hold them at boot, so clear them all.
	locks, err := locking.NewManager(filepath.Join(filepath.Dir(cfg.DatabasePath), "locks"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize lock manager")
	}
	if cleared, err := locks.ClearStuckLocks(0); err != nil {
		log.Warn().Err(err).Msg("Failed to sweep leftover locks")
	} else if len(cleared) > 0 {
		log.Warn().Strs("locks", cleared).Msg("Cleared leftover locks from previous run")
	}

	bus := events.NewManager(log)

	// External clients
	broker := angelone.NewClient(angelone.Config{
		APIKey:     cfg.AngelAPIKey,
		ClientID:   cfg.AngelClientID,
		MPIN:       cfg.AngelMPIN,
		TOTPSecret: cfg.AngelTOTPSecret,
	}, log)
	marketData := yahoo.NewClient(log)
	funds := amfi.NewClient(log)

	// Repositories
	trades := trading.NewTradeRepository(db.Conn(), log)
	kv := repositories.NewKVRepository(db.Conn(), log)
	snapshots := repositories.NewSnapshotRepository(db.Conn(), log)

	// Chat transport: Telegram when configured, otherwise the log
	var operator server.Chat
	var telegram *chat.Telegram
	if cfg.HasTelegramCredentials() {
		telegram, err = chat.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, kv, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram")
		}
		operator = telegram
	} else {
		log.Warn().Msg("Telegram credentials not configured, chat messages go to the log")
		operator = chat.NewLogChat(log)
	}

	// Instrument registry with an initial catalog load. Failure is not
	// fatal: the built-in fallback universe serves until the nightly
	// reload succeeds.
	catalog := registry.New(broker.FetchScripMaster, strategy.Filters.IncludeSecondaryExchange, log)
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := catalog.Load(loadCtx); err != nil {
		log.Warn().Err(err).Msg("Initial catalog load failed, continuing on fallback universe")
	}
	loadCancel()

	// Market data pipeline
	history, err := ingestion.NewHistoryStore(cfg.HistoryDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history store")
	}
	universe := ingestion.NewSnapshotStore()

	valuator := portfolio.NewValuator(broker, portfolio.ValuatorConfig{
		Simulation:     strategy.Simulation.Enabled,
		VirtualBalance: strategy.Simulation.VirtualBalance,
		FallbackValue:  strategy.Portfolio.TotalValue,
	}, log)

	refresher := ingestion.NewService(broker, catalog, marketData, valuator, universe, history, bus, ingestion.Config{
		Filters:   strategy.Filters,
		Macro:     strategy.Macro,
		Watchlist: strategy.Watchlist,
	}, log)

	// Scoring pipeline
	fundamentals := analysis.NewFundamentalSource(marketData, log)
	generator := signals.NewGenerator(universe, valuator, fundamentals,
		analysis.NewFundamentalScorer(strategy.Fundamental, log),
		analysis.NewTechnicalScorer(strategy.Technical, log),
		analysis.NewMacroScorer(strategy.Macro, log),
		strategy, bus, log)

	screener := risk.NewValidator(strategy, trades, valuator, log)

	// Trade lifecycle
	engine := execution.NewEngine(broker, operator, trades, strategy, bus, log)
	gateway := approval.NewGateway(operator, trades, engine, strategy, bus, log)
	watchdog := monitor.NewMonitor(broker, operator, trades, engine, catalog, valuator, snapshots, strategy, bus, log)
	insights := learning.NewService(trades, operator, log)

	// Operator replies drive the approval flow
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if telegram != nil {
		telegram.AddHandler(func(m chat.Message) {
			gateway.HandleReply(m.Text, m.Username)
		})
		go telegram.StartPolling(rootCtx)
	}

	// Scheduler runs in exchange time
	calendar := scheduler.NewCalendar(log)
	sched := scheduler.New(calendar.Location(), log)
	sched.Start()
	defer sched.Stop()

	deps := jobDeps{
		log:       log,
		locks:     locks,
		calendar:  calendar,
		db:        db,
		cfg:       cfg,
		catalog:   catalog,
		refresher: refresher,
		universe:  universe,
		proposer:  generator,
		screener:  screener,
		gateway:   gateway,
		watchdog:  watchdog,
		trades:    trades,
		chat:      operator,
		broker:    broker,
		insights:  insights,
	}
	if err := registerJobs(sched, deps); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		Strategy:   strategy,
		DevMode:    cfg.DevMode,
		Broker:     broker,
		Chat:       operator,
		Approvals:  gateway,
		Trades:     trades,
		Snapshots:  refresher,
		Analyser:   generator,
		Funds:      funds,
		FundScorer: analysis.NewMutualFundScorer(log),
		Insights:   insights,
		Calendar:   calendar,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Agent started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Agent stopped")
}

// jobDeps carries everything the scheduled jobs need
type jobDeps struct {
	log       zerolog.Logger
	locks     *locking.Manager
	calendar  *scheduler.Calendar
	db        *database.DB
	cfg       *config.Config
	catalog   *registry.Registry
	refresher *ingestion.Service
	universe  *ingestion.SnapshotStore
	proposer  *signals.Generator
	screener  *risk.Validator
	gateway   *approval.Gateway
	watchdog  *monitor.Monitor
	trades    domain.TradeStore
	chat      server.Chat
	broker    *angelone.Client
	insights  *learning.Service
}

func registerJobs(sched *scheduler.Scheduler, d jobDeps) error {
	cycle := scheduler.NewSignalCycleJob(scheduler.SignalCycleConfig{
		Log:       d.log,
		Locks:     d.locks,
		Calendar:  d.calendar,
		Universe:  d.universe,
		Refresher: d.refresher,
		Proposer:  d.proposer,
		Screener:  d.screener,
		Gateway:   d.gateway,
		Trades:    d.trades,
		Chat:      d.chat,
	})
	health := scheduler.NewHealthCheckJob(scheduler.HealthCheckConfig{
		Log:    d.log,
		Locks:  d.locks,
		DB:     d.db,
		Broker: d.broker,
		Chat:   d.chat,
	})

	jobs := []struct {
		spec string
		job  scheduler.Job
	}{
		{scheduler.SchedulePreMarketRefresh, scheduler.NewRefreshJob(d.locks, d.calendar, d.refresher, d.log)},
		{scheduler.ScheduleSignalCycle, cycle},
		{scheduler.ScheduleMonitorTick, scheduler.NewMonitorTickJob(d.locks, d.calendar, d.watchdog, d.gateway, d.log)},
		{scheduler.ScheduleEndOfDay, scheduler.NewEndOfDayJob(d.locks, d.calendar, d.watchdog, d.log)},
		{scheduler.ScheduleMaintenance, scheduler.NewMaintenanceJob(d.locks, d.catalog, d.cfg.HistoryDir, d.log)},
		{scheduler.ScheduleMonthlyReview, scheduler.NewMonthlyReviewJob(d.locks, d.insights, d.log)},
		{scheduler.ScheduleHealthCheck, health},
	}
	for _, entry := range jobs {
		if err := sched.AddJob(entry.spec, entry.job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", entry.job.Name(), err)
		}
	}
	return nil
}
