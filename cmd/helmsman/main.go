// Package main is the entry point for the Helmsman autonomous investment
// agent. It wires the databases, repositories, clients and services,
// seeds the job registry, and runs the scheduler, the control API and
// (when enabled) the event-driven execution loop until shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/clients/exchangerate"
	"github.com/aristath/helmsman/internal/clients/tradernet"
	"github.com/aristath/helmsman/internal/clients/yahoo"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/currency"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/lockfile"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/cache"
	"github.com/aristath/helmsman/internal/modules/history"
	"github.com/aristath/helmsman/internal/modules/jobs"
	"github.com/aristath/helmsman/internal/modules/ledger"
	"github.com/aristath/helmsman/internal/modules/markethours"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/planning"
	"github.com/aristath/helmsman/internal/modules/planning/planner"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/rebalancing"
	"github.com/aristath/helmsman/internal/modules/scoring"
	"github.com/aristath/helmsman/internal/modules/sequences"
	"github.com/aristath/helmsman/internal/modules/settings"
	"github.com/aristath/helmsman/internal/modules/universe"
	"github.com/aristath/helmsman/internal/reliability"
	"github.com/aristath/helmsman/internal/scheduler"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/internal/services"
)

const (
	marketStatusWSURL = "wss://wss.tradernet.com/"
	shutdownTimeout   = 10 * time.Second
	backupRetention   = 7
)

// availableDependencies are the capability names job schedules may
// declare in depends_on. Everything here is wired below; a schedule
// naming anything else is skipped by the runner.
var availableDependencies = []string{
	"db", "broker", "cache", "portfolio", "currency", "planner", "analyzer",
}

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	manager, err := database.NewManager(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open databases")
	}

	bus := events.NewBus(log)
	locks := lockfile.NewManager(cfg.LocksDir, log)

	// Repositories, grouped by database.
	universeRepo := universe.NewRepository(manager.Universe.Conn(), log)
	scores := universe.NewScoreRepository(manager.Universe.Conn(), log)

	positions := portfolio.NewRepository(manager.Portfolio.Conn(), log)
	cashRepo := portfolio.NewCashRepository(manager.Portfolio.Conn(), log)
	snapshots := portfolio.NewSnapshotRepository(manager.Portfolio.Conn(), log)

	trades := ledger.NewTradeRepository(manager.Ledger.Conn(), log)
	cashFlows := ledger.NewCashFlowRepository(manager.Ledger.Conn(), log)

	settingsRepo := settings.NewRepository(manager.Config.Conn(), log)
	allocations := allocation.NewRepository(manager.Config.Conn(), log)
	schedules := jobs.NewScheduleRepository(manager.Config.Conn(), log)

	historyRepo := history.NewRepository(manager.History.Conn(), log)
	cacheRepo := cache.NewRepository(manager.Cache.Conn(), log)
	jobHistory := jobs.NewHistoryRepository(manager.Cache.Conn(), log)

	planningRepo := planning.NewRepository(manager.Agents.Conn(), log)
	recommendations := planning.NewRecommendationRepository(manager.Agents.Conn(), log)

	warnThreshold, _ := settingsRepo.GetFloat("pnl_warning_threshold", -0.02)
	haltThreshold, _ := settingsRepo.GetFloat("pnl_halt_threshold", -0.05)
	pnl := ledger.NewPnLTracker(manager.Ledger.Conn(), warnThreshold, haltThreshold, log)

	// The live-trading switch is process config; everything downstream
	// reads the mode from settings.
	mode := "research"
	if cfg.LiveTrading {
		mode = "live"
	}
	if err := settingsRepo.Set("trading_mode", mode); err != nil {
		log.Fatal().Err(err).Msg("Failed to set trading mode")
	}
	log.Info().Str("mode", mode).Msg("Trading mode set")

	// External clients.
	broker := tradernet.NewClient(cfg.TradernetBaseURL, cfg.TradernetPublicKey, cfg.TradernetSecretKey, log)
	yahooClient := yahoo.NewClient(log)
	rates := exchangerate.NewClient(cacheRepo, log)
	router := currency.NewRouter(broker, rates, log)
	markets := markethours.NewService(log)

	// Services.
	analyzer := scoring.NewAnalyzer(historyRepo, scores, yahooClient, log)
	syncSvc := services.NewPortfolioSyncService(broker, router, positions, cashRepo, universeRepo, bus, log)
	execSvc := services.NewTradeExecutionService(broker, router, trades, cashRepo, settingsRepo, bus, log)
	frequency := services.NewTradeFrequencyService(trades, settingsRepo, log)

	correlations := services.NewCorrelationService(historyRepo, log)
	sequenceSvc := sequences.NewService(correlations, log)
	registry := opportunities.NewPopulatedRegistry(log)
	planInputs := services.NewPlanInputService(universeRepo, scores, positions, cashRepo,
		historyRepo, allocations, trades, settingsRepo, syncSvc, registry, sequenceSvc, router, log)

	ps := settingsRepo.PlannerSettings()
	plannerSvc := planner.NewService(planningRepo, planInputs, planInputs, bus, planner.Config{
		BatchSize:      ps.BatchSize,
		BatchSizeAPI:   ps.BatchSizeAPI,
		SelfTriggerURL: fmt.Sprintf("http://localhost:%d/api/status/jobs/planner-batch", cfg.Port),
	}, log)
	rebalanceSvc := rebalancing.NewService(settingsRepo.StrategyConfig(), log)

	// Reliability.
	backups := reliability.NewBackupService(manager, filepath.Join(cfg.DataDir, "backups"), backupRetention, log)
	maintenance := reliability.NewMaintenance(locks, backups, historyRepo, snapshots,
		cacheRepo, manager, settingsRepo, bus, log)

	var r2 *reliability.R2BackupService
	r2cfg := reliability.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		Bucket:          cfg.R2Bucket,
		Retention:       backupRetention,
	}
	if r2cfg.Enabled() {
		r2, err = reliability.NewR2BackupService(context.Background(), r2cfg, backups, log)
		if err != nil {
			log.Warn().Err(err).Msg("R2 backups disabled: client setup failed")
			r2 = nil
		}
	}

	// Scheduler.
	tasks := &scheduler.Tasks{
		Broker:  broker,
		Yahoo:   yahooClient,
		Router:  router,
		Markets: markets,
		Locks:   locks,

		Universe:    universeRepo,
		Scores:      scores,
		History:     historyRepo,
		Positions:   positions,
		CashRepo:    cashRepo,
		Snapshots:   snapshots,
		Trades:      trades,
		CashFlows:   cashFlows,
		PnL:         pnl,
		Cache:       cacheRepo,
		Settings:    settingsRepo,
		PlannerRepo: planningRepo,

		Analyzer:    analyzer,
		Sync:        syncSvc,
		Execution:   execSvc,
		Inputs:      planInputs,
		Rebalance:   rebalanceSvc,
		Planner:     plannerSvc,
		Maintenance: maintenance,
		R2:          r2,

		Bus: bus,
		Log: log,
	}

	if err := schedules.Seed(jobs.DefaultSchedules()); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed job schedules")
	}

	runner := scheduler.NewRunner(schedules, jobHistory, markets, tasks, bus, availableDependencies, log)
	tasks.RegisterAll(runner)

	ctx, cancel := context.WithCancel(context.Background())

	if err := runner.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Market-status pushes keep the oracle fresh between watcher ticks.
	// A failed initial connection reconnects in the background.
	ws := tradernet.NewMarketStatusWebSocket(marketStatusWSURL, bus, markets, log)
	_ = ws.Start()

	srv := server.New(cfg.Port, runner, plannerSvc, recommendations, manager, bus, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("Control API stopped")
		}
	}()

	loop := services.NewExecutionLoop(locks, plannerSvc, recommendations, pnl, trades,
		frequency, execSvc, syncSvc, markets, universeRepo, settingsRepo, cacheRepo, bus, log)
	if eventDriven, _ := settingsRepo.GetBool("event_driven_rebalancing_enabled", true); eventDriven {
		go func() {
			if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Execution loop stopped")
			}
		}()
	} else {
		log.Info().Msg("Event-driven trading disabled, scheduled execution owns trading")
	}

	log.Info().Int("port", cfg.Port).Str("data_dir", cfg.DataDir).Msg("Helmsman started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	_ = ws.Stop()
	runner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Control API shutdown failed")
	}

	manager.Close()
	log.Info().Msg("Shutdown complete")
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(parsed).
		With().Timestamp().Logger()
}
