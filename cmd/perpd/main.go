// perpd is the autonomous perp trading agent daemon: orchestrator, autonomy
// scan loop, leased scheduler, chat entry point, and the read API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantfold/perpd/pkg/agent"
	"github.com/quantfold/perpd/pkg/api"
	"github.com/quantfold/perpd/pkg/autonomy"
	"github.com/quantfold/perpd/pkg/chat"
	"github.com/quantfold/perpd/pkg/config"
	"github.com/quantfold/perpd/pkg/database"
	"github.com/quantfold/perpd/pkg/journal"
	"github.com/quantfold/perpd/pkg/limiter"
	"github.com/quantfold/perpd/pkg/llm"
	"github.com/quantfold/perpd/pkg/policy"
	"github.com/quantfold/perpd/pkg/scheduler"
	"github.com/quantfold/perpd/pkg/tools"
	"github.com/quantfold/perpd/pkg/trade"
	"github.com/quantfold/perpd/pkg/venue"
)

func main() {
	if err := run(); err != nil {
		slog.Error("perpd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := flag.String("config-dir", "config", "configuration directory")
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		// A missing .env is the normal production case.
		slog.Debug("No .env file loaded", "error", err)
	}
	setupLogging(*logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("database configuration failed: %w", err)
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer func() { _ = db.Close() }()

	llmClient, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm client failed: %w", err)
	}

	venueClient, err := buildVenueClient(cfg)
	if err != nil {
		return err
	}

	journalSvc := journal.NewService(db)
	policyStore := policy.NewStore(db)
	spendLimiter := limiter.New(db, cfg.Trading.DailyBudgetUsd, cfg.Trading.ReservationTTL)
	executor := trade.NewExecutor(venueClient, spendLimiter, cfg.Trading.BaseSlippageBps, cfg.Trading.MaxOrderRetries)

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)
	toolCtx := &tools.Context{
		Config:   cfg,
		Venue:    venueClient,
		Executor: executor,
		Limiter:  spendLimiter,
		Journal:  journalSvc,
	}

	orchestrator := agent.NewOrchestrator(cfg, llmClient, registry, toolCtx, journalSvc)

	sched := scheduler.New(db, cfg.Scheduler.PollInterval, cfg.Scheduler.LeaseTTL)

	taskSvc := scheduler.NewTaskService(db, sched, func(ctx context.Context, task *scheduler.Task) error {
		result := orchestrator.Run(ctx, task.Instruction, agent.RunOptions{
			SessionID: "task:" + task.ID,
		})
		slog.Info("Scheduled task ran", "task_id", task.ID, "success", result.Success)
		return nil
	})
	if err := taskSvc.Restore(ctx); err != nil {
		slog.Warn("Failed to restore scheduled tasks", "error", err)
	}

	chatSvc := chat.NewService(orchestrator, taskSvc)

	emit := func(channel, message string) {
		slog.Info("Autonomy output", "channel", channel, "message", message)
	}
	discovery := autonomy.NewFundingDiscovery(venueClient, cfg.Venue.Symbols, cfg.Trading.PerTradeCapUsd)
	autonomySvc := autonomy.NewService(cfg, venueClient, executor, spendLimiter, policyStore, journalSvc, discovery, emit)

	if err := registerSystemJobs(ctx, cfg, sched, autonomySvc); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	server := api.NewServer(cfg.System.HTTPPort, db, journalSvc, policyStore, chatSvc)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	slog.Info("perpd started",
		"venue_mode", cfg.Venue.Mode,
		"http_port", cfg.System.HTTPPort,
		"autonomy_enabled", autonomyEnabled(cfg))

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// buildVenueClient selects the venue implementation. The live exchange
// client is an external integration; without one, live mode refuses to
// start rather than silently paper-trading.
func buildVenueClient(cfg *config.Config) (venue.Client, error) {
	if cfg.Venue.Live() {
		return nil, fmt.Errorf("venue mode %q requires an external exchange client; run with venue.mode=paper", cfg.Venue.Mode)
	}
	return venue.NewPaperClient(nil), nil
}

func registerSystemJobs(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, svc *autonomy.Service) error {
	if autonomyEnabled(cfg) {
		if err := sched.Register(ctx, &scheduler.Job{
			Name:     "autonomy_scan",
			Schedule: scheduler.Every(cfg.Autonomy.ScanInterval),
			// Each tick respaces the next scan from the latest stats: book
			// fullness, remaining budget, and the volatility pulse.
			NextInterval: svc.NextScanInterval,
			Handler: func(ctx context.Context) error {
				stats, err := svc.Scan(ctx)
				if err != nil {
					return err
				}
				slog.Info("Autonomy scan complete",
					"candidates", stats.Candidates, "executed", stats.Executed,
					"blocked", stats.Blocked, "failed", stats.Failed)
				return nil
			},
		}); err != nil {
			return err
		}
		if cfg.Autonomy.DailyReportAt != "" {
			if err := sched.Register(ctx, &scheduler.Job{
				Name:     "daily_report",
				Schedule: scheduler.Daily(cfg.Autonomy.DailyReportAt),
				Handler: func(ctx context.Context) error {
					_, err := svc.DailyReport(ctx)
					return err
				},
			}); err != nil {
				return err
			}
		}
	}

	return sched.Register(ctx, &scheduler.Job{
		Name:     "heartbeat",
		Schedule: scheduler.Every(cfg.Scheduler.Heartbeat),
		Handler: func(ctx context.Context) error {
			slog.Debug("Heartbeat")
			return nil
		},
	})
}

func autonomyEnabled(cfg *config.Config) bool {
	return cfg.Autonomy.Enabled == nil || *cfg.Autonomy.Enabled
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}
