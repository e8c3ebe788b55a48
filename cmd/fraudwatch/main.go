// FraudWatch - Transaction risk scoring with a human-reviewed tuning loop.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudwatch/internal/api"
	"github.com/opensource-finance/fraudwatch/internal/bus"
	"github.com/opensource-finance/fraudwatch/internal/cache"
	"github.com/opensource-finance/fraudwatch/internal/config"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/opensource-finance/fraudwatch/internal/metrics"
	"github.com/opensource-finance/fraudwatch/internal/pipeline"
	"github.com/opensource-finance/fraudwatch/internal/repository"
	"github.com/opensource-finance/fraudwatch/internal/rules"
	"github.com/opensource-finance/fraudwatch/internal/suggestions"
	"github.com/opensource-finance/fraudwatch/internal/tadp"
	"github.com/opensource-finance/fraudwatch/internal/telemetry"
	"github.com/opensource-finance/fraudwatch/internal/tuning"
	"github.com/opensource-finance/fraudwatch/internal/velocity"
	"github.com/opensource-finance/fraudwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	seed := flag.Bool("seed-rules", false, "Write the default rule document when the rule source is empty")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting fraudwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rules_source", cfg.Rules.Source,
		"suggestions", cfg.Suggestions.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule document and store
	var source domain.RuleSource = repo
	if cfg.Rules.Source == "file" {
		source = rules.NewFileSource(cfg.Rules.Path)
	}
	if *seed {
		if err := seedRules(ctx, source); err != nil {
			slog.Error("failed to seed rule document", "error", err)
			os.Exit(1)
		}
	}

	store := rules.NewStore(source, logger)
	if err := store.Reload(ctx); err != nil {
		slog.Warn("rule document not loaded, scoring with every rule disabled", "error", err)
	}

	var ruleWatcher *rules.Watcher
	if cfg.Rules.Source == "file" && cfg.Rules.Watch {
		ruleWatcher, err = rules.NewWatcher(cfg.Rules.Path, cfg.Rules.WatchDebounce, logger)
		if err != nil {
			slog.Error("failed to create rule watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := ruleWatcher.Watch(ctx, store.Reload); err != nil {
				slog.Error("rule watcher stopped", "error", err)
			}
		}()
		slog.Info("rule watcher started", "path", cfg.Rules.Path)
	}

	// Scoring pipeline
	velocitySvc := velocity.NewService(repo, cacheImpl, cfg.Cache.EntryTTL)
	processor := tadp.NewProcessor(cfg.Blend)
	scorer := pipeline.NewScorer(repo, velocitySvc, rules.NewEngine(store), processor, busImpl, logger)
	slog.Info("scoring pipeline initialized",
		"blend_model", cfg.Blend.Model,
		"blend_rule", cfg.Blend.Rule,
	)

	// Tuning loop
	nodeID := uuid.New().String()

	queue, err := suggestions.New(cfg.Suggestions, repo, cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize suggestion queue", "error", err)
		os.Exit(1)
	}

	constraints, err := tuning.NewConstraints(tuning.DefaultConstraints)
	if err != nil {
		slog.Error("failed to compile parameter constraints", "error", err)
		os.Exit(1)
	}

	var advisor *tuning.Advisor
	if cfg.Advisor.BaseURL != "" {
		client, err := tuning.NewChatClient(cfg.Advisor)
		if err != nil {
			slog.Error("failed to create reasoning client", "error", err)
			os.Exit(1)
		}
		advisor = tuning.NewAdvisor(repo, store, client, queue, cfg.Advisor, logger)
		slog.Info("advisor enabled", "model", cfg.Advisor.Model)
	} else {
		slog.Info("advisor disabled (FW_LLM_BASE_URL not set)")
	}

	applier := tuning.NewApplier(source, store, queue, constraints, logger).WithEventBus(busImpl, nodeID)
	admin := tuning.NewAdmin(advisor, applier, queue)

	var scheduler *tuning.Scheduler
	if advisor != nil {
		scheduler = tuning.NewScheduler(admin, cfg.Advisor.Schedule)
		if err := scheduler.Start(ctx); err != nil {
			slog.Error("failed to start advisor scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Async worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, scorer, store)
		workerCfg := worker.Config{
			NodeID:     nodeID,
			QueueGroup: cfg.Worker.QueueGroup,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
		slog.Info("async worker started", "node_id", nodeID, "queue_group", cfg.Worker.QueueGroup)
	}

	if cfg.Metrics.Enabled {
		go metrics.StartDBStatsCollector(ctx, repo.DB(), 15*time.Second)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:    repo,
		Cache:   cacheImpl,
		Scorer:  scorer,
		Store:   store,
		Admin:   admin,
		Version: Version,
		Metrics: cfg.Metrics,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"node_id", nodeID,
		"config_version", store.Current().Version,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	if ruleWatcher != nil {
		if err := ruleWatcher.Stop(); err != nil {
			slog.Error("failed to stop rule watcher", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("fraudwatch shutdown complete")
}

// seedRules writes the default document when the source has none.
func seedRules(ctx context.Context, source domain.RuleSource) error {
	_, err := source.LoadRules(ctx)
	if err == nil {
		slog.Info("rule document already present, not seeding")
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := source.SaveRules(ctx, rules.DefaultDocument()); err != nil {
		return err
	}
	slog.Info("default rule document written")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FraudWatch - transaction risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                    - Score a transaction")
	fmt.Println("    GET  /transactions/{id}        - Get transaction by ID")
	fmt.Println("    GET  /decisions[/{id}]         - Recent or single decisions")
	fmt.Println("    GET  /rules                    - Active rule document")
	fmt.Println("    POST /rules/reload             - Hot-reload the rule document")
	fmt.Println("    POST /advisor/run              - Propose rule changes")
	fmt.Println("    GET  /suggestions              - Review queue")
	fmt.Println("    POST /suggestions/{id}/approve - Approve a suggestion")
	fmt.Println("    POST /suggestions/{id}/reject  - Reject a suggestion")
	fmt.Println("    POST /apply_rules              - Apply approved suggestions")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
