// Carsim - Car-sharing buy-back price simulation.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/carsim/internal/api"
	"github.com/opensource-finance/carsim/internal/bus"
	"github.com/opensource-finance/carsim/internal/cache"
	"github.com/opensource-finance/carsim/internal/domain"
	"github.com/opensource-finance/carsim/internal/estimator"
	"github.com/opensource-finance/carsim/internal/i18n"
	"github.com/opensource-finance/carsim/internal/repository"
	"github.com/opensource-finance/carsim/internal/rules"
	"github.com/opensource-finance/carsim/internal/seed"
	"github.com/opensource-finance/carsim/internal/simulation"
	"github.com/opensource-finance/carsim/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("CARSIM_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting carsim",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := loadConfig()

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"default_locale", cfg.DefaultLocale,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

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

	// Rule engine first: the seed importer compiles rules before storing them.
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	if cfg.SeedFile != "" {
		summary, err := seed.NewImporter(repo, engine, logger).ApplyFile(ctx, cfg.SeedFile)
		if err != nil {
			slog.Error("failed to import reference data", "file", cfg.SeedFile, "error", err)
			os.Exit(1)
		}
		slog.Info("reference data imported", "file", cfg.SeedFile, "rows", summary.Total())
	}

	// Load custom adjustment rules from database (configure via API)
	count, err := api.ReloadRules(ctx, repo, engine)
	if err != nil {
		slog.Error("failed to load adjustment rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "stored_rules", count, "rules_count", engine.RulesCount())

	// Cached reference reads, dropped on every reference.changed event
	ref := cache.NewCachedReferenceData(repo, cacheImpl, cfg.Cache.ReferenceTTL, logger)
	refSub, err := ref.Watch(ctx, busImpl)
	if err != nil {
		slog.Error("failed to watch reference changes", "error", err)
		os.Exit(1)
	}
	defer refSub.Unsubscribe()

	values := estimator.NewHeuristicValueEstimator(ref)
	specs := estimator.NewSpecEstimator(cfg.Estimators, ref, cacheImpl, cfg.Cache.SpecTTL, logger)
	slog.Info("estimators initialized", "spec_url", cfg.Estimators.SpecURL)

	catalog, err := i18n.Load(cfg.DefaultLocale)
	if err != nil {
		slog.Error("failed to load message catalogs", "error", err)
		os.Exit(1)
	}

	simEngine := simulation.NewEngine(ref, values, specs, engine, catalog, simulation.WithLogger(logger))
	simulations := simulation.NewService(simEngine, repo, busImpl, logger)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("CARSIM_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, simulations, logger)

		workerCfg := worker.Config{
			WorkerCount: 5,
			Timeout:     cfg.Estimators.SpecTimeout + 10*time.Second,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "worker_count", workerCfg.WorkerCount)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, simulations, engine, catalog, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("carsim is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("carsim shutdown complete")
}

// loadConfig starts from the tier defaults and applies CARSIM_* overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()

	if os.Getenv("CARSIM_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if v := os.Getenv("CARSIM_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("CARSIM_SPEC_ESTIMATOR_URL"); v != "" {
		cfg.Estimators.SpecURL = v
	}
	if v := os.Getenv("CARSIM_SEED_FILE"); v != "" {
		cfg.SeedFile = v
	}
	if v := os.Getenv("CARSIM_DEFAULT_LOCALE"); v != "" {
		cfg.DefaultLocale = v
	}
	if v := os.Getenv("CARSIM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring invalid CARSIM_PORT", "value", v)
		} else {
			cfg.Server.Port = port
		}
	}
	return cfg
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 CARSIM                    ║")
	fmt.Println("  ║    Car-sharing Buy-back Simulation        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Locale:   %s\n", cfg.DefaultLocale)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /simulations              - Run a simulation")
	fmt.Println("    POST /simulations/async        - Queue a simulation")
	fmt.Println("    GET  /simulations/{id}         - Get simulation by ID")
	fmt.Println("    GET  /hubs                     - List hubs")
	fmt.Println("    GET  /simulation-regions       - List simulation regions")
	fmt.Println("    GET  /euro-norms               - Search euro norms")
	fmt.Println("    GET  /adjustment-rules         - List adjustment rules")
	fmt.Println("    POST /adjustment-rules         - Create an adjustment rule")
	fmt.Println("    POST /adjustment-rules/reload  - Hot-reload adjustment rules")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
