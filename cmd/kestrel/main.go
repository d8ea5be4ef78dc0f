// Kestrel - Reproducible audit sampling over general ledger data.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/sampling"
	"github.com/opensource-finance/kestrel/internal/selector"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/opensource-finance/kestrel/internal/workpaper"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $KESTREL_CONFIG)")
	flag.Parse()

	// Bootstrap logger until the config says otherwise
	slog.SetDefault(newLogger(domain.LoggingConfig{Level: "info", Format: "json"}))

	cfg, err := domain.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	// Initialize high-risk rules (optional)
	var matcher selector.HighRiskMatcher
	if len(cfg.Sampling.HighRiskRules) > 0 {
		ruleEngine, err := rules.NewEngine()
		if err != nil {
			slog.Error("failed to initialize rule engine", "error", err)
			os.Exit(1)
		}
		defer ruleEngine.Close()
		if err := ruleEngine.LoadRules(cfg.Sampling.HighRiskRules); err != nil {
			slog.Error("failed to load high-risk rules", "error", err)
			os.Exit(1)
		}
		matcher = ruleEngine
		slog.Info("high-risk rules loaded", "rules_count", len(cfg.Sampling.HighRiskRules))
	}

	// Initialize Sampling Engine
	engine, err := sampling.NewEngineFromConfig(cfg.Sampling, matcher)
	if err != nil {
		slog.Error("failed to initialize sampling engine", "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	svc, err := workpaper.NewService(workpaper.Options{
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Engine:     engine,
		Metrics:    m,
		Sampling:   cfg.Sampling,
	})
	if err != nil {
		slog.Error("failed to initialize workpaper service", "error", err)
		os.Exit(1)
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{
			TenantIDs:   cfg.Worker.TenantIDs,
			WorkerCount: cfg.Worker.WorkerCount,
		}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Dependencies{
		Service:     svc,
		Repository:  repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
	}, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
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

	slog.Info("kestrel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  audit sampling engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    PUT  /clients/{clientId}/account-mappings           - Replace standard-account mappings")
	fmt.Println("    POST /ledgers/{clientId}/{fiscalYear}/transactions  - Import ledger lines")
	fmt.Println("    POST /ledgers/{clientId}/{fiscalYear}/population    - Preview a population")
	fmt.Println("    POST /ledgers/{clientId}/{fiscalYear}/plans         - Generate a sampling plan")
	fmt.Println("    POST /ledgers/{clientId}/{fiscalYear}/plans/async   - Queue a sampling plan")
	fmt.Println("    GET  /ledgers/{clientId}/{fiscalYear}/plans         - List plans")
	fmt.Println("    GET  /plans/{id}                                    - Get a plan with its items")
	fmt.Println("    GET  /health                                        - Health check")
	fmt.Println()
}
