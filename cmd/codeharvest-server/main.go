// Package main provides the codeharvest server: HTTP API, worker pool and
// retry scheduler in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ljutzkanovltd/codeharvest/internal/config"
	"github.com/ljutzkanovltd/codeharvest/internal/db"
	"github.com/ljutzkanovltd/codeharvest/internal/extract"
	"github.com/ljutzkanovltd/codeharvest/internal/fetcher"
	"github.com/ljutzkanovltd/codeharvest/internal/llm"
	"github.com/ljutzkanovltd/codeharvest/internal/metrics"
	"github.com/ljutzkanovltd/codeharvest/internal/pipeline"
	"github.com/ljutzkanovltd/codeharvest/internal/progress"
	"github.com/ljutzkanovltd/codeharvest/internal/queue"
	"github.com/ljutzkanovltd/codeharvest/internal/retry"
	"github.com/ljutzkanovltd/codeharvest/internal/search"
	"github.com/ljutzkanovltd/codeharvest/internal/server"
	"github.com/ljutzkanovltd/codeharvest/internal/worker"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	defer func() {
		if err := closeLog(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()

	slog.Info("starting codeharvest-server", "addr", cfg.ListenAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if *wipeDB || os.Getenv("CODEHARVEST_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := store.WipeData(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		slog.Warn("wiped all database data")
	}

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	err = store.InitSchema(ctx)
	cancel()
	if err != nil {
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	provider, err := llm.NewService(cfg)
	if err != nil {
		slog.Error("failed to create LLM service", "error", err)
		os.Exit(1)
	}

	policy := retry.Policy{
		BaseDelay:  cfg.RetryBaseDelay,
		Multiplier: cfg.RetryMultiplier,
		MaxDelay:   cfg.RetryMaxDelay,
	}
	manager := queue.NewManager(store, policy, queue.Options{
		MaxRetries:    cfg.MaxRetries,
		MinPriority:   cfg.MinPriority,
		MaxPriority:   cfg.MaxPriority,
		RecrawlWindow: cfg.RecrawlWindow,
	})

	collector := metrics.NewCollector()
	tracker := progress.NewTracker(cfg.OperationRetention)

	pipe := pipeline.New(store, provider, pipeline.Config{
		Extract: extract.Config{
			MinLength:     cfg.BlockMinLength,
			MaxLength:     cfg.BlockMaxLength,
			MaxProseRatio: cfg.MaxProseRatio,
			MinCodeTokens: cfg.MinCodeTokens,
			ContextWindow: extract.DefaultConfig().ContextWindow,
		},
		SummaryRetries:    cfg.SummaryRetries,
		SummaryParallel:   cfg.SummaryParallel,
		PhaseTimeout:      cfg.PhaseTimeout,
		SummaryRetryDelay: time.Second,
	}, collector, logger, manager.IsCancelled)

	pool := worker.NewPool(manager, fetcher.NewHTTPFetcher(cfg.FetchTimeout), pipe,
		tracker, collector, logger, worker.Options{
			Workers: cfg.WorkerCount,
		})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(rootCtx)
	go tracker.RunGC(rootCtx, time.Minute)

	searcher := search.New(store, provider, logger)

	srv := server.New(manager, tracker, pool, searcher, collector, logger)
	if err := srv.ListenAndServe(rootCtx, cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		pool.Stop()
		os.Exit(1)
	}

	slog.Info("shutting down")
	pool.Stop()
	slog.Info("server stopped")
}
