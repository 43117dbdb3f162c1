package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/poi-importer/internal/app"
	"github.com/ignite/poi-importer/internal/config"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/worker"
)

func main() {
	log := logger.New("Worker")

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level)

	if cfg.Queue.Driver == "memory" {
		log.Error("the memory queue only works inside cmd/server; set queue.driver to redis or rabbitmq")
		os.Exit(1)
	}

	// Create cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := app.OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		log.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	broker, err := app.OpenQueue(ctx, cfg.Queue, log)
	if err != nil {
		log.Error("failed to initialize queue", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	// Start the pool. With redis, the recovery sweep reclaims jobs from
	// crashed workers (scans every recovery_interval_seconds).
	recoverer := broker.Recoverer()
	runner := worker.NewRunner(broker.Queue, worker.NewPoiImportWorker(store, nil), recoverer, cfg.Queue.Concurrency, nil)
	if err := runner.Start(ctx); err != nil {
		log.Error("failed to start workers", "error", err)
		os.Exit(1)
	}
	log.Info("worker running",
		"queue", cfg.Queue.Driver,
		"storage", cfg.Storage.Driver,
		"concurrency", cfg.Queue.Concurrency,
		"recovery", recoverer != nil)

	// Heartbeat with pool stats
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := runner.Stats()
				log.Info("heartbeat",
					"created", s["created"],
					"updated", s["updated"],
					"no_change", s["no_change"],
					"failed", s["failed"],
					"queued", s["queue_queued"],
					"dead", s["queue_dead"])
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	runner.Stop()
	cancel()

	log.Info("worker stopped")
}
