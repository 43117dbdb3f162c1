package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/poi-importer/internal/api"
	"github.com/ignite/poi-importer/internal/app"
	"github.com/ignite/poi-importer/internal/config"
	"github.com/ignite/poi-importer/internal/openchargemap"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/service/importer"
	"github.com/ignite/poi-importer/internal/service/poi"
	"github.com/ignite/poi-importer/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func fatal(log *logger.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	log := logger.New("Server")

	// Load configuration
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		fatal(log, "failed to load config", err)
	}
	logger.Init(cfg.Log.Level)
	if cfg.Catalog.APIKey == "" {
		log.Warn("OCM_API_KEY is not set; catalog requests will be rejected")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		fatal(log, "pre-flight check failed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, closeStore, err := app.OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		fatal(log, "failed to initialize storage", err)
	}
	defer closeStore()

	// Broker
	broker, err := app.OpenQueue(ctx, cfg.Queue, log)
	if err != nil {
		fatal(log, "failed to initialize queue", err)
	}
	defer broker.Close()

	// Importer
	policy, err := importer.ParseEnqueuePolicy(cfg.Queue.EnqueuePolicy)
	if err != nil {
		fatal(log, "invalid enqueue policy", err)
	}
	fetcher := openchargemap.NewClient(openchargemap.Config{
		BaseURL:    cfg.Catalog.BaseURL,
		APIKey:     cfg.Catalog.APIKey,
		MaxResults: cfg.Catalog.MaxResults,
		UserAgent:  cfg.Catalog.UserAgent,
		Timeout:    cfg.Catalog.Timeout(),
	})
	importSvc := importer.NewService(fetcher, broker.Queue, importer.Config{
		Policy:      policy,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}, nil)

	// Optional in-process worker pool
	var runner *worker.Runner
	if cfg.Server.EmbeddedWorkers || cfg.Queue.Driver == "memory" {
		runner = worker.NewRunner(broker.Queue, worker.NewPoiImportWorker(store, nil), broker.Recoverer(), cfg.Queue.Concurrency, nil)
		if err := runner.Start(ctx); err != nil {
			fatal(log, "failed to start workers", err)
		}
		log.Info("embedded worker pool started", "concurrency", cfg.Queue.Concurrency)
	}

	// Health checks
	health := api.NewHealthChecker()
	health.Register("store", true, store.Ping)
	health.Register("queue", true, broker.Ping)
	health.Register("dead_letters", false, api.DeadLetterCheck(broker.Queue))
	if runner != nil {
		health.Register("workers", false, api.WorkerPoolCheck(runner))
	}

	handlers := api.NewHandlers(importSvc, poi.NewService(store), nil)
	server := api.NewServer(cfg.Server, handlers, health)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		log.Info("starting server", "addr", addr, "storage", cfg.Storage.Driver, "queue", cfg.Queue.Driver)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			fatal(log, "server error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if runner != nil {
		runner.Stop()
	}
	cancel()

	log.Info("server stopped")
}
