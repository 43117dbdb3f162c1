// Command poictl is the operator CLI: trigger a region import without the
// HTTP server, inspect and retry dead-lettered jobs, and print queue stats.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ignite/poi-importer/internal/app"
	"github.com/ignite/poi-importer/internal/config"
	"github.com/ignite/poi-importer/internal/openchargemap"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/service/importer"
)

func main() {
	if err := newRootCmd(openBackend).Execute(); err != nil {
		os.Exit(1)
	}
}

// openBackend connects to the configured broker and builds the importer.
func openBackend(ctx context.Context, configPath string) (*backend, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	log := logger.New("poictl")

	broker, err := app.OpenQueue(ctx, cfg.Queue, log)
	if err != nil {
		return nil, err
	}
	policy, err := importer.ParseEnqueuePolicy(cfg.Queue.EnqueuePolicy)
	if err != nil {
		broker.Close()
		return nil, err
	}

	fetcher := openchargemap.NewClient(openchargemap.Config{
		BaseURL:    cfg.Catalog.BaseURL,
		APIKey:     cfg.Catalog.APIKey,
		MaxResults: cfg.Catalog.MaxResults,
		UserAgent:  cfg.Catalog.UserAgent,
		Timeout:    cfg.Catalog.Timeout(),
	})
	return &backend{
		Importer: importer.NewService(fetcher, broker.Queue, importer.Config{Policy: policy, MaxAttempts: cfg.Queue.MaxAttempts}, log),
		Queue:    broker.Queue,
		Dead:     broker.DeadLetters(),
		Close:    func() { broker.Close() },
	}, nil
}
