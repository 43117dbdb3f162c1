package importer

import (
	"context"
	"encoding/json"

	"github.com/ignite/poi-importer/internal/queue"
)

// Fetcher reads the undecoded records for one region.
type Fetcher interface {
	Fetch(ctx context.Context, region string) ([]json.RawMessage, error)
}

// Enqueuer submits one job. queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte, opts queue.EnqueueOptions) (string, error)
}
