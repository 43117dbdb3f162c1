package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/queue"
)

type fakeImporter struct {
	regions []string
	err     error
}

func (f *fakeImporter) ImportByRegion(ctx context.Context, region string) (domain.ImportOutcome, error) {
	f.regions = append(f.regions, region)
	if f.err != nil {
		return domain.ImportOutcome{}, f.err
	}
	return domain.ImportOutcome{Status: domain.ImportSuccess, Queued: 3}, nil
}

func newTestBackend(t *testing.T) (*backend, *queue.MemoryQueue, *fakeImporter) {
	t.Helper()
	q := queue.NewMemoryQueue(queue.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		logger.NewWriter(&bytes.Buffer{}, logger.ERROR))
	t.Cleanup(func() { q.Close() })
	imp := &fakeImporter{}
	return &backend{Importer: imp, Queue: q, Dead: q, Close: func() {}}, q, imp
}

func execute(t *testing.T, b *backend, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(func(ctx context.Context, path string) (*backend, error) { return b, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// killJob runs one failing delivery so the job lands in the dead list.
func killJob(t *testing.T, q *queue.MemoryQueue, payload string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), []byte(payload), queue.EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, 1, func(ctx context.Context, job *queue.Job) error { return errors.New("store unavailable") })
	}()
	require.Eventually(t, func() bool {
		s, _ := q.Stats(context.Background())
		return s.Dead >= 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	return id
}

func TestImportCommand(t *testing.T) {
	b, _, imp := newTestBackend(t)

	out, err := execute(t, b, "import", " de ")

	require.NoError(t, err)
	assert.Equal(t, []string{"DE"}, imp.regions)
	assert.Contains(t, out, "DE: status=success queued=3 failed=0")
}

func TestImportCommand_InvalidRegion(t *testing.T) {
	b, _, imp := newTestBackend(t)

	_, err := execute(t, b, "import", "DEU")

	assert.Error(t, err)
	assert.Empty(t, imp.regions)
}

func TestImportCommand_FetchError(t *testing.T) {
	b, _, imp := newTestBackend(t)
	imp.err = &domain.FetchError{Region: "DE", Err: errors.New("status 503")}

	_, err := execute(t, b, "import", "DE")

	var fe *domain.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestDeadListAndRetry(t *testing.T) {
	b, q, _ := newTestBackend(t)
	id := killJob(t, q, `{"ID":12345}`)

	out, err := execute(t, b, "dead", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "12345")
	assert.Contains(t, out, "store unavailable")

	out, err = execute(t, b, "dead", "retry", id)
	require.NoError(t, err)
	assert.Contains(t, out, "requeued "+id)

	s, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Dead)
	assert.Equal(t, int64(1), s.Queued)
}

func TestDeadRetry_UnknownJob(t *testing.T) {
	b, _, _ := newTestBackend(t)

	_, err := execute(t, b, "dead", "retry", "nope")

	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestDeadList_NoDeadLetterView(t *testing.T) {
	b, _, _ := newTestBackend(t)
	b.Dead = nil

	_, err := execute(t, b, "dead", "list")

	assert.ErrorIs(t, err, errNoDeadLetters)
}

func TestStatsCommand(t *testing.T) {
	b, q, _ := newTestBackend(t)
	_, err := q.Enqueue(context.Background(), []byte(`{"ID":1}`), queue.EnqueueOptions{})
	require.NoError(t, err)

	out, err := execute(t, b, "stats")

	require.NoError(t, err)
	assert.Contains(t, out, `"queued": 1`)
	assert.Contains(t, out, `"dead": 0`)
}

func TestExternalID(t *testing.T) {
	assert.Equal(t, "42", externalID([]byte(`{"ID":42}`)))
	assert.Equal(t, "-", externalID([]byte(`{}`)))
	assert.Equal(t, "-", externalID([]byte(`not json`)))
}
