package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ignite/poi-importer/internal/domain"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/queue"
)

// memStore mimics the repositories: validate, then create / modify / leave alone.
type memStore struct {
	mu    sync.Mutex
	byExt map[int64]domain.Poi
	err   error
	calls int
}

func newMemStore() *memStore { return &memStore{byExt: make(map[int64]domain.Poi)} }

func (s *memStore) Upsert(ctx context.Context, p *domain.Poi) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.UpsertResult{}, s.err
	}
	if err := domain.ValidatePoi(p); err != nil {
		return domain.UpsertResult{}, err
	}

	existing, ok := s.byExt[p.ExternalID]
	if !ok {
		p.ID = "generated-id"
		s.byExt[p.ExternalID] = *p
		return domain.UpsertResult{Created: true}, nil
	}
	p.ID = existing.ID
	if reflect.DeepEqual(existing, *p) {
		return domain.UpsertResult{}, nil
	}
	s.byExt[p.ExternalID] = *p
	return domain.UpsertResult{Modified: true}, nil
}

func quietLog() *logger.Logger { return logger.NewWriter(&bytes.Buffer{}, logger.ERROR) }

func decodeRaw(t *testing.T, s string) domain.RawRecord {
	t.Helper()
	var raw domain.RawRecord
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return raw
}

const happyPath = `{
	"ID": 12345,
	"StatusType": {"Title": "Operational"},
	"AddressInfo": {"Title": "Test Station", "Latitude": 50.0, "Longitude": 10.0},
	"Connections": [{"ConnectionType": {"Title": "Type 2"}, "PowerKW": 22, "Quantity": 2}]
}`

func TestProcess_HappyPath(t *testing.T) {
	store := newMemStore()
	w := NewPoiImportWorker(store, quietLog())

	out, err := w.Process(context.Background(), decodeRaw(t, happyPath))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Status != domain.ProcessCreated || out.ExternalID != 12345 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	p := store.byExt[12345]
	if p.Status == nil || *p.Status != "Operational" {
		t.Errorf("status = %v", p.Status)
	}
	if p.Address.Title == nil || *p.Address.Title != "Test Station" {
		t.Errorf("address.title = %v", p.Address.Title)
	}
	if len(p.Connections) != 1 {
		t.Fatalf("expected one connection, got %d", len(p.Connections))
	}
	c := p.Connections[0]
	if *c.ConnectionType != "Type 2" || *c.PowerKW != 22 || *c.Quantity != 2 || c.CurrentType != nil {
		t.Errorf("unexpected connection %+v", c)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	store := newMemStore()
	w := NewPoiImportWorker(store, quietLog())
	raw := decodeRaw(t, happyPath)

	first, err := w.Process(context.Background(), raw)
	if err != nil || first.Status != domain.ProcessCreated {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := w.Process(context.Background(), raw)
	if err != nil || second.Status != domain.ProcessNoChange {
		t.Fatalf("second = %+v, %v", second, err)
	}

	changed := decodeRaw(t, `{"ID": 12345, "StatusType": {"Title": "Temporarily Unavailable"}}`)
	third, err := w.Process(context.Background(), changed)
	if err != nil || third.Status != domain.ProcessUpdated {
		t.Fatalf("third = %+v, %v", third, err)
	}

	stats := w.Stats()
	if stats["created"] != 1 || stats["no_change"] != 1 || stats["updated"] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestProcess_MissingFieldTolerance(t *testing.T) {
	store := newMemStore()
	w := NewPoiImportWorker(store, quietLog())

	out, err := w.Process(context.Background(), decodeRaw(t, `{"ID": 77, "AddressInfo": {"Town": "Hamburg"}}`))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Status != domain.ProcessCreated {
		t.Fatalf("status = %s", out.Status)
	}

	p := store.byExt[77]
	if p.Status != nil || p.DateLastStatusUpdate != nil || p.Address.Title != nil || p.Address.Country != nil {
		t.Errorf("absent fields should be nil: %+v", p)
	}
	if p.Connections == nil || len(p.Connections) != 0 {
		t.Errorf("connections should be empty, got %#v", p.Connections)
	}
}

func TestProcess_StoreErrorPropagates(t *testing.T) {
	store := newMemStore()
	store.err = &domain.StoreError{Op: "upsert", Err: errors.New("connection refused")}
	w := NewPoiImportWorker(store, quietLog())

	_, err := w.Process(context.Background(), decodeRaw(t, happyPath))
	var se *domain.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if w.Stats()["failed"] != 1 {
		t.Error("failure not counted")
	}
}

func TestProcess_MissingExternalIDFailsValidation(t *testing.T) {
	w := NewPoiImportWorker(newMemStore(), quietLog())

	_, err := w.Process(context.Background(), decodeRaw(t, `{"AddressInfo": {"Title": "Nameless"}}`))
	if !domain.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandle_DecodesPayload(t *testing.T) {
	store := newMemStore()
	w := NewPoiImportWorker(store, quietLog())

	err := w.Handle(context.Background(), &queue.Job{ID: "j1", Attempt: 1, Payload: json.RawMessage(happyPath)})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if _, ok := store.byExt[12345]; !ok {
		t.Error("record not stored")
	}

	if err := w.Handle(context.Background(), &queue.Job{ID: "j2", Payload: json.RawMessage(`[not json`)}); err == nil {
		t.Error("expected error for bad payload")
	}
}

func TestProcess_OutOfRangeCoordinatesStored(t *testing.T) {
	store := newMemStore()
	w := NewPoiImportWorker(store, quietLog())

	out, err := w.Process(context.Background(), decodeRaw(t, `{"ID": 5, "AddressInfo": {"Latitude": 91.2, "Longitude": -181}}`))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Status != domain.ProcessCreated {
		t.Fatalf("status = %s", out.Status)
	}
	if lat := store.byExt[5].Address.Latitude; lat == nil || *lat != 91.2 {
		t.Errorf("latitude = %v, want 91.2 as reported", lat)
	}
}

func TestHandle_MalformedRecordFailsOnlyItsJob(t *testing.T) {
	store := newMemStore()
	w := NewPoiImportWorker(store, quietLog())
	q := queue.NewMemoryQueue(queue.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, quietLog())

	ctx := context.Background()
	bad := `{"ID": 2, "Connections": [{"Quantity": 2.5}]}`
	for _, payload := range []string{`{"ID": 1}`, bad, `{"ID": 3}`} {
		if _, err := q.Enqueue(ctx, []byte(payload), queue.EnqueueOptions{MaxAttempts: 3, DiscardOnSuccess: true}); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRunner(q, w, nil, 2, quietLog())
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := r.Stats(); s["created"] == 2 && s["queue_dead"] == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.Stop()

	if _, ok := store.byExt[1]; !ok {
		t.Error("record 1 not stored")
	}
	if _, ok := store.byExt[3]; !ok {
		t.Error("record 3 not stored")
	}
	dead, err := q.DeadJobs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || string(dead[0].Payload) != bad {
		t.Fatalf("expected the malformed record alone in dead-letter, got %+v", dead)
	}
	if dead[0].Attempt != 3 {
		t.Errorf("attempts = %d, want 3", dead[0].Attempt)
	}
}

// slowStore blocks every upsert until released and fails if its context
// is cancelled first.
type slowStore struct {
	*memStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStore) Upsert(ctx context.Context, p *domain.Poi) (domain.UpsertResult, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return domain.UpsertResult{}, &domain.StoreError{Op: "upsert", Err: ctx.Err()}
	}
	return s.memStore.Upsert(ctx, p)
}

func TestRunner_StopLetsInFlightJobFinish(t *testing.T) {
	store := &slowStore{memStore: newMemStore(), started: make(chan struct{}), release: make(chan struct{})}
	w := NewPoiImportWorker(store, quietLog())
	q := queue.NewMemoryQueue(queue.RetryPolicy{MaxAttempts: 1}, quietLog())

	ctx := context.Background()
	if _, err := q.Enqueue(ctx, []byte(happyPath), queue.EnqueueOptions{MaxAttempts: 1, DiscardOnSuccess: true}); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(q, w, nil, 1, quietLog())
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-store.started

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	for r.Running() {
		time.Sleep(time.Millisecond)
	}
	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight job finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(store.release)
	<-stopped

	s := r.Stats()
	if s["created"] != 1 || s["failed"] != 0 {
		t.Errorf("created = %d failed = %d, want 1 and 0", s["created"], s["failed"])
	}
	if s["queue_dead"] != 0 {
		t.Errorf("graceful stop dead-lettered %d jobs", s["queue_dead"])
	}
	if _, ok := store.byExt[12345]; !ok {
		t.Error("record not stored")
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	store := newMemStore()
	w := NewPoiImportWorker(store, quietLog())
	q := queue.NewMemoryQueue(queue.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, quietLog())

	ctx := context.Background()
	for _, payload := range []string{happyPath, `{"ID": 2}`, `{"ID": 3}`, `{}`} {
		if _, err := q.Enqueue(ctx, []byte(payload), queue.EnqueueOptions{MaxAttempts: 3, DiscardOnSuccess: true}); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRunner(q, w, nil, 2, quietLog())
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := r.Stats(); s["created"] == 3 && s["queue_dead"] == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.Stop()

	s := r.Stats()
	if s["created"] != 3 {
		t.Errorf("created = %d, want 3", s["created"])
	}
	// The record without an id fails validation on every attempt.
	if s["queue_dead"] != 1 || s["failed"] != 3 {
		t.Errorf("dead = %d failed = %d, want 1 and 3", s["queue_dead"], s["failed"])
	}
	if r.Running() {
		t.Error("runner still running after Stop")
	}
}
