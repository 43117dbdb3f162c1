package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/poi-importer/internal/pkg/logger"
)

// =============================================================================
// RABBITMQ QUEUE
// =============================================================================
// Three durable queues per logical queue:
//   <name>        work queue, consumed with manual ack
//   <name>.retry  holding queue; messages carry a per-message TTL and are
//                 dead-lettered back into <name> when it expires
//   <name>.dead   jobs that exhausted their attempts
//
// Attempt bookkeeping travels in headers. A broker redelivery (consumer
// died before acking) counts as one extra attempt.

const (
	headerAttempt     = "x-attempt"
	headerMaxAttempts = "x-max-attempts"
	headerLastError   = "x-last-error"
	headerEnqueuedAt  = "x-enqueued-at"
)

// amqpChannel is the subset of *amqp.Channel the queue uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// RabbitQueue is a Queue backed by RabbitMQ.
type RabbitQueue struct {
	conn   *amqp.Connection
	ch     amqpChannel
	name   string
	policy RetryPolicy
	log    *logger.Logger

	pubMu sync.Mutex

	succeeded atomic.Int64
	failed    atomic.Int64
}

// DialRabbitQueue connects to url and declares the queue topology.
func DialRabbitQueue(url, name string, policy RetryPolicy, log *logger.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	q, err := newRabbitQueue(ch, name, policy, log)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

func newRabbitQueue(ch amqpChannel, name string, policy RetryPolicy, log *logger.Logger) (*RabbitQueue, error) {
	q := &RabbitQueue{
		ch:     ch,
		name:   name,
		policy: policy,
		log:    logger.OrDefault(log, "RabbitQueue").With("queue", name),
	}
	if err := q.declare(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitQueue) retryName() string { return q.name + ".retry" }
func (q *RabbitQueue) deadName() string  { return q.name + ".dead" }

func (q *RabbitQueue) declare() error {
	if _, err := q.ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
	}
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.name,
	}
	if _, err := q.ch.QueueDeclare(q.retryName(), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.retryName(), err)
	}
	if _, err := q.ch.QueueDeclare(q.deadName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.deadName(), err)
	}
	return nil
}

func (q *RabbitQueue) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	return q.ch.PublishWithContext(ctx, "", queue, false, false, msg)
}

func (q *RabbitQueue) Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	err := q.publish(ctx, q.name, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    now,
		Body:         payload,
		Headers: amqp.Table{
			headerAttempt:     int32(0),
			headerMaxAttempts: int32(opts.maxAttempts()),
			headerEnqueuedAt:  now.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	return id, nil
}

// Consume registers a manual-ack consumer with prefetch = concurrency and
// runs concurrency handlers until ctx is cancelled or the channel closes.
func (q *RabbitQueue) Consume(ctx context.Context, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	if err := q.ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := q.ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.handle(ctx, d, h)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *RabbitQueue) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	job := jobFromDelivery(d)
	now := time.Now().UTC()
	job.StartedAt = &now
	job.State = StateProcessing

	var herr error
	if limit := q.policy.limit(job); job.Attempt > limit {
		herr = fmt.Errorf("attempt %d exceeds limit %d", job.Attempt, limit)
		job.Attempt = limit
	} else {
		herr = runHandler(ctx, h, job)
	}

	if herr == nil {
		q.succeeded.Add(1)
		if err := d.Ack(false); err != nil {
			q.log.Error("ack failed", "job_id", job.ID, "error", err)
		}
		return
	}

	q.failed.Add(1)
	pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dec := q.policy.Decide(job, herr)
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    now,
		Body:         d.Body,
		Headers: amqp.Table{
			headerAttempt:     int32(job.Attempt),
			headerMaxAttempts: int32(job.MaxAttempts),
			headerEnqueuedAt:  job.EnqueuedAt.Format(time.RFC3339Nano),
			headerLastError:   herr.Error(),
		},
	}

	target := q.deadName()
	if dec.Retry {
		target = q.retryName()
		ms := dec.Delay.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		msg.Expiration = strconv.FormatInt(ms, 10)
		q.log.Warn("job failed, retry scheduled", "job_id", job.ID, "attempt", job.Attempt, "delay", dec.Delay, "error", herr)
	} else {
		q.log.Error("job moved to dead-letter", "job_id", job.ID, "attempt", job.Attempt, "error", herr)
	}

	if err := q.publish(pubCtx, target, msg); err != nil {
		// Leave the original on the work queue; it will be redelivered.
		q.log.Error("failed to republish job", "job_id", job.ID, "target", target, "error", err)
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		q.log.Error("ack failed", "job_id", job.ID, "error", err)
	}
}

func jobFromDelivery(d amqp.Delivery) *Job {
	prev := headerInt(d.Headers, headerAttempt)
	attempt := prev + 1
	if d.Redelivered {
		attempt++
	}
	job := &Job{
		ID:          d.MessageId,
		Payload:     append([]byte(nil), d.Body...),
		Attempt:     attempt,
		MaxAttempts: headerInt(d.Headers, headerMaxAttempts),
		State:       StateQueued,
		EnqueuedAt:  d.Timestamp,
	}
	if s, ok := d.Headers[headerEnqueuedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			job.EnqueuedAt = t
		}
	}
	if s, ok := d.Headers[headerLastError].(string); ok {
		job.LastError = s
	}
	if job.ID == "" {
		job.ID = strconv.FormatUint(d.DeliveryTag, 10)
	}
	return job
}

func headerInt(t amqp.Table, key string) int {
	switch v := t[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func (q *RabbitQueue) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Succeeded: q.succeeded.Load(), Failed: q.failed.Load()}
	for _, target := range []struct {
		name string
		n    *int64
	}{
		{q.name, &s.Queued},
		{q.retryName(), &s.Delayed},
		{q.deadName(), &s.Dead},
	} {
		var args amqp.Table
		if target.name == q.retryName() {
			args = amqp.Table{"x-dead-letter-exchange": "", "x-dead-letter-routing-key": q.name}
		}
		info, err := q.ch.QueueDeclarePassive(target.name, true, false, false, false, args)
		if err != nil {
			return s, fmt.Errorf("inspect queue %s: %w", target.name, err)
		}
		*target.n = int64(info.Messages)
	}
	return s, nil
}

// Ping reports whether the broker connection is usable.
func (q *RabbitQueue) Ping(ctx context.Context) error {
	if q.conn != nil && q.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	_, err := q.ch.QueueDeclarePassive(q.name, true, false, false, false, nil)
	return err
}

// Close closes the channel and, when dialled by DialRabbitQueue, the connection.
func (q *RabbitQueue) Close() error {
	err := q.ch.Close()
	if q.conn != nil {
		if cerr := q.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
