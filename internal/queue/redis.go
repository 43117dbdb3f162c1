package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/poi-importer/internal/pkg/logger"
)

// =============================================================================
// REDIS QUEUE
// =============================================================================
// Keys, all prefixed with the queue name:
//   <name>:jobs     HASH  id -> Job JSON
//   <name>:wait     LIST  ids ready to run (LPUSH in, pop from the right)
//   <name>:active   LIST  ids claimed by a consumer
//   <name>:delayed  ZSET  ids waiting for their retry time (score = unix ms)
//   <name>:dead     LIST  ids that exhausted their attempts (newest first)
//   <name>:counters HASH  lifetime succeeded / failed counters
//
// A claim is BLMOVE wait -> active, so a consumer crash leaves the id in
// active, where the Recoverer finds it once StartedAt is older than the
// stale age.

var (
	// promoteScript moves due ids from delayed to wait.
	promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return #ids
`)

	// settleScript applies a handler result to ARGV[1] if it is still in
	// active (KEYS[1]). ARGV[2] is the job record, empty to drop it. ARGV[3]
	// is "done", "delay" (ZADD KEYS[3] at ARGV[4]) or "dead" (LPUSH KEYS[3]).
	// ARGV[5] names the counter bumped in KEYS[4].
	settleScript = redis.NewScript(`
if redis.call("LREM", KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
if ARGV[2] == "" then
	redis.call("HDEL", KEYS[2], ARGV[1])
else
	redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
end
if ARGV[3] == "delay" then
	redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
elseif ARGV[3] == "dead" then
	redis.call("LPUSH", KEYS[3], ARGV[1])
end
redis.call("HINCRBY", KEYS[4], ARGV[5], 1)
return 1
`)

	// moveScript removes ARGV[1] from list KEYS[1] and, only if it was there,
	// rewrites the job record and pushes the id onto list KEYS[2].
	moveScript = redis.NewScript(`
if redis.call("LREM", KEYS[1], 1, ARGV[1]) == 1 then
	redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)
)

const promoteBatch = 500

// RedisQueue is a Queue and DeadLetterStore backed by Redis.
type RedisQueue struct {
	client redis.UniversalClient
	name   string
	policy RetryPolicy
	log    *logger.Logger

	// BlockTimeout bounds each BLMOVE so consumers notice cancellation.
	BlockTimeout time.Duration
	// PromoteInterval is how often due retries are moved back to wait.
	PromoteInterval time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRedisQueue creates a queue named name on client.
func NewRedisQueue(client redis.UniversalClient, name string, policy RetryPolicy, log *logger.Logger) *RedisQueue {
	return &RedisQueue{
		client:          client,
		name:            name,
		policy:          policy,
		log:             logger.OrDefault(log, "RedisQueue").With("queue", name),
		BlockTimeout:    time.Second,
		PromoteInterval: time.Second,
		closed:          make(chan struct{}),
	}
}

func (q *RedisQueue) key(suffix string) string { return q.name + ":" + suffix }

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) (string, error) {
	select {
	case <-q.closed:
		return "", ErrClosed
	default:
	}

	job := newJob(uuid.NewString(), payload, opts, time.Now())
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.ID, data)
		pipe.LPush(ctx, q.key("wait"), job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

// Consume runs concurrency consumers plus one promoter until ctx is
// cancelled or the queue is closed.
func (q *RedisQueue) Consume(ctx context.Context, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-q.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(q.PromoteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := q.PromoteDue(ctx); err != nil && ctx.Err() == nil {
					q.log.Warn("promote delayed jobs failed", "error", err)
				}
			}
		}
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				job, err := q.claim(ctx)
				if err != nil {
					if ctx.Err() == nil {
						q.log.Error("claim failed", "error", err)
						time.Sleep(q.BlockTimeout)
					}
					continue
				}
				if job == nil {
					continue
				}
				// Settle on a fresh context so a shutdown does not strand
				// the job in active after the handler has returned.
				herr := runHandler(ctx, h, job)
				settleCtx, settleCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := q.settle(settleCtx, job, herr); err != nil {
					q.log.Error("failed to record job result", "job_id", job.ID, "error", err)
				}
				settleCancel()
			}
		}()
	}

	wg.Wait()
	return nil
}

// claim moves the next ready id to active and starts a new attempt on it.
// It returns nil, nil when nothing arrived within BlockTimeout.
func (q *RedisQueue) claim(ctx context.Context) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", q.BlockTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job, err := q.load(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		q.client.LRem(ctx, q.key("active"), 1, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Attempt++
	job.State = StateProcessing
	job.StartedAt = &now
	if err := q.save(ctx, q.client, job); err != nil {
		return nil, err
	}
	return job, nil
}

// settle records a handler result: success, a delayed retry, or dead-letter.
// It only applies while the job is still in active. A job the Recoverer has
// already moved on is left where the sweep put it.
func (q *RedisQueue) settle(ctx context.Context, job *Job, herr error) error {
	now := time.Now().UTC()
	mode, target, score, counter := "done", q.key("dead"), "0", "succeeded"
	var delay time.Duration

	if herr == nil {
		job.State = StateSucceeded
		job.LastError = ""
		job.FinishedAt = &now
	} else {
		counter = "failed"
		job.LastError = herr.Error()
		d := q.policy.Decide(job, herr)
		if !d.Retry {
			mode = "dead"
			job.State = StateDead
			job.FinishedAt = &now
		} else {
			mode, target, delay = "delay", q.key("delayed"), d.Delay
			score = strconv.FormatInt(now.Add(delay).UnixMilli(), 10)
			job.State = StateFailed
		}
	}

	var data []byte
	if herr != nil || !job.DiscardOnSuccess {
		var err error
		if data, err = json.Marshal(job); err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
	}

	settled, err := settleScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("jobs"), target, q.key("counters")},
		job.ID, data, mode, score, counter).Int()
	if err != nil {
		return err
	}
	if settled == 0 {
		q.log.Warn("job was recovered before its result arrived, result dropped", "job_id", job.ID, "attempt", job.Attempt)
		return nil
	}

	switch mode {
	case "dead":
		q.log.Error("job moved to dead-letter", "job_id", job.ID, "attempt", job.Attempt, "error", herr)
	case "delay":
		q.log.Warn("job failed, retry scheduled", "job_id", job.ID, "attempt", job.Attempt, "delay", delay, "error", herr)
	}
	return nil
}

// PromoteDue moves retries whose time has come back to the wait list.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.client, []string{q.key("delayed"), q.key("wait")}, now, promoteBatch).Int()
}

// RecoverStale returns jobs stuck in active for longer than staleAge to the
// wait list, or dead-letters them when their attempts are used up.
func (q *RedisQueue) RecoverStale(ctx context.Context, staleAge time.Duration) (requeued, dead int, err error) {
	ids, err := q.client.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return 0, 0, err
	}

	cutoff := time.Now().Add(-staleAge)
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			q.client.LRem(ctx, q.key("active"), 1, id)
			continue
		}
		if err != nil {
			return requeued, dead, err
		}

		started := job.EnqueuedAt
		if job.StartedAt != nil {
			started = *job.StartedAt
		}
		if started.After(cutoff) {
			continue
		}

		target := "wait"
		job.LastError = "stalled: no result after " + staleAge.String()
		if job.Attempt >= q.policy.limit(job) {
			target = "dead"
			job.State = StateDead
			now := time.Now().UTC()
			job.FinishedAt = &now
		} else {
			job.State = StateQueued
		}

		data, err := json.Marshal(job)
		if err != nil {
			return requeued, dead, err
		}
		moved, err := moveScript.Run(ctx, q.client,
			[]string{q.key("active"), q.key(target), q.key("jobs")}, id, data).Int()
		if err != nil {
			return requeued, dead, err
		}
		if moved == 0 {
			continue // settled by its consumer in the meantime
		}
		if target == "dead" {
			dead++
		} else {
			requeued++
		}
	}
	return requeued, dead, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	wait := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	deadLen := pipe.LLen(ctx, q.key("dead"))
	counters := pipe.HGetAll(ctx, q.key("counters"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}

	c := counters.Val()
	succeeded, _ := strconv.ParseInt(c["succeeded"], 10, 64)
	failed, _ := strconv.ParseInt(c["failed"], 10, 64)
	return Stats{
		Queued:     wait.Val(),
		Processing: active.Val(),
		Delayed:    delayed.Val(),
		Dead:       deadLen.Val(),
		Succeeded:  succeeded,
		Failed:     failed,
	}, nil
}

// DeadJobs returns up to limit dead jobs, most recent first.
func (q *RedisQueue) DeadJobs(ctx context.Context, limit int) ([]Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := q.client.LRange(ctx, q.key("dead"), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Job{}, nil
	}

	vals, err := q.client.HMGet(ctx, q.key("jobs"), ids...).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisQueue) RetryDead(ctx context.Context, id string) error {
	job, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	job.Attempt = 0
	job.State = StateQueued
	job.FinishedAt = nil

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	moved, err := moveScript.Run(ctx, q.client,
		[]string{q.key("dead"), q.key("wait"), q.key("jobs")}, id, data).Int()
	if err != nil {
		return err
	}
	if moved == 0 {
		return ErrJobNotFound
	}
	q.log.Info("dead job requeued", "job_id", id)
	return nil
}

// Job returns the stored record for id.
func (q *RedisQueue) Job(ctx context.Context, id string) (*Job, error) {
	return q.load(ctx, id)
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.HGet(ctx, q.key("jobs"), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) save(ctx context.Context, c redis.Cmdable, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return c.HSet(ctx, q.key("jobs"), job.ID, data).Err()
}

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close stops consumers started by Consume. The client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
