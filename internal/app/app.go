// Package app opens the storage and broker backends named in the
// configuration. Every binary under cmd/ builds its dependencies here so the
// driver selection lives in one place.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ignite/poi-importer/internal/config"
	"github.com/ignite/poi-importer/internal/pkg/distlock"
	"github.com/ignite/poi-importer/internal/pkg/logger"
	"github.com/ignite/poi-importer/internal/queue"
	"github.com/ignite/poi-importer/internal/repository/mongodb"
	"github.com/ignite/poi-importer/internal/repository/postgres"
	"github.com/ignite/poi-importer/internal/service/poi"
	"github.com/ignite/poi-importer/internal/worker"
)

const (
	connectTimeout = 10 * time.Second
	// recoveryLockTTL outlives one sweep so a crashed sweeper cannot hold
	// the lock forever.
	recoveryLockTTL = time.Minute
)

// Store is everything the binaries need from a persistence backend.
type Store interface {
	worker.Store
	poi.Repository
	Ping(ctx context.Context) error
}

// OpenStore connects to the configured store. The returned close function
// releases the connection pool.
func OpenStore(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (Store, func() error, error) {
	log = logger.OrDefault(log, "App")
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(1 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Info("connected to postgres")
		return postgres.NewPoiRepo(db), db.Close, nil

	case "mongo", "mongodb":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		closeFn := func() error { return client.Disconnect(context.Background()) }
		if err := client.Ping(ctx, nil); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
		}
		repo := mongodb.NewPoiRepo(client.Database(cfg.MongoDatabase).Collection(cfg.Collection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		log.Info("connected to mongodb", "database", cfg.MongoDatabase, "collection", cfg.Collection)
		return repo, closeFn, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// RetryPolicy builds the queue retry policy from configuration.
func RetryPolicy(cfg config.QueueConfig) queue.RetryPolicy {
	p := queue.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if d := cfg.BackoffBase(); d > 0 {
		p.BaseDelay = d
	}
	if d := cfg.BackoffMax(); d > 0 {
		p.MaxDelay = d
	}
	return p
}

// Broker is an opened job queue plus whatever client backs it.
type Broker struct {
	Queue queue.Queue
	// Redis is set only for the redis driver; it backs the recovery lock.
	Redis redis.UniversalClient

	cfg config.QueueConfig
	log *logger.Logger
}

// OpenQueue connects to the configured broker.
func OpenQueue(ctx context.Context, cfg config.QueueConfig, log *logger.Logger) (*Broker, error) {
	log = logger.OrDefault(log, "App")
	policy := RetryPolicy(cfg)
	b := &Broker{cfg: cfg, log: log}

	switch cfg.Driver {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		b.Redis = client
		b.Queue = queue.NewRedisQueue(client, cfg.Name, policy, log.With("queue", cfg.Name))
		log.Info("connected to redis", "addr", opts.Addr, "db", opts.DB)

	case "rabbitmq", "amqp":
		q, err := queue.DialRabbitQueue(cfg.AMQPURL, cfg.Name, policy, log.With("queue", cfg.Name))
		if err != nil {
			return nil, err
		}
		b.Queue = q
		log.Info("connected to rabbitmq", "queue", cfg.Name)

	case "memory":
		b.Queue = queue.NewMemoryQueue(policy, log.With("queue", cfg.Name))
		log.Warn("using in-process queue; jobs are lost on restart")

	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
	return b, nil
}

// Ping checks the broker connection. The in-process queue is always up.
func (b *Broker) Ping(ctx context.Context) error {
	if p, ok := b.Queue.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// DeadLetters returns the dead-letter view of the queue, or nil when the
// driver keeps dead jobs somewhere only the broker's own tooling can reach.
func (b *Broker) DeadLetters() queue.DeadLetterStore {
	if d, ok := b.Queue.(queue.DeadLetterStore); ok {
		return d
	}
	return nil
}

// Recoverer returns the stalled-job sweep for drivers that need one.
// RabbitMQ redelivers unacked messages itself, and the in-process queue
// cannot outlive its workers, so both return nil.
func (b *Broker) Recoverer() *queue.Recoverer {
	rq, ok := b.Queue.(*queue.RedisQueue)
	if !ok || b.Redis == nil {
		return nil
	}
	lock := distlock.NewRedisLock(b.Redis, b.cfg.Name+":recovery", recoveryLockTTL)
	return queue.NewRecoverer(rq, lock, b.cfg.RecoveryInterval(), b.cfg.StaleAge(), b.log)
}

// Close closes the queue and the client behind it.
func (b *Broker) Close() error {
	err := b.Queue.Close()
	if b.Redis != nil {
		if cerr := b.Redis.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
