// Package queue is the durable, at-least-once job broker between the
// importer and the POI workers.
//
// A Queue accepts opaque JSON payloads and hands them to a bounded pool of
// Handler goroutines. A handler error schedules a redelivery after an
// exponential, jittered backoff until the job's attempt limit is reached;
// the job is then moved to the dead-letter set, where it stays until an
// operator retries it.
//
// Adapters:
//   - MemoryQueue: in-process, used by tests and single-binary development.
//   - RedisQueue: lists + sorted set in Redis; stalled jobs are reclaimed
//     by a Recoverer.
//   - RabbitQueue: durable AMQP queues; retries go through a TTL queue that
//     dead-letters back into the main queue.
package queue
