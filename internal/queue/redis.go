package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultQueueKey = "sage:jobs"

// RedisBackend hands work to a Redis list consumed by external worker
// processes. Ordering and concurrency across workers are the broker's
// business; delivery is at-least-once with idempotent finalization in the
// runners.
type RedisBackend struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedisBackend builds the distributed backend over an already-probed
// client.
func NewRedisBackend(client *redis.Client, logger zerolog.Logger) *RedisBackend {
	return &RedisBackend{
		client: client,
		key:    defaultQueueKey,
		logger: logger.With().Str("component", "redis_queue").Logger(),
	}
}

// Enqueue pushes the task onto the broker list and returns its queue handle.
func (b *RedisBackend) Enqueue(ctx context.Context, kind Kind, entityID uint) (string, error) {
	task := Task{ID: uuid.NewString(), Kind: kind, EntityID: entityID}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal queue task: %w", err)
	}

	if err := b.client.LPush(ctx, b.key, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	b.logger.Debug().Str("task_id", task.ID).Str("kind", string(kind)).
		Uint("entity_id", entityID).Msg("task enqueued")
	return task.ID, nil
}

// Mode identifies the backend for health reporting.
func (b *RedisBackend) Mode() string { return "redis" }

// Worker consumes the Redis queue and dispatches tasks. One Worker per
// process; run several processes for parallelism.
type Worker struct {
	client     *redis.Client
	key        string
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

// NewWorker builds a queue consumer.
func NewWorker(client *redis.Client, dispatcher *Dispatcher, logger zerolog.Logger) *Worker {
	return &Worker{
		client:     client,
		key:        defaultQueueKey,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "queue_worker").Logger(),
	}
}

// Run blocks consuming tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("queue", w.key).Msg("worker started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		values, err := w.client.BRPop(ctx, 5*time.Second, w.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Error().Err(err).Msg("queue read failed")
			time.Sleep(time.Second)
			continue
		}
		if len(values) != 2 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(values[1]), &task); err != nil {
			w.logger.Error().Err(err).Str("payload", values[1]).Msg("malformed queue task")
			continue
		}

		w.dispatcher.Dispatch(ctx, task)
	}
}
