// Package queue decouples "a unit of work exists" from when and where it
// executes. Work is identified by (kind, entity id) only; all entity state
// transitions belong to the runners.
package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Kind names one unit-of-work type.
type Kind string

const (
	KindSubmissionGrading Kind = "submission-grading"
	KindRubricDraft       Kind = "rubric-draft"
	KindAssignmentDraft   Kind = "assignment-draft"
)

// Task is the serialized unit of work handed to a backend.
type Task struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	EntityID uint   `json:"entity_id"`
}

// Runner processes one entity. Runners persist their own terminal state; the
// returned error is for worker logging only.
type Runner func(ctx context.Context, entityID uint) error

// Dispatcher routes tasks to runners and contains their failures so a bad job
// never takes a worker down.
type Dispatcher struct {
	runners map[Kind]Runner
	logger  zerolog.Logger
}

// NewDispatcher builds a dispatcher over the given kind-to-runner table.
func NewDispatcher(runners map[Kind]Runner, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		runners: runners,
		logger:  logger.With().Str("component", "queue_dispatcher").Logger(),
	}
}

// Dispatch runs the task's runner, recovering panics and logging failures.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) {
	runner, ok := d.runners[task.Kind]
	if !ok {
		d.logger.Error().Str("kind", string(task.Kind)).Uint("entity_id", task.EntityID).
			Msg("no runner registered for task kind")
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error().Interface("panic", recovered).
				Str("kind", string(task.Kind)).Uint("entity_id", task.EntityID).
				Msg("runner panicked")
		}
	}()

	if err := runner(ctx, task.EntityID); err != nil {
		d.logger.Error().Err(err).
			Str("kind", string(task.Kind)).Uint("entity_id", task.EntityID).
			Msg("runner failed")
	}
}

// Backend accepts work for eventual execution and returns an opaque handle.
type Backend interface {
	Enqueue(ctx context.Context, kind Kind, entityID uint) (string, error)
	Mode() string
}

// New selects the backend once at process start: the distributed Redis
// backend when a broker connection is available, otherwise the in-process
// fallback worker. The probe happens at connect time, not per call.
func New(ctx context.Context, redisClient *redis.Client, dispatcher *Dispatcher, logger zerolog.Logger) Backend {
	if redisClient != nil {
		logger.Info().Msg("using distributed redis job queue")
		return NewRedisBackend(redisClient, logger)
	}

	logger.Info().Msg("redis not configured; using in-process job queue")
	local := NewLocalBackend(dispatcher, logger)
	local.Start(ctx)
	return local
}

// Handle formats the local-backend job handle.
func localHandle(kind Kind, entityID uint) string {
	return fmt.Sprintf("local-%s-%d", kind, entityID)
}
