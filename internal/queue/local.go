package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const localQueueCapacity = 1024

// LocalBackend is the single-process fallback: one dedicated worker goroutine
// consumes tasks strictly in FIFO order, one at a time. A failing runner is
// logged and the worker moves on. No concurrency between jobs, deliberately.
type LocalBackend struct {
	dispatcher *Dispatcher
	tasks      chan Task
	logger     zerolog.Logger
	startOnce  sync.Once
}

// NewLocalBackend builds the in-process backend. Call Start before enqueuing.
func NewLocalBackend(dispatcher *Dispatcher, logger zerolog.Logger) *LocalBackend {
	return &LocalBackend{
		dispatcher: dispatcher,
		tasks:      make(chan Task, localQueueCapacity),
		logger:     logger.With().Str("component", "local_queue").Logger(),
	}
}

// Start launches the worker goroutine. It runs until ctx is cancelled.
func (b *LocalBackend) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.work(ctx)
		b.logger.Info().Msg("started in-process queue worker")
	})
}

// Enqueue appends the task to the FIFO. It blocks if the queue is full rather
// than dropping work.
func (b *LocalBackend) Enqueue(ctx context.Context, kind Kind, entityID uint) (string, error) {
	handle := localHandle(kind, entityID)
	task := Task{ID: handle, Kind: kind, EntityID: entityID}
	select {
	case b.tasks <- task:
		return handle, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Mode identifies the backend for health reporting.
func (b *LocalBackend) Mode() string { return "local" }

func (b *LocalBackend) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-b.tasks:
			b.dispatcher.Dispatch(ctx, task)
		}
	}
}
