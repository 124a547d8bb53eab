package bundler

import (
	"context"
	"errors"

	"github.com/flashbots/mev-bundler/metrics"
	"go.uber.org/zap"
)

var (
	ErrEventQueueFull = errors.New("event queue is full")

	DefaultEventQueueSize = 1024
)

// AsyncEventBackend queues events and publishes them to the wrapped backend from Run,
// so the construction cycle never waits for the event sink. Events are dropped when the queue is full.
type AsyncEventBackend struct {
	log     *zap.Logger
	backend EventBackend
	queue   chan Event
}

func NewAsyncEventBackend(log *zap.Logger, backend EventBackend, queueSize int) *AsyncEventBackend {
	return &AsyncEventBackend{
		log:     log.Named("events"),
		backend: backend,
		queue:   make(chan Event, queueSize),
	}
}

func (b *AsyncEventBackend) PublishEvent(_ context.Context, event Event) error {
	select {
	case b.queue <- event:
		return nil
	default:
		metrics.IncEventsDropped()
		return ErrEventQueueFull
	}
}

// Run publishes queued events until ctx is cancelled
func (b *AsyncEventBackend) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-b.queue:
			publishCtx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
			err := b.backend.PublishEvent(publishCtx, event)
			cancel()
			if err != nil {
				b.log.Debug("Failed to publish event", zap.String("type", event.Type), zap.Error(err))
			}
		}
	}
}

// Pending returns the number of queued events
func (b *AsyncEventBackend) Pending() int {
	return len(b.queue)
}
