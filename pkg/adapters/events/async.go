package events

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"go.uber.org/zap"
)

// PublishTimeout bounds a single handler call
const PublishTimeout = 10 * time.Second

// Handler publishes one event to an external system
type Handler func(ctx context.Context, event domain.Event) error

// DropRecorder counts events a sink had to drop
type DropRecorder interface {
	RecordEventDropped(sink string)
}

// AsyncSink implements ports.EventSink on top of a blocking Handler. Events
// are queued in a bounded channel drained by one goroutine, so delivery
// order is preserved. Events that do not fit are dropped and logged.
type AsyncSink struct {
	name    string
	handler Handler
	logger  *zap.Logger
	drops   DropRecorder

	mu     sync.RWMutex
	queue  chan domain.Event
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts a sink with a queue of the given size. drops may be nil.
func NewAsyncSink(name string, size int, handler Handler, logger *zap.Logger, drops DropRecorder) *AsyncSink {
	if size <= 0 {
		size = 1
	}

	s := &AsyncSink{
		name:    name,
		handler: handler,
		logger:  logger,
		drops:   drops,
		queue:   make(chan domain.Event, size),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Name returns the sink name
func (s *AsyncSink) Name() string {
	return s.name
}

// Deliver queues the event without blocking
func (s *AsyncSink) Deliver(ctx context.Context, event domain.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.queue <- event:
	default:
		s.logger.Warn("sink queue full, dropping event",
			zap.String("sink", s.name),
			zap.String("process_id", event.ProcessID),
			zap.String("event_type", string(event.Type)),
			zap.Int64("event_id", event.ID))
		if s.drops != nil {
			s.drops.RecordEventDropped(s.name)
		}
	}
}

// Close stops accepting events and waits for the queue to drain
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return nil
}

func (s *AsyncSink) run() {
	defer close(s.done)

	for event := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		if err := s.handler(ctx, event); err != nil {
			s.logger.Error("failed to publish event",
				zap.String("sink", s.name),
				zap.String("process_id", event.ProcessID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
		cancel()
	}
}
