package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
	"go.uber.org/zap"
)

// DefaultBufferSize is the number of events kept per process
const DefaultBufferSize = 100

// ErrBusClosed is returned by Publish after Close
var ErrBusClosed = errors.New("event bus closed")

// EventBus implements ports.EventBus. It numbers events per process, keeps
// the last N of them in a ring buffer for replay and hands each event to
// every sink.
type EventBus struct {
	size   int
	logger *zap.Logger

	mu     sync.Mutex
	rings  map[string]*ring
	sinks  []ports.EventSink
	closed bool
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(size int, logger *zap.Logger, sinks ...ports.EventSink) *EventBus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &EventBus{
		size:   size,
		logger: logger,
		rings:  make(map[string]*ring),
		sinks:  sinks,
	}
}

// AddSink registers a sink for events published from now on
func (b *EventBus) AddSink(sink ports.EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sinks = append(b.sinks, sink)
}

// Publish assigns the next sequence ID of the process to event, buffers it
// and delivers it to the sinks.
func (b *EventBus) Publish(ctx context.Context, event domain.Event) (domain.Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return event, ErrBusClosed
	}

	r, ok := b.rings[event.ProcessID]
	if !ok {
		r = newRing(b.size)
		b.rings[event.ProcessID] = r
	}
	r.seq++
	event.ID = r.seq
	r.push(event)

	sinks := make([]ports.EventSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, sink := range sinks {
		sink.Deliver(ctx, event)
	}

	b.logger.Debug("event published",
		zap.String("process_id", event.ProcessID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("event_id", event.ID))

	return event, nil
}

// Since returns the buffered events of a process with an ID greater than
// lastEventID, oldest first.
func (b *EventBus) Since(processID string, lastEventID int64) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[processID]
	if !ok {
		return []domain.Event{}
	}
	return r.since(lastEventID)
}

// Drop discards the buffer of a process
func (b *EventBus) Drop(processID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.rings, processID)
}

// Close stops accepting events and closes every sink
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sinks := b.sinks
	b.sinks = nil
	b.mu.Unlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry
type ring struct {
	buf   []domain.Event
	start int
	count int
	seq   int64
}

func newRing(size int) *ring {
	return &ring{buf: make([]domain.Event, size)}
}

func (r *ring) push(e domain.Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(lastEventID int64) []domain.Event {
	out := make([]domain.Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		if e.ID > lastEventID {
			out = append(out, e)
		}
	}
	return out
}
