package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aescanero/genflow/pkg/adapters/events"
	"github.com/aescanero/genflow/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the stream key events are appended to
const DefaultStream = "genflow:events"

// StreamsPublisher appends lifecycle events to a Redis stream
type StreamsPublisher struct {
	client *redis.Client
	logger *zap.Logger
	stream string
	maxLen int64
}

// NewStreamsPublisher creates a publisher. maxLen caps the stream
// approximately; zero leaves it unbounded.
func NewStreamsPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamsPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamsPublisher{
		client: client,
		logger: logger,
		stream: stream,
		maxLen: maxLen,
	}
}

// Sink wraps the publisher in a non-blocking sink
func (p *StreamsPublisher) Sink(queueSize int, drops events.DropRecorder) *events.AsyncSink {
	return events.NewAsyncSink("redis_streams", queueSize, p.Publish, p.logger, drops)
}

// Publish appends one event to the stream
func (p *StreamsPublisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"process_id": event.ProcessID,
			"type":       string(event.Type),
			"event_id":   event.ID,
			"data":       string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	p.logger.Debug("event published",
		zap.String("process_id", event.ProcessID),
		zap.String("type", string(event.Type)),
		zap.String("stream", p.stream),
		zap.String("message_id", id))

	return nil
}
