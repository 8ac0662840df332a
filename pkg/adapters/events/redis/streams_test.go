package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStreamsPublisher_Publish(t *testing.T) {
	client := newTestClient(t)
	p := NewStreamsPublisher(client, "", 0, zap.NewNop())
	ctx := context.Background()

	event := domain.Event{
		ID:        1,
		ProcessID: "proc-1",
		Type:      domain.EventStepCompleted,
		Timestamp: time.Unix(0, 0).UTC(),
		Payload:   map[string]any{"step_id": "analyze_prd"},
	}
	if err := p.Publish(ctx, event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msgs, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Values["process_id"] != "proc-1" || msgs[0].Values["type"] != "step_completed" {
		t.Errorf("values = %v", msgs[0].Values)
	}

	var decoded domain.Event
	if err := json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded); err != nil {
		t.Fatalf("data is not an event: %v", err)
	}
	if decoded.Payload["step_id"] != "analyze_prd" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestStreamsPublisher_Sink(t *testing.T) {
	client := newTestClient(t)
	sink := NewStreamsPublisher(client, "custom", 0, zap.NewNop()).Sink(10, nil)

	for i := int64(1); i <= 3; i++ {
		sink.Deliver(context.Background(), domain.Event{ID: i, ProcessID: "p", Type: domain.EventStepStarted})
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	n, err := client.XLen(context.Background(), "custom").Result()
	if err != nil {
		t.Fatalf("XLen failed: %v", err)
	}
	if n != 3 {
		t.Errorf("stream length = %d, want 3", n)
	}
	if sink.Name() != "redis_streams" {
		t.Errorf("name = %q", sink.Name())
	}
}
