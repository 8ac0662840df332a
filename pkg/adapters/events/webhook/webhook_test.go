package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"go.uber.org/zap/zaptest"
)

type deliveries struct {
	mu      sync.Mutex
	success int
	failure int
}

func (d *deliveries) RecordWebhookDelivery(success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if success {
		d.success++
	} else {
		d.failure++
	}
}

func TestSink_Deliver(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Payload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	rec := &deliveries{}
	sink := NewSink(time.Second, zaptest.NewLogger(t), rec)

	sink.Deliver(context.Background(), domain.Event{
		ID:        3,
		ProcessID: "proc-1",
		Type:      domain.EventStepCompleted,
		Timestamp: time.Now(),
		Payload:   map[string]any{"step_id": "a"},
		Snapshot:  &domain.StatusView{ID: "proc-1", Progress: 50},
		Webhooks:  []string{srv.URL, failing.URL},
	})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("received %d payloads, want 1", len(received))
	}
	got := received[0]
	if got.ProcessID != "proc-1" || got.EventType != domain.EventStepCompleted {
		t.Errorf("payload = %+v", got)
	}
	if got.Data["step_id"] != "a" {
		t.Errorf("data = %v", got.Data)
	}
	if got.RealTimeData == nil || got.RealTimeData.Progress != 50 {
		t.Errorf("realTimeData = %+v", got.RealTimeData)
	}
	if rec.success != 1 || rec.failure != 1 {
		t.Errorf("deliveries = %d ok / %d failed", rec.success, rec.failure)
	}
}

func TestSink_DeliverWithoutWebhooks(t *testing.T) {
	rec := &deliveries{}
	sink := NewSink(0, zaptest.NewLogger(t), rec)

	sink.Deliver(context.Background(), domain.Event{ProcessID: "p", Type: domain.EventProcessStarted})
	_ = sink.Close()

	if rec.success+rec.failure != 0 {
		t.Errorf("unexpected deliveries: %+v", rec)
	}
}

func TestSink_DeliverAfterClose(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer srv.Close()

	sink := NewSink(time.Second, zaptest.NewLogger(t), nil)
	_ = sink.Close()
	sink.Deliver(context.Background(), domain.Event{ProcessID: "p", Webhooks: []string{srv.URL}})

	if called.Load() {
		t.Error("webhook called after Close")
	}
}
