// Package webhook delivers lifecycle events to the webhook URLs registered on
// each process.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single webhook request
const DefaultTimeout = 10 * time.Second

// Payload is the JSON body posted to webhook receivers
type Payload struct {
	ProcessID    string             `json:"processId"`
	EventType    domain.EventType   `json:"eventType"`
	Timestamp    time.Time          `json:"timestamp"`
	Data         map[string]any     `json:"data,omitempty"`
	RealTimeData *domain.StatusView `json:"realTimeData,omitempty"`
}

// DeliveryRecorder counts webhook outcomes
type DeliveryRecorder interface {
	RecordWebhookDelivery(success bool)
}

// Sink implements ports.EventSink. Each event is posted to each of its
// webhooks concurrently; failures are logged and never retried.
type Sink struct {
	client   *http.Client
	logger   *zap.Logger
	recorder DeliveryRecorder

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewSink creates a webhook sink. recorder may be nil.
func NewSink(timeout time.Duration, logger *zap.Logger, recorder DeliveryRecorder) *Sink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sink{
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		recorder: recorder,
	}
}

// Name returns the sink name
func (s *Sink) Name() string {
	return "webhook"
}

// Deliver starts one request per webhook and returns immediately
func (s *Sink) Deliver(ctx context.Context, event domain.Event) {
	if len(event.Webhooks) == 0 {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	body, err := json.Marshal(Payload{
		ProcessID:    event.ProcessID,
		EventType:    event.Type,
		Timestamp:    event.Timestamp,
		Data:         event.Payload,
		RealTimeData: event.Snapshot,
	})
	if err != nil {
		s.logger.Error("failed to marshal webhook payload",
			zap.String("process_id", event.ProcessID),
			zap.Error(err))
		return
	}

	for _, url := range event.Webhooks {
		s.wg.Add(1)
		go func(url string) {
			defer s.wg.Done()
			s.post(url, event, body)
		}(url)
	}
}

// Close waits for in-flight requests
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Sink) post(url string, event domain.Event, body []byte) {
	err := s.send(url, body)
	if s.recorder != nil {
		s.recorder.RecordWebhookDelivery(err == nil)
	}
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("url", url),
			zap.String("process_id", event.ProcessID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return
	}

	s.logger.Debug("webhook delivered",
		zap.String("url", url),
		zap.String("process_id", event.ProcessID),
		zap.String("event_type", string(event.Type)))
}

func (s *Sink) send(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
