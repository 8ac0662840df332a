package domain

import "time"

// EventType identifies a lifecycle event
type EventType string

const (
	EventProcessStarted   EventType = "process_started"
	EventStepStarted      EventType = "step_started"
	EventStepCompleted    EventType = "step_completed"
	EventStepFailed       EventType = "step_failed"
	EventProcessCompleted EventType = "process_completed"
	EventProcessFailed    EventType = "process_failed"
)

// IsTerminal reports whether the event ends a process
func (t EventType) IsTerminal() bool {
	return t == EventProcessCompleted || t == EventProcessFailed
}

// Event is one lifecycle notification. ID is a per-process sequence number
// starting at 1.
type Event struct {
	ID        int64          `json:"id"`
	ProcessID string         `json:"process_id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"data,omitempty"`
	Snapshot  *StatusView    `json:"snapshot,omitempty"`

	// Webhooks are the delivery targets registered for the process
	Webhooks []string `json:"-"`
}
