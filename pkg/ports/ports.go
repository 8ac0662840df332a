// Package ports declares the interfaces between the orchestrator core and
// its adapters (stores, event sinks, metrics, executors, pipeline catalogs).
package ports

import (
	"context"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
)

// Executor computes the output of one step. It receives the step input and
// a copy of the data accumulated by previous steps.
type Executor func(ctx context.Context, input, data map[string]any) (map[string]any, error)

// ExecutorResolver finds the executor for a pipeline step
type ExecutorResolver interface {
	Resolve(pipelineID, stepID string) (Executor, error)
}

// PipelineCatalog holds the pipelines processes can be started from
type PipelineCatalog interface {
	Get(id string) (*domain.Pipeline, error)
	List() []*domain.Pipeline
}

// ProcessStore persists process runs. Load returns domain.ErrProcessNotFound
// for unknown IDs.
type ProcessStore interface {
	Save(ctx context.Context, run *domain.ProcessRun) error
	Load(ctx context.Context, id string) (*domain.ProcessRun, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// EventBus sequences lifecycle events per process, keeps a bounded replay
// buffer and fans events out to sinks.
type EventBus interface {
	Publish(ctx context.Context, event domain.Event) (domain.Event, error)
	Since(processID string, lastEventID int64) []domain.Event
	Drop(processID string)
	Close() error
}

// EventSink consumes published events. Deliver must not block the caller.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, event domain.Event)
	Close() error
}

// MetricsCollector exports orchestrator metrics to a monitoring backend
type MetricsCollector interface {
	RecordProcessStarted()
	RecordProcessCompleted(duration time.Duration)
	RecordProcessFailed()
	RecordStepExecuted(stepID string, success bool, duration time.Duration)
	SetActiveProcesses(count int)
	RecordEventDropped(sink string)
	RecordWebhookDelivery(success bool)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetQueueDepth(depth int)
}
