package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	eventsmemory "github.com/aescanero/genflow/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/genflow/pkg/adapters/storage/memory"
	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
	"go.uber.org/zap"
)

// CancelReason is recorded as the failure reason of cancelled processes
const CancelReason = "cancelled"

// Config holds the collaborators of a Manager. Store and Events default to
// in-memory implementations.
type Config struct {
	Store     ports.ProcessStore
	Events    ports.EventBus
	Executors ports.ExecutorResolver
	Pipelines ports.PipelineCatalog
	Collector ports.MetricsCollector
	Logger    *zap.Logger

	// RetryBaseDelay is the backoff unit; zero means DefaultRetryBaseDelay
	// and a negative value disables the wait.
	RetryBaseDelay time.Duration

	// ContinueOnOptionalFailure lets the sequential driver move past
	// optional steps that failed permanently.
	ContinueOnOptionalFailure bool

	Clock func() time.Time
}

// StartOptions are per-process start settings
type StartOptions struct {
	Webhooks []string
}

// Manager is the orchestrator facade used by the API surfaces
type Manager struct {
	registry  *Registry
	runner    *StepRunner
	events    ports.EventBus
	metrics   *MetricsAggregator
	executors ports.ExecutorResolver
	pipelines ports.PipelineCatalog
	validator *Validator
	logger    *zap.Logger
	now       func() time.Time

	continueOnOptionalFailure bool

	// pipelines started directly, by ID
	adhoc sync.Map
}

// NewManager creates a new orchestrator manager
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	store := cfg.Store
	if store == nil {
		store = storagememory.NewProcessStore()
	}
	events := cfg.Events
	if events == nil {
		events = eventsmemory.NewEventBus(eventsmemory.DefaultBufferSize, logger)
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultRetryBaseDelay
	}

	m := &Manager{
		events:                    events,
		metrics:                   NewMetricsAggregator(cfg.Collector),
		executors:                 cfg.Executors,
		pipelines:                 cfg.Pipelines,
		validator:                 NewValidator(),
		logger:                    logger,
		now:                       now,
		continueOnOptionalFailure: cfg.ContinueOnOptionalFailure,
	}
	m.registry = NewRegistry(store, m.lookupPipeline, m.observe, logger, WithClock(now))
	m.registry.OnEvict(events.Drop)
	m.runner = NewStepRunner(m.registry, baseDelay, logger)
	return m
}

// Registry exposes the process registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start validates p, creates a running process and emits ProcessStarted.
// Steps are run by RunStep or Execute.
func (m *Manager) Start(ctx context.Context, p *domain.Pipeline, initialData map[string]any, opts StartOptions) (string, error) {
	if err := m.validator.Validate(p, opts.Webhooks); err != nil {
		m.logger.Error("start request validation failed",
			zap.Error(err))
		return "", err
	}

	m.adhoc.Store(p.ID, p)

	run, err := m.registry.Create(ctx, p, initialData, opts.Webhooks)
	if err != nil {
		m.logger.Error("failed to create process",
			zap.String("pipeline_id", p.ID),
			zap.Error(err))
		return "", err
	}

	m.logger.Info("process started",
		zap.String("process_id", run.ID),
		zap.String("pipeline_id", p.ID),
		zap.Int("webhooks", len(opts.Webhooks)))

	return run.ID, nil
}

// StartPipeline starts a process from a catalog pipeline
func (m *Manager) StartPipeline(ctx context.Context, pipelineID string, initialData map[string]any, opts StartOptions) (string, error) {
	if m.pipelines == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrPipelineNotFound, pipelineID)
	}
	p, err := m.pipelines.Get(pipelineID)
	if err != nil {
		return "", err
	}
	return m.Start(ctx, p, initialData, opts)
}

// Pipelines lists the catalog pipelines
func (m *Manager) Pipelines() []*domain.Pipeline {
	if m.pipelines == nil {
		return nil
	}
	return m.pipelines.List()
}

// Pipeline returns a known pipeline by ID
func (m *Manager) Pipeline(id string) (*domain.Pipeline, error) {
	return m.lookupPipeline(id)
}

// RunStep runs one step through the step runner
func (m *Manager) RunStep(ctx context.Context, processID, stepID string, exec ports.Executor, input map[string]any) (map[string]any, error) {
	return m.runner.Run(ctx, processID, stepID, exec, input)
}

// Cancel stops a running process. Steps already executing finish, but no
// further step may start.
func (m *Manager) Cancel(ctx context.Context, processID string) error {
	if _, err := m.registry.Cancel(ctx, processID, CancelReason); err != nil {
		return err
	}

	m.logger.Info("process cancelled",
		zap.String("process_id", processID))
	return nil
}

// RetryStep reruns a failed step with the accumulated data as input. A
// failed process is reopened first.
func (m *Manager) RetryStep(ctx context.Context, processID, stepID string) (map[string]any, error) {
	p, err := m.registry.Pipeline(ctx, processID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.Step(stepID); !ok {
		return nil, stepError(domain.KindStepNotFound, processID, stepID, nil)
	}

	exec, err := m.resolve(p.ID, stepID)
	if err != nil {
		return nil, err
	}

	data, err := m.registry.ReopenStep(ctx, processID, stepID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("retrying failed step",
		zap.String("process_id", processID),
		zap.String("step_id", stepID))

	return m.runner.Run(ctx, processID, stepID, exec, data)
}

// Status returns a status view of the process
func (m *Manager) Status(ctx context.Context, processID string) (*domain.StatusView, error) {
	return m.registry.Snapshot(ctx, processID)
}

// Process returns a copy of the full process run, including its data
func (m *Manager) Process(ctx context.Context, processID string) (*domain.ProcessRun, error) {
	return m.registry.Get(ctx, processID)
}

// ListProcesses summarizes every known process
func (m *Manager) ListProcesses(ctx context.Context) ([]domain.ProcessSummary, error) {
	return m.registry.List(ctx)
}

// Metrics returns the aggregated metrics
func (m *Manager) Metrics() domain.Metrics {
	return m.metrics.Snapshot(m.registry.ActiveCount())
}

// StreamSince returns the buffered events of a process with an ID greater
// than lastEventID.
func (m *Manager) StreamSince(ctx context.Context, processID string, lastEventID int64) ([]domain.Event, error) {
	if _, err := m.registry.get(ctx, processID); err != nil {
		return nil, err
	}
	return m.events.Since(processID, lastEventID), nil
}

// Sweep removes processes older than maxAge with their event buffers
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := m.registry.Sweep(ctx, maxAge)
	if err != nil {
		return n, err
	}
	m.metrics.SetActiveProcesses(m.registry.ActiveCount())

	if n > 0 {
		m.logger.Info("swept expired processes",
			zap.Int("count", n),
			zap.Duration("max_age", maxAge))
	}
	return n, nil
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	done := make(chan error, 1)
	go func() { done <- m.events.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to close event bus: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

// observe publishes a lifecycle transition and feeds the metrics
func (m *Manager) observe(ctx context.Context, run *domain.ProcessRun, eventType domain.EventType, payload map[string]any) {
	now := m.now()
	event := domain.Event{
		ProcessID: run.ID,
		Type:      eventType,
		Timestamp: now,
		Payload:   payload,
		Snapshot:  run.Snapshot(now),
		Webhooks:  slices.Clone(run.Webhooks),
	}

	if _, err := m.events.Publish(ctx, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("process_id", run.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}

	switch eventType {
	case domain.EventProcessStarted:
		m.metrics.RecordProcessStarted()
	case domain.EventProcessCompleted:
		m.metrics.RecordProcessCompletion(run.Duration(now))
	case domain.EventProcessFailed:
		m.metrics.RecordProcessFailure()
	case domain.EventStepCompleted:
		m.metrics.RecordStepOutcome(payloadStep(payload), true, payloadDuration(payload))
	case domain.EventStepFailed:
		m.metrics.RecordStepOutcome(payloadStep(payload), false, payloadDuration(payload))
	}

	if eventType == domain.EventProcessStarted || eventType.IsTerminal() {
		m.metrics.SetActiveProcesses(m.registry.ActiveCount())
	}
}

func (m *Manager) lookupPipeline(id string) (*domain.Pipeline, error) {
	if p, ok := m.adhoc.Load(id); ok {
		return p.(*domain.Pipeline), nil
	}
	if m.pipelines == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPipelineNotFound, id)
	}
	return m.pipelines.Get(id)
}

func (m *Manager) resolve(pipelineID, stepID string) (ports.Executor, error) {
	if m.executors == nil {
		return nil, fmt.Errorf("%w: no resolver configured for %s/%s", domain.ErrExecutorNotFound, pipelineID, stepID)
	}
	exec, err := m.executors.Resolve(pipelineID, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executor for step %s: %w", stepID, err)
	}
	return exec, nil
}

func payloadStep(payload map[string]any) string {
	id, _ := payload["step_id"].(string)
	return id
}

func payloadDuration(payload map[string]any) time.Duration {
	ms, _ := payload["duration_ms"].(int64)
	return time.Duration(ms) * time.Millisecond
}
