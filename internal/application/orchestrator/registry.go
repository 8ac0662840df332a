package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer receives lifecycle transitions. It is called while the process
// lock is held, so a process's transitions arrive in order.
type Observer func(ctx context.Context, run *domain.ProcessRun, eventType domain.EventType, payload map[string]any)

// PipelineLookup resolves the pipeline of a process loaded from the store
type PipelineLookup func(pipelineID string) (*domain.Pipeline, error)

// StepAttempt is what the runner needs to invoke an executor
type StepAttempt struct {
	Definition *domain.StepDefinition
	Data       map[string]any
	Attempt    int
}

// FailureOutcome describes what a failed attempt did to the step
type FailureOutcome struct {
	WillRetry  bool
	RetryCount int
	Attempts   int
}

// Registry owns every ProcessRun. Each process has its own lock and every
// mutation is written through to the process store.
type Registry struct {
	store   ports.ProcessStore
	lookup  PipelineLookup
	observe Observer
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string

	mu      sync.RWMutex
	entries map[string]*entry
	active  atomic.Int64

	hooksMu    sync.RWMutex
	evictHooks []func(processID string)
}

type entry struct {
	mu       sync.Mutex
	run      *domain.ProcessRun
	pipeline *domain.Pipeline
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithClock replaces time.Now
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator replaces the UUID process ID generator
func WithIDGenerator(newID func() string) RegistryOption {
	return func(r *Registry) { r.newID = newID }
}

// NewRegistry creates a registry backed by store. observe may be nil.
func NewRegistry(store ports.ProcessStore, lookup PipelineLookup, observe Observer, logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:   store,
		lookup:  lookup,
		observe: observe,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.observe == nil {
		r.observe = func(context.Context, *domain.ProcessRun, domain.EventType, map[string]any) {}
	}
	return r
}

// OnEvict registers a hook called after a process is swept
func (r *Registry) OnEvict(hook func(processID string)) {
	r.hooksMu.Lock()
	r.evictHooks = append(r.evictHooks, hook)
	r.hooksMu.Unlock()
}

// ActiveCount returns the number of known running processes
func (r *Registry) ActiveCount() int {
	return int(r.active.Load())
}

// Create registers a new running process for p and emits ProcessStarted
func (r *Registry) Create(ctx context.Context, p *domain.Pipeline, initialData map[string]any, webhooks []string) (*domain.ProcessRun, error) {
	run := domain.NewProcessRun(r.newID(), p, initialData, webhooks, r.now())

	if err := r.store.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save process: %w", err)
	}

	e := &entry{run: run, pipeline: p}
	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	r.entries[run.ID] = e
	r.mu.Unlock()
	r.active.Add(1)

	r.observe(ctx, run, domain.EventProcessStarted, map[string]any{
		"pipeline_id":   p.ID,
		"pipeline_name": p.Name,
		"total_steps":   len(p.Steps),
	})
	return run.Clone(), nil
}

// get returns the entry for id, loading it from the store if needed
func (r *Registry) get(ctx context.Context, id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	run, err := r.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProcessNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProcessNotFound, id)
		}
		return nil, fmt.Errorf("failed to load process %s: %w", id, err)
	}
	if r.lookup == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPipelineNotFound, run.PipelineID)
	}
	p, err := r.lookup(run.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pipeline of process %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[id]; ok {
		return existing, nil
	}
	e = &entry{run: run, pipeline: p}
	r.entries[id] = e
	if run.Status == domain.ProcessStatusRunning {
		r.active.Add(1)
	}

	r.logger.Debug("process loaded from store", zap.String("process_id", id))
	return e, nil
}

// update runs fn under the process lock and persists the run when fn
// succeeds. fn must not change state when it returns an error.
func (r *Registry) update(ctx context.Context, id string, fn func(e *entry) error) error {
	e, err := r.get(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e); err != nil {
		return err
	}
	r.persist(ctx, e.run)
	return nil
}

// view runs fn under the process lock without persisting
func (r *Registry) view(ctx context.Context, id string, fn func(e *entry)) error {
	e, err := r.get(ctx, id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
	return nil
}

// persist writes the run through to the store. The in-memory state stays
// authoritative when the store fails.
func (r *Registry) persist(ctx context.Context, run *domain.ProcessRun) {
	if err := r.store.Save(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Error("failed to persist process",
			zap.String("process_id", run.ID),
			zap.Error(err))
	}
}

func (r *Registry) setStatus(run *domain.ProcessRun, status domain.ProcessStatus) {
	wasRunning := run.Status == domain.ProcessStatusRunning
	run.Status = status
	switch {
	case wasRunning && status != domain.ProcessStatusRunning:
		r.active.Add(-1)
	case !wasRunning && status == domain.ProcessStatusRunning:
		r.active.Add(1)
	}
}

// Get returns a copy of the process run
func (r *Registry) Get(ctx context.Context, id string) (*domain.ProcessRun, error) {
	var run *domain.ProcessRun
	err := r.view(ctx, id, func(e *entry) { run = e.run.Clone() })
	return run, err
}

// Pipeline returns the pipeline a process was started from
func (r *Registry) Pipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	e, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.pipeline, nil
}

// Snapshot returns an immutable status view of the process
func (r *Registry) Snapshot(ctx context.Context, id string) (*domain.StatusView, error) {
	var view *domain.StatusView
	err := r.view(ctx, id, func(e *entry) { view = e.run.Snapshot(r.now()) })
	return view, err
}

// StepStatus returns the process status and the status of one step
func (r *Registry) StepStatus(ctx context.Context, id, stepID string) (domain.ProcessStatus, domain.StepStatus, error) {
	var (
		ps  domain.ProcessStatus
		ss  domain.StepStatus
		err error
	)
	verr := r.view(ctx, id, func(e *entry) {
		ps = e.run.Status
		step, ok := e.run.Steps[stepID]
		if !ok {
			err = stepError(domain.KindStepNotFound, id, stepID, nil)
			return
		}
		ss = step.Status
	})
	if verr != nil {
		return "", "", verr
	}
	return ps, ss, err
}

// BeginStep checks the run preconditions, marks the step Running and emits
// StepStarted. Precondition failures change nothing.
func (r *Registry) BeginStep(ctx context.Context, id, stepID string) (*StepAttempt, error) {
	var attempt *StepAttempt
	err := r.update(ctx, id, func(e *entry) error {
		run := e.run
		if run.Status != domain.ProcessStatusRunning {
			return stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("%w: process is %s", domain.ErrProcessNotRunning, run.Status))
		}

		def, ok := e.pipeline.Step(stepID)
		step, known := run.Steps[stepID]
		if !ok || !known {
			return stepError(domain.KindStepNotFound, id, stepID, nil)
		}
		if step.Status != domain.StepStatusPending {
			return stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("step is %s", step.Status))
		}
		if missing := run.MissingDependencies(stepID); len(missing) > 0 {
			se := stepError(domain.KindDependencyNotReady, id, stepID, nil)
			se.Missing = missing
			return se
		}

		attempt = r.start(ctx, run, step, def)
		return nil
	})
	return attempt, err
}

// ContinueStep starts the next attempt of a step that is being retried. If
// the process stopped running during the backoff, the step is failed and
// an InvalidStepState error is returned.
func (r *Registry) ContinueStep(ctx context.Context, id, stepID string) (*StepAttempt, error) {
	var (
		attempt *StepAttempt
		stopped error
	)
	err := r.update(ctx, id, func(e *entry) error {
		run := e.run
		def, ok := e.pipeline.Step(stepID)
		step, known := run.Steps[stepID]
		if !ok || !known {
			return stepError(domain.KindStepNotFound, id, stepID, nil)
		}
		if step.Status != domain.StepStatusRunning {
			return stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("step is %s", step.Status))
		}

		if run.Status != domain.ProcessStatusRunning {
			stopped = stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("%w: process is %s", domain.ErrProcessNotRunning, run.Status))
			r.fail(ctx, run, step, stopped)
			return nil
		}

		attempt = r.start(ctx, run, step, def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attempt, stopped
}

func (r *Registry) start(ctx context.Context, run *domain.ProcessRun, step *domain.StepRun, def *domain.StepDefinition) *StepAttempt {
	now := r.now()
	step.Status = domain.StepStatusRunning
	step.StartTime = &now
	step.EndTime = nil
	step.DurationMs = nil
	run.CurrentStep = step.StepID

	r.observe(ctx, run, domain.EventStepStarted, map[string]any{
		"step_id":   step.StepID,
		"step_name": step.Name,
		"attempt":   step.RetryCount + 1,
	})

	return &StepAttempt{
		Definition: def,
		Data:       maps.Clone(run.Data),
		Attempt:    step.RetryCount + 1,
	}
}

// CompleteStep records a successful attempt. When every required step is
// completed the process completes. A process that became terminal while the
// executor ran keeps its status; the output is still merged.
func (r *Registry) CompleteStep(ctx context.Context, id, stepID string, output map[string]any) error {
	return r.update(ctx, id, func(e *entry) error {
		run := e.run
		step, ok := run.Steps[stepID]
		if !ok {
			return stepError(domain.KindStepNotFound, id, stepID, nil)
		}
		if step.Status != domain.StepStatusRunning {
			return stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("step is %s", step.Status))
		}

		now := r.now()
		duration := elapsed(step.StartTime, now)
		ms := duration.Milliseconds()
		step.Status = domain.StepStatusCompleted
		step.EndTime = &now
		step.DurationMs = &ms
		step.Result = maps.Clone(output)
		step.Error = ""

		run.MergeData(output)
		if !slices.Contains(run.CompletedSteps, stepID) {
			run.CompletedSteps = append(run.CompletedSteps, stepID)
		}
		if run.Status == domain.ProcessStatusRunning {
			run.RecomputeProgress()
		}

		r.observe(ctx, run, domain.EventStepCompleted, map[string]any{
			"step_id":     stepID,
			"step_name":   step.Name,
			"duration_ms": ms,
			"attempt":     step.RetryCount + 1,
			"result":      maps.Clone(output),
		})

		if run.Status == domain.ProcessStatusRunning && run.AllRequiredCompleted() {
			r.setStatus(run, domain.ProcessStatusCompleted)
			run.EndTime = &now
			run.Progress = 100
			r.observe(ctx, run, domain.EventProcessCompleted, map[string]any{
				"duration_ms": run.Duration(now).Milliseconds(),
				"data":        maps.Clone(run.Data),
			})
		}
		return nil
	})
}

// FailAttempt records a failed attempt. The step is retried when
// allowRetry is set, the process is running and the retry budget is not
// spent; otherwise the step fails and, if required, so does the process.
func (r *Registry) FailAttempt(ctx context.Context, id, stepID string, cause error, allowRetry bool) (FailureOutcome, error) {
	var outcome FailureOutcome
	err := r.update(ctx, id, func(e *entry) error {
		run := e.run
		step, ok := run.Steps[stepID]
		if !ok {
			return stepError(domain.KindStepNotFound, id, stepID, nil)
		}
		if step.Status != domain.StepStatusRunning {
			return stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("step is %s", step.Status))
		}

		outcome.Attempts = step.RetryCount + 1
		if allowRetry && run.Status == domain.ProcessStatusRunning && step.RetryCount < step.MaxRetries {
			now := r.now()
			msg := errorMessage(cause)
			step.RetryCount++
			step.Error = msg
			run.Warnings = append(run.Warnings, domain.ErrorEntry{
				Step:      stepID,
				Message:   fmt.Sprintf("attempt %d failed: %s", outcome.Attempts, msg),
				Timestamp: now,
			})

			r.observe(ctx, run, domain.EventStepFailed, map[string]any{
				"step_id":     stepID,
				"step_name":   step.Name,
				"error":       msg,
				"kind":        string(domain.KindOf(cause)),
				"retry_count": step.RetryCount,
				"will_retry":  true,
				"duration_ms": elapsed(step.StartTime, now).Milliseconds(),
			})

			outcome.WillRetry = true
			outcome.RetryCount = step.RetryCount
			return nil
		}

		r.fail(ctx, run, step, cause)
		outcome.RetryCount = step.RetryCount
		return nil
	})
	return outcome, err
}

// fail marks a running step Failed and fails the process for required steps
func (r *Registry) fail(ctx context.Context, run *domain.ProcessRun, step *domain.StepRun, cause error) {
	now := r.now()
	msg := errorMessage(cause)
	duration := elapsed(step.StartTime, now)
	ms := duration.Milliseconds()

	step.Status = domain.StepStatusFailed
	step.EndTime = &now
	step.DurationMs = &ms
	step.Error = msg

	if !slices.Contains(run.FailedSteps, step.StepID) {
		run.FailedSteps = append(run.FailedSteps, step.StepID)
	}
	run.Errors = append(run.Errors, domain.ErrorEntry{
		Step:      step.StepID,
		Message:   msg,
		Timestamp: now,
	})

	r.observe(ctx, run, domain.EventStepFailed, map[string]any{
		"step_id":     step.StepID,
		"step_name":   step.Name,
		"error":       msg,
		"kind":        string(domain.KindOf(cause)),
		"retry_count": step.RetryCount,
		"will_retry":  false,
		"duration_ms": ms,
	})

	if step.Required && run.Status == domain.ProcessStatusRunning {
		r.setStatus(run, domain.ProcessStatusFailed)
		run.EndTime = &now
		run.FailureReason = fmt.Sprintf("Required step %s failed: %s", step.StepID, msg)
		r.observe(ctx, run, domain.EventProcessFailed, map[string]any{
			"reason":      run.FailureReason,
			"failed_step": step.StepID,
			"duration_ms": run.Duration(now).Milliseconds(),
			"data":        maps.Clone(run.Data),
		})
	}
}

// Cancel fails a running process with reason and emits ProcessFailed
func (r *Registry) Cancel(ctx context.Context, id, reason string) (*domain.StatusView, error) {
	var view *domain.StatusView
	err := r.update(ctx, id, func(e *entry) error {
		run := e.run
		if run.Status.IsTerminal() {
			return fmt.Errorf("%w: process %s is %s", domain.ErrProcessNotRunning, id, run.Status)
		}

		now := r.now()
		r.setStatus(run, domain.ProcessStatusFailed)
		run.EndTime = &now
		run.FailureReason = reason
		run.Cancelled = true

		r.observe(ctx, run, domain.EventProcessFailed, map[string]any{
			"reason":      reason,
			"cancelled":   true,
			"duration_ms": run.Duration(now).Milliseconds(),
			"data":        maps.Clone(run.Data),
		})
		view = run.Snapshot(now)
		return nil
	})
	return view, err
}

// ReopenStep resets a failed step to Pending so it can run again. A failed
// process is reopened; cancelled and completed processes are rejected. It
// returns a copy of the accumulated data.
func (r *Registry) ReopenStep(ctx context.Context, id, stepID string) (map[string]any, error) {
	var data map[string]any
	err := r.update(ctx, id, func(e *entry) error {
		run := e.run
		step, ok := run.Steps[stepID]
		if !ok {
			return stepError(domain.KindStepNotFound, id, stepID, nil)
		}
		if step.Status != domain.StepStatusFailed {
			return stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("only failed steps can be retried, step is %s", step.Status))
		}
		if run.Cancelled {
			return stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("%w: process was cancelled", domain.ErrProcessNotRunning))
		}
		switch run.Status {
		case domain.ProcessStatusRunning:
		case domain.ProcessStatusFailed:
			r.setStatus(run, domain.ProcessStatusRunning)
			run.EndTime = nil
			run.FailureReason = ""
		default:
			return stepError(domain.KindInvalidStepState, id, stepID,
				fmt.Errorf("%w: process is %s", domain.ErrProcessNotRunning, run.Status))
		}

		step.Status = domain.StepStatusPending
		step.RetryCount = 0
		step.Error = ""
		step.StartTime = nil
		step.EndTime = nil
		step.DurationMs = nil
		run.FailedSteps = slices.DeleteFunc(run.FailedSteps, func(s string) bool { return s == stepID })

		data = maps.Clone(run.Data)
		return nil
	})
	return data, err
}

// ids returns the union of stored and in-memory process IDs
func (r *Registry) ids(ctx context.Context) ([]string, error) {
	stored, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	seen := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		seen[id] = struct{}{}
	}
	r.mu.RLock()
	for id := range r.entries {
		seen[id] = struct{}{}
	}
	r.mu.RUnlock()

	return slices.Collect(maps.Keys(seen)), nil
}

// List returns a summary of every known process, oldest first
func (r *Registry) List(ctx context.Context) ([]domain.ProcessSummary, error) {
	ids, err := r.ids(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	summaries := make([]domain.ProcessSummary, 0, len(ids))
	for _, id := range ids {
		err := r.view(ctx, id, func(e *entry) {
			summaries = append(summaries, e.run.Summary(now))
		})
		if errors.Is(err, domain.ErrProcessNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].StartTime.Equal(summaries[j].StartTime) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].StartTime.Before(summaries[j].StartTime)
	})
	return summaries, nil
}

// Sweep removes processes started more than maxAge ago, regardless of
// status, and runs the eviction hooks for each of them.
func (r *Registry) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := r.ids(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-maxAge)
	var evicted []string
	for _, id := range ids {
		var (
			start   time.Time
			running bool
		)
		err := r.view(ctx, id, func(e *entry) {
			start = e.run.StartTime
			running = e.run.Status == domain.ProcessStatusRunning
		})
		if errors.Is(err, domain.ErrProcessNotFound) {
			continue
		}
		if err != nil {
			r.logger.Warn("failed to inspect process during sweep",
				zap.String("process_id", id),
				zap.Error(err))
			continue
		}
		if !start.Before(cutoff) {
			continue
		}

		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
		if running {
			r.active.Add(-1)
		}
		if err := r.store.Delete(ctx, id); err != nil {
			r.logger.Warn("failed to delete process from store",
				zap.String("process_id", id),
				zap.Error(err))
		}
		evicted = append(evicted, id)
	}

	r.hooksMu.RLock()
	hooks := slices.Clone(r.evictHooks)
	r.hooksMu.RUnlock()
	for _, id := range evicted {
		for _, hook := range hooks {
			hook(id)
		}
	}

	return len(evicted), nil
}

func stepError(kind domain.ErrorKind, processID, stepID string, err error) *domain.StepError {
	return &domain.StepError{Kind: kind, ProcessID: processID, StepID: stepID, Err: err}
}

func errorMessage(err error) string {
	var se *domain.StepError
	if errors.As(err, &se) {
		return se.Message()
	}
	return err.Error()
}

func elapsed(start *time.Time, now time.Time) time.Duration {
	if start == nil {
		return 0
	}
	return now.Sub(*start)
}
