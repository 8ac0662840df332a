package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	storagememory "github.com/aescanero/genflow/pkg/adapters/storage/memory"
	"github.com/aescanero/genflow/pkg/domain"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedEvent struct {
	processID string
	eventType domain.EventType
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) observe(_ context.Context, run *domain.ProcessRun, t domain.EventType, _ map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{processID: run.ID, eventType: t})
	r.mu.Unlock()
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.eventType
	}
	return out
}

func newTestRegistry(t *testing.T, p *domain.Pipeline, opts ...RegistryOption) (*Registry, *recorder, *storagememory.ProcessStore) {
	t.Helper()
	if err := p.Validate(); err != nil {
		t.Fatalf("invalid pipeline: %v", err)
	}
	rec := &recorder{}
	store := storagememory.NewProcessStore()
	lookup := func(id string) (*domain.Pipeline, error) {
		if id != p.ID {
			return nil, domain.ErrPipelineNotFound
		}
		return p, nil
	}
	return NewRegistry(store, lookup, rec.observe, zaptest.NewLogger(t), opts...), rec, store
}

// --- Create / Snapshot ---

func TestRegistry_Create_InitialSnapshot(t *testing.T) {
	p := testPipeline(def("a", true), def("b", false, "a"))
	r, rec, _ := newTestRegistry(t, p)
	ctx := context.Background()

	run, err := r.Create(ctx, p, map[string]any{"k": "v"}, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	view, err := r.Snapshot(ctx, run.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if view.Status != domain.ProcessStatusRunning {
		t.Errorf("status = %s", view.Status)
	}
	if view.Progress != 0 {
		t.Errorf("progress = %d, want 0", view.Progress)
	}
	if len(view.Steps) != 2 {
		t.Fatalf("steps = %d", len(view.Steps))
	}
	for _, s := range view.Steps {
		if s.Status != domain.StepStatusPending {
			t.Errorf("step %s = %s, want pending", s.ID, s.Status)
		}
	}
	if view.EstimatedCompletion.Sub(view.StartTime) != time.Second {
		t.Errorf("estimated completion should count required steps only")
	}
	if got := rec.types(); len(got) != 1 || got[0] != domain.EventProcessStarted {
		t.Errorf("events = %v", got)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("active = %d", r.ActiveCount())
	}
}

func TestRegistry_Create_UniqueIDs(t *testing.T) {
	p := testPipeline(def("a", true))
	r, _, _ := newTestRegistry(t, p)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		run, err := r.Create(context.Background(), p, nil, nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if seen[run.ID] {
			t.Fatalf("duplicate process ID %s", run.ID)
		}
		seen[run.ID] = true
	}
}

// --- Completion rules ---

func TestRegistry_OptionalFailureDoesNotBlockCompletion(t *testing.T) {
	p := testPipeline(def("a", true), def("c", false))
	r, rec, _ := newTestRegistry(t, p)
	ctx := context.Background()

	run, _ := r.Create(ctx, p, nil, nil)

	if _, err := r.BeginStep(ctx, run.ID, "c"); err != nil {
		t.Fatalf("BeginStep c: %v", err)
	}
	outcome, err := r.FailAttempt(ctx, run.ID, "c", errors.New("optional broke"), false)
	if err != nil {
		t.Fatalf("FailAttempt: %v", err)
	}
	if outcome.WillRetry {
		t.Error("retry was not allowed")
	}

	view, _ := r.Snapshot(ctx, run.ID)
	if view.Status != domain.ProcessStatusRunning {
		t.Fatalf("optional failure changed status to %s", view.Status)
	}

	if _, err := r.BeginStep(ctx, run.ID, "a"); err != nil {
		t.Fatalf("BeginStep a: %v", err)
	}
	if err := r.CompleteStep(ctx, run.ID, "a", map[string]any{"ok": true}); err != nil {
		t.Fatalf("CompleteStep a: %v", err)
	}

	view, _ = r.Snapshot(ctx, run.ID)
	if view.Status != domain.ProcessStatusCompleted {
		t.Errorf("status = %s, want completed", view.Status)
	}
	if view.Progress != 100 {
		t.Errorf("progress = %d", view.Progress)
	}
	types := rec.types()
	if types[len(types)-1] != domain.EventProcessCompleted {
		t.Errorf("last event = %s", types[len(types)-1])
	}
	if r.ActiveCount() != 0 {
		t.Errorf("active = %d", r.ActiveCount())
	}
}

func TestRegistry_RequiredFailureFailsProcess(t *testing.T) {
	p := testPipeline(def("a", true), def("b", true))
	r, _, _ := newTestRegistry(t, p)
	ctx := context.Background()
	run, _ := r.Create(ctx, p, nil, nil)

	if _, err := r.BeginStep(ctx, run.ID, "a"); err != nil {
		t.Fatalf("BeginStep: %v", err)
	}
	if _, err := r.FailAttempt(ctx, run.ID, "a", errors.New("fatal"), false); err != nil {
		t.Fatalf("FailAttempt: %v", err)
	}

	view, _ := r.Snapshot(ctx, run.ID)
	if view.Status != domain.ProcessStatusFailed {
		t.Fatalf("status = %s", view.Status)
	}
	if view.FailureReason != "Required step a failed: fatal" {
		t.Errorf("reason = %q", view.FailureReason)
	}
	if _, err := r.BeginStep(ctx, run.ID, "b"); !errors.Is(err, domain.ErrProcessNotRunning) {
		t.Errorf("BeginStep on failed process: %v", err)
	}
}

// --- Cancel / Reopen ---

func TestRegistry_Cancel(t *testing.T) {
	p := testPipeline(def("a", true))
	r, rec, _ := newTestRegistry(t, p)
	ctx := context.Background()
	run, _ := r.Create(ctx, p, nil, nil)

	view, err := r.Cancel(ctx, run.ID, CancelReason)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if view.Status != domain.ProcessStatusFailed || view.FailureReason != CancelReason || !view.Cancelled {
		t.Errorf("view = %+v", view)
	}
	if got := rec.types(); got[len(got)-1] != domain.EventProcessFailed {
		t.Errorf("events = %v", got)
	}

	if _, err := r.Cancel(ctx, run.ID, CancelReason); !errors.Is(err, domain.ErrInvalidStepState) {
		t.Errorf("second cancel: %v", err)
	}
	if _, err := r.Cancel(ctx, "nope", CancelReason); !errors.Is(err, domain.ErrProcessNotFound) {
		t.Errorf("unknown cancel: %v", err)
	}
}

func TestRegistry_ReopenStep(t *testing.T) {
	p := testPipeline(def("a", true))
	r, _, _ := newTestRegistry(t, p)
	ctx := context.Background()
	run, _ := r.Create(ctx, p, map[string]any{"seed": 1}, nil)

	if _, err := r.ReopenStep(ctx, run.ID, "a"); !errors.Is(err, domain.ErrInvalidStepState) {
		t.Errorf("reopen pending step: %v", err)
	}

	_, _ = r.BeginStep(ctx, run.ID, "a")
	_, _ = r.FailAttempt(ctx, run.ID, "a", errors.New("fatal"), false)

	data, err := r.ReopenStep(ctx, run.ID, "a")
	if err != nil {
		t.Fatalf("ReopenStep failed: %v", err)
	}
	if data["seed"] != 1 {
		t.Errorf("data = %v", data)
	}

	view, _ := r.Snapshot(ctx, run.ID)
	if view.Status != domain.ProcessStatusRunning {
		t.Errorf("status = %s", view.Status)
	}
	if len(view.FailedSteps) != 0 {
		t.Errorf("failed steps = %v", view.FailedSteps)
	}
	if s := stepSummary(view, "a"); s.Status != domain.StepStatusPending || s.RetryCount != 0 {
		t.Errorf("step = %+v", s)
	}
	if view.FailureReason != "" {
		t.Errorf("reason = %q", view.FailureReason)
	}
}

// --- Persistence / sweep ---

func TestRegistry_LoadsFromStore(t *testing.T) {
	p := testPipeline(def("a", true))
	r, _, store := newTestRegistry(t, p)
	ctx := context.Background()
	run, _ := r.Create(ctx, p, nil, nil)
	_, _ = r.BeginStep(ctx, run.ID, "a")

	other := NewRegistry(store, func(string) (*domain.Pipeline, error) { return p, nil }, nil, zaptest.NewLogger(t))
	view, err := other.Snapshot(ctx, run.ID)
	if err != nil {
		t.Fatalf("Snapshot from second registry: %v", err)
	}
	if stepStatus(view, "a") != domain.StepStatusRunning {
		t.Errorf("step = %s, want running", stepStatus(view, "a"))
	}
	if other.ActiveCount() != 1 {
		t.Errorf("active = %d", other.ActiveCount())
	}
}

func TestRegistry_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := testPipeline(def("a", true))
	r, _, store := newTestRegistry(t, p, WithClock(clock.Now))
	ctx := context.Background()

	var evicted []string
	r.OnEvict(func(id string) { evicted = append(evicted, id) })

	old, _ := r.Create(ctx, p, nil, nil)
	clock.Advance(23 * time.Hour)
	fresh, _ := r.Create(ctx, p, nil, nil)
	clock.Advance(2 * time.Hour)

	n, err := r.Sweep(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if len(evicted) != 1 || evicted[0] != old.ID {
		t.Errorf("evicted = %v", evicted)
	}
	if _, err := r.Snapshot(ctx, old.ID); !errors.Is(err, domain.ErrProcessNotFound) {
		t.Errorf("old process still visible: %v", err)
	}
	if _, err := store.Load(ctx, old.ID); !errors.Is(err, domain.ErrProcessNotFound) {
		t.Errorf("old process still stored: %v", err)
	}
	if _, err := r.Snapshot(ctx, fresh.ID); err != nil {
		t.Errorf("fresh process swept: %v", err)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("active = %d", r.ActiveCount())
	}
}

func TestRegistry_List(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := testPipeline(def("a", true))
	r, _, _ := newTestRegistry(t, p, WithClock(clock.Now))
	ctx := context.Background()

	first, _ := r.Create(ctx, p, nil, nil)
	clock.Advance(time.Minute)
	second, _ := r.Create(ctx, p, nil, nil)

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("list = %+v", list)
	}
	if list[0].DurationMs != time.Minute.Milliseconds() {
		t.Errorf("duration = %d", list[0].DurationMs)
	}
}
