package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
	"go.uber.org/zap/zaptest"
)

func def(id string, required bool, deps ...string) domain.StepDefinition {
	return domain.StepDefinition{
		ID:                id,
		Name:              "Step " + id,
		Required:          required,
		Dependencies:      deps,
		EstimatedDuration: time.Second,
	}
}

func retries(n int) *int {
	return &n
}

func testPipeline(steps ...domain.StepDefinition) *domain.Pipeline {
	return &domain.Pipeline{ID: "test", Name: "Test", Steps: steps}
}

// resolver maps step IDs to executors regardless of pipeline
type resolver map[string]ports.Executor

func (r resolver) Resolve(pipelineID, stepID string) (ports.Executor, error) {
	exec, ok := r[stepID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrExecutorNotFound, pipelineID, stepID)
	}
	return exec, nil
}

func output(out map[string]any) ports.Executor {
	return func(ctx context.Context, input, data map[string]any) (map[string]any, error) {
		return out, nil
	}
}

func failing(msg string) ports.Executor {
	return func(ctx context.Context, input, data map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("%s", msg)
	}
}

// counting wraps an executor and counts its calls
type counting struct {
	mu    sync.Mutex
	calls int
	exec  ports.Executor
}

func (c *counting) Executor() ports.Executor {
	return func(ctx context.Context, input, data map[string]any) (map[string]any, error) {
		c.mu.Lock()
		c.calls++
		c.mu.Unlock()
		return c.exec(ctx, input, data)
	}
}

func (c *counting) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = -1
	}
	return NewManager(cfg)
}

func startProcess(t *testing.T, m *Manager, p *domain.Pipeline, data map[string]any) string {
	t.Helper()
	id, err := m.Start(context.Background(), p, data, StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return id
}

func mustStatus(t *testing.T, m *Manager, id string) *domain.StatusView {
	t.Helper()
	view, err := m.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return view
}

func eventTypes(events []domain.Event) []domain.EventType {
	types := make([]domain.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func stepStatus(view *domain.StatusView, id string) domain.StepStatus {
	for _, s := range view.Steps {
		if s.ID == id {
			return s.Status
		}
	}
	return ""
}

func stepSummary(view *domain.StatusView, id string) domain.StepSummary {
	for _, s := range view.Steps {
		if s.ID == id {
			return s
		}
	}
	return domain.StepSummary{}
}
