package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type poolMetrics struct {
	mu                  sync.Mutex
	idle, busy, stopped int
	depth               int
}

func (m *poolMetrics) RecordWorkerPoolStatus(idle, busy, stopped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle, m.busy, m.stopped = idle, busy, stopped
}

func (m *poolMetrics) SetQueueDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = depth
}

// --- Pool Tests ---

func TestPool_RunsJobs(t *testing.T) {
	pool := NewPool(3, 10, &poolMetrics{}, zaptest.NewLogger(t), time.Hour)
	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		err := pool.Submit(Job{ID: "job", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if ran.Load() != 10 {
		t.Errorf("ran %d jobs, want 10", ran.Load())
	}

	for id, status := range pool.GetStatus() {
		if status != WorkerStatusStopped {
			t.Errorf("worker %s status = %s", id, status)
		}
	}
}

func TestPool_SubmitQueueFull(t *testing.T) {
	pool := NewPool(1, 1, nil, zaptest.NewLogger(t), time.Hour)
	if err := pool.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := Job{ID: "block", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := pool.Submit(blocking); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	noop := Job{ID: "noop", Run: func(ctx context.Context) error { return nil }}
	if err := pool.Submit(noop); err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	if err := pool.Submit(noop); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	close(release)
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := pool.Submit(noop); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPool_ShutdownTimeoutCancelsJobs(t *testing.T) {
	pool := NewPool(1, 1, nil, zaptest.NewLogger(t), time.Hour)
	_ = pool.Start()

	cancelled := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(Job{ID: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); err == nil {
		t.Error("expected shutdown timeout")
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running job was not cancelled")
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := NewPool(1, 2, nil, zaptest.NewLogger(t), time.Hour)
	_ = pool.Start()

	var after atomic.Bool
	_ = pool.Submit(Job{ID: "boom", Run: func(ctx context.Context) error { panic("boom") }})
	_ = pool.Submit(Job{ID: "after", Run: func(ctx context.Context) error {
		after.Store(true)
		return nil
	}})

	_ = pool.Shutdown(context.Background())
	if !after.Load() {
		t.Error("worker did not survive a panicking job")
	}
}

// --- HealthMonitor Tests ---

func TestHealthMonitor_Status(t *testing.T) {
	metrics := &poolMetrics{}
	pool := NewPool(2, 1, metrics, zaptest.NewLogger(t), time.Hour)

	if pool.Health().IsHealthy() {
		t.Error("pool should be unhealthy before Start")
	}

	var changes []bool
	pool.Health().OnChange(func(healthy bool) { changes = append(changes, healthy) })

	_ = pool.Start()
	status := pool.Health().GetStatus()
	if !status.Healthy || status.IdleWorkers != 2 || status.TotalWorkers != 2 {
		t.Errorf("status = %+v", status)
	}

	pool.Health().checkHealth()
	if len(changes) != 1 || !changes[0] {
		t.Errorf("changes = %v, want [true]", changes)
	}
	if metrics.idle != 2 {
		t.Errorf("recorded idle = %d", metrics.idle)
	}

	_ = pool.Shutdown(context.Background())
	pool.Health().checkHealth()
	if len(changes) != 2 || changes[1] {
		t.Errorf("changes = %v, want [true false]", changes)
	}
}

// --- Sweeper Tests ---

type sweepTarget struct {
	calls  atomic.Int32
	maxAge time.Duration
}

func (s *sweepTarget) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	s.calls.Add(1)
	s.maxAge = maxAge
	return 2, nil
}

func TestSweeper_RunOnce(t *testing.T) {
	target := &sweepTarget{}
	s, err := NewSweeper("", 24*time.Hour, target, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	if n := s.RunOnce(context.Background()); n != 2 {
		t.Errorf("RunOnce = %d, want 2", n)
	}
	if target.maxAge != 24*time.Hour {
		t.Errorf("maxAge = %v", target.maxAge)
	}
}

func TestSweeper_Schedule(t *testing.T) {
	target := &sweepTarget{}
	s, err := NewSweeper("@every 1s", time.Hour, target, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for target.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if target.calls.Load() == 0 {
		t.Error("scheduled sweep never ran")
	}
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	if _, err := NewSweeper("every tuesday", time.Hour, &sweepTarget{}, zaptest.NewLogger(t)); err == nil {
		t.Error("expected error")
	}
}
