package orchestrator

import (
	"testing"
	"time"
)

func TestMetricsAggregator_Empty(t *testing.T) {
	m := NewMetricsAggregator(nil).Snapshot(0)

	if m.TotalProcesses != 0 || m.SuccessRate != 0 || m.AverageCompletionTimeMs != 0 {
		t.Errorf("empty metrics = %+v", m)
	}
	if m.Steps == nil {
		t.Error("steps map should be initialized")
	}
}

func TestMetricsAggregator_SuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		failed    int
		running   int
		want      float64
	}{
		{"all completed", 4, 0, 0, 100},
		{"half", 2, 2, 0, 50},
		{"with running", 1, 1, 2, 25},
		{"none completed", 0, 3, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewMetricsAggregator(nil)
			for i := 0; i < tt.completed+tt.failed+tt.running; i++ {
				a.RecordProcessStarted()
			}
			for i := 0; i < tt.completed; i++ {
				a.RecordProcessCompletion(time.Second)
			}
			for i := 0; i < tt.failed; i++ {
				a.RecordProcessFailure()
			}

			m := a.Snapshot(tt.running)
			if m.SuccessRate != tt.want {
				t.Errorf("success rate = %v, want %v", m.SuccessRate, tt.want)
			}
			if m.ActiveProcesses != tt.running {
				t.Errorf("active = %d", m.ActiveProcesses)
			}
		})
	}
}

func TestMetricsAggregator_Averages(t *testing.T) {
	a := NewMetricsAggregator(nil)
	a.RecordProcessStarted()
	a.RecordProcessStarted()
	a.RecordProcessCompletion(100 * time.Millisecond)
	a.RecordProcessCompletion(300 * time.Millisecond)

	a.RecordStepOutcome("s", true, 10*time.Millisecond)
	a.RecordStepOutcome("s", false, 999*time.Millisecond)
	a.RecordStepOutcome("s", true, 30*time.Millisecond)
	a.RecordStepOutcome("s", false, 0)

	m := a.Snapshot(0)
	if m.AverageCompletionTimeMs != 200 {
		t.Errorf("average completion = %v, want 200", m.AverageCompletionTimeMs)
	}

	s := m.Steps["s"]
	if s.TotalExecutions != 4 || s.SuccessfulExecutions != 2 {
		t.Errorf("step counts = %+v", s)
	}
	if s.AverageDurationMs != 20 {
		t.Errorf("step average = %v, want 20", s.AverageDurationMs)
	}
	if s.ErrorRate != 0.5 {
		t.Errorf("error rate = %v, want 0.5", s.ErrorRate)
	}
}
