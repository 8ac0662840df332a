package orchestrator

import (
	"sync"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
)

// MetricsAggregator keeps process and step counters in memory and mirrors
// every observation to an optional collector.
type MetricsAggregator struct {
	mu sync.Mutex

	total     int
	completed int
	failed    int
	avgMs     float64
	steps     map[string]*stepCounters

	collector ports.MetricsCollector
}

type stepCounters struct {
	total      int
	successful int
	avgMs      float64
}

// NewMetricsAggregator creates an aggregator. collector may be nil.
func NewMetricsAggregator(collector ports.MetricsCollector) *MetricsAggregator {
	return &MetricsAggregator{
		steps:     make(map[string]*stepCounters),
		collector: collector,
	}
}

// RecordProcessStarted counts a new process
func (a *MetricsAggregator) RecordProcessStarted() {
	a.mu.Lock()
	a.total++
	a.mu.Unlock()

	if a.collector != nil {
		a.collector.RecordProcessStarted()
	}
}

// RecordProcessCompletion counts a completed process and folds its duration
// into the running mean.
func (a *MetricsAggregator) RecordProcessCompletion(duration time.Duration) {
	a.mu.Lock()
	a.completed++
	a.avgMs += (float64(duration.Milliseconds()) - a.avgMs) / float64(a.completed)
	a.mu.Unlock()

	if a.collector != nil {
		a.collector.RecordProcessCompleted(duration)
	}
}

// RecordProcessFailure counts a failed or cancelled process
func (a *MetricsAggregator) RecordProcessFailure() {
	a.mu.Lock()
	a.failed++
	a.mu.Unlock()

	if a.collector != nil {
		a.collector.RecordProcessFailed()
	}
}

// RecordStepOutcome counts one step attempt. Only successful attempts feed
// the average duration.
func (a *MetricsAggregator) RecordStepOutcome(stepID string, success bool, duration time.Duration) {
	a.mu.Lock()
	c, ok := a.steps[stepID]
	if !ok {
		c = &stepCounters{}
		a.steps[stepID] = c
	}
	c.total++
	if success {
		c.successful++
		c.avgMs += (float64(duration.Milliseconds()) - c.avgMs) / float64(c.successful)
	}
	a.mu.Unlock()

	if a.collector != nil {
		a.collector.RecordStepExecuted(stepID, success, duration)
	}
}

// SetActiveProcesses updates the active process gauge
func (a *MetricsAggregator) SetActiveProcesses(n int) {
	if a.collector != nil {
		a.collector.SetActiveProcesses(n)
	}
}

// Snapshot returns the current metrics. active is supplied by the registry.
func (a *MetricsAggregator) Snapshot(active int) domain.Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := domain.Metrics{
		TotalProcesses:          a.total,
		CompletedProcesses:      a.completed,
		FailedProcesses:         a.failed,
		ActiveProcesses:         active,
		AverageCompletionTimeMs: a.avgMs,
		Steps:                   make(map[string]domain.StepMetrics, len(a.steps)),
	}
	if a.total > 0 {
		m.SuccessRate = float64(a.completed) / float64(a.total) * 100
	}

	for id, c := range a.steps {
		sm := domain.StepMetrics{
			TotalExecutions:      c.total,
			SuccessfulExecutions: c.successful,
			AverageDurationMs:    c.avgMs,
		}
		if c.total > 0 {
			sm.ErrorRate = 1 - float64(c.successful)/float64(c.total)
		}
		m.Steps[id] = sm
	}
	return m
}
