package domain

import (
	"slices"
	"time"
)

// StepSummary is the per-step part of a StatusView
type StepSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Required   bool       `json:"required"`
	Status     StepStatus `json:"status"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	RetryCount int        `json:"retry_count"`
	Error      string     `json:"error,omitempty"`
}

// StatusView is an immutable snapshot of a process run
type StatusView struct {
	ID                     string        `json:"id"`
	PipelineID             string        `json:"pipeline_id"`
	Status                 ProcessStatus `json:"status"`
	Progress               int           `json:"progress"`
	CurrentStep            string        `json:"current_step,omitempty"`
	CompletedSteps         []string      `json:"completed_steps"`
	FailedSteps            []string      `json:"failed_steps"`
	StartTime              time.Time     `json:"start_time"`
	EndTime                *time.Time    `json:"end_time,omitempty"`
	EstimatedCompletion    time.Time     `json:"estimated_completion"`
	EstimatedTimeRemaining int64         `json:"estimated_time_remaining_ms"`
	DurationMs             int64         `json:"duration_ms"`
	Errors                 []ErrorEntry  `json:"errors"`
	Warnings               []ErrorEntry  `json:"warnings"`
	FailureReason          string        `json:"failure_reason,omitempty"`
	Cancelled              bool          `json:"cancelled,omitempty"`
	Steps                  []StepSummary `json:"steps"`
}

// ProcessSummary is the list form of a process run
type ProcessSummary struct {
	ID          string        `json:"id"`
	PipelineID  string        `json:"pipeline_id"`
	Status      ProcessStatus `json:"status"`
	Progress    int           `json:"progress"`
	CurrentStep string        `json:"current_step,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	DurationMs  int64         `json:"duration_ms"`
	ErrorCount  int           `json:"error_count"`
}

// Snapshot builds a StatusView of p at time now
func (p *ProcessRun) Snapshot(now time.Time) *StatusView {
	duration := p.Duration(now)
	view := &StatusView{
		ID:                     p.ID,
		PipelineID:             p.PipelineID,
		Status:                 p.Status,
		Progress:               p.Progress,
		CurrentStep:            p.CurrentStep,
		CompletedSteps:         slices.Clone(p.CompletedSteps),
		FailedSteps:            slices.Clone(p.FailedSteps),
		StartTime:              p.StartTime,
		EndTime:                cloneTime(p.EndTime),
		EstimatedCompletion:    p.EstimatedCompletion,
		EstimatedTimeRemaining: estimateRemaining(duration, p.Progress, p.Status),
		DurationMs:             duration.Milliseconds(),
		Errors:                 slices.Clone(p.Errors),
		Warnings:               slices.Clone(p.Warnings),
		FailureReason:          p.FailureReason,
		Cancelled:              p.Cancelled,
		Steps:                  make([]StepSummary, 0, len(p.StepOrder)),
	}

	for _, id := range p.StepOrder {
		step, ok := p.Steps[id]
		if !ok {
			continue
		}
		summary := StepSummary{
			ID:         step.StepID,
			Name:       step.Name,
			Required:   step.Required,
			Status:     step.Status,
			RetryCount: step.RetryCount,
			Error:      step.Error,
		}
		if step.DurationMs != nil {
			d := *step.DurationMs
			summary.DurationMs = &d
		}
		view.Steps = append(view.Steps, summary)
	}
	return view
}

// Summary builds the list form of p at time now
func (p *ProcessRun) Summary(now time.Time) ProcessSummary {
	return ProcessSummary{
		ID:          p.ID,
		PipelineID:  p.PipelineID,
		Status:      p.Status,
		Progress:    p.Progress,
		CurrentStep: p.CurrentStep,
		StartTime:   p.StartTime,
		DurationMs:  p.Duration(now).Milliseconds(),
		ErrorCount:  len(p.Errors),
	}
}

// estimateRemaining extrapolates linearly from elapsed time and progress
func estimateRemaining(elapsed time.Duration, progress int, status ProcessStatus) int64 {
	if status.IsTerminal() || progress <= 0 {
		return 0
	}
	total := elapsed.Milliseconds() * 100 / int64(progress)
	remaining := total - elapsed.Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}
