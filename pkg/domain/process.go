package domain

import (
	"maps"
	"slices"
	"time"
)

// ProcessStatus is the lifecycle state of a process run
type ProcessStatus string

const (
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusFailed    ProcessStatus = "failed"
)

// IsTerminal reports whether no further steps may start
func (s ProcessStatus) IsTerminal() bool {
	return s != ProcessStatusRunning
}

// StepStatus is the lifecycle state of a step run
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// ErrorEntry is one recorded error or warning of a process run
type ErrorEntry struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StepRun is the per-process state of one declared step
type StepRun struct {
	StepID       string         `json:"step_id"`
	Name         string         `json:"name"`
	Required     bool           `json:"required"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       StepStatus     `json:"status"`
	StartTime    *time.Time     `json:"start_time,omitempty"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	DurationMs   *int64         `json:"duration_ms,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
}

// ProcessRun is one execution of a pipeline
type ProcessRun struct {
	ID                  string              `json:"id"`
	PipelineID          string              `json:"pipeline_id"`
	Status              ProcessStatus       `json:"status"`
	StartTime           time.Time           `json:"start_time"`
	EndTime             *time.Time          `json:"end_time,omitempty"`
	EstimatedCompletion time.Time           `json:"estimated_completion"`
	Data                map[string]any      `json:"data"`
	Progress            int                 `json:"progress"`
	CurrentStep         string              `json:"current_step,omitempty"`
	CompletedSteps      []string            `json:"completed_steps"`
	FailedSteps         []string            `json:"failed_steps"`
	Errors              []ErrorEntry        `json:"errors"`
	Warnings            []ErrorEntry        `json:"warnings"`
	FailureReason       string              `json:"failure_reason,omitempty"`
	Cancelled           bool                `json:"cancelled,omitempty"`
	Webhooks            []string            `json:"webhooks,omitempty"`
	StepOrder           []string            `json:"step_order"`
	Steps               map[string]*StepRun `json:"steps"`
}

// NewProcessRun creates a running process with one pending StepRun per step
func NewProcessRun(id string, p *Pipeline, initialData map[string]any, webhooks []string, now time.Time) *ProcessRun {
	run := &ProcessRun{
		ID:                  id,
		PipelineID:          p.ID,
		Status:              ProcessStatusRunning,
		StartTime:           now,
		EstimatedCompletion: now.Add(p.EstimatedDuration()),
		Data:                maps.Clone(initialData),
		CompletedSteps:      []string{},
		FailedSteps:         []string{},
		Errors:              []ErrorEntry{},
		Warnings:            []ErrorEntry{},
		Webhooks:            slices.Clone(webhooks),
		StepOrder:           make([]string, 0, len(p.Steps)),
		Steps:               make(map[string]*StepRun, len(p.Steps)),
	}
	if run.Data == nil {
		run.Data = make(map[string]any)
	}

	for i := range p.Steps {
		def := &p.Steps[i]
		run.StepOrder = append(run.StepOrder, def.ID)
		run.Steps[def.ID] = &StepRun{
			StepID:       def.ID,
			Name:         def.Name,
			Required:     def.Required,
			Dependencies: slices.Clone(def.Dependencies),
			Status:       StepStatusPending,
			MaxRetries:   def.RetryLimit(),
		}
	}
	return run
}

// MissingDependencies lists the dependencies of stepID that are not completed
func (p *ProcessRun) MissingDependencies(stepID string) []string {
	step, ok := p.Steps[stepID]
	if !ok {
		return nil
	}
	var missing []string
	for _, dep := range step.Dependencies {
		if d, ok := p.Steps[dep]; !ok || d.Status != StepStatusCompleted {
			missing = append(missing, dep)
		}
	}
	return missing
}

// AllRequiredCompleted reports whether every required step is completed
func (p *ProcessRun) AllRequiredCompleted() bool {
	for _, step := range p.Steps {
		if step.Required && step.Status != StepStatusCompleted {
			return false
		}
	}
	return true
}

// RecomputeProgress sets Progress from the share of completed required
// steps. Progress never decreases while the process is running.
func (p *ProcessRun) RecomputeProgress() {
	var required, done int
	for _, step := range p.Steps {
		if !step.Required {
			continue
		}
		required++
		if step.Status == StepStatusCompleted {
			done++
		}
	}
	if required == 0 {
		return
	}
	progress := (100*done + required/2) / required
	if progress > p.Progress {
		p.Progress = progress
	}
}

// MergeData merges a step output into the shared data namespace
func (p *ProcessRun) MergeData(output map[string]any) {
	if p.Data == nil {
		p.Data = make(map[string]any, len(output))
	}
	maps.Copy(p.Data, output)
}

// Duration is end-start for finished runs and now-start otherwise
func (p *ProcessRun) Duration(now time.Time) time.Duration {
	if p.EndTime != nil {
		return p.EndTime.Sub(p.StartTime)
	}
	return now.Sub(p.StartTime)
}

// Clone returns a copy that shares no mutable containers with p. Values
// stored in Data and step results are treated as immutable.
func (p *ProcessRun) Clone() *ProcessRun {
	c := *p
	c.EndTime = cloneTime(p.EndTime)
	c.Data = maps.Clone(p.Data)
	c.CompletedSteps = slices.Clone(p.CompletedSteps)
	c.FailedSteps = slices.Clone(p.FailedSteps)
	c.Errors = slices.Clone(p.Errors)
	c.Warnings = slices.Clone(p.Warnings)
	c.Webhooks = slices.Clone(p.Webhooks)
	c.StepOrder = slices.Clone(p.StepOrder)
	c.Steps = make(map[string]*StepRun, len(p.Steps))
	for id, step := range p.Steps {
		s := *step
		s.Dependencies = slices.Clone(step.Dependencies)
		s.StartTime = cloneTime(step.StartTime)
		s.EndTime = cloneTime(step.EndTime)
		if step.DurationMs != nil {
			d := *step.DurationMs
			s.DurationMs = &d
		}
		s.Result = maps.Clone(step.Result)
		c.Steps[id] = &s
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
