package domain

import (
	"fmt"
	"time"
)

// DefaultMaxRetries is used when a step does not declare MaxRetries
const DefaultMaxRetries = 3

// StepDefinition describes one step of a pipeline. It is never mutated
// after the pipeline is validated.
type StepDefinition struct {
	ID                string        `json:"id" yaml:"id"`
	Name              string        `json:"name" yaml:"name"`
	Description       string        `json:"description,omitempty" yaml:"description"`
	EstimatedDuration time.Duration `json:"estimated_duration" yaml:"estimated_duration"`
	Dependencies      []string      `json:"dependencies,omitempty" yaml:"dependencies"`
	Required          bool          `json:"required" yaml:"required"`
	InputFields       []string      `json:"input_fields,omitempty" yaml:"input_fields"`
	OutputFields      []string      `json:"output_fields,omitempty" yaml:"output_fields"`
	Rules             []Rule        `json:"rules,omitempty" yaml:"rules"`
	MaxRetries        *int          `json:"max_retries,omitempty" yaml:"max_retries"`
	Timeout           time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	Prompt            string        `json:"prompt,omitempty" yaml:"prompt"`
}

// RetryLimit returns the effective retry limit for the step
func (s *StepDefinition) RetryLimit() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// ValidateInput checks declared input fields and input rules
func (s *StepDefinition) ValidateInput(input map[string]any) []string {
	return s.validate(input, s.InputFields, RuleTargetInput, "input")
}

// ValidateOutput checks declared output fields and output rules
func (s *StepDefinition) ValidateOutput(output map[string]any) []string {
	return s.validate(output, s.OutputFields, RuleTargetOutput, "output")
}

func (s *StepDefinition) validate(obj map[string]any, fields []string, target RuleTarget, label string) []string {
	var violations []string
	for _, field := range fields {
		if _, ok := obj[field]; !ok {
			violations = append(violations, fmt.Sprintf("missing required %s field: %s", label, field))
		}
	}
	for i := range s.Rules {
		rule := &s.Rules[i]
		if rule.Target != target {
			continue
		}
		if msg, ok := rule.Evaluate(obj); !ok {
			violations = append(violations, msg)
		}
	}
	return violations
}

// Pipeline is an ordered, validated set of step definitions
type Pipeline struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`

	index map[string]int
}

// Step returns the definition of a step by ID
func (p *Pipeline) Step(id string) (*StepDefinition, bool) {
	if p.index == nil {
		for i := range p.Steps {
			if p.Steps[i].ID == id {
				return &p.Steps[i], true
			}
		}
		return nil, false
	}
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return &p.Steps[i], true
}

// Validated reports whether Validate has succeeded on p
func (p *Pipeline) Validated() bool {
	return p.index != nil
}

// EstimatedDuration sums the estimated duration of all required steps
func (p *Pipeline) EstimatedDuration() time.Duration {
	var total time.Duration
	for i := range p.Steps {
		if p.Steps[i].Required {
			total += p.Steps[i].EstimatedDuration
		}
	}
	return total
}

// Validate checks the pipeline structure and builds the step index.
// It rejects empty pipelines, pipelines without a required step, duplicate
// or empty IDs, unknown or self dependencies, and cycles.
func (p *Pipeline) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: pipeline ID is required", ErrInvalidPipeline)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: pipeline %s has no steps", ErrInvalidPipeline, p.ID)
	}

	index := make(map[string]int, len(p.Steps))
	hasRequired := false
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.ID == "" {
			return fmt.Errorf("%w: step at index %d has empty ID", ErrInvalidPipeline, i)
		}
		if _, dup := index[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step ID: %s", ErrInvalidPipeline, step.ID)
		}
		if step.MaxRetries != nil && *step.MaxRetries < 0 {
			return fmt.Errorf("%w: step %s has negative max_retries", ErrInvalidPipeline, step.ID)
		}
		if step.Name == "" {
			step.Name = step.ID
		}
		for j := range step.Rules {
			if err := step.Rules[j].check(); err != nil {
				return fmt.Errorf("%w: step %s: %v", ErrInvalidPipeline, step.ID, err)
			}
		}
		index[step.ID] = i
		hasRequired = hasRequired || step.Required
	}
	if !hasRequired {
		return fmt.Errorf("%w: pipeline %s has no required steps", ErrInvalidPipeline, p.ID)
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return fmt.Errorf("%w: step %s depends on itself", ErrInvalidPipeline, step.ID)
			}
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("%w: step %s depends on unknown step %s", ErrInvalidPipeline, step.ID, dep)
			}
		}
	}

	if _, err := p.topologicalOrder(index); err != nil {
		return err
	}

	p.index = index
	return nil
}

// topologicalOrder runs Kahn's algorithm and reports a cycle if not every
// step can be ordered.
func (p *Pipeline) topologicalOrder(index map[string]int) ([]string, error) {
	inDegree := make(map[string]int, len(p.Steps))
	dependents := make(map[string][]string, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		inDegree[step.ID] += 0
		for _, dep := range step.Dependencies {
			inDegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	queue := make([]string, 0, len(p.Steps))
	for i := range p.Steps {
		if inDegree[p.Steps[i].ID] == 0 {
			queue = append(queue, p.Steps[i].ID)
		}
	}

	order := make([]string, 0, len(p.Steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(index) {
		return nil, fmt.Errorf("%w: cyclic dependency in pipeline %s", ErrInvalidPipeline, p.ID)
	}
	return order, nil
}
