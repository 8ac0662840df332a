// Package executors resolves the executor that runs a pipeline step.
//
// Executors are registered per (pipeline, step). Steps without an explicit
// registration are built by a fallback Factory from their definition, which
// is how the HTTP and LLM executors serve whole pipelines.
package executors

import (
	"fmt"
	"sync"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/aescanero/genflow/pkg/ports"
)

// AnyPipeline registers a fallback for every pipeline
const AnyPipeline = "*"

// Factory builds the executor of a step from its definition
type Factory interface {
	Executor(p *domain.Pipeline, step *domain.StepDefinition) (ports.Executor, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(p *domain.Pipeline, step *domain.StepDefinition) (ports.Executor, error)

// Executor calls f
func (f FactoryFunc) Executor(p *domain.Pipeline, step *domain.StepDefinition) (ports.Executor, error) {
	return f(p, step)
}

type key struct {
	pipeline string
	step     string
}

// Registry implements ports.ExecutorResolver
type Registry struct {
	pipelines ports.PipelineCatalog

	mu        sync.RWMutex
	executors map[key]ports.Executor
	fallbacks map[string]Factory
}

// NewRegistry creates an executor registry. pipelines is used to find step
// definitions for fallback factories and may be nil when none is set.
func NewRegistry(pipelines ports.PipelineCatalog) *Registry {
	return &Registry{
		pipelines: pipelines,
		executors: make(map[key]ports.Executor),
		fallbacks: make(map[string]Factory),
	}
}

// Register sets the executor of one step
func (r *Registry) Register(pipelineID, stepID string, exec ports.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[key{pipelineID, stepID}] = exec
}

// SetFallback sets the factory used for unregistered steps of a pipeline,
// or of every pipeline with AnyPipeline.
func (r *Registry) SetFallback(pipelineID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[pipelineID] = f
}

// Resolve returns the executor of a step. Executors built by a fallback are
// cached.
func (r *Registry) Resolve(pipelineID, stepID string) (ports.Executor, error) {
	k := key{pipelineID, stepID}

	r.mu.RLock()
	exec, ok := r.executors[k]
	factory := r.fallbacks[pipelineID]
	if factory == nil {
		factory = r.fallbacks[AnyPipeline]
	}
	r.mu.RUnlock()

	if ok {
		return exec, nil
	}
	if factory == nil || r.pipelines == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrExecutorNotFound, pipelineID, stepID)
	}

	p, err := r.pipelines.Get(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", domain.ErrExecutorNotFound, pipelineID, stepID, err)
	}
	step, found := p.Step(stepID)
	if !found {
		return nil, fmt.Errorf("%w: %s/%s: no such step", domain.ErrExecutorNotFound, pipelineID, stepID)
	}

	exec, err = factory.Executor(p, step)
	if err != nil {
		return nil, fmt.Errorf("build executor for %s/%s: %w", pipelineID, stepID, err)
	}

	r.Register(pipelineID, stepID, exec)
	return exec, nil
}
