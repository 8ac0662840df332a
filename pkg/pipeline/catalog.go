package pipeline

import (
	"embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aescanero/genflow/pkg/domain"
)

// AppGeneration is the ID of the built-in pipeline
const AppGeneration = "app_generation"

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Catalog implements ports.PipelineCatalog
type Catalog struct {
	mu        sync.RWMutex
	pipelines map[string]*domain.Pipeline
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		pipelines: make(map[string]*domain.Pipeline),
	}
}

// NewDefaultCatalog returns a catalog holding the built-in pipelines and,
// when dir is set, every pipeline file below it. Files override built-ins
// with the same ID.
func NewDefaultCatalog(dir string) (*Catalog, error) {
	c := NewCatalog()

	builtins, err := Builtins()
	if err != nil {
		return nil, err
	}
	for _, p := range builtins {
		if err := c.Register(p); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return c, nil
	}

	loaded, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, p := range loaded {
		if err := c.Register(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Builtins parses the embedded pipelines
func Builtins() ([]*domain.Pipeline, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("reading built-in pipelines: %w", err)
	}

	pipelines := make([]*domain.Pipeline, 0, len(entries))
	for _, e := range entries {
		data, err := builtinFS.ReadFile("builtin/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("built-in %s: %w", e.Name(), err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

// Register validates p and adds or replaces it
func (c *Catalog) Register(p *domain.Pipeline) error {
	if !p.Validated() {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipelines[p.ID] = p
	return nil
}

// Get returns a pipeline by ID
func (c *Catalog) Get(id string) (*domain.Pipeline, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPipelineNotFound, id)
	}
	return p, nil
}

// List returns the pipelines sorted by ID
func (c *Catalog) List() []*domain.Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := make([]*domain.Pipeline, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		list = append(list, p)
	}
	slices.SortFunc(list, func(a, b *domain.Pipeline) int {
		return strings.Compare(a.ID, b.ID)
	})
	return list
}
