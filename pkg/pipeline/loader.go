package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// FilePattern matches pipeline files under a pipeline directory
const FilePattern = "**/*.{yaml,yml}"

// Parse decodes and validates one pipeline document
func Parse(data []byte) (*domain.Pipeline, error) {
	var p domain.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads a pipeline file
func LoadFile(filename string) (*domain.Pipeline, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filename, err)
	}
	return p, nil
}

// LoadDir loads every pipeline file below dir, in path order
func LoadDir(dir string) ([]*domain.Pipeline, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), FilePattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}
	slices.Sort(matches)

	pipelines := make([]*domain.Pipeline, 0, len(matches))
	for _, m := range matches {
		p, err := LoadFile(filepath.Join(dir, filepath.FromSlash(m)))
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
