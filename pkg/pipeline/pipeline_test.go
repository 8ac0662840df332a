package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
)

const twoSteps = `
id: review
name: Review
steps:
  - id: draft
    estimated_duration: 2s
    required: true
    output_fields: [text]
    max_retries: 1
    timeout: 30s
  - id: lint
    dependencies: [draft]
    required: false
    rules:
      - target: output
        field: issues
        op: max_len
        value: 5
`

// --- Parse Tests ---

func TestParse(t *testing.T) {
	p, err := Parse([]byte(twoSteps))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if p.ID != "review" || len(p.Steps) != 2 {
		t.Fatalf("pipeline = %+v", p)
	}
	if !p.Validated() {
		t.Error("parsed pipeline should be validated")
	}

	draft, _ := p.Step("draft")
	if draft.EstimatedDuration != 2*time.Second || draft.Timeout != 30*time.Second {
		t.Errorf("durations = %v / %v", draft.EstimatedDuration, draft.Timeout)
	}
	if draft.RetryLimit() != 1 {
		t.Errorf("retry limit = %d", draft.RetryLimit())
	}
	if draft.Name != "draft" {
		t.Errorf("name should default to ID, got %q", draft.Name)
	}

	lint, _ := p.Step("lint")
	if lint.Required || len(lint.Rules) != 1 || lint.Rules[0].Op != domain.RuleMaxLen {
		t.Errorf("lint = %+v", lint)
	}
	if v := lint.ValidateOutput(map[string]any{"issues": []any{1, 2, 3, 4, 5, 6}}); len(v) != 1 {
		t.Errorf("violations = %v", v)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", "id: [unclosed"},
		{"no steps", "id: x\nsteps: []"},
		{"unknown dependency", "id: x\nsteps:\n  - id: a\n    required: true\n    dependencies: [b]"},
		{"bad rule", "id: x\nsteps:\n  - id: a\n    required: true\n    rules:\n      - target: output\n        field: f\n        op: between"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// --- Builtin Tests ---

func TestBuiltins_AppGeneration(t *testing.T) {
	c, err := NewDefaultCatalog("")
	if err != nil {
		t.Fatalf("NewDefaultCatalog failed: %v", err)
	}

	p, err := c.Get(AppGeneration)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(p.Steps) != 10 {
		t.Fatalf("steps = %d, want 10", len(p.Steps))
	}
	if p.Steps[0].ID != "analyze_prd" || p.Steps[9].ID != "finalize_app" {
		t.Errorf("step order = %s..%s", p.Steps[0].ID, p.Steps[9].ID)
	}

	reports, _ := p.Step("generate_reports")
	if reports.Required {
		t.Error("generate_reports should be optional")
	}
	if got := p.EstimatedDuration(); got != 35*time.Second {
		t.Errorf("estimated duration = %v, want 35s", got)
	}

	analyze, _ := p.Step("analyze_prd")
	if v := analyze.ValidateInput(map[string]any{"content": "x", "type": "text", "confidence": 0.3}); len(v) != 1 {
		t.Errorf("low confidence violations = %v", v)
	}
	if v := analyze.ValidateInput(map[string]any{"content": "x", "type": "text"}); len(v) != 0 {
		t.Errorf("absent confidence violations = %v", v)
	}

	quality, _ := p.Step("quality_check")
	out := map[string]any{"quality_report": map[string]any{}, "quality_score": 65.0}
	if v := quality.ValidateOutput(out); len(v) != 1 || v[0] != "quality score below minimum 70" {
		t.Errorf("quality violations = %v", v)
	}

	entities, _ := p.Step("extract_entities")
	if v := entities.ValidateOutput(map[string]any{"entities_list": []any{}, "entity_count": 0}); len(v) != 1 {
		t.Errorf("empty entities violations = %v", v)
	}

	for i := range p.Steps {
		if p.Steps[i].Prompt == "" {
			t.Errorf("step %s has no prompt", p.Steps[i].ID)
		}
	}
}

// --- Catalog Tests ---

func TestCatalog_LoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "review.yml"), []byte(twoSteps), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a pipeline"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewDefaultCatalog(dir)
	if err != nil {
		t.Fatalf("NewDefaultCatalog failed: %v", err)
	}

	list := c.List()
	if len(list) != 2 || list[0].ID != AppGeneration || list[1].ID != "review" {
		ids := make([]string, len(list))
		for i, p := range list {
			ids[i] = p.ID
		}
		t.Errorf("catalog = %v", ids)
	}
}

func TestCatalog_LoadDirInvalidFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: x\nsteps: []"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewDefaultCatalog(dir)
	if !errors.Is(err, domain.ErrInvalidPipeline) {
		t.Errorf("expected ErrInvalidPipeline, got %v", err)
	}
}

func TestCatalog_GetMissing(t *testing.T) {
	c := NewCatalog()

	if _, err := c.Get("nope"); !errors.Is(err, domain.ErrPipelineNotFound) {
		t.Errorf("expected ErrPipelineNotFound, got %v", err)
	}
}

func TestCatalog_RegisterInvalid(t *testing.T) {
	c := NewCatalog()

	err := c.Register(&domain.Pipeline{ID: "x", Steps: []domain.StepDefinition{{ID: "a"}}})
	if !errors.Is(err, domain.ErrInvalidPipeline) {
		t.Errorf("expected ErrInvalidPipeline, got %v", err)
	}
}
