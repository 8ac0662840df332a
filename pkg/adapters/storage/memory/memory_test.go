package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
)

func testRun(id string) *domain.ProcessRun {
	p := &domain.Pipeline{
		ID:    "test",
		Name:  "Test",
		Steps: []domain.StepDefinition{{ID: "a", Name: "A", Required: true}},
	}
	return domain.NewProcessRun(id, p, map[string]any{"k": "v"}, nil, time.Now())
}

// --- ProcessStore Tests ---

func TestProcessStore_SaveLoadCopies(t *testing.T) {
	store := NewProcessStore()
	ctx := context.Background()

	run := testRun("p1")
	if err := store.Save(ctx, run); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// mutating the saved value must not leak into the store
	run.Data["k"] = "changed"
	run.Steps["a"].Status = domain.StepStatusCompleted

	loaded, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Data["k"] != "v" {
		t.Errorf("expected stored data to be unchanged, got %v", loaded.Data["k"])
	}
	if loaded.Steps["a"].Status != domain.StepStatusPending {
		t.Errorf("expected stored step to be pending, got %s", loaded.Steps["a"].Status)
	}

	loaded.Data["k"] = "again"
	reloaded, _ := store.Load(ctx, "p1")
	if reloaded.Data["k"] != "v" {
		t.Errorf("expected Load to return a copy, got %v", reloaded.Data["k"])
	}
}

func TestProcessStore_NotFound(t *testing.T) {
	store := NewProcessStore()

	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, domain.ErrProcessNotFound) {
		t.Errorf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestProcessStore_SaveRequiresID(t *testing.T) {
	store := NewProcessStore()

	if err := store.Save(context.Background(), &domain.ProcessRun{}); err == nil {
		t.Error("expected error for run without ID")
	}
	if err := store.Save(context.Background(), nil); err == nil {
		t.Error("expected error for nil run")
	}
}

func TestProcessStore_ListAndDelete(t *testing.T) {
	store := NewProcessStore()
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		if err := store.Save(ctx, testRun(id)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	ids, _ := store.List(ctx)
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}

	if err := store.Delete(ctx, "p1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ids, _ = store.List(ctx)
	if len(ids) != 1 || ids[0] != "p2" {
		t.Errorf("expected only p2, got %v", ids)
	}
}
