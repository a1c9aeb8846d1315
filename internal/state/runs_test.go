// internal/state/runs_test.go
package state

import (
	"context"
	"testing"
	"time"

	"github.com/user/phaseseg/internal/types"
)

func TestRunStore(t *testing.T) {
	dir := t.TempDir()
	store := NewRunStore(dir)
	ctx := context.Background()

	// Test create
	run := &types.RunIndex{Input: "events.csv"}
	if err := store.Create(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.RunID == "" {
		t.Error("expected run ID to be assigned")
	}
	if run.Status != types.RunStatusRunning {
		t.Errorf("expected status running, got %s", run.Status)
	}

	// Test get
	got, err := store.Get(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Input != "events.csv" {
		t.Errorf("expected input events.csv, got %s", got.Input)
	}

	// Test update
	now := time.Now()
	got.Status = types.RunStatusComplete
	got.Incidents = 3
	got.FinishedAt = &now
	if err := store.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, err = store.Get(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.RunStatusComplete || got.Incidents != 3 || got.FinishedAt == nil {
		t.Errorf("update not persisted: %+v", got)
	}

	// Test duplicate create
	if err := store.Create(ctx, &types.RunIndex{RunID: run.RunID}); err == nil {
		t.Error("expected error for duplicate run")
	}
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	store := NewRunStore(t.TempDir())
	ctx := context.Background()

	first := &types.RunIndex{Input: "a.csv"}
	if err := store.Create(ctx, first); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	second := &types.RunIndex{Input: "b.csv"}
	if err := store.Create(ctx, second); err != nil {
		t.Fatal(err)
	}

	runs, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != second.RunID {
		t.Errorf("expected newest run first, got %s", runs[0].Input)
	}
}

func TestRunStore_NotFound(t *testing.T) {
	store := NewRunStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); err == nil {
		t.Error("expected error for missing run")
	}
	if err := store.Update(ctx, &types.RunIndex{RunID: "missing"}); err == nil {
		t.Error("expected error updating missing run")
	}
}
