// internal/state/runs.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/phaseseg/internal/types"
)

// RunStore is a JSON-file-backed index of segmentation runs.
// It stores the index in runs/runs.json and creates per-run directories at
// runs/<runID>/ for the run's results.
type RunStore struct {
	root string
	mu   sync.RWMutex
}

// NewRunStore creates a new file-backed RunStore rooted at the given directory.
func NewRunStore(root string) *RunStore {
	return &RunStore{root: root}
}

func (s *RunStore) indexPath() string {
	return filepath.Join(s.root, "runs", "runs.json")
}

func (s *RunStore) runDir(id types.RunID) string {
	return filepath.Join(s.root, "runs", string(id))
}

// loadIndex reads runs.json and returns a map keyed by RunID.
func (s *RunStore) loadIndex() (map[types.RunID]*types.RunIndex, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.RunID]*types.RunIndex), nil
		}
		return nil, fmt.Errorf("read run index: %w", err)
	}

	var runs []*types.RunIndex
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("unmarshal run index: %w", err)
	}

	index := make(map[types.RunID]*types.RunIndex, len(runs))
	for _, run := range runs {
		index[run.RunID] = run
	}
	return index, nil
}

func (s *RunStore) saveIndex(index map[types.RunID]*types.RunIndex) error {
	runs := make([]*types.RunIndex, 0, len(index))
	for _, run := range index {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return writeJSON(s.indexPath(), runs)
}

// sortRuns orders runs newest first.
func sortRuns(runs []*types.RunIndex) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})
}

// Create records a new run. The run ID is assigned when empty.
func (s *RunStore) Create(_ context.Context, run *types.RunIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	if run.RunID == "" {
		run.RunID = types.NewRunID()
	}
	if _, ok := index[run.RunID]; ok {
		return fmt.Errorf("run already exists: %s", run.RunID)
	}

	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = types.RunStatusRunning
	}
	index[run.RunID] = run

	if err := s.saveIndex(index); err != nil {
		return err
	}

	// Create run directory on demand
	if err := os.MkdirAll(s.runDir(run.RunID), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	return nil
}

// Get returns the run with the given ID.
func (s *RunStore) Get(_ context.Context, id types.RunID) (*types.RunIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	run, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, nil
}

// List returns all runs, newest first.
func (s *RunStore) List(_ context.Context) ([]*types.RunIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	runs := make([]*types.RunIndex, 0, len(index))
	for _, run := range index {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

// Update persists changes to the given run, setting UpdatedAt to now.
func (s *RunStore) Update(_ context.Context, run *types.RunIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	if _, ok := index[run.RunID]; !ok {
		return fmt.Errorf("run not found: %s", run.RunID)
	}

	run.UpdatedAt = time.Now()
	index[run.RunID] = run

	return s.saveIndex(index)
}

// writeJSON marshals v with indentation and writes it atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
