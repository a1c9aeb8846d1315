// internal/state/results.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/phaseseg/internal/types"
)

// report is the on-disk format for a run's per-incident records.
type report struct {
	Summaries []*types.IncidentSummary `json:"summaries"`
	Metrics   []types.IncidentMetrics  `json:"metrics,omitempty"`
	Skipped   []types.SkippedIncident  `json:"skipped,omitempty"`
}

// ResultStore keeps a run's output on disk. Labeled events are appended to
// runs/<runID>/labels.jsonl and incident records are written atomically to
// runs/<runID>/report.json.
type ResultStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.RunID]*sync.Mutex
}

// NewResultStore creates a new file-backed ResultStore rooted at the given directory.
func NewResultStore(root string) *ResultStore {
	return &ResultStore{
		root:  root,
		locks: make(map[types.RunID]*sync.Mutex),
	}
}

// getLock returns the per-run mutex, creating one if it doesn't exist.
func (r *ResultStore) getLock(runID types.RunID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lock, ok := r.locks[runID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	r.locks[runID] = lock
	return lock
}

func (r *ResultStore) labelsPath(runID types.RunID) string {
	return filepath.Join(r.root, "runs", string(runID), "labels.jsonl")
}

func (r *ResultStore) reportPath(runID types.RunID) string {
	return filepath.Join(r.root, "runs", string(runID), "report.json")
}

// Save appends the run's labeled events and replaces its incident records.
func (r *ResultStore) Save(_ context.Context, out *types.RunOutput) error {
	lock := r.getLock(out.RunID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(r.labelsPath(out.RunID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	f, err := os.OpenFile(r.labelsPath(out.RunID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open labels file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range out.Events {
		if err := enc.Encode(&out.Events[i]); err != nil {
			f.Close()
			return fmt.Errorf("write labeled event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush labels file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close labels file: %w", err)
	}

	rep := report{
		Summaries: make([]*types.IncidentSummary, len(out.Summaries)),
		Metrics:   out.Metrics,
		Skipped:   out.Skipped,
	}
	for i := range out.Summaries {
		rep.Summaries[i] = &out.Summaries[i]
	}
	return writeJSON(r.reportPath(out.RunID), rep)
}

// Events returns up to limit labeled events of a run in stored order. A
// limit of zero or less returns all of them.
func (r *ResultStore) Events(_ context.Context, runID types.RunID, limit int) ([]*types.LabeledEvent, error) {
	lock := r.getLock(runID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(r.labelsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open labels file: %w", err)
	}
	defer f.Close()

	var events []*types.LabeledEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if limit > 0 && len(events) >= limit {
			break
		}
		var event types.LabeledEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal labeled event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan labels file: %w", err)
	}
	return events, nil
}

func (r *ResultStore) loadReport(runID types.RunID) (*report, error) {
	data, err := os.ReadFile(r.reportPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return &report{}, nil
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &rep, nil
}

// Summaries returns the incident summaries of a run.
func (r *ResultStore) Summaries(_ context.Context, runID types.RunID) ([]*types.IncidentSummary, error) {
	lock := r.getLock(runID)
	lock.Lock()
	defer lock.Unlock()

	rep, err := r.loadReport(runID)
	if err != nil {
		return nil, err
	}
	return rep.Summaries, nil
}

// Metrics returns the derived per-incident metrics of a run.
func (r *ResultStore) Metrics(_ context.Context, runID types.RunID) ([]types.IncidentMetrics, error) {
	lock := r.getLock(runID)
	lock.Lock()
	defer lock.Unlock()

	rep, err := r.loadReport(runID)
	if err != nil {
		return nil, err
	}
	return rep.Metrics, nil
}

// Count returns the number of labeled events stored for a run.
func (r *ResultStore) Count(_ context.Context, runID types.RunID) (int64, error) {
	lock := r.getLock(runID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(r.labelsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open labels file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan labels file: %w", err)
	}
	return count, nil
}
