// internal/state/job.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Job is a named segmentation run that can be triggered on a schedule or via
// webhook. Input and Output use the same location syntax as the run command
// (a file path or "sqlite:<path>").
type Job struct {
	Name     string `json:"name"`
	Input    string `json:"input"`
	Output   string `json:"output,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// JobStore is a JSON-file-backed store for jobs.
type JobStore struct {
	path string
	mu   sync.RWMutex
}

// NewJobStore creates a new file-backed JobStore at the given file path.
func NewJobStore(path string) *JobStore {
	return &JobStore{path: path}
}

// Path returns the file path used by this store.
func (s *JobStore) Path() string {
	return s.path
}

// List returns all jobs. Returns an empty slice if the file doesn't exist.
func (s *JobStore) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		return []*Job{}, nil
	}
	return jobs, nil
}

// Get finds a job by name.
func (s *JobStore) Get(name string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", name)
}

// Add appends a job. Names are unique.
func (s *JobStore) Add(job *Job) error {
	if job.Name == "" || job.Input == "" {
		return fmt.Errorf("job name and input are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("job already exists: %s", job.Name)
		}
	}

	jobs = append(jobs, job)
	return s.save(jobs)
}

// Remove deletes a job by name.
func (s *JobStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for i, job := range jobs {
		if job.Name == name {
			jobs = append(jobs[:i], jobs[i+1:]...)
			return s.save(jobs)
		}
	}
	return fmt.Errorf("job not found: %s", name)
}

// SetEnabled toggles the enabled flag for a job.
func (s *JobStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Name == name {
			job.Enabled = enabled
			return s.save(jobs)
		}
	}
	return fmt.Errorf("job not found: %s", name)
}

// load reads the JSON file and returns the job list. Returns nil if the file doesn't exist.
func (s *JobStore) load() ([]*Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("unmarshal jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) save(jobs []*Job) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create jobs dir: %w", err)
	}
	if err := writeJSON(s.path, jobs); err != nil {
		return fmt.Errorf("save jobs: %w", err)
	}
	return nil
}
