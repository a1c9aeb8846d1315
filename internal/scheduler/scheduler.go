// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/phaseseg/internal/state"
)

// Handler is the callback invoked when a scheduled job fires.
type Handler func(job *state.Job)

// Scheduler evaluates cron expressions from the job store and fires jobs
// through a handler callback.
type Scheduler struct {
	store   *state.JobStore
	handler Handler

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// Entry describes one registered job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is a schedule the scheduler accepts.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// New creates a new Scheduler backed by the given job store. The handler is
// called each time a scheduled job fires.
func New(store *state.JobStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads jobs from the store, registers enabled jobs that have a
// schedule as cron entries, and starts the cron ticker. Jobs with invalid
// schedules are logged and skipped.
func (s *Scheduler) Start() error {
	jobs, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if job.Schedule == "" || !job.Enabled {
			continue
		}

		id, err := s.cron.AddFunc(job.Schedule, func() {
			slog.Info("cron firing job", "name", job.Name, "input", job.Input)
			s.handler(job)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		s.entries[job.Name] = id
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()
	return s.Start()
}

// Entries returns the registered jobs with their next fire time, sorted by
// name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{Name: name, Next: e.Next})
	}
	jobs, err := s.store.List()
	if err == nil {
		byName := make(map[string]string, len(jobs))
		for _, j := range jobs {
			byName[j.Name] = j.Schedule
		}
		for i := range out {
			out[i].Schedule = byName[out[i].Name]
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
}
