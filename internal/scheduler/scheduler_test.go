// internal/scheduler/scheduler_test.go
package scheduler

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/phaseseg/internal/state"
)

func TestSchedulerFiresJob(t *testing.T) {
	dir := t.TempDir()
	store := state.NewJobStore(filepath.Join(dir, "jobs.json"))

	job := &state.Job{
		Name:     "every-second",
		Input:    "events.csv",
		Schedule: "* * * * * *",
		Enabled:  true,
	}
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}

	var fires atomic.Int32
	handler := func(job *state.Job) {
		fires.Add(1)
	}

	sched := New(store, handler)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("handler did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerSkipsDisabled(t *testing.T) {
	dir := t.TempDir()
	store := state.NewJobStore(filepath.Join(dir, "jobs.json"))

	job := &state.Job{
		Name:     "disabled-job",
		Input:    "events.csv",
		Schedule: "* * * * * *",
		Enabled:  false,
	}
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}

	var fires atomic.Int32
	handler := func(job *state.Job) {
		fires.Add(1)
	}

	sched := New(store, handler)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(2 * time.Second)

	if n := fires.Load(); n != 0 {
		t.Errorf("expected 0 fires for disabled job, got %d", n)
	}
}

func TestSchedulerNoScheduleJobs(t *testing.T) {
	dir := t.TempDir()
	store := state.NewJobStore(filepath.Join(dir, "jobs.json"))

	job := &state.Job{
		Name:     "no-schedule",
		Input:    "events.csv",
		Schedule: "",
		Enabled:  true,
	}
	if err := store.Add(job); err != nil {
		t.Fatal(err)
	}

	var fires atomic.Int32
	handler := func(job *state.Job) {
		fires.Add(1)
	}

	sched := New(store, handler)
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(2 * time.Second)

	if n := fires.Load(); n != 0 {
		t.Errorf("expected 0 fires for job with no schedule, got %d", n)
	}
}

func TestSchedulerEntries(t *testing.T) {
	dir := t.TempDir()
	store := state.NewJobStore(filepath.Join(dir, "jobs.json"))

	for _, job := range []*state.Job{
		{Name: "nightly", Input: "sqlite:events.db", Schedule: "0 2 * * *", Enabled: true},
		{Name: "broken", Input: "events.csv", Schedule: "not a schedule", Enabled: true},
		{Name: "hourly", Input: "events.csv", Schedule: "@hourly", Enabled: true},
	} {
		if err := store.Add(job); err != nil {
			t.Fatal(err)
		}
	}

	sched := New(store, func(*state.Job) {})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	entries := sched.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (invalid schedule skipped), got %d", len(entries))
	}
	if entries[0].Name != "hourly" || entries[1].Name != "nightly" {
		t.Errorf("unexpected entries: %+v", entries)
	}
	if entries[1].Schedule != "0 2 * * *" || entries[1].Next.IsZero() {
		t.Errorf("nightly entry missing schedule or next time: %+v", entries[1])
	}

	if err := store.SetEnabled("nightly", false); err != nil {
		t.Fatal(err)
	}
	if err := sched.Reload(); err != nil {
		t.Fatal(err)
	}
	if n := len(sched.Entries()); n != 1 {
		t.Errorf("expected 1 entry after disabling nightly, got %d", n)
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 */10 * * * *", "@daily"} {
		if err := ValidateSchedule(expr); err != nil {
			t.Errorf("ValidateSchedule(%q): %v", expr, err)
		}
	}
	if err := ValidateSchedule("every tuesday"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}
