package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/phaseseg/internal/types"
)

func newRun(lane string) *Run {
	return &Run{ID: types.NewRunID(), Lane: lane, Status: types.RunStatusQueued}
}

func startQueue(t *testing.T, slots int64, fn func(*Run) error) *Queue {
	t.Helper()
	q := NewQueue(slots)
	q.SetProcessor(fn)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestQueueBoundsConcurrentLanes(t *testing.T) {
	var running, peak atomic.Int32
	q := startQueue(t, 2, func(run *Run) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(newRun(fmt.Sprintf("job:%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if !q.WaitIdle(2 * time.Second) {
		t.Fatal("runs did not finish")
	}
	if p := peak.Load(); p > 2 || p == 0 {
		t.Errorf("expected between 1 and 2 concurrent runs, saw %d", p)
	}
}

func TestQueueSameLaneIsSequential(t *testing.T) {
	var mu sync.Mutex
	var seen []types.RunID
	q := startQueue(t, 4, func(run *Run) error {
		mu.Lock()
		seen = append(seen, run.ID)
		mu.Unlock()
		return nil
	})

	var want []types.RunID
	for i := 0; i < 3; i++ {
		run := newRun("input:events.csv")
		want = append(want, run.ID)
		if err := q.Enqueue(run); err != nil {
			t.Fatal(err)
		}
	}
	if !q.WaitIdle(2 * time.Second) {
		t.Fatal("runs did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("expected %d runs, processed %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestQueueProcessorErrorDoesNotStall(t *testing.T) {
	var calls atomic.Int32
	q := startQueue(t, 1, func(run *Run) error {
		calls.Add(1)
		return errors.New("input missing")
	})
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(newRun("job:nightly")); err != nil {
			t.Fatal(err)
		}
	}
	if !q.WaitIdle(time.Second) {
		t.Fatal("queue stalled after a failing run")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestQueueNotStarted(t *testing.T) {
	q := NewQueue(1)
	if err := q.Enqueue(newRun("job:nightly")); err == nil {
		t.Fatal("expected error enqueuing before Start")
	}
}

func TestQueueLaneFull(t *testing.T) {
	release := make(chan struct{})
	q := startQueue(t, 1, func(run *Run) error {
		<-release
		return nil
	})
	defer close(release)

	// One run is taken off the channel and blocks; the rest fill the buffer.
	var err error
	for i := 0; i < laneCapacity+2 && err == nil; i++ {
		err = q.Enqueue(newRun("job:flood"))
	}
	if !errors.Is(err, ErrLaneFull) {
		t.Fatalf("expected ErrLaneFull, got %v", err)
	}
	if q.Enqueue(newRun("job:other")) != nil {
		t.Error("a full lane should not block other lanes")
	}
}

func TestQueueStatsAndWaitIdle(t *testing.T) {
	release := make(chan struct{})
	q := startQueue(t, 1, func(run *Run) error {
		<-release
		return nil
	})

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(newRun("job:slow")); err != nil {
			t.Fatal(err)
		}
	}
	st := q.Stats()
	if st.Lanes != 1 || st.Active != 2 || st.Pending["job:slow"] != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if q.WaitIdle(100 * time.Millisecond) {
		t.Fatal("queue should not be idle while runs are in flight")
	}

	close(release)
	if !q.WaitIdle(2 * time.Second) {
		t.Fatal("queue should become idle after the runs finish")
	}
	if st := q.Stats(); st.Active != 0 || len(st.Pending) != 0 {
		t.Errorf("expected empty stats, got %+v", st)
	}
}
