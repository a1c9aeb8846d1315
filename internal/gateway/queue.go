package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrLaneFull is returned by Enqueue when a lane already holds laneCapacity
// waiting runs.
var ErrLaneFull = errors.New("lane is full")

const laneCapacity = 100

// lane is a FIFO of runs for one job or ad-hoc input, drained by its own
// goroutine.
type lane struct {
	runs    chan *Run
	pending atomic.Int64
}

// Queue runs submitted work one at a time per lane while a weighted
// semaphore bounds how many lanes execute at once. Two runs of the same job
// never overlap, so they cannot race on the same output.
type Queue struct {
	mu        sync.RWMutex
	lanes     map[string]*lane
	slots     *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Lanes   int
	Pending map[string]int64
	Active  int64
}

// NewQueue creates a Queue that executes at most maxConcurrent runs at once.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes: make(map[string]*lane),
		slots: semaphore.NewWeighted(maxConcurrent),
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes every lane and waits for the lane
// goroutines to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, l := range q.lanes {
		close(l.runs)
	}
	q.lanes = make(map[string]*lane)
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends run to its lane, starting the lane on first use.
func (q *Queue) Enqueue(run *Run) error {
	if q.ctx == nil {
		return fmt.Errorf("enqueue run %s: queue not started", run.ID)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[run.Lane]
	if !ok {
		l = &lane{runs: make(chan *Run, laneCapacity)}
		q.lanes[run.Lane] = l
		q.wg.Add(1)
		go q.drain(run.Lane, l)
	}

	q.active.Add(1)
	l.pending.Add(1)
	select {
	case l.runs <- run:
		return nil
	default:
		q.active.Add(-1)
		l.pending.Add(-1)
		return fmt.Errorf("enqueue run %s on %s: %w", run.ID, run.Lane, ErrLaneFull)
	}
}

func (q *Queue) drain(name string, l *lane) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-l.runs:
			if !ok {
				return
			}
			q.execute(name, l, run)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) execute(name string, l *lane, run *Run) {
	defer func() {
		l.pending.Add(-1)
		q.active.Add(-1)
	}()
	if err := q.slots.Acquire(q.ctx, 1); err != nil {
		slog.Warn("run dropped at shutdown", "run_id", string(run.ID), "lane", name)
		return
	}
	defer q.slots.Release(1)

	if q.processor == nil {
		return
	}
	run.Ctx = q.ctx
	if err := q.processor(run); err != nil {
		slog.Error("run failed", "run_id", string(run.ID), "lane", name, "attempts", run.Attempts, "error", err)
	}
}

// Stats reports per-lane backlog and the number of runs not yet finished.
func (q *Queue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	st := QueueStats{
		Lanes:   len(q.lanes),
		Pending: make(map[string]int64, len(q.lanes)),
		Active:  q.active.Load(),
	}
	for name, l := range q.lanes {
		if n := l.pending.Load(); n > 0 {
			st.Pending[name] = n
		}
	}
	return st
}

// WaitIdle blocks until every enqueued run has finished or timeout expires.
// It reports whether the queue went idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for q.active.Load() > 0 {
		select {
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
	return true
}
