package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/phaseseg/internal/batch"
	"github.com/user/phaseseg/internal/export"
	"github.com/user/phaseseg/internal/ingest"
	"github.com/user/phaseseg/internal/types"
)

// Gateway turns segmentation requests into runs. Each run reads its input,
// segments it, persists the labeled output and writes it to the requested
// sink. Queued runs are processed by the internal queue.
type Gateway struct {
	runs    types.RunStore
	results types.ResultStore
	runner  *batch.Runner
	sinks   *export.Registry
	Queue   *Queue
	retry   *RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Gateway wired to the provided stores with the given
// concurrency limit for simultaneous runs.
func New(runs types.RunStore, results types.ResultStore, runner *batch.Runner, sinks *export.Registry, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	if sinks == nil {
		sinks = export.Default()
	}
	g := &Gateway{
		runs:    runs,
		results: results,
		runner:  runner,
		sinks:   sinks,
		Queue:   NewQueue(concurrency),
		retry:   DefaultRetryPolicy(),
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// SetRetryPolicy replaces the policy used around reading and segmenting.
func (g *Gateway) SetRetryPolicy(p *RetryPolicy) {
	g.retry = p
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked with the final run record.
func WithOnComplete(fn func(*types.RunIndex)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// Submit records a queued run for req and enqueues it. The returned record
// reflects the queued state.
func (g *Gateway) Submit(ctx context.Context, req Request, opts ...RunOption) (*types.RunIndex, error) {
	if req.Input == "" {
		return nil, fmt.Errorf("submit run: input is required")
	}
	idx := &types.RunIndex{
		Job:    req.Job,
		Input:  req.Input,
		Output: req.Output,
		Status: types.RunStatusQueued,
	}
	if err := g.runs.Create(ctx, idx); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	run := NewRun(idx.RunID, req)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		g.finish(ctx, idx, nil, err)
		return nil, err
	}
	slog.Info("run queued", "run_id", string(idx.RunID), "job", req.Job, "input", req.Input)
	return idx, nil
}

// Execute runs req synchronously, bypassing the queue.
func (g *Gateway) Execute(ctx context.Context, req Request) (*types.RunIndex, *types.RunOutput, error) {
	if req.Input == "" {
		return nil, nil, fmt.Errorf("execute run: input is required")
	}
	idx := &types.RunIndex{
		Job:    req.Job,
		Input:  req.Input,
		Output: req.Output,
		Status: types.RunStatusRunning,
	}
	if err := g.runs.Create(ctx, idx); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}
	run := NewRun(idx.RunID, req)
	out, err := g.execute(ctx, run)
	g.finish(ctx, idx, out, err)
	return idx, out, err
}

// Segment labels raw events without recording a run.
func (g *Gateway) Segment(ctx context.Context, raw []types.RawEvent) (*types.RunOutput, error) {
	out, err := g.runner.Run(ctx, raw)
	if err != nil {
		return nil, err
	}
	out.RunID = types.NewRunID()
	return out, nil
}

// process is the queue processor for submitted runs.
func (g *Gateway) process(run *Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	idx, err := g.runs.Get(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	now := time.Now()
	run.StartedAt = &now
	run.Status = types.RunStatusRunning
	idx.Status = types.RunStatusRunning
	if err := g.runs.Update(ctx, idx); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	out, err := g.execute(ctx, run)
	g.finish(ctx, idx, out, err)

	ended := time.Now()
	run.EndedAt = &ended
	run.Status = idx.Status
	run.Error = err
	if run.OnComplete != nil {
		run.OnComplete(idx)
	}
	return err
}

// execute reads, segments, persists and exports one run.
func (g *Gateway) execute(ctx context.Context, run *Run) (*types.RunOutput, error) {
	var out *types.RunOutput
	err := g.retry.ExecuteContext(ctx, func(attempt int) error {
		run.Attempts = attempt
		raw, err := ingest.ReadAll(ctx, run.Request.Input)
		if err != nil {
			return err
		}
		out, err = g.runner.Run(ctx, raw)
		if err != nil && ctx.Err() == nil {
			// Segmentation is deterministic; only reading is worth repeating.
			slog.Warn("segmentation failed", "run_id", string(run.ID), "attempt", attempt, "error", err)
			return Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	out.RunID = run.ID

	if err := g.results.Save(ctx, out); err != nil {
		return out, fmt.Errorf("save results: %w", err)
	}
	if run.Request.Output != "" {
		if err := g.sinks.Write(ctx, run.Request.Output, out); err != nil {
			return out, fmt.Errorf("export results: %w", err)
		}
	}
	return out, nil
}

// finish records the outcome of a run.
func (g *Gateway) finish(ctx context.Context, idx *types.RunIndex, out *types.RunOutput, runErr error) {
	now := time.Now()
	idx.FinishedAt = &now
	if out != nil {
		idx.Incidents = len(out.Summaries)
		idx.Events = len(out.Events)
		idx.Skipped = len(out.Skipped)
		idx.Malformed = 0
		for _, s := range out.Summaries {
			idx.Malformed += s.NMalformed
		}
	}
	if runErr != nil {
		idx.Status = types.RunStatusFailed
		idx.Error = runErr.Error()
	} else {
		idx.Status = types.RunStatusComplete
		idx.Error = ""
	}

	// The run outcome must be recorded even when the run's context is done.
	if err := g.runs.Update(context.WithoutCancel(ctx), idx); err != nil {
		slog.Error("failed to record run", "run_id", string(idx.RunID), "error", err)
		return
	}
	if runErr == nil {
		slog.Info("run complete",
			"run_id", string(idx.RunID),
			"incidents", idx.Incidents,
			"events", idx.Events,
			"skipped", idx.Skipped,
			"malformed", idx.Malformed,
		)
	}
}
