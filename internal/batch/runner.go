// Package batch groups raw events by incident and segments the groups in
// parallel.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/phaseseg/internal/enrich"
	"github.com/user/phaseseg/internal/phase"
	"github.com/user/phaseseg/internal/types"
)

// Runner segments a batch of events with bounded parallelism.
type Runner struct {
	seg      *phase.Segmenter
	enricher *enrich.Enricher
	workers  int
	timeout  time.Duration
}

// NewRunner creates a runner. workers < 1 means one worker; timeout <= 0
// disables the per-incident time budget. enricher may be nil.
func NewRunner(seg *phase.Segmenter, enricher *enrich.Enricher, workers int, timeout time.Duration) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{seg: seg, enricher: enricher, workers: workers, timeout: timeout}
}

// Group splits flagged events by incident id, preserving input order within
// each group. The returned ids are sorted.
func Group(events []types.Event) ([]types.IncidentID, map[types.IncidentID][]types.Event) {
	groups := make(map[types.IncidentID][]types.Event)
	for _, e := range events {
		groups[e.IncidentID] = append(groups[e.IncidentID], e)
	}
	ids := make([]types.IncidentID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, groups
}

// outcome is the per-incident slot filled by one worker.
type outcome struct {
	res     *phase.Result
	skipped string
}

// Run flags raw, segments every incident and concatenates the results in
// incident id order. A schema error aborts the batch before any incident is
// processed. Incidents that are empty or exceed the time budget are reported
// as skipped.
func (r *Runner) Run(ctx context.Context, raw []types.RawEvent) (*types.RunOutput, error) {
	events, err := r.seg.Flag(raw)
	if err != nil {
		return nil, err
	}
	ids, groups := Group(events)
	return r.run(ctx, ids, groups)
}

// RunGroups segments pre-grouped raw events. The map key is authoritative:
// every row is relabeled with it, whatever incident_id it carried. Ids with
// no events are reported as skipped.
func (r *Runner) RunGroups(ctx context.Context, raw map[types.IncidentID][]types.RawEvent) (*types.RunOutput, error) {
	ids := make([]types.IncidentID, 0, len(raw))
	groups := make(map[types.IncidentID][]types.Event, len(raw))
	for id, evs := range raw {
		rows := make([]types.RawEvent, len(evs))
		for i, ev := range evs {
			ev.IncidentID = id
			rows[i] = ev
		}
		flagged, err := r.seg.Flag(rows)
		if err != nil {
			return nil, fmt.Errorf("incident %s: %w", id, err)
		}
		ids = append(ids, id)
		groups[id] = flagged
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return r.run(ctx, ids, groups)
}

func (r *Runner) run(ctx context.Context, ids []types.IncidentID, groups map[types.IncidentID][]types.Event) (*types.RunOutput, error) {
	start := time.Now()
	slots := make([]outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.segmentOne(gctx, id, groups[id])
			if err != nil {
				var empty *phase.EmptyIncidentError
				switch {
				case errors.As(err, &empty):
					slots[i] = outcome{skipped: "no events"}
					return nil
				case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
					slog.Warn("incident exceeded time budget", "incident_id", id, "timeout", r.timeout)
					slots[i] = outcome{skipped: "timeout"}
					return nil
				}
				return fmt.Errorf("segment incident %s: %w", id, err)
			}
			slots[i] = outcome{res: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &types.RunOutput{}
	for i, id := range ids {
		slot := slots[i]
		if slot.res == nil {
			out.Skipped = append(out.Skipped, types.SkippedIncident{IncidentID: id, Reason: slot.skipped})
			continue
		}
		for _, m := range slot.res.Malformed {
			slog.Warn("malformed timestamp", "incident_id", id, "insert_sequence", m.InsertSequence, "value", m.Value)
		}
		out.Events = append(out.Events, slot.res.Events...)
		out.Summaries = append(out.Summaries, slot.res.Summary)
		if r.enricher != nil {
			out.Metrics = append(out.Metrics, r.enricher.Metrics(slot.res.Summary, slot.res.Events))
		}
	}

	slog.Debug("batch segmented",
		"incidents", len(out.Summaries),
		"events", len(out.Events),
		"skipped", len(out.Skipped),
		"duration", time.Since(start),
	)
	return out, nil
}

// segmentOne runs the pipeline for one incident under the time budget.
func (r *Runner) segmentOne(ctx context.Context, id types.IncidentID, events []types.Event) (*phase.Result, error) {
	if r.timeout <= 0 {
		return r.seg.Segment(id, events)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		res *phase.Result
		err error
	}
	// On timeout the goroutine is abandoned and runs Segment to completion.
	// Segment only reads its own slice and done is buffered, so the late send
	// never blocks and the goroutine exits on its own.
	done := make(chan result, 1)
	go func() {
		res, err := r.seg.Segment(id, events)
		done <- result{res, err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
