package phase

import (
	"github.com/user/phaseseg/internal/types"
)

// Label assigns one phase to every event of a sorted slice with resolved
// boundaries. Everything starts as A, then [BStart, BEnd) becomes B and
// events after BEnd are classified one by one: analysts get C2, everyone else
// C1. The archival span is always B, even when it precedes completion;
// outside it nothing before the completion marker leaves A. Resolve keeps
// BStart at or after the A-tail for the events ahead of the span.
func Label(events []types.Event, b Boundaries, analysts ActorSet) []types.Phase {
	labels := LabelAll(len(events))
	for i := b.BStart; i < b.BEnd && i < len(events); i++ {
		labels[i] = types.PhaseDocQC
	}
	for i := b.BEnd; i < len(events); i++ {
		if b.HasCompleted && events[i].Time.Before(b.Completed) {
			continue
		}
		if analysts.Has(events[i].ActorKey) {
			labels[i] = types.PhaseAnalystQC
		} else {
			labels[i] = types.PhaseDocPostArchival
		}
	}
	return labels
}

// LabelAll labels every event as live dispatch; used when there is no
// archival block.
func LabelAll(n int) []types.Phase {
	labels := make([]types.Phase, n)
	for i := range labels {
		labels[i] = types.PhaseLiveDispatch
	}
	return labels
}
