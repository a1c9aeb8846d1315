package phase

import (
	"sort"

	"github.com/user/phaseseg/internal/types"
)

// Result is the labeled output for one incident.
type Result struct {
	// Events mirror the (timestamp, insert_sequence) order; events with
	// malformed timestamps trail the sorted ones.
	Events  []types.LabeledEvent
	Summary types.IncidentSummary
	// Boundaries is nil when the incident has no archival block.
	Boundaries *Boundaries
	Malformed  []*MalformedTimestampError
}

// SortEvents orders events by (timestamp, insert_sequence) ascending.
func SortEvents(events []types.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.InsertSequence < b.InsertSequence
	})
}

// splitMalformed copies events into the orderable ones and those whose
// timestamp could not be parsed. The input slice is left untouched.
func splitMalformed(events []types.Event) (ordered, malformed []types.Event) {
	ordered = make([]types.Event, 0, len(events))
	for _, e := range events {
		if e.Malformed {
			malformed = append(malformed, e)
			continue
		}
		ordered = append(ordered, e)
	}
	return ordered, malformed
}

// Segment runs locate, resolve, extend, label, sessionize and summarize over
// the flagged events of one incident. Every event receives exactly one label.
func (s *Segmenter) Segment(id types.IncidentID, events []types.Event) (*Result, error) {
	if len(events) == 0 {
		return nil, &EmptyIncidentError{IncidentID: id}
	}

	ordered, malformed := splitMalformed(events)
	SortEvents(ordered)

	res := &Result{}
	var labels []types.Phase
	if block, ok := LocateArchivalBlock(ordered); ok {
		b := s.Resolve(ordered, block)
		res.Boundaries = &b
		labels = Label(ordered, b, s.analysts)
	} else {
		labels = LabelAll(len(ordered))
	}

	res.Events = make([]types.LabeledEvent, 0, len(events))
	for i, e := range ordered {
		res.Events = append(res.Events, types.LabeledEvent{Event: e, Position: i, Phase: labels[i]})
	}
	for _, e := range malformed {
		res.Events = append(res.Events, types.LabeledEvent{Event: e, Position: -1, Phase: types.PhaseLiveDispatch})
		_, err := ParseTimestamp(e.Timestamp)
		res.Malformed = append(res.Malformed, &MalformedTimestampError{
			IncidentID:     id,
			InsertSequence: e.InsertSequence,
			Value:          e.Timestamp,
			Err:            err,
		})
	}

	res.Summary = s.summarize(id, ordered, labels, res.Boundaries, malformed)
	return res, nil
}

// SegmentRaw flags raw events of a single incident and segments them.
func (s *Segmenter) SegmentRaw(id types.IncidentID, raw []types.RawEvent) (*Result, error) {
	events, err := s.Flag(raw)
	if err != nil {
		return nil, err
	}
	return s.Segment(id, events)
}
