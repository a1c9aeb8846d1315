package phase

import (
	"sort"
	"time"

	"github.com/user/phaseseg/internal/types"
)

// Boundaries are the resolved phase cut points for one incident with an
// archival block. BStart and BEnd index the sorted event slice; BEnd is
// exclusive.
type Boundaries struct {
	Block ArchivalBlock

	// Reviewer is empty when no human actor precedes the archival block.
	Reviewer    string
	ReviewerKey string
	ReviewerIdx int

	HasCompleted bool
	Completed    time.Time
	ATailEnd     time.Time

	// LowerBound stops the backward walk over the reviewer's session. It does
	// not move B start itself.
	LowerBound time.Time

	BStart int
	BEnd   int
}

// CompletionAnchor returns the earliest completion-flagged timestamp in a
// sorted event slice.
func CompletionAnchor(events []types.Event) (time.Time, bool) {
	for _, e := range events {
		if e.IsCompletion {
			return e.Time, true
		}
	}
	return time.Time{}, false
}

// FindReviewer scans backward from just before firstArchival and returns the
// index of the first event whose actor is neither blank, the archival actor,
// nor ignorable. It returns -1 when there is none.
func FindReviewer(events []types.Event, firstArchival int, ignorable ActorSet) int {
	for k := firstArchival - 1; k >= 0; k-- {
		e := events[k]
		if e.ActorKey == "" || e.IsArchivalActor || ignorable.Has(e.ActorKey) {
			continue
		}
		return k
	}
	return -1
}

// FindSessionStart walks backward from the reviewer's event at reviewerIdx
// over events by the same reviewer or an ignorable actor, never stepping onto
// an event earlier than floor. Leading ignorable events are then trimmed so
// the returned index is always one of the reviewer's own events.
func FindSessionStart(events []types.Event, reviewerIdx int, reviewerKey string, floor time.Time, ignorable ActorSet) int {
	i := reviewerIdx
	for i-1 >= 0 {
		prev := events[i-1]
		if prev.Time.Before(floor) {
			break
		}
		if prev.ActorKey != reviewerKey && !ignorable.Has(prev.ActorKey) {
			break
		}
		i--
	}

	j := i
	for j <= reviewerIdx && ignorable.Has(events[j].ActorKey) {
		j++
	}
	if j <= reviewerIdx && events[j].ActorKey == reviewerKey {
		return j
	}
	return reviewerIdx
}

// firstAtOrAfter returns the first index whose time is >= t, clamped to limit.
func firstAtOrAfter(events []types.Event, t time.Time, limit int) int {
	i := sort.Search(len(events), func(i int) bool {
		return !events[i].Time.Before(t)
	})
	if i > limit {
		return limit
	}
	return i
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// lowerBound is the earliest instant the session walk may step onto.
func (s *Segmenter) lowerBound(block ArchivalBlock, b Boundaries) time.Time {
	bound := block.TimeFirst.Add(-s.opts.BLookbackWindow)
	if b.HasCompleted {
		bound = laterOf(bound, b.ATailEnd)
	}
	if s.opts.EnforceSameDay {
		t := block.TimeFirst
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		bound = laterOf(bound, midnight)
	}
	return bound
}

// Resolve computes the phase boundaries for a sorted event slice with an
// archival block.
func (s *Segmenter) Resolve(events []types.Event, block ArchivalBlock) Boundaries {
	b := Boundaries{Block: block, ReviewerIdx: -1}
	if t, ok := CompletionAnchor(events); ok {
		b.HasCompleted = true
		b.Completed = t
		b.ATailEnd = t.Add(s.opts.ATail)
	}
	b.LowerBound = s.lowerBound(block, b)

	b.ReviewerIdx = FindReviewer(events, block.First, s.ignorable)
	switch {
	case b.ReviewerIdx >= 0:
		reviewer := events[b.ReviewerIdx]
		b.Reviewer = reviewer.Actor
		b.ReviewerKey = reviewer.ActorKey
		run := FindSessionStart(events, b.ReviewerIdx, b.ReviewerKey, b.LowerBound, s.ignorable)
		start := events[run].Time
		if b.HasCompleted {
			start = laterOf(start, b.ATailEnd)
		}
		b.BStart = firstAtOrAfter(events, start, block.First)
	case b.HasCompleted:
		b.BStart = firstAtOrAfter(events, laterOf(block.TimeFirst, b.ATailEnd), block.First)
	default:
		b.BStart = block.First
	}

	b.BEnd = ExtendGraceWindow(events, block.Last, b.ReviewerKey, block.TimeLast.Add(s.opts.GracePeriod))
	// Grace never reaches back before completion.
	if b.HasCompleted && b.BEnd > block.Last+1 && events[block.Last+1].Time.Before(b.Completed) {
		b.BEnd = block.Last + 1
	}
	return b
}
