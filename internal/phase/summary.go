package phase

import (
	"time"

	"github.com/user/phaseseg/internal/types"
)

// actorList collects display names in first-seen order, one per normalized key.
type actorList struct {
	seen  map[string]bool
	names []string
}

func (l *actorList) add(e types.Event) {
	if e.ActorKey == "" {
		return
	}
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	if l.seen[e.ActorKey] {
		return
	}
	l.seen[e.ActorKey] = true
	l.names = append(l.names, e.Actor)
}

func (l *actorList) list() []string {
	if l.names == nil {
		return []string{}
	}
	return l.names
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func intPtr(i int) *int {
	return &i
}

func minutesPtr(d time.Duration) *float64 {
	m := d.Minutes()
	return &m
}

// summarize builds the incident record. b is nil when the incident has no
// archival block.
func (s *Segmenter) summarize(id types.IncidentID, ordered []types.Event, labels []types.Phase, b *Boundaries, malformed []types.Event) types.IncidentSummary {
	sum := types.IncidentSummary{
		IncidentID:   id,
		NEventsTotal: len(ordered) + len(malformed),
		NMalformed:   len(malformed),
	}

	var live, doc, c1, c2 actorList
	for i, e := range ordered {
		switch labels[i] {
		case types.PhaseLiveDispatch:
			sum.NLive++
			live.add(e)
		case types.PhaseDocQC:
			sum.NDocQC++
			doc.add(e)
		case types.PhaseDocPostArchival:
			sum.NC1++
			c1.add(e)
		case types.PhaseAnalystQC:
			sum.NC2++
			c2.add(e)
		}
	}
	for _, e := range malformed {
		sum.NLive++
		live.add(e)
		sum.MalformedSeqs = append(sum.MalformedSeqs, e.InsertSequence)
	}
	sum.ActorsLive = live.list()
	sum.ActorsDocQC = doc.list()
	sum.ActorsC1 = c1.list()
	sum.ActorsC2 = c2.list()

	if len(ordered) > 0 {
		sum.TStart = timePtr(ordered[0].Time)
		sum.TEnd = timePtr(ordered[len(ordered)-1].Time)
	}
	if t, ok := CompletionAnchor(ordered); ok {
		sum.HasCompleted = true
		sum.TCompleted = timePtr(t)
		sum.ATailEnd = timePtr(t.Add(s.opts.ATail))
	}

	if b == nil {
		return sum
	}

	sum.HasArchivalBlock = true
	sum.Reviewer = b.Reviewer
	sum.BStartIdx = intPtr(b.BStart)
	sum.BEndIdx = intPtr(b.BEnd)
	sum.FirstArchivalIdx = intPtr(b.Block.First)
	sum.LastArchivalIdx = intPtr(b.Block.Last)
	sum.TArchiveFirst = timePtr(b.Block.TimeFirst)
	sum.TArchiveLast = timePtr(b.Block.TimeLast)

	tbStart := ordered[b.BStart].Time
	tbEnd := tbStart
	if b.BEnd > b.BStart {
		tbEnd = ordered[b.BEnd-1].Time
	}
	sum.TBStart = timePtr(tbStart)
	sum.TBEnd = timePtr(tbEnd)
	sum.DurDocQCMin = minutesPtr(tbEnd.Sub(tbStart))

	var c1Times, c2Times []time.Time
	for i := b.BEnd; i < len(ordered); i++ {
		switch labels[i] {
		case types.PhaseDocPostArchival:
			c1Times = append(c1Times, ordered[i].Time)
		case types.PhaseAnalystQC:
			c2Times = append(c2Times, ordered[i].Time)
		}
	}
	if len(c1Times) > 0 {
		sum.TC1Start = timePtr(c1Times[0])
	}
	if len(c2Times) > 0 {
		sum.TC2Start = timePtr(c2Times[0])
	}
	if d, ok := PhaseDuration(c1Times, s.c1); ok {
		sum.DurC1Min = minutesPtr(d)
	}
	if d, ok := PhaseDuration(c2Times, s.c2); ok {
		sum.DurC2Min = minutesPtr(d)
	}
	return sum
}
