// Package enrich derives reporting metrics from a segmented incident.
package enrich

import (
	"time"

	"github.com/user/phaseseg/internal/phase"
	"github.com/user/phaseseg/internal/types"
)

// Enricher computes IncidentMetrics using the session policies of the run
// that produced the labels.
type Enricher struct {
	c1 phase.SessionPolicy
	c2 phase.SessionPolicy
}

func New(opts phase.Options) *Enricher {
	return &Enricher{c1: opts.C1, c2: opts.C2}
}

// Metrics derives the extra measures for one incident. events are the
// incident's labeled events as returned by the segmenter.
func (e *Enricher) Metrics(sum types.IncidentSummary, events []types.LabeledEvent) types.IncidentMetrics {
	m := types.IncidentMetrics{
		IncidentID:      sum.IncidentID,
		IncidentSpanMin: between(sum.TStart, sum.TEnd),
		DurLiveMin:      between(sum.TStart, sum.TBStart),
		ATailUsed:       sum.ATailEnd != nil,
	}
	if sum.TCompleted != nil && sum.TArchiveFirst != nil {
		m.CompletedToArchiveMin = between(sum.TCompleted, sum.TArchiveFirst)
	}
	if sum.TC2Start != nil && sum.TArchiveLast != nil {
		m.LagBToC2Min = between(sum.TArchiveLast, sum.TC2Start)
	}

	m.PhaseTotalTrackedMin = orZero(sum.DurDocQCMin) + orZero(sum.DurC1Min) + orZero(sum.DurC2Min)
	if m.PhaseTotalTrackedMin > 0 {
		m.ShareB = share(sum.DurDocQCMin, m.PhaseTotalTrackedMin)
		m.ShareC1 = share(sum.DurC1Min, m.PhaseTotalTrackedMin)
		m.ShareC2 = share(sum.DurC2Min, m.PhaseTotalTrackedMin)
	}

	if sum.TBEnd != nil && sum.TArchiveLast != nil {
		m.BGraceUsed = sum.TBEnd.After(*sum.TArchiveLast)
	}
	if sum.TBStart != nil && sum.TArchiveLast != nil {
		same := sameDay(*sum.TBStart, *sum.TArchiveLast)
		m.SameDayB = &same
	}

	m.BStepsPerHour = perHour(sum.NDocQC, sum.DurDocQCMin)
	m.C1StepsPerHour = perHour(sum.NC1, sum.DurC1Min)
	m.C2StepsPerHour = perHour(sum.NC2, sum.DurC2Min)

	var c1Times, c2Times []time.Time
	prevArchival := false
	for _, ev := range events {
		if ev.Position < 0 {
			continue
		}
		if ev.IsArchivalActor && !prevArchival {
			m.ReopenedBlocks++
		}
		prevArchival = ev.IsArchivalActor

		switch ev.Phase {
		case types.PhaseDocPostArchival:
			c1Times = append(c1Times, ev.Time)
		case types.PhaseAnalystQC:
			if m.AnalystPrimary == "" {
				m.AnalystPrimary = ev.Actor
			}
			c2Times = append(c2Times, ev.Time)
		}
	}
	m.C1Sessions, m.C1Late = sessionMeta(c1Times, e.c1)
	m.C2Sessions, m.C2Late = sessionMeta(c2Times, e.c2)
	return m
}

// sessionMeta counts sessions and reports whether anything falls past the
// window that starts at the first timestamp.
func sessionMeta(times []time.Time, policy phase.SessionPolicy) (int, bool) {
	if len(times) == 0 {
		return 0, false
	}
	sessions := phase.Sessions(times, policy.Gap)
	late := times[len(times)-1].After(times[0].Add(policy.Window))
	return len(sessions), late
}

func between(from, to *time.Time) *float64 {
	if from == nil || to == nil {
		return nil
	}
	m := to.Sub(*from).Minutes()
	return &m
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func share(part *float64, total float64) *float64 {
	if part == nil {
		return nil
	}
	s := *part / total
	return &s
}

func perHour(steps int, minutes *float64) *float64 {
	if minutes == nil || *minutes <= 0 {
		return nil
	}
	r := float64(steps) / (*minutes / 60)
	return &r
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
