// internal/types/models.go
package types

import (
	"fmt"
	"time"
)

// Phase is the lifecycle phase assigned to a single event.
type Phase string

const (
	PhaseLiveDispatch    Phase = "A_LiveDispatch"
	PhaseDocQC           Phase = "B_DocQC"
	PhaseDocPostArchival Phase = "C1_DocPostArchival"
	PhaseAnalystQC       Phase = "C2_AnalystQC"
)

// Phases lists every label in lifecycle order.
var Phases = []Phase{PhaseLiveDispatch, PhaseDocQC, PhaseDocPostArchival, PhaseAnalystQC}

// ParsePhase returns the Phase named by s, or an error for unknown labels.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase: %q", s)
}

// RawEvent is one row as supplied by an ingestion source. Timestamp stays a
// string until flagging so that unparseable values can be reported per event.
type RawEvent struct {
	IncidentID     IncidentID `json:"incident_id"`
	Timestamp      string     `json:"timestamp"`
	InsertSequence int64      `json:"insert_sequence"`
	Actor          string     `json:"actor"`
	Description    string     `json:"description"`
	// Completion overrides the completion pattern when an upstream tagger
	// has already decided.
	Completion *bool `json:"is_completion,omitempty"`
}

// Event is a flagged, normalized RawEvent. Events are never modified after
// flagging.
type Event struct {
	IncidentID      IncidentID `json:"incident_id"`
	Time            time.Time  `json:"time"`
	Timestamp       string     `json:"timestamp"`
	InsertSequence  int64      `json:"insert_sequence"`
	Actor           string     `json:"actor"`
	ActorKey        string     `json:"-"`
	Description     string     `json:"description"`
	IsCompletion    bool       `json:"is_completion"`
	IsArchivalActor bool       `json:"is_archival_actor"`
	Malformed       bool       `json:"malformed,omitempty"`
}

// Raw converts the event back to its ingestion shape.
func (e Event) Raw() RawEvent {
	completion := e.IsCompletion
	return RawEvent{
		IncidentID:     e.IncidentID,
		Timestamp:      e.Timestamp,
		InsertSequence: e.InsertSequence,
		Actor:          e.Actor,
		Description:    e.Description,
		Completion:     &completion,
	}
}

// LabeledEvent is an Event with its phase. Position is the index within the
// incident's sorted sequence, or -1 for events with malformed timestamps.
type LabeledEvent struct {
	Event
	Position int   `json:"position"`
	Phase    Phase `json:"phase"`
}

// IncidentSummary is the per-incident record produced once at the end of
// segmentation.
type IncidentSummary struct {
	IncidentID       IncidentID `json:"incident_id"`
	HasArchivalBlock bool       `json:"has_archival_block"`
	HasCompleted     bool       `json:"has_completed"`
	Reviewer         string     `json:"reviewer,omitempty"`

	BStartIdx        *int `json:"b_start_idx"`
	BEndIdx          *int `json:"b_end_idx"`
	FirstArchivalIdx *int `json:"first_archival_idx"`
	LastArchivalIdx  *int `json:"last_archival_idx"`

	TStart        *time.Time `json:"t_start"`
	TEnd          *time.Time `json:"t_end"`
	TCompleted    *time.Time `json:"t_completed"`
	ATailEnd      *time.Time `json:"a_tail_end"`
	TArchiveFirst *time.Time `json:"t_archive_first"`
	TArchiveLast  *time.Time `json:"t_archive_last"`
	TBStart       *time.Time `json:"t_b_start"`
	TBEnd         *time.Time `json:"t_b_end"`
	TC1Start      *time.Time `json:"t_c1_start"`
	TC2Start      *time.Time `json:"t_c2_start"`

	DurDocQCMin *float64 `json:"dur_doc_qc_min"`
	DurC1Min    *float64 `json:"dur_c1_min"`
	DurC2Min    *float64 `json:"dur_c2_min"`

	NEventsTotal int `json:"n_events_total"`
	NLive        int `json:"n_live"`
	NDocQC       int `json:"n_doc_qc"`
	NC1          int `json:"n_c1"`
	NC2          int `json:"n_c2"`
	NMalformed   int `json:"n_malformed"`

	ActorsLive    []string `json:"actors_live"`
	ActorsDocQC   []string `json:"actors_doc_qc"`
	ActorsC1      []string `json:"actors_c1"`
	ActorsC2      []string `json:"actors_c2"`
	MalformedSeqs []int64  `json:"malformed_insert_sequences,omitempty"`
}

// IncidentMetrics holds the derived measures computed from a summary and its
// labeled events.
type IncidentMetrics struct {
	IncidentID            IncidentID `json:"incident_id"`
	IncidentSpanMin       *float64   `json:"incident_span_min"`
	DurLiveMin            *float64   `json:"dur_live_min"`
	CompletedToArchiveMin *float64   `json:"completed_to_archive_min"`
	LagBToC2Min           *float64   `json:"lag_b_to_c2_min"`
	PhaseTotalTrackedMin  float64    `json:"phase_total_tracked_min"`
	ShareB                *float64   `json:"share_b"`
	ShareC1               *float64   `json:"share_c1"`
	ShareC2               *float64   `json:"share_c2"`
	ATailUsed             bool       `json:"a_tail_used"`
	BGraceUsed            bool       `json:"b_grace_used"`
	SameDayB              *bool      `json:"same_day_b"`
	ReopenedBlocks        int        `json:"reopened_blocks"`
	AnalystPrimary        string     `json:"analyst_primary,omitempty"`
	BStepsPerHour         *float64   `json:"b_steps_per_hr"`
	C1StepsPerHour        *float64   `json:"c1_steps_per_hr"`
	C2StepsPerHour        *float64   `json:"c2_steps_per_hr"`
	C1Sessions            int        `json:"c1_sessions"`
	C1Late                bool       `json:"c1_late"`
	C2Sessions            int        `json:"c2_sessions"`
	C2Late                bool       `json:"c2_late"`
}

// SkippedIncident records an incident that produced no labels.
type SkippedIncident struct {
	IncidentID IncidentID `json:"incident_id"`
	Reason     string     `json:"reason"`
}

// RunOutput is everything one segmentation run produces.
type RunOutput struct {
	RunID     RunID             `json:"run_id"`
	Events    []LabeledEvent    `json:"events"`
	Summaries []IncidentSummary `json:"summaries"`
	Metrics   []IncidentMetrics `json:"metrics,omitempty"`
	Skipped   []SkippedIncident `json:"skipped,omitempty"`
}

// RunStatus represents the lifecycle state of a segmentation run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunIndex is the persisted record of one segmentation run.
type RunIndex struct {
	RunID      RunID      `json:"run_id"`
	Job        string     `json:"job,omitempty"`
	Input      string     `json:"input"`
	Output     string     `json:"output,omitempty"`
	Status     RunStatus  `json:"status"`
	Incidents  int        `json:"incidents"`
	Events     int        `json:"events"`
	Skipped    int        `json:"skipped"`
	Malformed  int        `json:"malformed"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
