package phase

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/phaseseg/internal/types"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats emitted by the usual exports.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// Validate checks every raw event for an incident id before anything is
// processed, returning a *SchemaError for the first gap found. A blank
// timestamp is not a schema error: the event is flagged as malformed.
// Missing timestamp columns and fields are rejected by the readers.
func Validate(raw []types.RawEvent) error {
	for i, r := range raw {
		if strings.TrimSpace(string(r.IncidentID)) == "" {
			return &SchemaError{Field: "incident_id", Row: i}
		}
	}
	return nil
}

// Flag validates raw and derives the completion and archival-actor flags for
// every event. Events with unparseable timestamps are returned with
// Malformed set; they are not an error here.
func (s *Segmenter) Flag(raw []types.RawEvent) ([]types.Event, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	events := make([]types.Event, len(raw))
	for i, r := range raw {
		events[i] = s.flagOne(r)
	}
	return events, nil
}

func (s *Segmenter) flagOne(r types.RawEvent) types.Event {
	key := normalizeActor(r.Actor)
	e := types.Event{
		IncidentID:      types.NewIncidentID(string(r.IncidentID)),
		Timestamp:       r.Timestamp,
		InsertSequence:  r.InsertSequence,
		Actor:           r.Actor,
		ActorKey:        key,
		Description:     r.Description,
		IsArchivalActor: key != "" && key == s.archivalKey,
	}
	if r.Completion != nil {
		e.IsCompletion = *r.Completion
	} else {
		e.IsCompletion = s.completion.MatchString(r.Description)
	}
	t, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		e.Malformed = true
	} else {
		e.Time = t
	}
	return e
}
