package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/user/phaseseg/internal/phase"
	"github.com/user/phaseseg/internal/types"
)

// csvColumns maps accepted header names to canonical columns.
var csvColumns = map[string]string{
	"incident_id":     "incident_id",
	"incident":        "incident_id",
	"timestamp":       "timestamp",
	"time":            "timestamp",
	"insert_sequence": "insert_sequence",
	"seq":             "insert_sequence",
	"actor":           "actor",
	"user":            "actor",
	"description":     "description",
	"is_completion":   "is_completion",
}

// ReadCSV reads events from CSV with a header row. Header names are matched
// case-insensitively. A missing incident_id or timestamp column is a
// *phase.SchemaError with Row -1. Rows without insert_sequence get their row
// index.
func ReadCSV(r io.Reader) ([]types.RawEvent, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &phase.SchemaError{Field: "incident_id", Row: -1}
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canon, ok := csvColumns[key]; ok {
			if _, dup := cols[canon]; !dup {
				cols[canon] = i
			}
		}
	}
	for _, required := range []string{"incident_id", "timestamp"} {
		if _, ok := cols[required]; !ok {
			return nil, &phase.SchemaError{Field: required, Row: -1}
		}
	}

	get := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var events []types.RawEvent
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}

		ev := types.RawEvent{
			IncidentID:     types.IncidentID(get(rec, "incident_id")),
			Timestamp:      get(rec, "timestamp"),
			InsertSequence: int64(row),
			Actor:          get(rec, "actor"),
			Description:    get(rec, "description"),
		}
		if s := strings.TrimSpace(get(rec, "insert_sequence")); s != "" {
			seq, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d: insert_sequence %q: %w", row, s, err)
			}
			ev.InsertSequence = seq
		}
		if s := strings.TrimSpace(get(rec, "is_completion")); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("csv row %d: is_completion %q: %w", row, s, err)
			}
			ev.Completion = &b
		}
		events = append(events, ev)
	}
	return events, nil
}
