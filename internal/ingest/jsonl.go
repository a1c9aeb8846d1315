package ingest

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/user/phaseseg/internal/phase"
	"github.com/user/phaseseg/internal/types"
)

//go:embed event.schema.json
var eventSchemaJSON []byte

const eventSchemaURL = "phaseseg://event.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func eventSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(eventSchemaURL, bytes.NewReader(eventSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(eventSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// ReadJSONL reads one JSON object per line and validates each against the
// event schema. Blank lines are skipped. A missing required field is
// reported as a *phase.SchemaError; Row counts non-blank records from zero.
// Records without insert_sequence get their record index.
func ReadJSONL(r io.Reader) ([]types.RawEvent, error) {
	compiled, err := eventSchema()
	if err != nil {
		return nil, err
	}

	var events []types.RawEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		row := len(events)

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var payload any
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("line %d: decode: %w", line, err)
		}
		obj, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("line %d: expected a JSON object", line)
		}
		for _, field := range []string{"incident_id", "timestamp"} {
			if v, ok := obj[field]; !ok || v == nil {
				return nil, &phase.SchemaError{Field: field, Row: row}
			}
		}
		if err := compiled.Validate(payload); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ev, err := fromObject(obj, row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

func fromObject(obj map[string]any, row int) (types.RawEvent, error) {
	ev := types.RawEvent{
		IncidentID:     types.IncidentID(stringValue(obj["incident_id"])),
		Timestamp:      stringValue(obj["timestamp"]),
		InsertSequence: int64(row),
		Actor:          stringValue(obj["actor"]),
		Description:    stringValue(obj["description"]),
	}
	if n, ok := obj["insert_sequence"].(json.Number); ok {
		seq, err := n.Int64()
		if err != nil {
			return ev, fmt.Errorf("insert_sequence: %w", err)
		}
		ev.InsertSequence = seq
	}
	if b, ok := obj["is_completion"].(bool); ok {
		ev.Completion = &b
	}
	return ev, nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case nil:
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
