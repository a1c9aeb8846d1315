package phase

import (
	"fmt"

	"github.com/user/phaseseg/internal/types"
)

// SchemaError reports a required field missing from the input. It is fatal
// for the batch that contains it.
type SchemaError struct {
	Field string
	// Row is the zero-based input row, or -1 when the whole input lacks the
	// field (for example a missing CSV column).
	Row int
}

func (e *SchemaError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("schema: missing required field %q", e.Field)
	}
	return fmt.Sprintf("schema: row %d: missing required field %q", e.Row, e.Field)
}

// MalformedTimestampError reports an event whose timestamp could not be
// parsed. The event is still labeled but takes no part in ordering.
type MalformedTimestampError struct {
	IncidentID     types.IncidentID
	InsertSequence int64
	Value          string
	Err            error
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("incident %s: event %d: malformed timestamp %q: %v", e.IncidentID, e.InsertSequence, e.Value, e.Err)
}

func (e *MalformedTimestampError) Unwrap() error {
	return e.Err
}

// EmptyIncidentError reports an incident group with no events. Callers treat
// it as a skipped unit.
type EmptyIncidentError struct {
	IncidentID types.IncidentID
}

func (e *EmptyIncidentError) Error() string {
	return fmt.Sprintf("incident %s: no events", e.IncidentID)
}
