// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type IncidentID string
type RunID string
type JobID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// NewIncidentID trims surrounding whitespace so that "  42" and "42" group
// into the same incident.
func NewIncidentID(raw string) IncidentID {
	return IncidentID(strings.TrimSpace(raw))
}
