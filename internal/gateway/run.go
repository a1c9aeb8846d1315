package gateway

import (
	"context"
	"time"

	"github.com/user/phaseseg/internal/types"
)

// Request names the input to segment and where to write the results.
type Request struct {
	// Job is the scheduled job that produced the request, if any.
	Job    string
	Input  string
	Output string
}

// lane returns the queue lane key. Runs of the same job, or of the same
// input when ad hoc, are processed one at a time.
func (r Request) lane() string {
	if r.Job != "" {
		return "job:" + r.Job
	}
	return "input:" + r.Input
}

// Run tracks a single execution of a segmentation request.
type Run struct {
	ID         types.RunID
	Lane       string
	Request    Request
	Status     types.RunStatus
	Attempts   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      error
	Ctx        context.Context
	OnComplete func(*types.RunIndex)
}

// NewRun creates a Run in the queued state for the given request.
func NewRun(id types.RunID, req Request) *Run {
	return &Run{
		ID:        id,
		Lane:      req.lane(),
		Request:   req,
		Status:    types.RunStatusQueued,
		Attempts:  0,
		CreatedAt: time.Now(),
	}
}
