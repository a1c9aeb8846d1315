// internal/types/interfaces.go
package types

import (
	"context"
)

type RunStore interface {
	Create(ctx context.Context, run *RunIndex) error
	Get(ctx context.Context, id RunID) (*RunIndex, error)
	List(ctx context.Context) ([]*RunIndex, error)
	Update(ctx context.Context, run *RunIndex) error
}

type ResultStore interface {
	Save(ctx context.Context, out *RunOutput) error
	Events(ctx context.Context, runID RunID, limit int) ([]*LabeledEvent, error)
	Summaries(ctx context.Context, runID RunID) ([]*IncidentSummary, error)
	Count(ctx context.Context, runID RunID) (int64, error)
}

// EventSource yields raw events for segmentation.
type EventSource interface {
	ReadEvents(ctx context.Context) ([]RawEvent, error)
	Close() error
}

// ResultSink receives the output of a segmentation run.
type ResultSink interface {
	WriteResults(ctx context.Context, out *RunOutput) error
	Close() error
}
