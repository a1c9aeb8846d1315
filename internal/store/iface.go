package store

import "github.com/user/phaseseg/internal/types"

// Compile-time interface compliance checks.
var (
	_ types.EventSource = (*Store)(nil)
	_ types.ResultSink  = (*Store)(nil)
)
