// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/phaseseg/internal/types"

// Compile-time interface compliance checks.
var _ types.RunStore = (*RunStore)(nil)
var _ types.ResultStore = (*ResultStore)(nil)
