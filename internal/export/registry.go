// internal/export/registry.go
package export

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/phaseseg/internal/types"
)

// Opener creates a sink for the given output location.
type Opener func(location string) (types.ResultSink, error)

// Registry routes run output to a sink based on the location's prefix
// (e.g. "sqlite:") or file extension (e.g. ".csv").
type Registry struct {
	mu       sync.RWMutex
	prefixes map[string]Opener
	exts     map[string]Opener
}

// NewRegistry creates an empty sink registry.
func NewRegistry() *Registry {
	return &Registry{
		prefixes: make(map[string]Opener),
		exts:     make(map[string]Opener),
	}
}

// Default returns a registry with the built-in sinks registered.
func Default() *Registry {
	r := NewRegistry()
	r.RegisterPrefix(SQLitePrefix, OpenSQLite)
	r.RegisterExt(".csv", OpenCSV)
	r.RegisterExt(".jsonl", OpenJSONL)
	r.RegisterExt(".ndjson", OpenJSONL)
	r.RegisterExt(".json", OpenJSON)
	return r
}

// RegisterPrefix adds an opener for locations starting with prefix.
func (r *Registry) RegisterPrefix(prefix string, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = open
}

// RegisterExt adds an opener for locations ending in ext.
func (r *Registry) RegisterExt(ext string, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exts[strings.ToLower(ext)] = open
}

// Open finds the opener for location. The longest matching prefix wins over
// any extension match.
func (r *Registry) Open(location string) (types.ResultSink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefixes := make([]string, 0, len(r.prefixes))
	for p := range r.prefixes {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if strings.HasPrefix(location, p) {
			return r.prefixes[p](location)
		}
	}

	if open, ok := r.exts[strings.ToLower(filepath.Ext(location))]; ok {
		return open(location)
	}
	return nil, fmt.Errorf("no sink for output: %s", location)
}

// Write opens the sink for location, writes out and closes the sink.
func (r *Registry) Write(ctx context.Context, location string, out *types.RunOutput) error {
	sink, err := r.Open(location)
	if err != nil {
		return err
	}
	if err := sink.WriteResults(ctx, out); err != nil {
		sink.Close()
		return fmt.Errorf("write results to %s: %w", location, err)
	}
	return sink.Close()
}
