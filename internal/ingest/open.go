// Package ingest reads raw incident events from CSV, JSONL or a SQLite
// event store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/phaseseg/internal/store"
	"github.com/user/phaseseg/internal/types"
)

// SQLitePrefix marks a location as a SQLite database path.
const SQLitePrefix = "sqlite:"

// fileSource reads a whole file with one of the format readers.
type fileSource struct {
	path string
	read func(io.Reader) ([]types.RawEvent, error)
}

func (f *fileSource) ReadEvents(ctx context.Context) ([]types.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	events, err := f.read(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(f.path), err)
	}
	return events, nil
}

func (f *fileSource) Close() error { return nil }

// Open returns an event source for location: "sqlite:<path>" for the event
// store, otherwise a .csv, .jsonl or .ndjson file.
func Open(location string) (types.EventSource, error) {
	if path, ok := strings.CutPrefix(location, SQLitePrefix); ok {
		s, err := store.New(path)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		return s, nil
	}

	switch strings.ToLower(filepath.Ext(location)) {
	case ".csv":
		return &fileSource{path: location, read: ReadCSV}, nil
	case ".jsonl", ".ndjson":
		return &fileSource{path: location, read: ReadJSONL}, nil
	}
	return nil, fmt.Errorf("unsupported input format: %s", location)
}

// ReadAll opens location, reads every event and closes the source.
func ReadAll(ctx context.Context, location string) ([]types.RawEvent, error) {
	src, err := Open(location)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.ReadEvents(ctx)
}
