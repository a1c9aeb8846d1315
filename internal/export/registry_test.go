// internal/export/registry_test.go
package export

import (
	"context"
	"testing"

	"github.com/user/phaseseg/internal/types"
)

type recordingSink struct {
	got    *types.RunOutput
	closed bool
}

func (s *recordingSink) WriteResults(_ context.Context, out *types.RunOutput) error {
	s.got = out
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestRegistryWrite(t *testing.T) {
	reg := NewRegistry()

	sink := &recordingSink{}
	var gotLocation string
	reg.RegisterPrefix("test:", func(location string) (types.ResultSink, error) {
		gotLocation = location
		return sink, nil
	})

	out := &types.RunOutput{RunID: "run-1"}
	if err := reg.Write(context.Background(), "test:123", out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLocation != "test:123" {
		t.Errorf("expected location %q, got %q", "test:123", gotLocation)
	}
	if sink.got != out {
		t.Error("sink did not receive the run output")
	}
	if !sink.closed {
		t.Error("sink should be closed after writing")
	}
}

func TestRegistryNoSink(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Write(context.Background(), "unknown:123", &types.RunOutput{}); err == nil {
		t.Fatal("expected error for unregistered location, got nil")
	}
}

func TestRegistryPrefixBeatsExtension(t *testing.T) {
	reg := NewRegistry()

	var prefixCalls, extCalls, longCalls int
	reg.RegisterPrefix("db:", func(string) (types.ResultSink, error) {
		prefixCalls++
		return &recordingSink{}, nil
	})
	reg.RegisterPrefix("db:mem:", func(string) (types.ResultSink, error) {
		longCalls++
		return &recordingSink{}, nil
	})
	reg.RegisterExt(".CSV", func(string) (types.ResultSink, error) {
		extCalls++
		return &recordingSink{}, nil
	})

	for _, loc := range []string{"db:out.csv", "db:mem:x", "out/labels.csv"} {
		if _, err := reg.Open(loc); err != nil {
			t.Fatalf("Open(%q): %v", loc, err)
		}
	}

	if prefixCalls != 1 || longCalls != 1 || extCalls != 1 {
		t.Errorf("expected one call each, got prefix=%d long=%d ext=%d", prefixCalls, longCalls, extCalls)
	}
}
