// Package phase partitions an incident's event log into lifecycle phases:
// live dispatch (A), documentation QC (B), post-archival documentation edits
// (C1) and post-archival analyst QC (C2).
//
// The package is pure: it performs no I/O, holds no global state and never
// logs. A Segmenter is immutable after construction and safe for concurrent
// use across incidents.
package phase

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DurationMode selects how a post-review phase's sessions are reduced to a
// single duration.
type DurationMode string

const (
	// FirstSession measures only the first session.
	FirstSession DurationMode = "first_session"
	// FirstWindow measures from the first event to the last event inside the
	// window.
	FirstWindow DurationMode = "first_window"
	// SumSessionsInWindow adds up every session that starts inside the window.
	SumSessionsInWindow DurationMode = "sum_sessions_in_window"
)

// ParseDurationMode validates a mode name. The empty string maps to
// FirstSession.
func ParseDurationMode(s string) (DurationMode, error) {
	switch DurationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FirstSession:
		return FirstSession, nil
	case FirstWindow:
		return FirstWindow, nil
	case SumSessionsInWindow:
		return SumSessionsInWindow, nil
	}
	return "", fmt.Errorf("unknown duration mode: %q", s)
}

// SessionPolicy controls sessionization of one post-review phase.
type SessionPolicy struct {
	Gap    time.Duration
	Window time.Duration
	Mode   DurationMode
}

// DefaultCompletionPattern matches the status line written when an incident
// is completed, e.g. "Change status to: Completed".
const DefaultCompletionPattern = `change status to\s*:?\s*Completed`

// Options is the per-run configuration for segmentation.
type Options struct {
	ArchivalActor   string
	AnalystActors   []string
	IgnorableActors []string

	// CompletionPattern is matched case-insensitively against descriptions.
	CompletionPattern string

	GracePeriod     time.Duration
	ATail           time.Duration
	BLookbackWindow time.Duration
	EnforceSameDay  bool

	C1 SessionPolicy
	C2 SessionPolicy
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ArchivalActor:     "CGI_HISMGR",
		CompletionPattern: DefaultCompletionPattern,
		GracePeriod:       10 * time.Minute,
		ATail:             2 * time.Minute,
		BLookbackWindow:   24 * time.Hour,
		C1: SessionPolicy{
			Gap:    2 * time.Hour,
			Window: 3 * 24 * time.Hour,
			Mode:   FirstSession,
		},
		C2: SessionPolicy{
			Gap:    6 * time.Hour,
			Window: 14 * 24 * time.Hour,
			Mode:   FirstSession,
		},
	}
}

// Validate reports the first invalid option.
func (o Options) Validate() error {
	if normalizeActor(o.ArchivalActor) == "" {
		return fmt.Errorf("archival actor is required")
	}
	if o.GracePeriod < 0 {
		return fmt.Errorf("grace period must not be negative: %s", o.GracePeriod)
	}
	if o.ATail < 0 {
		return fmt.Errorf("a-tail must not be negative: %s", o.ATail)
	}
	if o.BLookbackWindow < 0 {
		return fmt.Errorf("b lookback window must not be negative: %s", o.BLookbackWindow)
	}
	policies := []struct {
		name   string
		policy SessionPolicy
	}{{"c1", o.C1}, {"c2", o.C2}}
	for _, p := range policies {
		if p.policy.Gap < 0 || p.policy.Window < 0 {
			return fmt.Errorf("%s session policy must not be negative", p.name)
		}
		if _, err := ParseDurationMode(string(p.policy.Mode)); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}

// ActorSet holds normalized actor identifiers.
type ActorSet map[string]struct{}

// NewActorSet normalizes actors into a set. Blank entries are dropped.
func NewActorSet(actors ...string) ActorSet {
	set := make(ActorSet, len(actors))
	for _, a := range actors {
		if key := normalizeActor(a); key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}

// Has reports whether the normalized key is in the set.
func (s ActorSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// normalizeActor is the single place actor identifiers are canonicalized.
func normalizeActor(actor string) string {
	return strings.ToUpper(strings.TrimSpace(actor))
}

// Segmenter runs the phase pipeline with one fixed set of Options.
type Segmenter struct {
	opts        Options
	archivalKey string
	analysts    ActorSet
	ignorable   ActorSet
	completion  *regexp.Regexp
	c1, c2      SessionPolicy
}

// New validates opts and compiles them into a Segmenter.
func New(opts Options) (*Segmenter, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	pattern := opts.CompletionPattern
	if pattern == "" {
		pattern = DefaultCompletionPattern
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile completion pattern: %w", err)
	}

	c1, c2 := opts.C1, opts.C2
	c1.Mode, _ = ParseDurationMode(string(c1.Mode))
	c2.Mode, _ = ParseDurationMode(string(c2.Mode))

	return &Segmenter{
		opts:        opts,
		archivalKey: normalizeActor(opts.ArchivalActor),
		analysts:    NewActorSet(opts.AnalystActors...),
		ignorable:   NewActorSet(opts.IgnorableActors...),
		completion:  re,
		c1:          c1,
		c2:          c2,
	}, nil
}

// Options returns the options the Segmenter was built with.
func (s *Segmenter) Options() Options {
	return s.opts
}
