package phase

import (
	"testing"
	"time"

	"github.com/user/phaseseg/internal/types"
)

func ev(offset time.Duration, actor string) types.Event {
	return types.Event{Time: base.Add(offset), Actor: actor, ActorKey: normalizeActor(actor)}
}

func TestFindReviewerSkipsBlankAndIgnorable(t *testing.T) {
	events := []types.Event{
		ev(0, "ALICE"),
		ev(time.Minute, "SYSTEM"),
		ev(2*time.Minute, " "),
		ev(3*time.Minute, "ARCHIVER"),
	}
	events[3].IsArchivalActor = true

	if got := FindReviewer(events, 3, NewActorSet("system")); got != 0 {
		t.Errorf("expected reviewer at 0, got %d", got)
	}
	if got := FindReviewer(events, 3, nil); got != 1 {
		t.Errorf("expected SYSTEM to count as reviewer when not ignorable, got %d", got)
	}
	if got := FindReviewer(events, 0, nil); got != -1 {
		t.Errorf("expected no reviewer before index 0, got %d", got)
	}
}

func TestFindSessionStartRespectsFloor(t *testing.T) {
	events := []types.Event{
		ev(0, "ALICE"),
		ev(time.Hour, "ALICE"),
		ev(2*time.Hour, "ALICE"),
	}
	if got := FindSessionStart(events, 2, "ALICE", base.Add(30*time.Minute), nil); got != 1 {
		t.Errorf("expected walk to stop at the floor, got %d", got)
	}
	if got := FindSessionStart(events, 2, "ALICE", base.Add(-time.Hour), nil); got != 0 {
		t.Errorf("expected full run, got %d", got)
	}
	if got := FindSessionStart(events, 2, "ALICE", base.Add(3*time.Hour), nil); got != 2 {
		t.Errorf("expected reviewer index when floor is past it, got %d", got)
	}
}

func TestExtendGraceWindow(t *testing.T) {
	events := []types.Event{
		ev(0, "ARCHIVER"),
		ev(time.Minute, "ALICE"),
		ev(2*time.Minute, "ALICE"),
		ev(3*time.Minute, "BOB"),
	}
	if got := ExtendGraceWindow(events, 0, "ALICE", base.Add(10*time.Minute)); got != 3 {
		t.Errorf("expected B to end at 3, got %d", got)
	}
	if got := ExtendGraceWindow(events, 0, "ALICE", base.Add(time.Minute)); got != 2 {
		t.Errorf("expected cutoff to be inclusive, got %d", got)
	}
	if got := ExtendGraceWindow(events, 0, "", base.Add(time.Hour)); got != 1 {
		t.Errorf("expected no extension without reviewer, got %d", got)
	}
}

func TestLocateArchivalBlockSpan(t *testing.T) {
	events := []types.Event{
		ev(0, "ALICE"),
		ev(time.Minute, "ARCHIVER"),
		ev(2*time.Minute, "ALICE"),
		ev(3*time.Minute, "ARCHIVER"),
		ev(4*time.Minute, "BOB"),
	}
	events[1].IsArchivalActor = true
	events[3].IsArchivalActor = true

	block, ok := LocateArchivalBlock(events)
	if !ok {
		t.Fatal("expected an archival block")
	}
	if block.First != 1 || block.Last != 3 || block.Runs != 2 {
		t.Errorf("unexpected block %+v", block)
	}
	if _, ok := LocateArchivalBlock(events[:1]); ok {
		t.Error("expected no block without archival events")
	}
}
