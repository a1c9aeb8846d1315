package phase

import (
	"time"

	"github.com/user/phaseseg/internal/types"
)

// ArchivalBlock is the span of an incident covered by archival-actor events.
// Non-archival events between First and Last belong to the span as well.
type ArchivalBlock struct {
	First     int
	Last      int
	TimeFirst time.Time
	TimeLast  time.Time
	// Runs counts the contiguous runs of archival-actor events inside the
	// span; more than one means the incident was re-archived.
	Runs int
}

// LocateArchivalBlock finds the archival span in a sorted event slice. It
// reports false when no event was written by the archival actor.
func LocateArchivalBlock(events []types.Event) (ArchivalBlock, bool) {
	block := ArchivalBlock{First: -1, Last: -1}
	prev := -2
	for i, e := range events {
		if !e.IsArchivalActor {
			continue
		}
		if block.First < 0 {
			block.First = i
		}
		block.Last = i
		if i != prev+1 {
			block.Runs++
		}
		prev = i
	}
	if block.First < 0 {
		return ArchivalBlock{}, false
	}
	block.TimeFirst = events[block.First].Time
	block.TimeLast = events[block.Last].Time
	return block, true
}
