package phase

import (
	"time"

	"github.com/user/phaseseg/internal/types"
)

// ExtendGraceWindow returns the exclusive end of B. Starting right after the
// archival block it absorbs consecutive events by the reviewer stamped no
// later than cutoff.
func ExtendGraceWindow(events []types.Event, lastArchival int, reviewerKey string, cutoff time.Time) int {
	end := lastArchival + 1
	if reviewerKey == "" {
		return end
	}
	for end < len(events) {
		e := events[end]
		if e.ActorKey != reviewerKey || e.Time.After(cutoff) {
			break
		}
		end++
	}
	return end
}
