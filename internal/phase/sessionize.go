package phase

import (
	"time"
)

// Sessions splits ascending timestamps wherever the gap between neighbours
// exceeds gap. A gap of exactly gap stays in the same session.
func Sessions(times []time.Time, gap time.Duration) [][]time.Time {
	if len(times) == 0 {
		return nil
	}
	var sessions [][]time.Time
	start := 0
	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) > gap {
			sessions = append(sessions, times[start:i])
			start = i
		}
	}
	return append(sessions, times[start:])
}

func span(times []time.Time) time.Duration {
	if len(times) == 0 {
		return 0
	}
	return times[len(times)-1].Sub(times[0])
}

// PhaseDuration reduces ascending timestamps of one phase to a duration
// according to policy. It reports false when there are no timestamps. One
// late straggler never stretches the result beyond the policy's window.
func PhaseDuration(times []time.Time, policy SessionPolicy) (time.Duration, bool) {
	if len(times) == 0 {
		return 0, false
	}
	if len(times) == 1 {
		return 0, true
	}

	sessions := Sessions(times, policy.Gap)
	windowEnd := times[0].Add(policy.Window)

	switch policy.Mode {
	case FirstWindow:
		last := 0
		for i, t := range times {
			if t.After(windowEnd) {
				break
			}
			last = i
		}
		return times[last].Sub(times[0]), true
	case SumSessionsInWindow:
		var total time.Duration
		for _, sess := range sessions {
			if sess[0].After(windowEnd) {
				break
			}
			total += span(sess)
		}
		return total, true
	default:
		return span(sessions[0]), true
	}
}
