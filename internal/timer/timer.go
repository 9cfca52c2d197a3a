// Package timer derives elapsed time and goal progress for active sessions.
// Everything is recomputed from the session's fixed start instant on every
// call; nothing accumulates by tick, so a process that slept for an hour
// reports the right elapsed time on its next query.
package timer

import (
	"fmt"
	"time"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
)

// Elapsed returns how long the session has been running at now. Inactive
// sessions report zero, and a device clock that moved backwards clamps to
// zero rather than producing a negative duration.
func Elapsed(s document.Session, now document.Millis) time.Duration {
	if !s.IsActive || s.StartTime == 0 {
		return 0
	}
	delta := int64(now) - int64(s.StartTime)
	if delta < 0 {
		return 0
	}
	return time.Duration(delta) * time.Millisecond
}

// Goal returns the session's goal as a duration.
func Goal(s document.Session) time.Duration {
	return time.Duration(s.GoalHours * float64(time.Hour))
}

// Progress returns elapsed/goal. May exceed 1.0 once the goal is passed.
func Progress(s document.Session, now document.Millis) float64 {
	goal := Goal(s)
	if goal <= 0 {
		return 0
	}
	return float64(Elapsed(s, now)) / float64(goal)
}

// Remaining returns time left until the goal, clamped to zero afterwards.
func Remaining(s document.Session, now document.Millis) time.Duration {
	left := Goal(s) - Elapsed(s, now)
	if left < 0 {
		return 0
	}
	return left
}

// GoalReached reports whether elapsed has crossed the goal threshold.
func GoalReached(s document.Session, now document.Millis) bool {
	return s.IsActive && Elapsed(s, now) >= Goal(s)
}

// GoalTracker turns goal detection into a one-shot edge trigger. It
// remembers, per session kind, the start instant it has already fired for, so
// a goal reached at hour one does not fire again on every recompute — and a
// new session (different start instant) arms the trigger again.
type GoalTracker struct {
	notified map[document.Kind]document.Millis
}

func NewGoalTracker() *GoalTracker {
	return &GoalTracker{notified: make(map[document.Kind]document.Millis)}
}

// Check returns true exactly once per session instance, the first time it is
// called with the goal reached.
func (t *GoalTracker) Check(kind document.Kind, s document.Session, now document.Millis) bool {
	if !s.IsActive || s.StartTime == 0 {
		delete(t.notified, kind)
		return false
	}
	if t.notified[kind] == s.StartTime {
		return false
	}
	if !GoalReached(s, now) {
		// A different start instant re-arms the trigger.
		if t.notified[kind] != 0 && t.notified[kind] != s.StartTime {
			delete(t.notified, kind)
		}
		return false
	}
	t.notified[kind] = s.StartTime
	return true
}

// Reset clears all one-shot state, for sign-out.
func (t *GoalTracker) Reset() {
	t.notified = make(map[document.Kind]document.Millis)
}

// FormatDuration renders a duration as "15h 04m 05s", dropping leading zero
// components.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %02dm %02ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %02ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
