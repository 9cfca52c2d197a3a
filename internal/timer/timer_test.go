package timer

import (
	"testing"
	"time"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
)

func ms(d time.Duration) document.Millis {
	return document.Millis(d.Milliseconds())
}

func activeSession(start document.Millis, goalHours float64) document.Session {
	return document.Session{StartTime: start, GoalHours: goalHours, IsActive: true}
}

func TestElapsedRecomputesFromStartInstant(t *testing.T) {
	start := document.Millis(1700000000000)
	s := activeSession(start, 16)

	// One single query an hour, a minute and a second after start must
	// report the full elapsed time without any intermediate ticks.
	now := start + ms(time.Hour+time.Minute+time.Second)
	if got := Elapsed(s, now); got != time.Hour+time.Minute+time.Second {
		t.Errorf("elapsed = %v, want 1h1m1s", got)
	}
}

func TestElapsedClampsBackwardsClock(t *testing.T) {
	start := document.Millis(1700000000000)
	s := activeSession(start, 16)
	if got := Elapsed(s, start-5000); got != 0 {
		t.Errorf("elapsed = %v, want 0 when clock moved backwards", got)
	}
}

func TestElapsedInactiveSessionIsZero(t *testing.T) {
	s := document.Session{GoalHours: 16}
	if got := Elapsed(s, document.Now()); got != 0 {
		t.Errorf("elapsed = %v, want 0 for inactive session", got)
	}
}

func TestProgressAndRemaining(t *testing.T) {
	start := document.Millis(1700000000000)
	s := activeSession(start, 2)

	now := start + ms(time.Hour)
	if got := Progress(s, now); got != 0.5 {
		t.Errorf("progress = %v, want 0.5", got)
	}
	if got := Remaining(s, now); got != time.Hour {
		t.Errorf("remaining = %v, want 1h", got)
	}
	if got := Remaining(s, now+ms(3*time.Hour)); got != 0 {
		t.Errorf("remaining = %v, want 0 past goal", got)
	}
}

func TestGoalTrackerFiresOncePerSession(t *testing.T) {
	tracker := NewGoalTracker()
	start := document.Millis(1700000000000)
	s := activeSession(start, 1)

	before := start + ms(30*time.Minute)
	if tracker.Check(document.KindFast, s, before) {
		t.Error("fired before goal reached")
	}

	crossed := start + ms(time.Hour)
	if !tracker.Check(document.KindFast, s, crossed) {
		t.Error("did not fire when goal crossed")
	}

	// Recomputing every second afterwards must stay silent.
	for i := 1; i <= 60; i++ {
		at := crossed + document.Millis(i*1000)
		if tracker.Check(document.KindFast, s, at) {
			t.Fatalf("fired again at +%ds", i)
		}
	}
}

func TestGoalTrackerRearmsForNewSession(t *testing.T) {
	tracker := NewGoalTracker()
	start := document.Millis(1700000000000)
	first := activeSession(start, 1)

	crossed := start + ms(time.Hour)
	if !tracker.Check(document.KindFast, first, crossed) {
		t.Fatal("first session goal did not fire")
	}

	// New session instance: different start, goal crossed again.
	second := activeSession(crossed+1000, 1)
	again := second.StartTime + ms(time.Hour)
	if !tracker.Check(document.KindFast, second, again) {
		t.Error("new session instance should re-arm the trigger")
	}
}

func TestGoalTrackerKindsAreIndependent(t *testing.T) {
	tracker := NewGoalTracker()
	start := document.Millis(1700000000000)
	fast := activeSession(start, 1)
	sleep := activeSession(start, 1)
	at := start + ms(time.Hour)

	if !tracker.Check(document.KindFast, fast, at) {
		t.Error("fast goal did not fire")
	}
	if !tracker.Check(document.KindSleep, sleep, at) {
		t.Error("sleep goal should fire independently of fast")
	}
}

func TestGoalTrackerClearsWhenSessionStops(t *testing.T) {
	tracker := NewGoalTracker()
	start := document.Millis(1700000000000)
	s := activeSession(start, 1)
	at := start + ms(time.Hour)

	if !tracker.Check(document.KindFast, s, at) {
		t.Fatal("goal did not fire")
	}

	stopped := document.Session{GoalHours: 1}
	if tracker.Check(document.KindFast, stopped, at+1000) {
		t.Error("stopped session must not fire")
	}

	// Restarting with the same start instant counts as a new check cycle
	// only if the instant differs; an adopted remote session with a fresh
	// start fires again.
	adopted := activeSession(at+2000, 1)
	reach := adopted.StartTime + ms(time.Hour)
	if !tracker.Check(document.KindFast, adopted, reach) {
		t.Error("adopted session with new start should fire")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{time.Hour + time.Minute + time.Second, "1h 01m 01s"},
		{15 * time.Hour, "15h 00m 00s"},
		{90 * time.Second, "1m 30s"},
		{5 * time.Second, "5s"},
		{-time.Second, "0s"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.in); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
