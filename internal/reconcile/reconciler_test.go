package reconcile

import (
	"testing"
	"time"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
)

func TestLoopSuppressionWithinWindow(t *testing.T) {
	now := document.Now()
	rec := New()
	local := testDoc(now)

	remote := testDoc(now)
	remote.Skills["hydration"] = 10
	first := rec.Apply(local, RemoteUpdate{State: remote, WrittenAt: now - 10000}, now)
	if !first.Applied {
		t.Fatal("first update should merge")
	}

	// An update written 1.5s after the one we just applied is an echo of
	// our own push: dropped, document untouched.
	echo := testDoc(now)
	echo.Skills["hydration"] = 999
	result := rec.Apply(first.Merged, RemoteUpdate{State: echo, WrittenAt: now - 10000 + 1500}, now)
	if !result.Suppressed {
		t.Error("update inside the suppression window should be discarded")
	}
	if result.Applied || result.Merged != nil {
		t.Error("suppressed update must not produce a merged document")
	}
	if rec.LastSync() != now-10000 {
		t.Errorf("lastSync = %d, want unchanged %d", rec.LastSync(), now-10000)
	}
}

func TestStaleUpdateIsDiscarded(t *testing.T) {
	now := document.Now()
	rec := New()
	local := testDoc(now)

	first := rec.Apply(local, RemoteUpdate{State: testDoc(now), WrittenAt: now - 10000}, now)
	if !first.Applied {
		t.Fatal("first update should merge")
	}

	stale := rec.Apply(first.Merged, RemoteUpdate{State: testDoc(now), WrittenAt: now - 60000}, now)
	if !stale.Suppressed {
		t.Error("update older than lastSync should be discarded")
	}
}

func TestFirstSyncAlwaysMerges(t *testing.T) {
	now := document.Now()
	rec := New()
	if rec.Primed() {
		t.Fatal("reconciler should start unprimed")
	}

	// Fresh device sign-in: default local, remote has one history entry.
	local := testDoc(now)
	remote := testDoc(now)
	remote.FastHistory = []document.Entry{{
		ID:        "x",
		StartTime: now - ms(2*time.Hour),
		EndTime:   now - ms(time.Hour),
		Duration:  15,
		GoalHours: 16,
	}}

	writtenAt := now - 500 // within 2s of now, but lastSync==0 so it merges
	result := rec.Apply(local, RemoteUpdate{State: remote, WrittenAt: writtenAt}, now)
	if !result.Applied {
		t.Fatal("first sync must merge even with a fresh timestamp")
	}
	if len(result.Merged.FastHistory) != 1 || result.Merged.FastHistory[0].ID != "x" {
		t.Errorf("merged history = %+v, want the remote entry", result.Merged.FastHistory)
	}
	if rec.LastSync() != writtenAt {
		t.Errorf("lastSync = %d, want %d", rec.LastSync(), writtenAt)
	}
	if !rec.Primed() {
		t.Error("reconciler should be primed after the first update")
	}
}

func TestEmptyUpdatePrimesWithoutMerging(t *testing.T) {
	now := document.Now()
	rec := New()

	result := rec.Apply(testDoc(now), RemoteUpdate{Empty: true}, now)
	if result.Applied || result.Merged != nil {
		t.Error("empty update must not merge")
	}
	if !rec.Primed() {
		t.Error("empty update should prime the reconciler: remote confirmed empty")
	}
	if rec.LastSync() != 0 {
		t.Errorf("lastSync = %d, want 0 after empty update", rec.LastSync())
	}
}

func TestMergingFlagCoversWriteBack(t *testing.T) {
	now := document.Now()
	rec := New()

	result := rec.Apply(testDoc(now), RemoteUpdate{State: testDoc(now), WrittenAt: now - 10000}, now)
	if !result.Applied {
		t.Fatal("update should merge")
	}
	if !rec.Merging() {
		t.Error("Merging should be true until the write-back commits")
	}
	rec.Commit()
	if rec.Merging() {
		t.Error("Merging should clear after Commit")
	}
}

func TestResetClearsSyncState(t *testing.T) {
	now := document.Now()
	rec := New()
	rec.Apply(testDoc(now), RemoteUpdate{State: testDoc(now), WrittenAt: now - 10000}, now)
	rec.Commit()

	rec.Reset()
	if rec.Primed() || rec.Merging() || rec.LastSync() != 0 {
		t.Error("Reset should clear primed, merging and lastSync")
	}
}

func TestConcurrentStopScenario(t *testing.T) {
	// Device A has an active fast started at T. Device B completed and
	// recorded it. When A receives the snapshot, its active session clears
	// and no duplicate entry appears.
	now := document.Now()
	start := now - ms(6*time.Hour)

	rec := New()
	local := testDoc(now)
	local.ActiveFast = document.Session{StartTime: start, GoalHours: 16, IsActive: true}

	remote := testDoc(now)
	remote.FastHistory = []document.Entry{{
		ID:        "completed-on-b",
		StartTime: start,
		EndTime:   now - ms(time.Hour),
		Duration:  int64(ms(5 * time.Hour)),
		GoalHours: 16,
	}}

	result := rec.Apply(local, RemoteUpdate{State: remote, WrittenAt: now - 30000}, now)
	if !result.Applied {
		t.Fatal("update should merge")
	}
	if result.Merged.ActiveFast.IsActive {
		t.Error("active session should clear when remote history proves completion")
	}
	if !result.Effects.ClearedFast {
		t.Error("expected ClearedFast effect")
	}
	if len(result.Merged.FastHistory) != 1 {
		t.Errorf("history has %d entries, want 1", len(result.Merged.FastHistory))
	}
}

func TestSuppressionWindowBoundary(t *testing.T) {
	now := document.Now()
	rec := New()

	base := now - ms(time.Minute)
	first := rec.Apply(testDoc(now), RemoteUpdate{State: testDoc(now), WrittenAt: base}, now)
	if !first.Applied {
		t.Fatal("first update should merge")
	}
	rec.Commit()

	// Exactly at the window edge: no longer an echo.
	edge := rec.Apply(first.Merged, RemoteUpdate{State: testDoc(now), WrittenAt: base + SuppressionWindow}, now)
	if edge.Suppressed {
		t.Error("update exactly at the window boundary should merge")
	}
	if !edge.Applied {
		t.Error("boundary update should be applied")
	}
}
