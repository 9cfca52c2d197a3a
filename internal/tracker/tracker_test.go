package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
	"github.com/lurioneli/Sleep-Suivour/internal/export"
	"github.com/lurioneli/Sleep-Suivour/internal/localstore"
	"github.com/lurioneli/Sleep-Suivour/internal/reconcile"
	"github.com/lurioneli/Sleep-Suivour/internal/syncclient"
)

type fakeGateway struct {
	signedIn bool
	pushes   []*document.Document
	pushErr  error
	updates  chan reconcile.RemoteUpdate

	closed          bool
	updatesClosed   bool
	signedOut       bool
	closedFirst     bool
	subscribeCalled bool
}

func (f *fakeGateway) SignedIn() bool { return f.signedIn }

func (f *fakeGateway) SignUp(ctx context.Context, email, password, displayName string) (syncclient.Credentials, error) {
	f.signedIn = true
	return syncclient.Credentials{AccountID: "acc-1", Email: email}, nil
}

func (f *fakeGateway) SignIn(ctx context.Context, email, password string) (syncclient.Credentials, error) {
	f.signedIn = true
	return syncclient.Credentials{AccountID: "acc-1", Email: email}, nil
}

func (f *fakeGateway) SignOut(ctx context.Context) {
	f.signedOut = true
	f.closedFirst = f.closed
	f.signedIn = false
}

func (f *fakeGateway) Push(ctx context.Context, doc *document.Document) (document.Millis, error) {
	if f.pushErr != nil {
		return 0, f.pushErr
	}
	f.pushes = append(f.pushes, doc.Clone())
	return document.Now(), nil
}

func (f *fakeGateway) Subscribe(ctx context.Context) (<-chan reconcile.RemoteUpdate, error) {
	f.subscribeCalled = true
	if f.updates == nil {
		f.updates = make(chan reconcile.RemoteUpdate)
	}
	return f.updates, nil
}

// Close ends the stream: the updates channel closes, as the real client's
// reader goroutine does when its context is cancelled.
func (f *fakeGateway) Close() {
	f.closed = true
	if f.updates != nil && !f.updatesClosed {
		f.updatesClosed = true
		close(f.updates)
	}
}

func newTestTracker(t *testing.T) (*Tracker, *fakeGateway, *clock) {
	t.Helper()
	gateway := &fakeGateway{}
	tr, _ := New(localstore.NewMemory(), gateway, nil)
	clk := &clock{at: document.Millis(1700000000000)}
	tr.now = clk.now
	return tr, gateway, clk
}

type clock struct{ at document.Millis }

func (c *clock) now() document.Millis { return c.at }

func (c *clock) advance(d time.Duration) { c.at += document.Millis(d.Milliseconds()) }

func prime(tr *Tracker) {
	tr.rec.Apply(tr.doc, reconcile.RemoteUpdate{Empty: true}, tr.now())
}

func TestStartSessionSetsActiveInvariant(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	session, err := tr.StartSession(context.Background(), document.KindFast, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !session.IsActive || session.StartTime == 0 {
		t.Errorf("session = %+v, want active with start instant", session)
	}
	if session.GoalHours != document.DefaultFastGoalHours {
		t.Errorf("goal = %v, want kind default", session.GoalHours)
	}

	if _, err := tr.StartSession(context.Background(), document.KindFast, 18); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second start err = %v, want ErrSessionActive", err)
	}

	// Independent kinds.
	if _, err := tr.StartSession(context.Background(), document.KindSleep, 0); err != nil {
		t.Errorf("sleep start alongside fast: %v", err)
	}
}

func TestStopSessionRecordsEntry(t *testing.T) {
	tr, _, clk := newTestTracker(t)

	tr.StartSession(context.Background(), document.KindFast, 16)
	clk.advance(3 * time.Hour)

	entry, err := tr.StopSession(context.Background(), document.KindFast, "great", "first long one")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if entry.ID == "" {
		t.Error("entry has no id")
	}
	if entry.Duration != (3 * time.Hour).Milliseconds() {
		t.Errorf("duration = %d", entry.Duration)
	}
	if entry.Feeling != "great" || entry.Note != "first long one" {
		t.Errorf("entry = %+v", entry)
	}

	doc := tr.Document()
	if doc.ActiveFast.IsActive {
		t.Error("session still active after stop")
	}
	if len(doc.FastHistory) != 1 || doc.FastHistory[0].ID != entry.ID {
		t.Errorf("history = %+v", doc.FastHistory)
	}

	if _, err := tr.StopSession(context.Background(), document.KindFast, "", ""); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("stop with nothing active: %v, want ErrNoActiveSession", err)
	}
}

func TestStopSessionWithBackwardsClockStillRecords(t *testing.T) {
	tr, _, clk := newTestTracker(t)

	session, err := tr.StartSession(context.Background(), document.KindFast, 16)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.advance(-time.Hour)

	entry, err := tr.StopSession(context.Background(), document.KindFast, "odd", "")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("entry lost: stop behind a backwards clock must still record")
	}
	if entry.Duration != 0 {
		t.Errorf("duration = %d, want clamped to 0", entry.Duration)
	}
	if entry.EndTime < entry.StartTime {
		t.Errorf("end %d precedes start %d", entry.EndTime, entry.StartTime)
	}
	if entry.StartTime != session.StartTime {
		t.Errorf("start = %d, want %d", entry.StartTime, session.StartTime)
	}

	doc := tr.Document()
	if doc.ActiveFast.IsActive {
		t.Error("session still active after stop")
	}
	if len(doc.FastHistory) != 1 {
		t.Errorf("history = %d entries, want 1", len(doc.FastHistory))
	}
}

func TestNoPushBeforeFirstRemoteUpdate(t *testing.T) {
	tr, gateway, _ := newTestTracker(t)
	gateway.signedIn = true

	tr.StartSession(context.Background(), document.KindFast, 0)
	if len(gateway.pushes) != 0 {
		t.Fatalf("pushed %d times before the reconciler was primed", len(gateway.pushes))
	}

	prime(tr)
	tr.StopSession(context.Background(), document.KindFast, "", "")
	if len(gateway.pushes) != 1 {
		t.Fatalf("pushes after priming = %d, want 1", len(gateway.pushes))
	}
}

func TestNoPushWhenSignedOutOrAutoSyncOff(t *testing.T) {
	tr, gateway, _ := newTestTracker(t)
	prime(tr)

	tr.StartSession(context.Background(), document.KindFast, 0)
	if len(gateway.pushes) != 0 {
		t.Error("pushed while signed out")
	}

	gateway.signedIn = true
	// The flip commits with the new value already in the document, so it
	// does not push either.
	tr.SetSetting(context.Background(), "autoSync", false)
	tr.StopSession(context.Background(), document.KindFast, "", "")
	if len(gateway.pushes) != 0 {
		t.Errorf("pushed %d times with autoSync off", len(gateway.pushes))
	}
}

func TestPushFailureIsSoft(t *testing.T) {
	tr, gateway, _ := newTestTracker(t)
	gateway.signedIn = true
	gateway.pushErr = errors.New("network down")
	prime(tr)

	if _, err := tr.StartSession(context.Background(), document.KindFast, 0); err != nil {
		t.Fatalf("local mutation failed on push error: %v", err)
	}
	if !tr.Document().ActiveFast.IsActive {
		t.Error("local state lost on push failure")
	}
}

func TestHandleRemoteMergesWithoutPushing(t *testing.T) {
	tr, gateway, clk := newTestTracker(t)
	gateway.signedIn = true

	remote := document.New()
	remote.FastHistory = []document.Entry{{
		ID:        "remote-1",
		StartTime: clk.at - 7_200_000,
		EndTime:   clk.at - 3_600_000,
		Duration:  3_600_000,
		GoalHours: 16,
	}}

	effects := tr.HandleRemote(context.Background(), reconcile.RemoteUpdate{
		State:     remote,
		WrittenAt: clk.at - 10_000,
	})
	if effects.NewFastEntries != 1 {
		t.Errorf("effects = %+v", effects)
	}
	if len(gateway.pushes) != 0 {
		t.Error("merge commit triggered a push")
	}
	if got := tr.Document().FastHistory; len(got) != 1 || got[0].ID != "remote-1" {
		t.Errorf("merged history = %+v", got)
	}
	if tr.rec.Merging() {
		t.Error("merging flag left set after commit")
	}
}

func TestHandleRemoteEmptySeedsAccount(t *testing.T) {
	tr, gateway, _ := newTestTracker(t)
	gateway.signedIn = true
	tr.doc.Skills["hydration"] = 12
	tr.store.SaveDocument(tr.doc)

	tr.HandleRemote(context.Background(), reconcile.RemoteUpdate{Empty: true})
	if len(gateway.pushes) != 1 {
		t.Fatalf("pushes = %d, want the seed push for a new account", len(gateway.pushes))
	}
	if gateway.pushes[0].Skills["hydration"] != 12 {
		t.Errorf("seed push lost local data: %+v", gateway.pushes[0].Skills)
	}
}

func TestUsePassWindowLimit(t *testing.T) {
	tr, _, clk := newTestTracker(t)

	if _, err := tr.UsePass(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	clk.advance(24 * time.Hour)
	if _, err := tr.UsePass(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	clk.advance(time.Hour)
	if _, err := tr.UsePass(context.Background()); !errors.Is(err, ErrPassLimit) {
		t.Errorf("third pass in window: %v, want ErrPassLimit", err)
	}

	// Window rolls: six more days frees a slot.
	clk.advance(6 * 24 * time.Hour)
	if _, err := tr.UsePass(context.Background()); err != nil {
		t.Errorf("pass after window rolled: %v", err)
	}
}

func TestSetSettingRejectsUnknownKeys(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	if err := tr.SetSetting(context.Background(), "telemetry", true); !errors.Is(err, ErrUnknownSetting) {
		t.Errorf("err = %v, want ErrUnknownSetting", err)
	}
	if err := tr.SetSetting(context.Background(), "goalAlerts", false); err != nil {
		t.Errorf("known key: %v", err)
	}
	if tr.Document().Settings["goalAlerts"] {
		t.Error("setting not applied")
	}
}

func TestAddExperience(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	tr.AddExperience(context.Background(), "hydration", 10)
	tr.AddExperience(context.Background(), "hydration", 5)
	tr.AddExperience(context.Background(), "hydration", -3)
	if got := tr.Document().Skills["hydration"]; got != 15 {
		t.Errorf("skill = %d, want 15", got)
	}
}

func TestCheckGoalsFiresOncePerSession(t *testing.T) {
	tr, _, clk := newTestTracker(t)

	tr.StartSession(context.Background(), document.KindFast, 1)
	clk.advance(30 * time.Minute)
	if reached := tr.CheckGoals(); len(reached) != 0 {
		t.Errorf("goal reached early: %v", reached)
	}
	clk.advance(31 * time.Minute)
	reached := tr.CheckGoals()
	if len(reached) != 1 || reached[0] != document.KindFast {
		t.Fatalf("reached = %v", reached)
	}
	if reached := tr.CheckGoals(); len(reached) != 0 {
		t.Errorf("goal fired twice: %v", reached)
	}
}

func TestSignOutTearsDownBeforeClearing(t *testing.T) {
	tr, gateway, _ := newTestTracker(t)
	gateway.signedIn = true
	prime(tr)
	tr.SaveDevicePrefs(localstore.DevicePrefs{DeviceID: "dev-1", HasSeenOnboarding: true})
	tr.StartSession(context.Background(), document.KindFast, 0)

	tr.SignOut(context.Background())

	if !gateway.signedOut {
		t.Fatal("remote session not revoked")
	}
	if !gateway.closedFirst {
		t.Error("stream was not closed before sign-out")
	}
	doc := tr.Document()
	if doc.ActiveFast.IsActive || len(doc.FastHistory) != 0 {
		t.Errorf("document not reset: %+v", doc)
	}
	if tr.rec.Primed() {
		t.Error("reconciler still primed after sign-out")
	}
	if prefs := tr.DevicePrefs(); prefs.DeviceID != "dev-1" || !prefs.HasSeenOnboarding {
		t.Errorf("device prefs lost on sign-out: %+v", prefs)
	}
}

func TestSignOutWaitsForInFlightUpdate(t *testing.T) {
	tr, gateway, clk := newTestTracker(t)
	gateway.signedIn = true
	if err := tr.StartSync(context.Background()); err != nil {
		t.Fatalf("start sync: %v", err)
	}

	// The unbuffered send completes the instant the pump dequeues the
	// update, so at this point it is in flight but not yet merged.
	remote := document.New()
	remote.Skills["hydration"] = 42
	gateway.updates <- reconcile.RemoteUpdate{State: remote, WrittenAt: clk.at - 10_000}

	tr.SignOut(context.Background())

	doc := tr.Document()
	if doc.Skills["hydration"] != 0 {
		t.Errorf("abandoned identity's update merged after sign-out: skills = %+v", doc.Skills)
	}
	if tr.rec.Primed() {
		t.Error("reconciler primed after sign-out")
	}
}

func TestSignInStartsSubscription(t *testing.T) {
	tr, gateway, _ := newTestTracker(t)

	if _, err := tr.SignIn(context.Background(), "a@example.com", "hunter22"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !gateway.subscribeCalled {
		t.Error("subscription not started on sign-in")
	}
}

func TestImportThroughEngine(t *testing.T) {
	tr, _, clk := newTestTracker(t)
	tr.AddExperience(context.Background(), "hydration", 7)

	payload := `{
		"fastHistory": [{"id": "imp-1", "startTime": ` + millisString(clk.at-7_200_000) + `,
			"endTime": ` + millisString(clk.at-3_600_000) + `, "duration": 3600000, "goalHours": 16}],
		"skills": {"hydration": 3}
	}`

	effects, err := tr.Import(context.Background(), strings.NewReader(payload), export.ModeMerge)
	if err != nil {
		t.Fatalf("merge import: %v", err)
	}
	if effects.NewFastEntries != 1 {
		t.Errorf("effects = %+v", effects)
	}
	doc := tr.Document()
	if doc.Skills["hydration"] != 7 {
		t.Errorf("merge import lowered a skill: %d", doc.Skills["hydration"])
	}

	if _, err := tr.Import(context.Background(), strings.NewReader(payload), export.ModeReplace); err != nil {
		t.Fatalf("replace import: %v", err)
	}
	if got := tr.Document().Skills["hydration"]; got != 3 {
		t.Errorf("replace import kept old skill: %d", got)
	}

	if _, err := tr.Import(context.Background(), strings.NewReader(`{"fastHistory": "nope"}`), export.ModeReplace); !errors.Is(err, export.ErrInvalidImport) {
		t.Errorf("bad shape err = %v, want ErrInvalidImport", err)
	}
}

func millisString(at document.Millis) string {
	raw, _ := at.MarshalJSON()
	return string(raw)
}
