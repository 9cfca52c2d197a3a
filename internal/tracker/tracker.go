// Package tracker is the state-owning engine. It holds the one live state
// document and funnels every mutation through a small set of named
// operations, each of which persists the result and decides whether to push
// it to the remote store. A single mutex serializes all operations, so the
// reconciler and goal tracker underneath never see concurrent access.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
	"github.com/lurioneli/Sleep-Suivour/internal/export"
	"github.com/lurioneli/Sleep-Suivour/internal/localstore"
	"github.com/lurioneli/Sleep-Suivour/internal/reconcile"
	"github.com/lurioneli/Sleep-Suivour/internal/syncclient"
	"github.com/lurioneli/Sleep-Suivour/internal/timer"
)

var (
	ErrSessionActive   = errors.New("session already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrPassLimit       = errors.New("pass limit reached for this window")
	ErrUnknownSetting  = errors.New("unknown setting")
)

// syncGateway is the slice of the sync client the tracker depends on.
type syncGateway interface {
	SignedIn() bool
	SignUp(ctx context.Context, email, password, displayName string) (syncclient.Credentials, error)
	SignIn(ctx context.Context, email, password string) (syncclient.Credentials, error)
	SignOut(ctx context.Context)
	Push(ctx context.Context, doc *document.Document) (document.Millis, error)
	Subscribe(ctx context.Context) (<-chan reconcile.RemoteUpdate, error)
	Close()
}

// Tracker owns the state document for this device.
type Tracker struct {
	logger *slog.Logger
	store  localstore.Store
	client syncGateway

	mu    sync.Mutex
	doc   *document.Document
	rec   *reconcile.Reconciler
	goals *timer.GoalTracker

	// pumpDone closes when the update pump goroutine exits; sign-out waits
	// on it so no in-flight remote update can land after the reset.
	pumpDone chan struct{}

	// now is swappable for tests.
	now func() document.Millis
}

// New loads the saved document and returns the engine plus how the load went
// (fresh, corrupt-and-backed-up, or degraded), so the caller can surface a
// warning.
func New(store localstore.Store, client syncGateway, logger *slog.Logger) (*Tracker, localstore.LoadResult) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		logger: logger,
		store:  store,
		client: client,
		rec:    reconcile.New(),
		goals:  timer.NewGoalTracker(),
		now:    document.Now,
	}
	var load localstore.LoadResult
	t.doc, load = store.LoadDocument(t.now())
	return t, load
}

// Document returns a deep copy of the current document for display. Callers
// never see the live instance.
func (t *Tracker) Document() *document.Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doc.Clone()
}

// StartSession begins a new session of kind. goalHours <= 0 selects the
// default goal for the kind.
func (t *Tracker) StartSession(ctx context.Context, kind document.Kind, goalHours float64) (document.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := t.doc.Active(kind)
	if active.IsActive {
		return document.Session{}, fmt.Errorf("start %s: %w", kind, ErrSessionActive)
	}
	if goalHours <= 0 {
		goalHours = document.DefaultGoalHours(kind)
	}
	now := t.now()
	*active = document.Session{
		StartTime: now,
		GoalHours: goalHours,
		IsActive:  true,
	}
	t.commit(ctx, now)
	return *active, nil
}

// StopSession ends the active session of kind and records a history entry.
func (t *Tracker) StopSession(ctx context.Context, kind document.Kind, feeling, note string) (document.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := t.doc.Active(kind)
	if !active.IsActive {
		return document.Entry{}, fmt.Errorf("stop %s: %w", kind, ErrNoActiveSession)
	}
	now := t.now()
	// Elapsed clamps a backwards clock to zero, and the end instant never
	// precedes the start, so the recorded entry always passes sanitization.
	elapsed := timer.Elapsed(*active, now)
	endTime := now
	if endTime < active.StartTime {
		endTime = active.StartTime
	}
	entry := document.Entry{
		ID:        document.NewEntryID(),
		StartTime: active.StartTime,
		EndTime:   endTime,
		Duration:  elapsed.Milliseconds(),
		GoalHours: active.GoalHours,
		Feeling:   feeling,
		Note:      note,
		Powerups:  active.Powerups,
	}
	t.doc.SetHistory(kind, append([]document.Entry{entry}, t.doc.History(kind)...))
	*active = document.Session{}
	t.goals.Check(kind, *active, now)
	t.commit(ctx, now)
	// commit normalizes; re-read the stored form of the entry.
	return t.findEntry(kind, entry.ID), nil
}

func (t *Tracker) findEntry(kind document.Kind, id string) document.Entry {
	for _, e := range t.doc.History(kind) {
		if e.ID == id {
			return e
		}
	}
	return document.Entry{}
}

// AddPowerup attaches a powerup to the active session of kind.
func (t *Tracker) AddPowerup(ctx context.Context, kind document.Kind, powerupType string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := t.doc.Active(kind)
	if !active.IsActive {
		return fmt.Errorf("powerup %s: %w", kind, ErrNoActiveSession)
	}
	now := t.now()
	active.Powerups = append(active.Powerups, document.Powerup{Type: powerupType, Time: now})
	t.commit(ctx, now)
	return nil
}

// UsePass activates a pass, subject to the rolling-window limit.
func (t *Tracker) UsePass(ctx context.Context) (document.Millis, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.doc.Passes.UsedInWindow(now) >= document.PassWindowLimit {
		return 0, ErrPassLimit
	}
	t.doc.Passes.Activations = append(t.doc.Passes.Activations, now)
	t.commit(ctx, now)
	return t.doc.Passes.ActiveUntil(now), nil
}

// AddExperience raises a skill counter. Non-positive amounts are ignored.
func (t *Tracker) AddExperience(ctx context.Context, skill string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.Skills[skill] += amount
	t.commit(ctx, t.now())
	return nil
}

// SetSetting flips one of the known settings.
func (t *Tracker) SetSetting(ctx context.Context, key string, value bool) error {
	if !slices.Contains(document.KnownSettings, key) {
		return fmt.Errorf("setting %q: %w", key, ErrUnknownSetting)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.Settings[key] = value
	t.commit(ctx, t.now())
	return nil
}

// CheckGoals returns the session kinds that crossed their goal since the
// last check. Each session instance fires at most once.
func (t *Tracker) CheckGoals() []document.Kind {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var reached []document.Kind
	for _, kind := range []document.Kind{document.KindFast, document.KindSleep} {
		if t.goals.Check(kind, *t.doc.Active(kind), now) {
			reached = append(reached, kind)
		}
	}
	return reached
}

// Export writes the full document to w as JSON.
func (t *Tracker) Export(w io.Writer) error {
	t.mu.Lock()
	doc := t.doc.Clone()
	t.mu.Unlock()
	return export.Encode(w, doc)
}

// Import reads a document from r and applies it in the given mode.
func (t *Tracker) Import(ctx context.Context, r io.Reader, mode export.Mode) (reconcile.Effects, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	imported, err := export.Decode(r, now)
	if err != nil {
		return reconcile.Effects{}, err
	}
	next, effects, err := export.Apply(t.doc, imported, mode, now)
	if err != nil {
		return reconcile.Effects{}, err
	}
	t.doc = next
	t.commit(ctx, now)
	return effects, nil
}

// SignUp creates a remote account and starts the live subscription.
func (t *Tracker) SignUp(ctx context.Context, email, password, displayName string) (syncclient.Credentials, error) {
	creds, err := t.client.SignUp(ctx, email, password, displayName)
	if err != nil {
		return syncclient.Credentials{}, err
	}
	return creds, t.StartSync(ctx)
}

// SignIn authenticates against the remote account and starts the live
// subscription. The local document is kept; the first remote snapshot merges
// into it.
func (t *Tracker) SignIn(ctx context.Context, email, password string) (syncclient.Credentials, error) {
	creds, err := t.client.SignIn(ctx, email, password)
	if err != nil {
		return syncclient.Credentials{}, err
	}
	return creds, t.StartSync(ctx)
}

// StartSync opens the remote subscription and pumps updates into the
// reconciler until the stream ends. Safe to call for an already-signed-in
// identity on process start.
func (t *Tracker) StartSync(ctx context.Context) error {
	updates, err := t.client.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.rec.Reset()
	t.pumpDone = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		for update := range updates {
			t.HandleRemote(ctx, update)
		}
	}()
	return nil
}

// SignOut tears down the subscription, revokes the remote session, and
// resets all identity-scoped state. Device-local preferences survive.
//
// The teardown is synchronous: Close ends the stream, then sign-out waits
// for the update pump to drain before the reset, so not even an update
// dequeued moments earlier can merge into the next identity's fresh
// document.
func (t *Tracker) SignOut(ctx context.Context) {
	t.client.Close()

	t.mu.Lock()
	done := t.pumpDone
	t.pumpDone = nil
	t.mu.Unlock()
	if done != nil {
		<-done
	}

	t.client.SignOut(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec.Reset()
	t.goals.Reset()
	t.store.ResetDocument()
	t.doc = document.New()
	t.store.SaveDocument(t.doc)
}

// HandleRemote feeds one remote update through the reconciler and commits
// the result. The persist between Apply and Commit runs with the merging
// flag set, so it cannot trigger a push of its own.
func (t *Tracker) HandleRemote(ctx context.Context, update reconcile.RemoteUpdate) reconcile.Effects {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	result := t.rec.Apply(t.doc, update, now)
	switch {
	case result.Applied:
		t.doc = result.Merged
		t.store.SaveDocument(t.doc)
		t.rec.Commit()
		t.logMergeEffects(result.Effects)
	case result.Suppressed:
		t.logger.Debug("remote update suppressed", "writtenAt", int64(update.WrittenAt))
	case update.Empty:
		// Brand-new account: seed it with whatever this device holds.
		t.maybePush(ctx)
	}
	return result.Effects
}

func (t *Tracker) logMergeEffects(effects reconcile.Effects) {
	if !effects.Changed {
		return
	}
	t.logger.Info("merged remote snapshot",
		"newFastEntries", effects.NewFastEntries,
		"newSleepEntries", effects.NewSleepEntries,
		"adoptedFast", effects.AdoptedFast,
		"clearedFast", effects.ClearedFast,
		"adoptedSleep", effects.AdoptedSleep,
		"clearedSleep", effects.ClearedSleep,
		"settingsChanged", effects.SettingsChanged,
	)
}

// Push force-pushes the current document, ignoring the autoSync setting but
// not the primed/merging guards.
func (t *Tracker) Push(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.client.SignedIn() {
		return syncclient.ErrNotSignedIn
	}
	if !t.rec.Primed() || t.rec.Merging() {
		return nil
	}
	_, err := t.client.Push(ctx, t.doc)
	return err
}

// Close flushes nothing (every mutation already persisted) and releases the
// store and stream.
func (t *Tracker) Close() error {
	t.client.Close()
	return t.store.Close()
}

// DevicePrefs returns the device-local preferences.
func (t *Tracker) DevicePrefs() localstore.DevicePrefs {
	return t.store.LoadDevice()
}

// SaveDevicePrefs stores the device-local preferences. Never synced.
func (t *Tracker) SaveDevicePrefs(prefs localstore.DevicePrefs) {
	t.store.SaveDevice(prefs)
}

// commit stamps, normalizes and persists the document after a local
// mutation, then pushes if the sync conditions allow it. Callers hold mu.
func (t *Tracker) commit(ctx context.Context, now document.Millis) {
	t.doc.LastWrite = now
	t.doc.Normalize(now)
	t.store.SaveDocument(t.doc)
	t.maybePush(ctx)
}

// maybePush pushes the current document when signed in, primed by at least
// one remote update, not inside a merge commit, and autoSync is on. Push
// failures are soft: logged, surfaced via the client status, retried by the
// user's next action.
func (t *Tracker) maybePush(ctx context.Context) {
	if !t.client.SignedIn() {
		return
	}
	if !t.rec.Primed() {
		return
	}
	if t.rec.Merging() {
		return
	}
	if !t.doc.Settings["autoSync"] {
		return
	}
	if _, err := t.client.Push(ctx, t.doc); err != nil {
		t.logger.Warn("push failed", "error", err)
	}
}
