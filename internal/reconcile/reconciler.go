package reconcile

import (
	"github.com/lurioneli/Sleep-Suivour/internal/document"
)

// SuppressionWindow is how close a remote write timestamp may sit to the last
// applied one before the update is treated as an echo of our own push.
const SuppressionWindow = document.Millis(2000)

// RemoteUpdate is one observed remote snapshot. Empty marks the explicit
// "no data yet" event for a brand-new identity, which primes the reconciler
// without merging anything.
type RemoteUpdate struct {
	State     *document.Document
	WrittenAt document.Millis
	Empty     bool
}

// Result describes what Apply did with an update.
type Result struct {
	// Merged is the new document to commit, nil when the update was
	// suppressed or empty.
	Merged  *document.Document
	Effects Effects
	// Applied is true when Merged should replace the local document.
	Applied bool
	// Suppressed is true when the update was discarded as a loop echo.
	Suppressed bool
}

// Reconciler owns the ordering state around MergeDocuments: the highest
// applied write timestamp, the primed flag (no push may happen for a
// freshly-signed-in identity until the first remote update has been
// processed) and the in-merge reentrancy flag (a persistence call made while
// committing a merge must not trigger a push of its own).
//
// The reconciler is not safe for concurrent use; the tracker serializes all
// access under its own lock, mirroring a single-threaded event queue.
type Reconciler struct {
	lastSync document.Millis
	primed   bool
	merging  bool
}

func New() *Reconciler {
	return &Reconciler{}
}

// Primed reports whether at least one remote update (including the explicit
// empty event) has been processed since sign-in.
func (r *Reconciler) Primed() bool {
	return r.primed
}

// Merging reports whether a merge commit is in progress. Pushes triggered
// while merging are feedback from our own write-back and must be skipped.
func (r *Reconciler) Merging() bool {
	return r.merging
}

// LastSync returns the highest remote write timestamp applied so far.
func (r *Reconciler) LastSync() document.Millis {
	return r.lastSync
}

// Reset clears all sync-local state. Called on sign-out so the next identity
// starts clean.
func (r *Reconciler) Reset() {
	r.lastSync = 0
	r.primed = false
	r.merging = false
}

// Apply processes one remote update against the local document.
func (r *Reconciler) Apply(local *document.Document, update RemoteUpdate, now document.Millis) Result {
	r.primed = true

	if update.Empty || update.State == nil {
		return Result{}
	}

	if r.lastSync > 0 {
		delta := update.WrittenAt - r.lastSync
		if delta < 0 {
			delta = -delta
		}
		if delta < SuppressionWindow {
			return Result{Suppressed: true}
		}
		if update.WrittenAt < r.lastSync {
			// Older than what we already applied: stale replay.
			return Result{Suppressed: true}
		}
	}

	r.merging = true
	merged, effects := MergeDocuments(local, update.State, now)
	r.lastSync = update.WrittenAt
	return Result{Merged: merged, Effects: effects, Applied: true}
}

// Commit marks the end of the merge write-back. The caller persists the
// merged document between Apply and Commit; any push attempted in that span
// sees Merging() == true and stays quiet.
func (r *Reconciler) Commit() {
	r.merging = false
}
