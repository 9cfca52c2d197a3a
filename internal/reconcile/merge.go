// Package reconcile merges a remote snapshot into the local state document.
// The merge is field-wise: settings replace, histories union by id, skill
// counters take the per-key maximum, active sessions adopt the most recent
// start. MergeDocuments is pure and operates on clones, so a failure can
// never corrupt the previously-good local document; Reconciler wraps it with
// the loop-suppression and ordering state.
package reconcile

import (
	"sort"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
)

// Effects reports what a merge changed, so the caller can restart timers,
// surface notices and decide whether anything is worth re-publishing. The
// merge itself performs no side effects.
type Effects struct {
	AdoptedFast     bool
	ClearedFast     bool
	AdoptedSleep    bool
	ClearedSleep    bool
	NewFastEntries  int
	NewSleepEntries int
	SettingsChanged bool
	SkillsRaised    int
	PassesAdded     int
	Changed         bool
}

// MergeDocuments merges remote into local and returns a new document. Both
// inputs are left untouched. now is used only for sanitization bounds.
func MergeDocuments(local, remote *document.Document, now document.Millis) (*document.Document, Effects) {
	var effects Effects

	merged := local.Clone()
	remote = remote.Clone()
	remote.Normalize(now)

	// Settings: remote is the cross-device source of truth; Normalize on
	// the clone default-fills any key absent from remote.
	if !boolMapsEqual(merged.Settings, remote.Settings) {
		effects.SettingsChanged = true
	}
	merged.Settings = remote.Settings

	// Histories: union by id, commutative and idempotent by construction.
	var added int
	merged.FastHistory, added = unionEntries(merged.FastHistory, remote.FastHistory)
	effects.NewFastEntries = added
	merged.SleepHistory, added = unionEntries(merged.SleepHistory, remote.SleepHistory)
	effects.NewSleepEntries = added

	// Skills: per-key max. Not a true counter CRDT — concurrent offline
	// gains on two devices under-count — but re-merge safe, and matching
	// what users already see.
	for skill, value := range remote.Skills {
		if value > merged.Skills[skill] {
			merged.Skills[skill] = value
			effects.SkillsRaised++
		}
	}

	// Active sessions merge independently of one another.
	merged.ActiveFast, effects.AdoptedFast, effects.ClearedFast =
		mergeSession(merged.ActiveFast, remote.ActiveFast, remote.FastHistory)
	merged.ActiveSleep, effects.AdoptedSleep, effects.ClearedSleep =
		mergeSession(merged.ActiveSleep, remote.ActiveSleep, remote.SleepHistory)

	// Passes: union of activation instants; whether one is currently live
	// is always recomputed from the list against its expiry.
	before := len(merged.Passes.Activations)
	merged.Passes.Activations = unionActivations(merged.Passes.Activations, remote.Passes.Activations)
	effects.PassesAdded = len(merged.Passes.Activations) - before

	if remote.LastWrite > merged.LastWrite {
		merged.LastWrite = remote.LastWrite
	}

	merged.Normalize(now)
	effects.Changed = effects.SettingsChanged ||
		effects.NewFastEntries > 0 || effects.NewSleepEntries > 0 ||
		effects.SkillsRaised > 0 || effects.PassesAdded > 0 ||
		effects.AdoptedFast || effects.ClearedFast ||
		effects.AdoptedSleep || effects.ClearedSleep
	return merged, effects
}

// mergeSession applies the active-session rules:
//   - remote active, local inactive: adopt remote's session wholesale;
//   - both active: the more recent start wins (a freshly started session
//     supersedes a stale one still showing on another device);
//   - remote inactive, local active: clear local only when remote's history
//     proves the session was completed elsewhere (an entry with the same
//     start instant) — an empty remote is no evidence the session never ran.
func mergeSession(local, remote document.Session, remoteHistory []document.Entry) (document.Session, bool, bool) {
	switch {
	case remote.IsActive && !local.IsActive:
		return remote, true, false
	case remote.IsActive && local.IsActive:
		if remote.StartTime > local.StartTime {
			return remote, true, false
		}
		return local, false, false
	case !remote.IsActive && local.IsActive:
		for _, entry := range remoteHistory {
			if entry.StartTime == local.StartTime {
				stopped := remote
				stopped.StartTime = 0
				stopped.IsActive = false
				if stopped.GoalHours == 0 {
					stopped.GoalHours = local.GoalHours
				}
				stopped.Powerups = nil
				return stopped, false, true
			}
		}
		return local, false, false
	default:
		return local, false, false
	}
}

// unionEntries keeps every entry of a, adds entries of b with unseen ids and
// re-sorts by end time descending. Returns the merged list and how many
// entries b contributed.
func unionEntries(a, b []document.Entry) ([]document.Entry, int) {
	seen := make(map[string]struct{}, len(a))
	for _, entry := range a {
		seen[entry.ID] = struct{}{}
	}
	out := append([]document.Entry(nil), a...)
	added := 0
	for _, entry := range b {
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		seen[entry.ID] = struct{}{}
		out = append(out, entry)
		added++
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndTime > out[j].EndTime
	})
	return out, added
}

func unionActivations(a, b []document.Millis) []document.Millis {
	seen := make(map[document.Millis]struct{}, len(a)+len(b))
	out := make([]document.Millis, 0, len(a)+len(b))
	for _, list := range [][]document.Millis{a, b} {
		for _, at := range list {
			if _, dup := seen[at]; dup {
				continue
			}
			seen[at] = struct{}{}
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func boolMapsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		other, ok := b[key]
		if !ok || other != value {
			return false
		}
	}
	return true
}
