// Package document defines the per-account state document: active sessions,
// completed-session history, settings, skill counters and rest passes. The
// same types serve the device engine, export/import and the sync server, so
// sanitization rules live here rather than at the edges.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two tracked activities. Fasting and sleeping are
// independent: both sessions may be active at once.
type Kind string

const (
	KindFast  Kind = "fast"
	KindSleep Kind = "sleep"
)

const (
	MinGoalHours          = 0.5
	MaxGoalHours          = 72.0
	DefaultFastGoalHours  = 16.0
	DefaultSleepGoalHours = 8.0

	// MaxEntryDuration caps a completed session record.
	MaxEntryDuration = 14 * 24 * time.Hour

	// MaxFutureSkew bounds how far ahead of the local clock a remote or
	// imported timestamp may sit before it is treated as garbage.
	MaxFutureSkew = 48 * time.Hour

	MaxFeelingLen = 200
	MaxNoteLen    = 1000
	MaxNameLen    = 64

	MaxHistoryEntries  = 1000
	MaxSessionPowerups = 50
	MaxPassActivations = 64

	// PassLifetime is how long a single rest-pass activation stays live.
	PassLifetime = 24 * time.Hour
	// PassWindow and PassWindowLimit bound activations: at most
	// PassWindowLimit uses inside any rolling PassWindow.
	PassWindow      = 7 * 24 * time.Hour
	PassWindowLimit = 2
)

// KnownSettings are the toggles the engine consults. All default to true;
// unknown keys arriving from another device are preserved untouched.
var KnownSettings = []string{"notifications", "goalAlerts", "autoSync", "showStreaks"}

// Powerup is a boost applied during an active session.
type Powerup struct {
	Type string `json:"type"`
	Time Millis `json:"time"`
}

// Session is an active (or empty) timed activity. The invariant
// IsActive == (StartTime != 0) is restored by Normalize after every decode
// and merge, so downstream code may rely on it.
type Session struct {
	StartTime Millis    `json:"startTime"`
	GoalHours float64   `json:"goalHours"`
	IsActive  bool      `json:"isActive"`
	Powerups  []Powerup `json:"powerups"`
}

// Entry is an immutable record of a completed session. ID is the unit of
// deduplication across devices.
type Entry struct {
	ID        string    `json:"id"`
	StartTime Millis    `json:"startTime"`
	EndTime   Millis    `json:"endTime"`
	Duration  int64     `json:"duration"` // milliseconds
	GoalHours float64   `json:"goalHours"`
	Feeling   string    `json:"feeling,omitempty"`
	Note      string    `json:"note,omitempty"`
	Powerups  []Powerup `json:"powerups,omitempty"`
}

// Passes records rest-pass activations by their activation instant. Whether
// a pass is currently live is always derived from the list, never stored.
type Passes struct {
	Activations []Millis `json:"activations"`
}

// ActiveUntil returns the expiry of the most recent activation that is still
// live at now, or zero when no pass is active.
func (p Passes) ActiveUntil(now Millis) Millis {
	var latest Millis
	for _, at := range p.Activations {
		if at > latest {
			latest = at
		}
	}
	if latest == 0 {
		return 0
	}
	expiry := latest + Millis(PassLifetime.Milliseconds())
	if now >= expiry {
		return 0
	}
	return expiry
}

// UsedInWindow counts activations inside the rolling window ending at now.
func (p Passes) UsedInWindow(now Millis) int {
	cutoff := now - Millis(PassWindow.Milliseconds())
	used := 0
	for _, at := range p.Activations {
		if at > cutoff && at <= now {
			used++
		}
	}
	return used
}

// Document is the whole per-account state. One instance exists per signed-in
// identity (a singleton while signed out); it is only ever replaced wholesale
// by a merge, never patched from two sources at once.
type Document struct {
	ActiveFast   Session          `json:"activeFastSession"`
	ActiveSleep  Session          `json:"activeSleepSession"`
	FastHistory  []Entry          `json:"fastHistory"`
	SleepHistory []Entry          `json:"sleepHistory"`
	Settings     map[string]bool  `json:"settings"`
	Skills       map[string]int64 `json:"skills"`
	Passes       Passes           `json:"passes"`
	LastWrite    Millis           `json:"lastWriteTimestamp"`
}

// New returns a schema-complete default document.
func New() *Document {
	doc := &Document{}
	doc.Normalize(Now())
	return doc
}

// NewEntryID mints a globally unique history entry id.
func NewEntryID() string {
	return uuid.NewString()
}

// Active returns the session for kind.
func (d *Document) Active(kind Kind) *Session {
	if kind == KindSleep {
		return &d.ActiveSleep
	}
	return &d.ActiveFast
}

// History returns the history list for kind.
func (d *Document) History(kind Kind) []Entry {
	if kind == KindSleep {
		return d.SleepHistory
	}
	return d.FastHistory
}

// SetHistory replaces the history list for kind.
func (d *Document) SetHistory(kind Kind, entries []Entry) {
	if kind == KindSleep {
		d.SleepHistory = entries
	} else {
		d.FastHistory = entries
	}
}

// DefaultGoalHours returns the starting goal for kind.
func DefaultGoalHours(kind Kind) float64 {
	if kind == KindSleep {
		return DefaultSleepGoalHours
	}
	return DefaultFastGoalHours
}

// Clone deep-copies the document. Merges operate on clones and commit
// atomically so a failed merge never corrupts the previously-good state.
func (d *Document) Clone() *Document {
	out := &Document{
		ActiveFast:  d.ActiveFast.clone(),
		ActiveSleep: d.ActiveSleep.clone(),
		LastWrite:   d.LastWrite,
	}
	out.FastHistory = cloneEntries(d.FastHistory)
	out.SleepHistory = cloneEntries(d.SleepHistory)
	out.Settings = make(map[string]bool, len(d.Settings))
	for k, v := range d.Settings {
		out.Settings[k] = v
	}
	out.Skills = make(map[string]int64, len(d.Skills))
	for k, v := range d.Skills {
		out.Skills[k] = v
	}
	out.Passes.Activations = append([]Millis(nil), d.Passes.Activations...)
	return out
}

func (s Session) clone() Session {
	out := s
	out.Powerups = append([]Powerup(nil), s.Powerups...)
	return out
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Powerups = append([]Powerup(nil), e.Powerups...)
	}
	return out
}
