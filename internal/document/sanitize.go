package document

import (
	"sort"
	"strings"
)

// Normalize makes the document schema-complete and restores every invariant:
// settings default-filled, histories deduplicated and sorted, sessions
// consistent with IsActive == (StartTime != 0), all values clamped to safe
// ranges. It is called after every load, decode and merge so downstream code
// never needs defensive nil checks. Malformed fields are coerced, never
// reported as errors.
func (d *Document) Normalize(now Millis) {
	d.normalizeSession(&d.ActiveFast, KindFast, now)
	d.normalizeSession(&d.ActiveSleep, KindSleep, now)

	d.FastHistory = sanitizeEntries(d.FastHistory, now)
	d.SleepHistory = sanitizeEntries(d.SleepHistory, now)

	d.Settings = sanitizeSettings(d.Settings)
	d.Skills = sanitizeSkills(d.Skills)
	d.Passes.Activations = sanitizeActivations(d.Passes.Activations, now)

	if !validInstant(d.LastWrite, now) {
		d.LastWrite = 0
	}
}

func (d *Document) normalizeSession(s *Session, kind Kind, now Millis) {
	if !validInstant(s.StartTime, now) {
		s.StartTime = 0
	}
	s.IsActive = s.StartTime != 0
	s.GoalHours = clampGoalHours(s.GoalHours, kind)
	s.Powerups = sanitizePowerups(s.Powerups, now)
}

func clampGoalHours(hours float64, kind Kind) float64 {
	if hours != hours || hours == 0 { // NaN or unset
		return DefaultGoalHours(kind)
	}
	if hours < MinGoalHours {
		return MinGoalHours
	}
	if hours > MaxGoalHours {
		return MaxGoalHours
	}
	return hours
}

// sanitizeEntries drops entries that cannot be trusted (missing id, negative
// or absurd duration, out-of-range timestamps), caps fields and list size,
// deduplicates by id and sorts by end time descending.
func sanitizeEntries(entries []Entry, now Millis) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.ID = capString(strings.TrimSpace(e.ID), MaxNameLen)
		if e.ID == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		if !validInstant(e.StartTime, now) || !validInstant(e.EndTime, now) {
			continue
		}
		if e.Duration < 0 || e.Duration > MaxEntryDuration.Milliseconds() {
			continue
		}
		e.GoalHours = clampGoalHours(e.GoalHours, KindFast)
		e.Feeling = capString(e.Feeling, MaxFeelingLen)
		e.Note = capString(e.Note, MaxNoteLen)
		e.Powerups = sanitizePowerups(e.Powerups, now)
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndTime > out[j].EndTime
	})
	if len(out) > MaxHistoryEntries {
		out = out[:MaxHistoryEntries]
	}
	return out
}

func sanitizePowerups(powerups []Powerup, now Millis) []Powerup {
	out := make([]Powerup, 0, len(powerups))
	for _, p := range powerups {
		p.Type = capString(strings.TrimSpace(p.Type), MaxNameLen)
		if p.Type == "" || !validInstant(p.Time, now) || p.Time == 0 {
			continue
		}
		out = append(out, p)
		if len(out) == MaxSessionPowerups {
			break
		}
	}
	return out
}

func sanitizeSettings(settings map[string]bool) map[string]bool {
	out := make(map[string]bool, len(settings)+len(KnownSettings))
	for key, value := range settings {
		key = capString(strings.TrimSpace(key), MaxNameLen)
		if key == "" {
			continue
		}
		out[key] = value
	}
	for _, key := range KnownSettings {
		if _, ok := out[key]; !ok {
			out[key] = true
		}
	}
	return out
}

func sanitizeSkills(skills map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(skills))
	for key, value := range skills {
		key = capString(strings.TrimSpace(key), MaxNameLen)
		if key == "" || value < 0 {
			continue
		}
		out[key] = value
	}
	return out
}

// sanitizeActivations sorts ascending, deduplicates exact instants, drops
// out-of-range values and keeps the most recent MaxPassActivations.
func sanitizeActivations(activations []Millis, now Millis) []Millis {
	out := make([]Millis, 0, len(activations))
	for _, at := range activations {
		if at == 0 || !validInstant(at, now) {
			continue
		}
		out = append(out, at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	deduped := out[:0]
	var prev Millis
	for _, at := range out {
		if at == prev {
			continue
		}
		deduped = append(deduped, at)
		prev = at
	}
	if len(deduped) > MaxPassActivations {
		deduped = deduped[len(deduped)-MaxPassActivations:]
	}
	return deduped
}

// validInstant accepts zero ("absent") and instants after the epoch up to a
// bounded distance into the future. Anything else is clock garbage.
func validInstant(at, now Millis) bool {
	if at == 0 {
		return true
	}
	if at < 0 {
		return false
	}
	return at <= now+Millis(MaxFutureSkew.Milliseconds())
}

func capString(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
