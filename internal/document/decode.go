package document

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Tolerant decoding: a snapshot from another device or an imported file may
// carry wrong types in individual fields. Each field coerces independently to
// its zero value instead of failing the surrounding document; Normalize then
// restores invariants. Only an unrecognizable top-level shape is ever
// rejected (see ValidateShape).

func (d *Document) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	d.ActiveFast = looseSession(top["activeFastSession"])
	d.ActiveSleep = looseSession(top["activeSleepSession"])
	d.FastHistory = looseEntries(top["fastHistory"])
	d.SleepHistory = looseEntries(top["sleepHistory"])
	d.Settings = looseBoolMap(top["settings"])
	d.Skills = looseIntMap(top["skills"])
	d.Passes = loosePasses(top["passes"])
	d.LastWrite = looseMillis(top["lastWriteTimestamp"])
	return nil
}

func looseSession(raw json.RawMessage) Session {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return Session{}
	}
	s := Session{
		StartTime: looseMillis(fields["startTime"]),
		GoalHours: looseFloat(fields["goalHours"]),
	}
	if active, ok := looseBool(fields["isActive"]); ok {
		s.IsActive = active
	}
	s.Powerups = loosePowerups(fields["powerups"])
	return s
}

func looseEntries(raw json.RawMessage) []Entry {
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var fields map[string]json.RawMessage
		if json.Unmarshal(item, &fields) != nil {
			continue
		}
		entries = append(entries, Entry{
			ID:        looseString(fields["id"]),
			StartTime: looseMillis(fields["startTime"]),
			EndTime:   looseMillis(fields["endTime"]),
			Duration:  looseInt(fields["duration"]),
			GoalHours: looseFloat(fields["goalHours"]),
			Feeling:   looseString(fields["feeling"]),
			Note:      looseString(fields["note"]),
			Powerups:  loosePowerups(fields["powerups"]),
		})
	}
	return entries
}

func loosePowerups(raw json.RawMessage) []Powerup {
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	powerups := make([]Powerup, 0, len(items))
	for _, item := range items {
		var fields map[string]json.RawMessage
		if json.Unmarshal(item, &fields) != nil {
			continue
		}
		powerups = append(powerups, Powerup{
			Type: looseString(fields["type"]),
			Time: looseMillis(fields["time"]),
		})
	}
	return powerups
}

func loosePasses(raw json.RawMessage) Passes {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		// Older shapes stored the activation list directly.
		var direct []json.RawMessage
		if json.Unmarshal(raw, &direct) != nil {
			return Passes{}
		}
		return Passes{Activations: looseMillisList(direct)}
	}
	var items []json.RawMessage
	if json.Unmarshal(fields["activations"], &items) != nil {
		return Passes{}
	}
	return Passes{Activations: looseMillisList(items)}
}

func looseMillisList(items []json.RawMessage) []Millis {
	out := make([]Millis, 0, len(items))
	for _, item := range items {
		if at := looseMillis(item); at != 0 {
			out = append(out, at)
		}
	}
	return out
}

func looseBoolMap(raw json.RawMessage) map[string]bool {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return nil
	}
	out := make(map[string]bool, len(fields))
	for key, value := range fields {
		if parsed, ok := looseBool(value); ok {
			out[key] = parsed
		}
	}
	return out
}

func looseIntMap(raw json.RawMessage) map[string]int64 {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return nil
	}
	out := make(map[string]int64, len(fields))
	for key, value := range fields {
		out[key] = looseInt(value)
	}
	return out
}

func looseMillis(raw json.RawMessage) Millis {
	var m Millis
	_ = m.UnmarshalJSON(raw)
	return m
}

func looseBool(raw json.RawMessage) (bool, bool) {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "true", `"true"`, "1":
		return true, true
	case "false", `"false"`, "0":
		return false, true
	}
	return false, false
}

func looseInt(raw json.RawMessage) int64 {
	trimmed := bytes.Trim(bytes.TrimSpace(raw), `"`)
	if value, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
		return value
	}
	if value, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return int64(value)
	}
	return 0
}

func looseFloat(raw json.RawMessage) float64 {
	trimmed := bytes.Trim(bytes.TrimSpace(raw), `"`)
	value, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return 0
	}
	return value
}

func looseString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}
