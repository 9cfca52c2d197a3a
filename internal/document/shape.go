package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidShape reports bytes that are not recognizably a state document.
var ErrInvalidShape = errors.New("invalid document shape")

// ValidateShape checks that raw bytes look like a state document before they
// are trusted: a JSON object whose session fields (when present) are objects
// and whose history fields (when present) are arrays. Field-level garbage is
// tolerated here and coerced later by Normalize; only a wrong top-level shape
// is rejected.
func ValidateShape(raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	for _, key := range []string{"activeFastSession", "activeSleepSession"} {
		if field, ok := top[key]; ok && !isJSONKind(field, '{') {
			return fmt.Errorf("%w: %s is not an object", ErrInvalidShape, key)
		}
	}
	for _, key := range []string{"fastHistory", "sleepHistory"} {
		if field, ok := top[key]; ok && !isJSONKind(field, '[') {
			return fmt.Errorf("%w: %s is not an array", ErrInvalidShape, key)
		}
	}
	return nil
}

// Decode validates shape, unmarshals and normalizes in one step.
func Decode(raw []byte, now Millis) (*Document, error) {
	if err := ValidateShape(raw); err != nil {
		return nil, err
	}
	doc := &Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	doc.Normalize(now)
	return doc, nil
}

func isJSONKind(raw json.RawMessage, open byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	return len(trimmed) > 0 && trimmed[0] == open
}
