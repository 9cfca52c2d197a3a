package document

import (
	"bytes"
	"strconv"
	"time"
)

// Millis is an instant expressed as epoch milliseconds. Zero means "absent"
// and marshals as JSON null so an inactive session carries no start time.
//
// Decoding is tolerant: numbers, floats, numeric strings and null all coerce.
// Anything else decodes to zero rather than failing the surrounding document.
type Millis int64

func Now() Millis {
	return FromTime(time.Now())
}

func FromTime(t time.Time) Millis {
	if t.IsZero() {
		return 0
	}
	return Millis(t.UnixMilli())
}

func (m Millis) Time() time.Time {
	if m == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(m))
}

func (m Millis) IsZero() bool {
	return m == 0
}

func (m Millis) MarshalJSON() ([]byte, error) {
	if m == 0 {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, int64(m), 10), nil
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if data[0] == '"' {
		data = bytes.Trim(data, `"`)
		if len(data) == 0 {
			*m = 0
			return nil
		}
	}
	if value, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*m = Millis(value)
		return nil
	}
	if value, err := strconv.ParseFloat(string(data), 64); err == nil {
		*m = Millis(int64(value))
		return nil
	}
	*m = 0
	return nil
}
