package models

import (
	"bytes"
	"strconv"
	"time"
)

// Time is an instant persisted as Unix milliseconds so that stored documents
// order and range-filter numerically. The zero value is persisted as null.
type Time struct {
	time.Time
}

// At wraps t, truncated to millisecond precision.
func At(t time.Time) Time {
	return Time{Time: t.UTC().Truncate(time.Millisecond)}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, t.UnixMilli(), 10), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}
