package backend

import "time"

// Typed accessors for Record fields. Backends differ in what they hand
// back (the postgres store scans numeric columns as int64, JSON decoding
// produces float64), so these normalise the common variants.

// String returns the field as a string, or "" if absent or mistyped.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int returns the field as an int, accepting int, int32, int64 and float64.
func (r Record) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns the field as a bool, or false if absent or mistyped.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Time returns the field as a time.Time, accepting time.Time and RFC 3339
// strings. The zero time is returned if absent or unparseable.
func (r Record) Time(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// TimePtr is Time for nullable columns: nil when the field is absent, nil
// or zero.
func (r Record) TimePtr(key string) *time.Time {
	if r[key] == nil {
		return nil
	}
	t := r.Time(key)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Matches reports whether every filter entry equals the corresponding
// record field. A nil filter matches everything.
func (f Filter) Matches(r Record) bool {
	for k, want := range f {
		if r[k] != want {
			return false
		}
	}
	return true
}
