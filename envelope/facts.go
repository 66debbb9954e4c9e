package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Facts is an insertion-ordered string-keyed map carried as the envelope
// payload. JSON round-trips preserve top-level key order; nested objects
// decode to plain map[string]any.
type Facts struct {
	keys []string
	vals map[string]any
}

// NewFacts creates an empty Facts map.
func NewFacts() *Facts {
	return &Facts{vals: make(map[string]any)}
}

// Set stores a value, appending the key to the insertion order on first
// write. Setting an existing key updates the value in place.
func (f *Facts) Set(key string, value any) *Facts {
	if f.vals == nil {
		f.vals = make(map[string]any)
	}
	if _, exists := f.vals[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.vals[key] = value
	return f
}

// Get retrieves a value by key.
func (f *Facts) Get(key string) (any, bool) {
	if f == nil || f.vals == nil {
		return nil, false
	}
	v, ok := f.vals[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (f *Facts) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of entries.
func (f *Facts) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Clone returns a copy sharing no mutable state at the top level.
// Nested reference values are shared; callers treating envelopes as
// immutable must not mutate nested values after publish.
func (f *Facts) Clone() *Facts {
	if f == nil {
		return nil
	}
	c := &Facts{
		keys: make([]string, len(f.keys)),
		vals: make(map[string]any, len(f.vals)),
	}
	copy(c.keys, f.keys)
	for k, v := range f.vals {
		c.vals[k] = v
	}
	return c
}

// MarshalJSON emits a JSON object with keys in insertion order.
func (f *Facts) MarshalJSON() ([]byte, error) {
	if f == nil || len(f.keys) == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(f.vals[k])
		if err != nil {
			return nil, fmt.Errorf("fact %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving top-level key order.
func (f *Facts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("facts must be a JSON object, got %v", tok)
	}

	f.keys = nil
	f.vals = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fact key must be a string, got %v", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("fact %q: %w", key, err)
		}
		f.Set(key, value)
	}

	// Consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
