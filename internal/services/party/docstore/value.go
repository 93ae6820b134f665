package docstore

import (
	"encoding/json"
	"fmt"
)

// Normalize converts v into the store's canonical JSON value space:
// map[string]any, []any, string, float64, bool and nil.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// Decode converts a normalized value into target, typically a struct pointer.
func Decode(value any, target any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

// Fields converts a struct into a field map suitable for Merge.
func Fields(v any) (map[string]any, error) {
	normalized, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	fields, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("fields: %T does not encode to an object", v)
	}
	return fields, nil
}

// Clone deep-copies a normalized value.
func Clone(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = Clone(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = Clone(value)
		}
		return out
	default:
		return v
	}
}

// Int64 reads an integral number from a normalized value. Missing or
// non-numeric values read as zero.
func Int64(v any) int64 {
	switch typed := v.(type) {
	case float64:
		return int64(typed)
	case int64:
		return typed
	case int:
		return int64(typed)
	case json.Number:
		n, _ := typed.Int64()
		return n
	default:
		return 0
	}
}

func lookup(doc any, rest []string) (any, bool) {
	current := doc
	for _, segment := range rest {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// assign returns doc with value stored at rest, creating intermediate maps.
// A nil value removes the key. doc must already be a private copy.
func assign(doc any, rest []string, value any) any {
	if len(rest) == 0 {
		return value
	}
	m, ok := doc.(map[string]any)
	if !ok {
		if value == nil {
			return doc
		}
		m = make(map[string]any)
	}
	key := rest[0]
	if len(rest) == 1 {
		if value == nil {
			delete(m, key)
		} else {
			m[key] = value
		}
		return m
	}
	child, exists := m[key]
	if !exists && value == nil {
		return m
	}
	m[key] = assign(child, rest[1:], value)
	return m
}

// mergeFields shallow-merges fields into current. Nil field values delete
// their key; keys not mentioned are preserved.
func mergeFields(current any, fields map[string]any) map[string]any {
	m, ok := current.(map[string]any)
	if !ok {
		m = make(map[string]any, len(fields))
	}
	for key, value := range fields {
		if value == nil {
			delete(m, key)
			continue
		}
		m[key] = value
	}
	return m
}
