package normalization

import "strings"

// AsString trims and returns value when it is a string.
func AsString(value any) string {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// MapFromPayload unwraps decoded frame data, including a {"data": {...}} envelope, into a plain map.
func MapFromPayload(value any) map[string]any {
	typed, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	if data, ok := typed["data"].(map[string]any); ok {
		return data
	}
	return typed
}

// FirstString returns the first non-empty string stored under one of keys.
func FirstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := AsString(m[key]); value != "" {
			return value
		}
	}
	return ""
}
