package config

import (
	"sort"
	"strings"
)

// secretKeys lists the dot-separated keys whose values should be masked.
var secretKeys = map[string]bool{
	"server.token":          true,
	"notify.telegram_token": true,
}

// IsSecretKey returns true if the given dot-separated key is a secret.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Keys returns every settable dot path, sorted.
func Keys() []string {
	m, err := ToMap(Default())
	if err != nil {
		return nil
	}
	flat := Flatten(m)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key names a field of Config.
func IsKnownKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Flatten converts a nested map into a flat map with dot-separated keys.
// For example, {"phases": {"a_tail": "2m"}} becomes {"phases.a_tail": "2m"}.
// Empty nested maps produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		if prefix != "" {
			k = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(out, k, child)
			continue
		}
		out[k] = v
	}
}

// Unflatten converts a flat map with dot-separated keys back into a nested map.
// For example, {"store.path": "x.db"} becomes {"store": {"path": "x.db"}}.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, k, v)
	}
	return out
}

// setPath stores v under a dot path, replacing any scalar that sits where a
// section is needed.
func setPath(m map[string]any, path string, v any) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		m[head] = v
		return
	}
	child, ok := m[head].(map[string]any)
	if !ok {
		child = make(map[string]any)
		m[head] = child
	}
	setPath(child, rest, v)
}

// maskValue keeps the last four characters of a secret.
func maskValue(s string) string {
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

// MaskSecrets returns a copy of the flat map with secret values shown as
// "***xxxx". Empty or non-string values are left as they are.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && secretKeys[k] {
			v = maskValue(s)
		}
		out[k] = v
	}
	return out
}
