// Package util provides helpers for walking loosely typed API objects.
package util

import "strings"

// SplitPath splits a dotted field path ("a.b.c") into its segments.
// Empty segments are dropped.
func SplitPath(path string) []string {
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Lookup walks obj along a dotted path and returns the value found there.
// A missing key, a nil or a non-object intermediate yields (nil, false).
// When an intermediate is an array (a to-many relation) the walk continues
// into its first element.
func Lookup(obj map[string]any, path string) (any, bool) {
	segs := SplitPath(path)
	if len(segs) == 0 || obj == nil {
		return nil, false
	}

	var cur any = obj
	for _, seg := range segs {
		cur = firstElement(cur)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Nest builds {"a": {"b": {"c": leaf}}} from "a.b.c".
func Nest(path string, leaf any) map[string]any {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return nil
	}
	node := map[string]any{segs[len(segs)-1]: leaf}
	for i := len(segs) - 2; i >= 0; i-- {
		node = map[string]any{segs[i]: node}
	}
	return node
}

func firstElement(v any) any {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return nil
		}
		return arr[0]
	}
	return v
}
