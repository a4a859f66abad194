package models

import (
	"fmt"
	"sort"
)

// The remote store owns these schemas; rows are kept as decoded JSON objects.
type (
	Product       map[string]any
	InventoryItem map[string]any
	Stats         map[string]any
	Reports       map[string]any
)

// Field returns the value stored under key formatted as text.
func (i InventoryItem) Field(key string) string {
	v, ok := i[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// SortedKeys returns the union of keys across rows, sorted.
func SortedKeys[M ~map[string]any](rows []M) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
