// Package brapi implements the query engines that drive a remote BrAPI
// server: a paginated fetch loop, two-phase submit-then-poll search, and
// in-process aggregation over fetched record sets.
package brapi

import (
	"sort"
)

// Record is one flat result record as returned by the remote server.
type Record = map[string]any

// NormalizeResult reduces the three response shapes a BrAPI "result" payload
// may arrive in to a flat record list:
//
//   - an object containing a "data" list,
//   - a bare list,
//   - a single object (a singleton resource, e.g. fetch by id).
//
// Any other shape yields an empty list. The normalization is total; it never
// panics on unexpected input. Both single-page and multi-page responses go
// through this same function.
func NormalizeResult(result any) []Record {
	switch v := result.(type) {
	case map[string]any:
		if data, ok := v["data"]; ok {
			return normalizeList(data)
		}
		// Singleton resource: one-element list.
		return []Record{v}
	case []any:
		return normalizeList(v)
	default:
		return []Record{}
	}
}

func normalizeList(data any) []Record {
	items, ok := data.([]any)
	if !ok {
		return []Record{}
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records
}

// Columns returns the sorted union of keys across all records.
func Columns(records []Record) []string {
	seen := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
