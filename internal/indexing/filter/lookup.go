package filter

import (
	"encoding/json"
	"sort"
	"strings"
)

// lookupPath resolves a dotted path such as "tx.receipt.status".
func lookupPath(record map[string]any, path string) (any, bool) {
	var cur any = record
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// findAnywhere returns the value of key at the top level, or else the first
// non-null hit found depth-first through nested objects and objects inside
// arrays. Keys are visited in sorted order.
func findAnywhere(record map[string]any, key string) (any, bool) {
	if v, ok := record[key]; ok {
		return v, true
	}
	for _, k := range sortedKeys(record) {
		if v, ok := findIn(record[k], key); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func findIn(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		return findAnywhere(n, key)
	case []any:
		for _, item := range n {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := findAnywhere(m, key); ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stringify renders a value the way it is compared: strings as-is, null as
// "null", everything else as compact JSON.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return "null"
	case string:
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
