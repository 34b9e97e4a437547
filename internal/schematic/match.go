package schematic

import (
	"sort"
	"strings"
)

// Match compares query against value case-insensitively: 0 for equality,
// 1 for containment, NoMatch otherwise.
func Match(query, value string) int {
	q := strings.ToLower(query)
	v := strings.ToLower(value)
	switch {
	case q == v:
		return 0
	case strings.Contains(v, q):
		return 1
	default:
		return NoMatch
	}
}

// Hidden reports whether a property key is internal bookkeeping.
func Hidden(key string) bool {
	return key == "" || key[0] < ' '
}

// better reports whether (distance, value) outranks the current best.
func better(distance int, value string, best MatchResult) bool {
	if distance != best.Distance {
		return distance < best.Distance
	}
	return len(value) < len(best.Value)
}

// SortResults orders results by distance, then by shorter matched value.
func SortResults(results []MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return len(results[i].Value) < len(results[j].Value)
	})
}

func visibleKeys(inst Instance) []string {
	keys := make([]string, 0, len(inst))
	for key := range inst {
		if !Hidden(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
