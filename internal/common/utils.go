package common

import (
	"sort"
	"strings"
)

// HasAnyPrefix returns true if s starts with any of the prefixes.
func HasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// TrailingSegment reduces an http(s) URI to its last path segment, without
// query or fragment. A URI without a path keeps its scheme and host. Other
// values are returned unchanged.
func TrailingSegment(s string) string {
	if !HasAnyPrefix(strings.ToLower(s), "http://", "https://") {
		return s
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")

	rest := s[strings.Index(s, "://")+3:]
	i := strings.LastIndex(rest, "/")
	if i < 0 {
		return s
	}
	return rest[i+1:]
}

// UniqueSorted trims, dedupes and sorts values, dropping those of at most
// minLen runes.
func UniqueSorted(values []string, minLen int) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len([]rune(v)) <= minLen {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
