package region

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Score returns a weighted similarity of a and b on a 0-100 scale. It is
// case-insensitive, ignores punctuation and token order, and rewards one
// string being contained in the other.
func Score(a, b string) float64 {
	a, b = preprocess(a), preprocess(b)
	if a == "" || b == "" {
		return 0
	}

	la, lb := len([]rune(a)), len([]rune(b))
	lenRatio := float64(max(la, lb)) / float64(min(la, lb))

	base := ratio(a, b)
	if lenRatio < 1.5 {
		return max(base, 0.95*max(tokenSortRatio(a, b), tokenSetRatio(a, b)))
	}

	scale := 0.9
	if lenRatio > 8 {
		scale = 0.6
	}
	partial := partialRatio(a, b) * scale
	partialTokens := partialRatio(sortTokens(a), sortTokens(b)) * 0.95 * scale
	return max(base, partial, partialTokens)
}

// preprocess lowercases s and turns every non-alphanumeric rune into a
// single space.
func preprocess(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ratio is the normalized edit similarity of two strings.
func ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

// partialRatio is the best ratio of the shorter string against every
// equally long window of the longer one.
func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}

	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		r := ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func tokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

// tokenSetRatio compares the shared tokens of a and b against each side's
// full token set.
func tokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)

	var common, onlyA, onlyB []string
	for t := range ta {
		if _, ok := tb[t]; ok {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if _, ok := ta[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	if sect != "" && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	withA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	best := ratio(withA, withB)
	if sect != "" {
		best = max(best, ratio(sect, withA), ratio(sect, withB))
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		out[t] = struct{}{}
	}
	return out
}
