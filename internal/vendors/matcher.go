package vendors

import "strings"

// MatchStrategy decides whether two normalized strings refer to the
// same thing. Used for the fuzzy fallback in name resolution and for
// read-time grouping of service descriptions. Write-time bucket
// matching deliberately stays stricter (exact, then substring) so that
// a loosened strategy can never merge statistics that were recorded
// separately.
type MatchStrategy interface {
	Match(a, b string) bool
}

// SubstringStrategy matches when either string contains the other.
// This is the default: cheap, predictable, and good enough for Dutch
// trade names once legal suffixes have been stripped.
type SubstringStrategy struct{}

func (SubstringStrategy) Match(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// TokenSetStrategy matches when the overlap between the two token sets
// reaches the threshold, measured against the smaller set. More robust
// than substring containment against reordered words ("Jansen
// Installatietechniek" vs "Installatietechniek Jansen") at the cost of
// missing single-token abbreviations.
type TokenSetStrategy struct {
	// Threshold is the required overlap ratio in (0,1]. Zero means 0.5.
	Threshold float64
}

func (s TokenSetStrategy) Match(a, b string) bool {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	small, large := ta, tb
	if len(tb) < len(ta) {
		small, large = tb, ta
	}
	overlap := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			overlap++
		}
	}
	threshold := s.Threshold
	if threshold == 0 {
		threshold = 0.5
	}
	return float64(overlap)/float64(len(small)) >= threshold
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}
