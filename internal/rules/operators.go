// internal/rules/operators.go
package rules

import (
	"time"

	"github.com/dlclark/regexp2"

	"github.com/solatis/critidx/internal/types"
)

/*
 * Detail matching.
 *
 * One pure, total check per caveat, selected by an exhaustive switch:
 *   - EQUALITY:   kind-aware set membership (cost 5)
 *   - RANGE:      numeric interval with inclusive/exclusive bounds (cost 7)
 *   - VERSIONING: dotted-version threshold above/below base (cost 9)
 *   - REGEX:      regexp2 match over the text rendering (cost 10)
 *
 * Type mismatches return false. Predicate kind (INCLUDED/EXCLUDED) and
 * absence are applied by the caller in evaluate.go; these functions only
 * answer "does the value match the detail".
 *
 * Regex uses regexp2 for backtracking syntax (lookarounds, backreferences)
 * with a per-match timeout; a timed-out match is "not matched".
 */

// RegexMatchTimeout bounds a single regex match.
const RegexMatchTimeout = 50 * time.Millisecond

// compiledDetail is a Detail with pre-built lookup structures.
type compiledDetail struct {
	caveat  types.Caveat
	values  map[types.Value]struct{}
	re      *regexp2.Regexp
	rng     types.RangeDetail
	version types.VersioningDetail
	base    Version
}

// match applies the detail check to a present value.
func (d *compiledDetail) match(v types.Value) bool {
	switch d.caveat {
	case types.CaveatEquality:
		return matchEquality(d.values, v)
	case types.CaveatRegex:
		return matchRegex(d.re, v)
	case types.CaveatRange:
		return matchRange(d.rng, v)
	case types.CaveatVersioning:
		return matchVersion(d.version.Check, d.base, d.version.ExcludeBase, v)
	default:
		return false
	}
}

// matchEquality checks membership with kind-aware equality.
func matchEquality(values map[types.Value]struct{}, v types.Value) bool {
	_, ok := values[v]
	return ok
}

// matchRegex matches the value's text rendering. Non-scalars never match.
func matchRegex(re *regexp2.Regexp, v types.Value) bool {
	if re == nil {
		return false
	}
	s, ok := textOf(v)
	if !ok {
		return false
	}
	matched, err := re.MatchString(s)
	if err != nil {
		// Timeout: treated as a local predicate failure
		return false
	}
	return matched
}

// matchRange checks numeric interval membership. Non-numbers never match.
func matchRange(r types.RangeDetail, v types.Value) bool {
	x, ok := numberOf(v)
	if !ok {
		return false
	}
	if r.IncludeLower {
		if x < r.Lower {
			return false
		}
	} else if x <= r.Lower {
		return false
	}
	if r.IncludeUpper {
		return x <= r.Upper
	}
	return x < r.Upper
}

// matchVersion compares the value's version against base.
// Unparseable versions never match.
func matchVersion(check types.VersionCheck, base Version, excludeBase bool, v types.Value) bool {
	ver, ok := VersionOf(v)
	if !ok {
		return false
	}
	cmp := CompareVersions(ver, base)
	if cmp == 0 {
		return !excludeBase
	}
	if check == types.VersionBelow {
		return cmp < 0
	}
	return cmp > 0
}

// compileRegex compiles pattern with the match timeout applied.
func compileRegex(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = RegexMatchTimeout
	return re, nil
}
