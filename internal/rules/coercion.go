// internal/rules/coercion.go
package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/solatis/critidx/internal/types"
)

/*
 * Type coercion for predicate matching.
 *
 * Rule: no implicit cross-type equality. A request value only ever matches a
 * criteria value of the same kind; "5" and 5 are different values.
 *
 *   - EQUALITY:   kind-aware membership, no coercion
 *   - RANGE:      Number only; strings and booleans never satisfy a range
 *   - VERSIONING: String, or Number rendered with FormatFloat('f', -1)
 *   - REGEX:      text rendering of any scalar
 *
 * A coercion failure is a local "detail not matched", never an error. This
 * keeps search total over well-formed but unmatching requests.
 *
 * Versions are dotted non-negative integers with an optional "v" prefix and
 * an ignored "-suffix"/"+build" tail ("5.7.40-log" is 5.7.40). Missing
 * components compare as zero, so "5.7" equals "5.7.0".
 */

// Version is a parsed dotted-numeric version.
type Version []uint64

// Version projection bounds. Component 0 saturates at projMajorMax, the
// others at projMinorMax; once a component saturates every later component
// is pinned to its maximum. Keeps the projection monotone in version order.
const (
	projComponents = 4
	projMajorMax   = 999999
	projMinorMax   = 999

	maxVersionComponents = 16
)

// ParseVersion parses a dotted version string.
// Returns ErrInvalidVersion for empty or non-numeric components.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty", types.ErrInvalidVersion)
	}

	parts := strings.Split(s, ".")
	if len(parts) > maxVersionComponents {
		return nil, fmt.Errorf("%w: too many components in %q", types.ErrInvalidVersion, s)
	}
	v := make(Version, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: component %q", types.ErrInvalidVersion, part)
		}
		v[i] = n
	}
	return v, nil
}

// CompareVersions returns -1, 0 or 1. Missing components compare as zero.
func CompareVersions(a, b Version) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var x, y uint64
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, c := range v {
		parts[i] = strconv.FormatUint(c, 10)
	}
	return strings.Join(parts, ".")
}

// Score projects the version onto the real line for ordered index lookups.
// Monotone non-decreasing: CompareVersions(a, b) < 0 implies
// a.Score() <= b.Score(). Distinct versions may share a score.
func (v Version) Score() float64 {
	var score float64
	saturated := false
	for i := 0; i < projComponents; i++ {
		limit := uint64(projMinorMax)
		if i == 0 {
			limit = projMajorMax
		}
		var c uint64
		switch {
		case saturated:
			c = limit
		case i < len(v):
			c = v[i]
			if c >= limit {
				c = limit
				saturated = true
			}
		}
		score = score*1000 + float64(c)
	}
	return score
}

// MaxVersionScore is the score of every saturated version.
var MaxVersionScore = Version{math.MaxUint64}.Score()

// numberOf extracts a number for RANGE matching. Only Number values qualify.
func numberOf(v types.Value) (float64, bool) {
	if v.Kind != types.KindNumber {
		return 0, false
	}
	return v.Num, true
}

// VersionOf extracts a version from a request value for VERSIONING matching.
// Strings are parsed; numbers use their shortest decimal rendering (5.7 -> "5.7").
func VersionOf(v types.Value) (Version, bool) {
	var s string
	switch v.Kind {
	case types.KindString:
		s = v.Str
	case types.KindNumber:
		if !v.IsFinite() || v.Num < 0 {
			return nil, false
		}
		s = strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return nil, false
	}
	ver, err := ParseVersion(s)
	if err != nil {
		return nil, false
	}
	return ver, true
}

// textOf renders a scalar for REGEX matching.
func textOf(v types.Value) (string, bool) {
	return v.Text()
}

// OrderedScore returns the score used to probe ordered index bounds of the
// given caveat, and whether the value can satisfy that caveat at all.
func OrderedScore(c types.Caveat, v types.Value) (float64, bool) {
	switch c {
	case types.CaveatRange:
		return numberOf(v)
	case types.CaveatVersioning:
		ver, ok := VersionOf(v)
		if !ok {
			return 0, false
		}
		return ver.Score(), true
	default:
		return 0, false
	}
}
