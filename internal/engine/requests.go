package engine

import (
	"math"
	"slices"
	"strings"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

/*
 * Representative request construction for ratification.
 *
 * For each predicate a witness value is chosen that satisfies it:
 *   - INCLUDED EQUALITY: the first value
 *   - INCLUDED RANGE: a bound when included, otherwise the midpoint
 *   - INCLUDED VERSIONING: the base, or its nearest neighbour in the
 *     checked direction when the base is excluded
 *   - INCLUDED REGEX: the pattern itself when it is a plain literal
 *   - EXCLUDED with default result true: the field is left out
 *   - EXCLUDED otherwise: an empty object, which no detail matches
 *
 * DNF criteria get one request per term. CNF criteria get one request that
 * takes the first constructible predicate of every disjunction.
 * Witnesses are written into a nested document along the predicate path.
 * Requests that do not satisfy the criteria (conflicting witnesses on one
 * path) are still valid checks: ratification compares the index with the
 * evaluator, whatever the outcome.
 */

// probeRequest is one document built to exercise a criteria term.
type probeRequest struct {
	term int
	doc  map[string]any
}

// witness returns a value satisfying p. omit means the field is left out;
// ok false means no value could be constructed.
func witness(p *rules.CompiledPredicate) (v any, omit, ok bool) {
	if p.Kind == types.Excluded {
		if p.DefaultResult {
			return nil, true, true
		}
		return map[string]any{}, false, true
	}

	switch p.Detail.Caveat {
	case types.CaveatEquality:
		values := p.EqualityValues()
		if len(values) == 0 {
			return nil, false, false
		}
		return values[0].Any(), false, true
	case types.CaveatRange:
		x, ok := rangeWitness(p.Detail.Range)
		return x, false, ok
	case types.CaveatVersioning:
		s, ok := versionWitness(p.BaseVersion(), p.Detail.Versioning)
		return s, false, ok
	case types.CaveatRegex:
		s, ok := regexWitness(p.Detail.Regex.Pattern)
		return s, false, ok
	default:
		return nil, false, false
	}
}

func rangeWitness(r types.RangeDetail) (float64, bool) {
	switch {
	case r.IncludeLower && r.IncludeUpper && r.Lower <= 0 && 0 <= r.Upper:
		return 0, true
	case r.IncludeLower:
		return r.Lower, true
	case r.IncludeUpper:
		return r.Upper, true
	case r.Lower < r.Upper:
		mid := r.Lower/2 + r.Upper/2
		if mid > r.Lower && mid < r.Upper && !math.IsInf(mid, 0) {
			return mid, true
		}
	}
	return 0, false
}

func versionWitness(base rules.Version, d types.VersioningDetail) (string, bool) {
	if !d.ExcludeBase {
		return base.String(), true
	}
	v := slices.Clone(base)
	if len(v) == 0 {
		v = rules.Version{0}
	}
	if d.Check == types.VersionAbove {
		v[len(v)-1]++
		return v.String(), v[len(v)-1] != 0
	}
	// Strictly below base: decrement the last non-zero component and zero
	// everything after it.
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] > 0 {
			v[i]--
			for j := i + 1; j < len(v); j++ {
				v[j] = 0
			}
			return v.String(), true
		}
	}
	return "", false
}

// regexWitness accepts anchored or unanchored patterns without
// metacharacters.
func regexWitness(pattern string) (string, bool) {
	lit := strings.TrimSuffix(strings.TrimPrefix(pattern, "^"), "$")
	if lit == "" || strings.ContainsAny(lit, `\.+*?()|[]{}^$`) {
		return "", false
	}
	return lit, true
}

// requestsFor builds the representative requests of a criteria.
func requestsFor(c *rules.Compiled) []probeRequest {
	if c.Form == types.FormCNF {
		doc := make(map[string]any)
		for _, term := range c.Terms {
			for _, p := range term.ByIndex {
				if place(doc, p) {
					break
				}
			}
		}
		return []probeRequest{{term: 0, doc: doc}}
	}

	out := make([]probeRequest, 0, len(c.Terms))
	for _, term := range c.Terms {
		doc := make(map[string]any)
		complete := true
		for _, p := range term.ByIndex {
			if !place(doc, p) {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, probeRequest{term: term.Index, doc: doc})
		}
	}
	return out
}

// place writes the witness of p into doc. Literal predicates need no field.
func place(doc map[string]any, p *rules.CompiledPredicate) bool {
	if p.IsLiteral {
		return true
	}
	v, omit, ok := witness(p)
	if !ok {
		return false
	}
	if omit {
		return true
	}
	return assign(doc, p.Path, v)
}

// assign writes v at path inside doc, creating objects and arrays on the
// way. Wildcards and indices write into arrays; filters add a matching
// element. Conflicting shapes report false.
func assign(doc map[string]any, path rules.Path, v any) bool {
	if len(path) == 0 {
		return false
	}
	_, ok := assignAt(doc, path, v)
	return ok
}

func assignAt(node any, path rules.Path, v any) (any, bool) {
	if len(path) == 0 {
		return v, true
	}
	seg := path[0]

	if !seg.IsIndex && !seg.Wildcard && seg.Filter == nil {
		m, isMap := node.(map[string]any)
		if node != nil && !isMap {
			return node, false
		}
		if m == nil {
			m = make(map[string]any)
		}
		child, ok := assignAt(m[seg.Key], path[1:], v)
		if ok {
			m[seg.Key] = child
		}
		return m, ok
	}

	arr, isArr := node.([]any)
	if node != nil && !isArr {
		return node, false
	}

	idx := 0
	switch {
	case seg.IsIndex:
		if seg.Index < 0 || seg.Index > 1024 {
			return node, false
		}
		idx = seg.Index
	case seg.Filter != nil:
		if len(path) == 1 {
			return node, false
		}
		idx = -1
		for i, el := range arr {
			if m, ok := el.(map[string]any); ok {
				if fv, found := types.FromAny(m[seg.Filter.Key]); found && fv == seg.Filter.Value {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			arr = append(arr, map[string]any{seg.Filter.Key: seg.Filter.Value.Any()})
			idx = len(arr) - 1
		}
	}

	for len(arr) <= idx {
		arr = append(arr, nil)
	}
	child, ok := assignAt(arr[idx], path[1:], v)
	if ok {
		arr[idx] = child
	}
	return arr, ok
}
