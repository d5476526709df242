// internal/rules/compile.go
package rules

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/solatis/critidx/internal/types"
)

/*
 * Criteria compilation and validation.
 *
 * Compiles types.Criteria to Compiled with parsed paths, pre-built detail
 * lookup structures (equality sets, regexes, parsed base versions) and
 * cost-ordered predicates.
 *
 * Compilation workflow:
 *   1. Validate id, form and term types
 *   2. Parse field paths (limits enforced by ParsePath)
 *   3. Validate and pre-build each detail
 *   4. Order predicates within each term by ascending cost (stable sort)
 *
 * Invalid criteria are rejected here, at add/update time, never at search
 * time. Original predicate positions are kept on CompiledPredicate.Index so
 * traces and anomaly reports refer to the criteria as written.
 */

// CompiledPredicate is a validated predicate ready for evaluation and indexing.
type CompiledPredicate struct {
	Index         int // position in the source term
	Kind          types.PredicateKind
	Field         string // canonical path; empty for literals
	Path          Path
	Literal       types.Value
	IsLiteral     bool
	Detail        types.Detail
	Weight        uint32
	DefaultResult bool
	Cost          int

	detail compiledDetail
}

// CompiledTerm is a validated clause; Predicates are in evaluation order.
type CompiledTerm struct {
	Index      int
	Type       types.TermType
	Predicates []*CompiledPredicate
	// ByIndex lists predicates in source order.
	ByIndex []*CompiledPredicate
}

// Compiled is a fully validated criteria.
type Compiled struct {
	ID     types.CriteriaID
	Form   types.Form
	Terms  []*CompiledTerm
	Source types.Criteria
	Cost   int

	paths map[string]Path
}

// Compile validates and pre-processes a criteria for evaluation and indexing.
func Compile(c types.Criteria) (*Compiled, error) {
	if c.ID == "" {
		return nil, types.ErrMissingID
	}
	if len(c.ID) > types.MaxCriteriaIDLength {
		return nil, fmt.Errorf("%w: %d bytes", types.ErrIDTooLong, len(c.ID))
	}
	if c.Form != types.FormDNF && c.Form != types.FormCNF {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidForm, c.Form)
	}
	if len(c.Terms) == 0 {
		return nil, types.ErrEmptyExpression
	}

	compiled := &Compiled{
		ID:     c.ID,
		Form:   c.Form,
		Terms:  make([]*CompiledTerm, 0, len(c.Terms)),
		Source: c,
		paths:  make(map[string]Path),
	}

	want := types.TermTypeFor(c.Form)
	for ti, term := range c.Terms {
		if term.Type != want {
			return nil, fmt.Errorf("term %d: %w: %v inside %v", ti, types.ErrInvalidForm, term.Type, c.Form)
		}
		if len(term.Predicates) > types.MaxPredicatesPerTerm {
			return nil, fmt.Errorf("term %d: %w", ti, types.ErrTooManyPredicates)
		}

		ct := &CompiledTerm{
			Index:      ti,
			Type:       term.Type,
			Predicates: make([]*CompiledPredicate, 0, len(term.Predicates)),
			ByIndex:    make([]*CompiledPredicate, 0, len(term.Predicates)),
		}
		for pi, pred := range term.Predicates {
			cp, err := compilePredicate(pi, pred)
			if err != nil {
				return nil, fmt.Errorf("term %d predicate %d: %w", ti, pi, err)
			}
			if !cp.IsLiteral {
				compiled.paths[cp.Field] = cp.Path
			}
			ct.ByIndex = append(ct.ByIndex, cp)
			ct.Predicates = append(ct.Predicates, cp)
			compiled.Cost += cp.Cost
		}

		// Stable sort: equal-cost predicates keep source order (deterministic traces)
		sort.SliceStable(ct.Predicates, func(i, j int) bool {
			return ct.Predicates[i].Cost < ct.Predicates[j].Cost
		})
		compiled.Terms = append(compiled.Terms, ct)
	}

	return compiled, nil
}

// compilePredicate validates a single predicate and pre-builds its detail.
func compilePredicate(idx int, p types.Predicate) (*CompiledPredicate, error) {
	if p.Kind != types.Included && p.Kind != types.Excluded {
		return nil, fmt.Errorf("%w: predicate kind %d", types.ErrInvalidDetail, p.Kind)
	}

	cp := &CompiledPredicate{
		Index:         idx,
		Kind:          p.Kind,
		Detail:        p.Detail,
		Weight:        p.Weight,
		DefaultResult: p.DefaultResult,
	}
	if cp.Weight == 0 {
		cp.Weight = 1
	}

	if p.LHS.IsLiteral {
		if !validLiteral(p.LHS.Literal) {
			return nil, fmt.Errorf("%w: literal %s", types.ErrInvalidDetail, p.LHS.Literal)
		}
		cp.IsLiteral = true
		cp.Literal = p.LHS.Literal
	} else {
		path, err := ParsePath(p.LHS.Path)
		if err != nil {
			return nil, err
		}
		cp.Path = path
		cp.Field = path.String()
	}

	d, err := compileDetail(p.Detail)
	if err != nil {
		return nil, err
	}
	cp.detail = d
	cp.Cost = CalculatePredicateCost(cp.Path, p.Detail)
	return cp, nil
}

func validLiteral(v types.Value) bool {
	switch v.Kind {
	case types.KindString, types.KindBool:
		return true
	case types.KindNumber:
		return v.IsFinite()
	default:
		return false
	}
}

// compileDetail validates the member selected by Caveat.
func compileDetail(d types.Detail) (compiledDetail, error) {
	cd := compiledDetail{caveat: d.Caveat}

	switch d.Caveat {
	case types.CaveatEquality:
		if len(d.Equality.Values) == 0 {
			return cd, fmt.Errorf("%w: equality needs at least one value", types.ErrInvalidDetail)
		}
		if len(d.Equality.Values) > types.MaxEqualityValues {
			return cd, types.ErrTooManyValues
		}
		cd.values = make(map[types.Value]struct{}, len(d.Equality.Values))
		for _, v := range d.Equality.Values {
			if !validLiteral(v) {
				return cd, fmt.Errorf("%w: equality value %s", types.ErrInvalidDetail, v)
			}
			cd.values[v] = struct{}{}
		}

	case types.CaveatRegex:
		if d.Regex.Pattern == "" {
			return cd, fmt.Errorf("%w: empty regex", types.ErrInvalidDetail)
		}
		re, err := compileRegex(d.Regex.Pattern)
		if err != nil {
			return cd, fmt.Errorf("%w: regex %q: %v", types.ErrInvalidDetail, d.Regex.Pattern, err)
		}
		cd.re = re

	case types.CaveatRange:
		r := d.Range
		if math.IsNaN(r.Lower) || math.IsNaN(r.Upper) {
			return cd, fmt.Errorf("%w: NaN range bound", types.ErrInvalidDetail)
		}
		// Unbounded sides are written as -/+MaxFloat64; infinities have no
		// JSON form and would make the criteria unexportable.
		if math.IsInf(r.Lower, 0) || math.IsInf(r.Upper, 0) {
			return cd, fmt.Errorf("%w: infinite range bound (omit the bound instead)", types.ErrInvalidDetail)
		}
		if r.Lower > r.Upper {
			return cd, fmt.Errorf("%w: range lower %g > upper %g", types.ErrInvalidDetail, r.Lower, r.Upper)
		}
		cd.rng = r

	case types.CaveatVersioning:
		if d.Versioning.Check != types.VersionAbove && d.Versioning.Check != types.VersionBelow {
			return cd, fmt.Errorf("%w: version check %d", types.ErrInvalidDetail, d.Versioning.Check)
		}
		base, err := ParseVersion(d.Versioning.BaseVersion)
		if err != nil {
			return cd, err
		}
		cd.version = d.Versioning
		cd.base = base

	default:
		return cd, fmt.Errorf("%w: caveat %v", types.ErrInvalidDetail, d.Caveat)
	}
	return cd, nil
}

// Paths returns the request paths the criteria references, keyed by
// canonical field name.
func (c *Compiled) Paths() map[string]Path {
	return c.paths
}

// Term returns term i.
func (c *Compiled) Term(i int) *CompiledTerm {
	return c.Terms[i]
}

// IsTautology reports whether the term has no predicates.
func (t *CompiledTerm) IsTautology() bool {
	return len(t.Predicates) == 0
}

// Input returns the value the predicate tests and whether it is present.
// Literal left-hand sides always resolve to themselves.
func (p *CompiledPredicate) Input(fields Fields) (types.Value, bool) {
	if p.IsLiteral {
		return p.Literal, true
	}
	return fields.Get(p.Field)
}

// Satisfied evaluates the predicate against resolved fields.
// Absence resolves to DefaultResult; presence dispatches to the detail check,
// negated for EXCLUDED predicates.
func (p *CompiledPredicate) Satisfied(fields Fields) bool {
	v, ok := p.Input(fields)
	if !ok {
		return p.DefaultResult
	}
	return p.satisfiedBy(v)
}

func (p *CompiledPredicate) satisfiedBy(v types.Value) bool {
	m := p.detail.match(v)
	if p.Kind == types.Excluded {
		return !m
	}
	return m
}

// MatchValue applies only the detail check, ignoring kind and absence.
func (p *CompiledPredicate) MatchValue(v types.Value) bool {
	return p.detail.match(v)
}

// Indexable reports whether the predicate can narrow index candidates:
// INCLUDED, absence not satisfying, a path left-hand side, and an
// enumerable or ordered detail.
func (p *CompiledPredicate) Indexable() bool {
	if p.Kind != types.Included || p.DefaultResult || p.IsLiteral {
		return false
	}
	switch p.Detail.Caveat {
	case types.CaveatEquality, types.CaveatRange, types.CaveatVersioning:
		return true
	case types.CaveatRegex:
		return false
	default:
		return false
	}
}

// Ordered reports whether the predicate is indexed by score bounds.
func (p *CompiledPredicate) Ordered() bool {
	return p.Detail.Caveat == types.CaveatRange || p.Detail.Caveat == types.CaveatVersioning
}

// Bounds returns the inclusive score interval covering every value that can
// satisfy an ordered detail.
func (p *CompiledPredicate) Bounds() (lo, hi float64) {
	switch p.Detail.Caveat {
	case types.CaveatRange:
		return p.detail.rng.Lower, p.detail.rng.Upper
	case types.CaveatVersioning:
		s := p.detail.base.Score()
		if p.detail.version.Check == types.VersionBelow {
			return 0, s
		}
		return s, MaxVersionScore
	default:
		return 0, 0
	}
}

// EqualityValues returns the equality values in source order, de-duplicated.
func (p *CompiledPredicate) EqualityValues() []types.Value {
	if p.Detail.Caveat != types.CaveatEquality {
		return nil
	}
	out := make([]types.Value, 0, len(p.Detail.Equality.Values))
	seen := make(map[types.Value]struct{}, len(p.Detail.Equality.Values))
	for _, v := range p.Detail.Equality.Values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// BaseVersion returns the parsed base version of a VERSIONING predicate.
func (p *CompiledPredicate) BaseVersion() Version {
	return p.detail.base
}

// String describes the predicate for traces and anomaly reports.
func (p *CompiledPredicate) String() string {
	lhs := p.Field
	if p.IsLiteral {
		lhs = p.Literal.String()
	}
	not := ""
	if p.Kind == types.Excluded {
		not = "NOT "
	}

	d := p.Detail
	switch d.Caveat {
	case types.CaveatEquality:
		vals := make([]string, len(d.Equality.Values))
		for i, v := range d.Equality.Values {
			vals[i] = v.String()
		}
		return fmt.Sprintf("%s %sIN {%s}", lhs, not, strings.Join(vals, ", "))
	case types.CaveatRegex:
		return fmt.Sprintf("%s %sMATCHES /%s/", lhs, not, d.Regex.Pattern)
	case types.CaveatRange:
		open, closing := "(", ")"
		if d.Range.IncludeLower {
			open = "["
		}
		if d.Range.IncludeUpper {
			closing = "]"
		}
		return fmt.Sprintf("%s %sIN %s%s, %s%s", lhs, not, open, formatBound(d.Range.Lower), formatBound(d.Range.Upper), closing)
	case types.CaveatVersioning:
		op := ">="
		if d.Versioning.Check == types.VersionBelow {
			op = "<="
		}
		if d.Versioning.ExcludeBase {
			op = op[:1]
		}
		return fmt.Sprintf("%s %sVERSION %s %s", lhs, not, op, d.Versioning.BaseVersion)
	default:
		return fmt.Sprintf("%s %s%v", lhs, not, d.Caveat)
	}
}

func formatBound(f float64) string {
	switch {
	case f <= -math.MaxFloat64:
		return "-inf"
	case f >= math.MaxFloat64:
		return "+inf"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}
