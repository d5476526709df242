// internal/types/criteria.go
package types

/*
 * Domain types for criteria definition.
 *
 * Provides Criteria, Term, Predicate, FieldRef and Detail used by
 * internal/rules for compilation/evaluation and by internal/index for
 * index generation. These types are wire-format agnostic; JSON conversion
 * happens in internal/codec.
 *
 * Key types:
 *   - Criteria: id + normal form (CNF or DNF) + terms
 *   - Term: Conjunction (inside DNF) or Disjunction (inside CNF)
 *   - Predicate: included/excluded test of one field against a Detail
 *   - Detail: closed tagged union over EQUALITY, REGEX, RANGE, VERSIONING
 *
 * Tautology: a term with no predicates is always satisfied, in either form.
 */

import "math"

// Form is the normal form of a criteria.
type Form uint8

const (
	FormUnspecified Form = iota
	FormDNF
	FormCNF
)

func (f Form) String() string {
	switch f {
	case FormDNF:
		return "DNF"
	case FormCNF:
		return "CNF"
	default:
		return "UNSPECIFIED"
	}
}

// TermType distinguishes conjunctions from disjunctions.
type TermType uint8

const (
	Conjunction TermType = iota
	Disjunction
)

func (t TermType) String() string {
	if t == Disjunction {
		return "DISJUNCTION"
	}
	return "CONJUNCTION"
}

// TermTypeFor returns the term type a form requires.
func TermTypeFor(f Form) TermType {
	if f == FormCNF {
		return Disjunction
	}
	return Conjunction
}

// PredicateKind is INCLUDED (value must match) or EXCLUDED (value must not match).
type PredicateKind uint8

const (
	Included PredicateKind = iota
	Excluded
)

func (k PredicateKind) String() string {
	if k == Excluded {
		return "EXCLUDED"
	}
	return "INCLUDED"
}

// Caveat discriminates the Detail union.
type Caveat uint8

const (
	CaveatUnspecified Caveat = iota
	CaveatEquality
	CaveatRegex
	CaveatRange
	CaveatVersioning
)

func (c Caveat) String() string {
	switch c {
	case CaveatEquality:
		return "EQUALITY"
	case CaveatRegex:
		return "REGEX"
	case CaveatRange:
		return "RANGE"
	case CaveatVersioning:
		return "VERSIONING"
	default:
		return "UNSPECIFIED"
	}
}

// VersionCheck selects the direction of a versioning comparison.
type VersionCheck uint8

const (
	VersionAbove VersionCheck = iota
	VersionBelow
)

func (v VersionCheck) String() string {
	if v == VersionBelow {
		return "BELOW"
	}
	return "ABOVE"
}

// EqualityDetail is satisfied iff the resolved value is one of Values.
type EqualityDetail struct {
	Values []Value
}

// RegexDetail is satisfied iff the resolved value, rendered as text, matches Pattern.
type RegexDetail struct {
	Pattern string
}

// RangeDetail is a numeric interval test.
type RangeDetail struct {
	Lower        float64
	Upper        float64
	IncludeLower bool
	IncludeUpper bool
}

// VersioningDetail compares dotted-numeric versions ("5.7.40") against BaseVersion.
type VersioningDetail struct {
	Check       VersionCheck
	BaseVersion string
	ExcludeBase bool
}

// Detail is the closed tagged union of predicate tests.
// Only the member selected by Caveat is meaningful.
type Detail struct {
	Caveat     Caveat
	Equality   EqualityDetail
	Regex      RegexDetail
	Range      RangeDetail
	Versioning VersioningDetail
}

// EqualityOf builds an EQUALITY detail.
func EqualityOf(values ...Value) Detail {
	return Detail{Caveat: CaveatEquality, Equality: EqualityDetail{Values: values}}
}

// RegexOf builds a REGEX detail.
func RegexOf(pattern string) Detail {
	return Detail{Caveat: CaveatRegex, Regex: RegexDetail{Pattern: pattern}}
}

// RangeOf builds a RANGE detail.
func RangeOf(lower, upper float64, includeLower, includeUpper bool) Detail {
	return Detail{Caveat: CaveatRange, Range: RangeDetail{
		Lower:        lower,
		Upper:        upper,
		IncludeLower: includeLower,
		IncludeUpper: includeUpper,
	}}
}

// FullRange is the RANGE detail spanning every finite number, bounds included.
func FullRange() RangeDetail {
	return RangeDetail{Lower: -math.MaxFloat64, Upper: math.MaxFloat64, IncludeLower: true, IncludeUpper: true}
}

// VersionOf builds a VERSIONING detail.
func VersionOf(check VersionCheck, base string, excludeBase bool) Detail {
	return Detail{Caveat: CaveatVersioning, Versioning: VersioningDetail{
		Check:       check,
		BaseVersion: base,
		ExcludeBase: excludeBase,
	}}
}

// FieldRef is the left-hand side of a predicate: a path into the request
// document, or a literal constant that always resolves to itself.
type FieldRef struct {
	Path      string
	Literal   Value
	IsLiteral bool
}

// PathRef builds a path field reference.
func PathRef(path string) FieldRef { return FieldRef{Path: path} }

// LiteralRef builds a constant field reference.
func LiteralRef(v Value) FieldRef { return FieldRef{Literal: v, IsLiteral: true} }

// Predicate tests one field against a Detail.
type Predicate struct {
	Kind   PredicateKind
	LHS    FieldRef
	Detail Detail
	// Weight is carried for callers; it does not affect matching. Zero means 1.
	Weight uint32
	// DefaultResult is the outcome when the field path is absent from the request.
	DefaultResult bool
}

// Include builds an INCLUDED predicate on path with default result false.
func Include(path string, d Detail) Predicate {
	return Predicate{Kind: Included, LHS: PathRef(path), Detail: d, Weight: 1}
}

// Exclude builds an EXCLUDED predicate on path with default result true.
func Exclude(path string, d Detail) Predicate {
	return Predicate{Kind: Excluded, LHS: PathRef(path), Detail: d, Weight: 1, DefaultResult: true}
}

// DefaultResultFor returns the absence outcome used when none is given.
// Absence cannot be excluded, so EXCLUDED defaults to satisfied.
func DefaultResultFor(k PredicateKind) bool {
	return k == Excluded
}

// Term is one clause of a criteria.
type Term struct {
	Type       TermType
	Predicates []Predicate
}

// IsTautology reports whether the term is the always-satisfied sentinel term.
func (t Term) IsTautology() bool {
	return len(t.Predicates) == 0
}

// Criteria is a boolean targeting rule in normal form.
type Criteria struct {
	ID    CriteriaID
	Form  Form
	Terms []Term
}

// TautologicalCriteria returns a criteria that every request satisfies.
func TautologicalCriteria(id CriteriaID) Criteria {
	return Criteria{
		ID:    id,
		Form:  FormDNF,
		Terms: []Term{{Type: Conjunction}},
	}
}

// NewDNF builds a DNF criteria from conjunction predicate lists.
func NewDNF(id CriteriaID, conjunctions ...[]Predicate) Criteria {
	c := Criteria{ID: id, Form: FormDNF, Terms: make([]Term, 0, len(conjunctions))}
	for _, preds := range conjunctions {
		c.Terms = append(c.Terms, Term{Type: Conjunction, Predicates: preds})
	}
	return c
}

// NewCNF builds a CNF criteria from disjunction predicate lists.
func NewCNF(id CriteriaID, disjunctions ...[]Predicate) Criteria {
	c := Criteria{ID: id, Form: FormCNF, Terms: make([]Term, 0, len(disjunctions))}
	for _, preds := range disjunctions {
		c.Terms = append(c.Terms, Term{Type: Disjunction, Predicates: preds})
	}
	return c
}

// Shape returns the predicate count of every term.
// Two criteria with equal forms and shapes can replace each other in place.
func (c Criteria) Shape() []int {
	shape := make([]int, len(c.Terms))
	for i, t := range c.Terms {
		shape[i] = len(t.Predicates)
	}
	return shape
}

// SameShape reports whether a and b have the same form, term count and
// per-term predicate arity.
func SameShape(a, b Criteria) bool {
	if a.Form != b.Form || len(a.Terms) != len(b.Terms) {
		return false
	}
	for i := range a.Terms {
		if len(a.Terms[i].Predicates) != len(b.Terms[i].Predicates) {
			return false
		}
	}
	return true
}

// Paths returns the distinct request paths referenced by the criteria.
func (c Criteria) Paths() []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, t := range c.Terms {
		for _, p := range t.Predicates {
			if p.LHS.IsLiteral {
				continue
			}
			if _, ok := seen[p.LHS.Path]; ok {
				continue
			}
			seen[p.LHS.Path] = struct{}{}
			paths = append(paths, p.LHS.Path)
		}
	}
	return paths
}
