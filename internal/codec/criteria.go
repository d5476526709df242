// Package codec converts criteria between their JSON wire shape and the
// in-memory types used by the rules and index packages.
//
// Wire shape:
//
//	{"form": "DNF", "id": "C1", "conjunctions": [
//	  {"type": "CONJUNCTION", "predicates": [
//	    {"type": "INCLUDED", "lhs": "a",
//	     "detail": {"caveat": "EQUALITY", "values": ["A1", "A2"]},
//	     "weight": 1, "defaultResult": false}]}]}
//
// CNF criteria carry "disjunctions" instead of "conjunctions". lhs is a path
// string or {"literal": <scalar>}. Structural checks run through
// go-playground/validator; semantic checks (regex syntax, version parsing,
// path limits) are left to rules.Compile.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/solatis/critidx/internal/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Criteria is the wire form of a criteria.
type Criteria struct {
	Form         string `json:"form" validate:"required,oneof=DNF CNF"`
	ID           string `json:"id" validate:"required,max=256"`
	Conjunctions []Term `json:"conjunctions,omitempty" validate:"dive"`
	Disjunctions []Term `json:"disjunctions,omitempty" validate:"dive"`
}

// Term is the wire form of a conjunction or disjunction.
type Term struct {
	Type       string      `json:"type,omitempty" validate:"omitempty,oneof=CONJUNCTION DISJUNCTION"`
	Predicates []Predicate `json:"predicates" validate:"dive"`
}

// Predicate is the wire form of a predicate.
// Weight and DefaultResult are pointers so omitted fields take their defaults.
type Predicate struct {
	Type          string          `json:"type" validate:"required,oneof=INCLUDED EXCLUDED"`
	LHS           json.RawMessage `json:"lhs" validate:"required"`
	Detail        Detail          `json:"detail"`
	Weight        *uint32         `json:"weight,omitempty"`
	DefaultResult *bool           `json:"defaultResult,omitempty"`
}

// Detail is the wire form of the detail union, discriminated by Caveat.
type Detail struct {
	Caveat string `json:"caveat" validate:"required,oneof=EQUALITY REGEX RANGE VERSIONING"`

	Values []json.RawMessage `json:"values,omitempty"`

	Pattern string `json:"pattern,omitempty"`

	Lower        *float64 `json:"lower,omitempty"`
	Upper        *float64 `json:"upper,omitempty"`
	IncludeLower *bool    `json:"includeLower,omitempty"`
	IncludeUpper *bool    `json:"includeUpper,omitempty"`

	Check       string `json:"check,omitempty" validate:"omitempty,oneof=ABOVE BELOW"`
	BaseVersion string `json:"baseVersion,omitempty"`
	ExcludeBase bool   `json:"excludeBase,omitempty"`
}

type literalLHS struct {
	Literal json.RawMessage `json:"literal"`
}

// Validate checks the structural constraints of the wire document.
func (c *Criteria) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedCriteria, err)
	}
	switch {
	case c.Form == "DNF" && len(c.Disjunctions) > 0:
		return fmt.Errorf("%w: DNF criteria %q carries disjunctions", types.ErrMalformedCriteria, c.ID)
	case c.Form == "CNF" && len(c.Conjunctions) > 0:
		return fmt.Errorf("%w: CNF criteria %q carries conjunctions", types.ErrMalformedCriteria, c.ID)
	}
	return nil
}

// ToCriteria converts the wire document to a types.Criteria.
func (c *Criteria) ToCriteria() (types.Criteria, error) {
	if err := c.Validate(); err != nil {
		return types.Criteria{}, err
	}

	out := types.Criteria{ID: c.ID}
	terms := c.Conjunctions
	want := types.Conjunction
	switch c.Form {
	case "DNF":
		out.Form = types.FormDNF
	case "CNF":
		out.Form = types.FormCNF
		terms = c.Disjunctions
		want = types.Disjunction
	}

	out.Terms = make([]types.Term, 0, len(terms))
	for i, wt := range terms {
		if wt.Type != "" && wt.Type != want.String() {
			return types.Criteria{}, fmt.Errorf("%w: term %d is %s inside %s", types.ErrInvalidForm, i, wt.Type, c.Form)
		}
		term := types.Term{Type: want}
		for j, wp := range wt.Predicates {
			p, err := wp.toPredicate()
			if err != nil {
				return types.Criteria{}, fmt.Errorf("term %d predicate %d: %w", i, j, err)
			}
			term.Predicates = append(term.Predicates, p)
		}
		out.Terms = append(out.Terms, term)
	}
	return out, nil
}

func (wp Predicate) toPredicate() (types.Predicate, error) {
	p := types.Predicate{Kind: types.Included, Weight: 1}
	if wp.Type == "EXCLUDED" {
		p.Kind = types.Excluded
	}
	p.DefaultResult = types.DefaultResultFor(p.Kind)
	if wp.DefaultResult != nil {
		p.DefaultResult = *wp.DefaultResult
	}
	if wp.Weight != nil {
		p.Weight = *wp.Weight
	}

	lhs, err := decodeLHS(wp.LHS)
	if err != nil {
		return types.Predicate{}, err
	}
	p.LHS = lhs

	d, err := wp.Detail.toDetail()
	if err != nil {
		return types.Predicate{}, err
	}
	p.Detail = d
	return p, nil
}

func decodeLHS(raw json.RawMessage) (types.FieldRef, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var path string
		if err := json.Unmarshal(raw, &path); err != nil {
			return types.FieldRef{}, fmt.Errorf("%w: lhs: %v", types.ErrMalformedCriteria, err)
		}
		return types.PathRef(path), nil
	}

	var lit literalLHS
	if err := json.Unmarshal(raw, &lit); err != nil || lit.Literal == nil {
		return types.FieldRef{}, fmt.Errorf("%w: lhs must be a path or {\"literal\": value}", types.ErrMalformedCriteria)
	}
	v, err := decodeScalar(lit.Literal)
	if err != nil {
		return types.FieldRef{}, err
	}
	return types.LiteralRef(v), nil
}

func (wd Detail) toDetail() (types.Detail, error) {
	switch wd.Caveat {
	case "EQUALITY":
		values := make([]types.Value, 0, len(wd.Values))
		for _, raw := range wd.Values {
			v, err := decodeScalar(raw)
			if err != nil {
				return types.Detail{}, err
			}
			values = append(values, v)
		}
		return types.EqualityOf(values...), nil
	case "REGEX":
		return types.RegexOf(wd.Pattern), nil
	case "RANGE":
		r := types.FullRange()
		if wd.Lower != nil {
			r.Lower = *wd.Lower
		}
		if wd.Upper != nil {
			r.Upper = *wd.Upper
		}
		if wd.IncludeLower != nil {
			r.IncludeLower = *wd.IncludeLower
		}
		if wd.IncludeUpper != nil {
			r.IncludeUpper = *wd.IncludeUpper
		}
		return types.Detail{Caveat: types.CaveatRange, Range: r}, nil
	case "VERSIONING":
		check := types.VersionAbove
		if wd.Check == "BELOW" {
			check = types.VersionBelow
		}
		return types.VersionOf(check, wd.BaseVersion, wd.ExcludeBase), nil
	default:
		return types.Detail{}, fmt.Errorf("%w: unknown caveat %q", types.ErrInvalidDetail, wd.Caveat)
	}
}

// decodeScalar decodes a JSON string, number or bool.
func decodeScalar(raw json.RawMessage) (types.Value, error) {
	var x any
	if err := json.Unmarshal(raw, &x); err != nil {
		return types.Value{}, fmt.Errorf("%w: %v", types.ErrMalformedCriteria, err)
	}
	v, ok := types.FromAny(x)
	if !ok || v.Kind == types.KindOther {
		return types.Value{}, fmt.Errorf("%w: %s is not a scalar", types.ErrInvalidDetail, strings.TrimSpace(string(raw)))
	}
	return v, nil
}

// FromCriteria converts a types.Criteria to its wire form.
// Weight and defaultResult are always written so exports are explicit.
// Criteria that never went through rules.Compile may carry values JSON
// cannot represent; those fail with ErrMalformedCriteria.
func FromCriteria(c types.Criteria) (Criteria, error) {
	out := Criteria{Form: c.Form.String(), ID: c.ID}
	terms := make([]Term, 0, len(c.Terms))
	for i, t := range c.Terms {
		wt := Term{Type: t.Type.String(), Predicates: make([]Predicate, 0, len(t.Predicates))}
		for j, p := range t.Predicates {
			wp, err := fromPredicate(p)
			if err != nil {
				return Criteria{}, fmt.Errorf("%w: criteria %q term %d predicate %d: %v",
					types.ErrMalformedCriteria, c.ID, i, j, err)
			}
			wt.Predicates = append(wt.Predicates, wp)
		}
		terms = append(terms, wt)
	}
	if c.Form == types.FormCNF {
		out.Disjunctions = terms
	} else {
		out.Conjunctions = terms
	}
	return out, nil
}

func fromPredicate(p types.Predicate) (Predicate, error) {
	weight := p.Weight
	if weight == 0 {
		weight = 1
	}
	def := p.DefaultResult
	detail, err := fromDetail(p.Detail)
	if err != nil {
		return Predicate{}, err
	}
	wp := Predicate{
		Type:          p.Kind.String(),
		Weight:        &weight,
		DefaultResult: &def,
		Detail:        detail,
	}
	if p.LHS.IsLiteral {
		wp.LHS, err = marshalRaw(map[string]any{"literal": p.LHS.Literal.Any()})
	} else {
		wp.LHS, err = marshalRaw(p.LHS.Path)
	}
	return wp, err
}

func fromDetail(d types.Detail) (Detail, error) {
	wd := Detail{Caveat: d.Caveat.String()}
	switch d.Caveat {
	case types.CaveatEquality:
		wd.Values = make([]json.RawMessage, 0, len(d.Equality.Values))
		for _, v := range d.Equality.Values {
			raw, err := marshalRaw(v.Any())
			if err != nil {
				return Detail{}, err
			}
			wd.Values = append(wd.Values, raw)
		}
	case types.CaveatRegex:
		wd.Pattern = d.Regex.Pattern
	case types.CaveatRange:
		r := d.Range
		if math.IsNaN(r.Lower) || math.IsInf(r.Lower, 0) || math.IsNaN(r.Upper) || math.IsInf(r.Upper, 0) {
			return Detail{}, fmt.Errorf("non-finite range bound [%g, %g]", r.Lower, r.Upper)
		}
		if r.Lower != -math.MaxFloat64 {
			wd.Lower = &r.Lower
		}
		if r.Upper != math.MaxFloat64 {
			wd.Upper = &r.Upper
		}
		wd.IncludeLower = &r.IncludeLower
		wd.IncludeUpper = &r.IncludeUpper
	case types.CaveatVersioning:
		wd.Check = d.Versioning.Check.String()
		wd.BaseVersion = d.Versioning.BaseVersion
		wd.ExcludeBase = d.Versioning.ExcludeBase
	case types.CaveatUnspecified:
	}
	return wd, nil
}

func marshalRaw(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeCriteria decodes one wire criteria.
func DecodeCriteria(data []byte) (types.Criteria, error) {
	var wc Criteria
	if err := json.Unmarshal(data, &wc); err != nil {
		return types.Criteria{}, fmt.Errorf("%w: %v", types.ErrMalformedCriteria, err)
	}
	return wc.ToCriteria()
}

// DecodeCriteriaList decodes a wire criteria or an array of them.
func DecodeCriteriaList(data []byte) ([]types.Criteria, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", types.ErrMalformedCriteria)
	}
	if trimmed[0] != '[' {
		c, err := DecodeCriteria(trimmed)
		if err != nil {
			return nil, err
		}
		return []types.Criteria{c}, nil
	}

	var wire []Criteria
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedCriteria, err)
	}
	return toCriteriaList(wire)
}

func toCriteriaList(wire []Criteria) ([]types.Criteria, error) {
	out := make([]types.Criteria, 0, len(wire))
	var errs []error
	for i := range wire {
		c, err := wire[i].ToCriteria()
		if err != nil {
			errs = append(errs, fmt.Errorf("criteria %d (%q): %w", i, wire[i].ID, err))
			continue
		}
		out = append(out, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// EncodeCriteria encodes one criteria in wire form.
func EncodeCriteria(c types.Criteria) ([]byte, error) {
	wc, err := FromCriteria(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wc)
}
