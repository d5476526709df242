// internal/rules/evaluate.go
package rules

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/solatis/critidx/internal/types"
)

/*
 * Criteria evaluation.
 *
 * Brute-force evaluation of a Compiled criteria against resolved Fields.
 * This is the ground truth used by search validation, evaluate/debug and
 * ratification.
 *
 * Semantics:
 *   - Conjunction: every predicate satisfied (short-circuit on first miss)
 *   - Disjunction: any predicate satisfied (short-circuit on first hit)
 *   - Empty term: always satisfied, in either form
 *   - DNF: any term satisfied; CNF: every term satisfied
 *
 * Short-circuiting follows the cost order from compilation. Debug walks every
 * predicate in source order without short-circuiting so the trace is complete.
 */

// Evaluate reports whether the criteria is satisfied by fields.
func Evaluate(c *Compiled, fields Fields) bool {
	if c.Form == types.FormCNF {
		for _, term := range c.Terms {
			if !term.Satisfied(fields) {
				return false
			}
		}
		return true
	}
	for _, term := range c.Terms {
		if term.Satisfied(fields) {
			return true
		}
	}
	return false
}

// Satisfied evaluates one term.
func (t *CompiledTerm) Satisfied(fields Fields) bool {
	if len(t.Predicates) == 0 {
		return true
	}
	if t.Type == types.Disjunction {
		for _, p := range t.Predicates {
			if p.Satisfied(fields) {
				return true
			}
		}
		return false
	}
	for _, p := range t.Predicates {
		if !p.Satisfied(fields) {
			return false
		}
	}
	return true
}

// EvaluateDocument decodes a request document and evaluates the criteria
// against the paths it references.
func EvaluateDocument(c *Compiled, payload []byte) (bool, error) {
	doc, err := DecodeDocument(payload)
	if err != nil {
		return false, err
	}
	return Evaluate(c, ResolveFields(doc, c.Paths())), nil
}

// PredicateTrace records one predicate outcome.
type PredicateTrace struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Field       string `json:"field,omitempty"`
	Input       string `json:"input"`
	Present     bool   `json:"present"`
	Result      bool   `json:"result"`
}

// TermTrace records one term outcome.
type TermTrace struct {
	Index      int              `json:"index"`
	Type       string           `json:"type"`
	Result     bool             `json:"result"`
	Predicates []PredicateTrace `json:"predicates"`
}

// Trace is the full evaluation record returned by Debug.
type Trace struct {
	CriteriaID types.CriteriaID `json:"criteria_id"`
	Form       string           `json:"form"`
	Result     bool             `json:"result"`
	Terms      []TermTrace      `json:"terms"`
}

// Debug evaluates like Evaluate but records every predicate input and outcome.
func Debug(c *Compiled, fields Fields) Trace {
	tr := Trace{
		CriteriaID: c.ID,
		Form:       c.Form.String(),
		Terms:      make([]TermTrace, 0, len(c.Terms)),
	}

	for _, term := range c.Terms {
		tt := TermTrace{
			Index:      term.Index,
			Type:       term.Type.String(),
			Result:     term.Satisfied(fields),
			Predicates: make([]PredicateTrace, 0, len(term.ByIndex)),
		}
		for _, p := range term.ByIndex {
			tt.Predicates = append(tt.Predicates, TracePredicate(p, fields))
		}
		tr.Terms = append(tr.Terms, tt)
	}

	tr.Result = Evaluate(c, fields)
	return tr
}

// TracePredicate records the input and outcome of a single predicate.
func TracePredicate(p *CompiledPredicate, fields Fields) PredicateTrace {
	pt := PredicateTrace{
		Index:       p.Index,
		Description: p.String(),
		Field:       p.Field,
		Input:       "<absent>",
		Result:      p.Satisfied(fields),
	}
	if v, ok := p.Input(fields); ok {
		pt.Present = true
		pt.Input = v.String()
	}
	return pt
}

// String renders the trace as a table, one row per predicate.
func (t Trace) String() string {
	tw := table.NewWriter()
	tw.SetTitle(fmt.Sprintf("\nCRITERIA %s (%s): %s\n", t.CriteriaID, t.Form, passFail(t.Result)))
	tw.AppendHeader(table.Row{"Term", "Term\nResult", "Pred.", "Predicate", "Input", "Result"})

	for _, term := range t.Terms {
		if len(term.Predicates) == 0 {
			tw.AppendRow(table.Row{term.Index, passFail(term.Result), "-", "(tautology)", "-", passFail(true)})
			continue
		}
		for _, p := range term.Predicates {
			tw.AppendRow(table.Row{
				term.Index,
				passFail(term.Result),
				p.Index,
				p.Description,
				p.Input,
				passFail(p.Result),
			})
		}
		tw.AppendSeparator()
	}

	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	tw.SetStyle(style)
	return tw.Render()
}

func passFail(b bool) string {
	if b {
		return "PASS"
	}
	return "FAIL"
}
