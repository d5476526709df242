package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

/*
 * Search: coarse index probe followed by exact validation.
 *
 *   1. Decode the request and resolve the group's paths into Fields.
 *   2. Probe the DNF and CNF indexes. A DNF criteria is a candidate when
 *      any of its terms is; a CNF criteria when all of its terms are.
 *   3. Re-check each candidate with rules.Evaluate, unless validation is
 *      skipped.
 *
 * The index may return false positives but never misses a criteria that
 * evaluates true, so step 3 alone decides the final answer.
 */

type searchConfig struct {
	skipValidation bool
	noSample       bool
}

// SearchOption adjusts a single search.
type SearchOption func(*searchConfig)

// SkipValidation returns raw index candidates without re-evaluating them.
func SkipValidation() SearchOption {
	return func(c *searchConfig) { c.skipValidation = true }
}

// WithoutSampling keeps the request out of the ratification sample set.
func WithoutSampling() SearchOption {
	return func(c *searchConfig) { c.noSample = true }
}

// Search returns the sorted ids of the group's criteria matched by request,
// a JSON document. Absent paths resolve to "absent", not to an error.
func (m *Manager) Search(group string, request []byte, opts ...SearchOption) (ids []string, err error) {
	start := time.Now()
	defer func() {
		searchTotal.WithLabelValues(resultLabel(err)).Inc()
		searchDuration.Observe(time.Since(start).Seconds())
	}()

	var cfg searchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	v, h, err := m.current("search", group)
	if err != nil {
		return nil, err
	}
	doc, err := rules.DecodeDocument(request)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if !cfg.noSample {
		h.samples.add(doc)
	}
	return v.search(doc, !cfg.skipValidation), nil
}

func (v *groupVersion) search(doc any, validate bool) []string {
	fields := v.resolve(doc)
	candidates := v.candidates(fields)
	searchCandidates.Observe(float64(len(candidates)))
	if validate {
		candidates = v.validate(candidates, fields)
	}
	slices.Sort(candidates)
	return candidates
}

// candidates aggregates index hits into criteria ids. Ids whose criteria is
// no longer known are kept so ratification can report them.
func (v *groupVersion) candidates(fields rules.Fields) []types.CriteriaID {
	seen := make(map[types.CriteriaID]struct{})
	var out []types.CriteriaID

	if v.dnf.Len() > 0 {
		for ref := range v.dnf.Candidates(fields) {
			if _, ok := seen[ref.CriteriaID]; !ok {
				seen[ref.CriteriaID] = struct{}{}
				out = append(out, ref.CriteriaID)
			}
		}
	}

	if v.cnf.Len() > 0 {
		terms := make(map[types.CriteriaID]int)
		for ref := range v.cnf.Candidates(fields) {
			terms[ref.CriteriaID]++
		}
		for id, n := range terms {
			c, known := v.criteria[id]
			if known && n < len(c.Terms) {
				continue
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

func (v *groupVersion) validate(ids []types.CriteriaID, fields rules.Fields) []types.CriteriaID {
	return slices.DeleteFunc(ids, func(id types.CriteriaID) bool {
		c, ok := v.criteria[id]
		return !ok || !rules.Evaluate(c, fields)
	})
}

// Evaluate compiles criteria and evaluates it against request without
// touching any index.
func (m *Manager) Evaluate(criteria types.Criteria, request []byte) (bool, error) {
	c, err := rules.Compile(criteria)
	if err != nil {
		return false, types.NewIndexError(types.KindIndexGenerationError, "evaluate", "", err)
	}
	ok, err := rules.EvaluateDocument(c, request)
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	return ok, nil
}

// Debug evaluates criteria against request and returns the full trace.
func (m *Manager) Debug(criteria types.Criteria, request []byte) (rules.Trace, error) {
	c, err := rules.Compile(criteria)
	if err != nil {
		return rules.Trace{}, types.NewIndexError(types.KindIndexGenerationError, "debug", "", err)
	}
	doc, err := rules.DecodeDocument(request)
	if err != nil {
		return rules.Trace{}, fmt.Errorf("debug: %w", err)
	}
	return rules.Debug(c, rules.ResolveFields(doc, c.Paths())), nil
}

// EvaluateByID evaluates one indexed criteria of a group against request.
func (m *Manager) EvaluateByID(group string, id types.CriteriaID, request []byte) (bool, error) {
	v, _, err := m.current("evaluate", group)
	if err != nil {
		return false, err
	}
	c, ok := v.criteria[id]
	if !ok {
		return false, types.NewIndexError(types.KindIndexNotFound, "evaluate", group,
			fmt.Errorf("%w: %q", types.ErrCriteriaNotFound, id))
	}
	ok, err = rules.EvaluateDocument(c, request)
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	return ok, nil
}
