package engine

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solatis/critidx/internal/index"
	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

/*
 * Ratification: consistency check between indexed search and brute-force
 * evaluation.
 *
 * A run works on one published group version and never takes the group's
 * writer lock. For every checked request it compares:
 *
 *   evaluate(c, r)            brute force
 *   raw search                index candidates, no validation
 *   validated search          index candidates re-checked
 *
 * and records:
 *   MISSING_FROM_INDEX   evaluate true, raw search lacks c
 *   VALIDATION_MISMATCH  validated membership differs from evaluate
 *   STALE_ENTRY          a deleted id is still held or returned by the index
 *
 * Full runs check every criteria plus the recorded search samples, then
 * reset the touched/deleted sets. Incremental runs check only criteria
 * touched since the last full run plus deleted ids.
 *
 * Mutations racing with a run may produce false anomalies for the criteria
 * being mutated; callers re-ratify after a quiescent period.
 */

// ratifyJob is one request to check. When target is nil every criteria of
// the version is compared (sampled requests).
type ratifyJob struct {
	target *rules.Compiled
	term   int
	doc    any
}

// Ratify runs a ratification pass over a group and stores the result.
func (m *Manager) Ratify(group string, full bool) (types.RatificationResult, error) {
	v, h, err := m.current("ratify", group)
	if err != nil {
		return types.RatificationResult{}, err
	}

	start := time.Now()
	res := types.RatificationResult{
		RunID:            types.NewRunID(),
		Group:            group,
		IsFullFledgedRun: full,
		Generation:       v.generation,
		StartedAt:        start.UTC(),
		Anomalies:        []types.AnomalyDetail{},
	}

	touched, deleted := h.pending(full)
	var targets []types.CriteriaID
	if full {
		targets = v.ids()
	} else {
		for _, id := range touched {
			if _, ok := v.criteria[id]; ok {
				targets = append(targets, id)
			}
		}
	}
	res.CheckedCriteria = len(targets)

	var jobs []ratifyJob
	for _, id := range targets {
		c := v.criteria[id]
		for _, req := range requestsFor(c) {
			jobs = append(jobs, ratifyJob{target: c, term: req.term, doc: req.doc})
		}
	}
	if full {
		for _, doc := range h.samples.snapshot() {
			jobs = append(jobs, ratifyJob{doc: doc})
		}
	}
	res.CheckedRequests = len(jobs)

	r := &ratifier{v: v, deleted: make(map[types.CriteriaID]struct{}, len(deleted))}
	for _, id := range deleted {
		r.deleted[id] = struct{}{}
		if v.dnf.Has(id) || v.cnf.Has(id) {
			r.record(types.AnomalyDetail{
				Kind:        types.AnomalyStaleEntry,
				CriteriaID:  id,
				Request:     json.RawMessage("null"),
				Description: "deleted criteria still holds index entries",
			})
		}
	}

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(m.opts.RatifyWorkers)
	for _, job := range jobs {
		g.Go(func() error {
			r.check(job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.RatificationResult{}, types.NewIndexError(types.KindInternalError, "ratify", group, err)
	}

	res.Anomalies = r.sorted()
	res.Status = len(res.Anomalies) == 0
	res.Duration = time.Since(start)
	h.result.Store(&res)

	mode := "incremental"
	if full {
		mode = "full"
	}
	ratifyRuns.WithLabelValues(mode, passFail(res.Status)).Inc()
	ratifyDuration.Observe(res.Duration.Seconds())
	for _, a := range res.Anomalies {
		ratifyAnomalies.WithLabelValues(string(a.Kind)).Inc()
		m.logger.Warn("ratification anomaly",
			"group", group,
			"run_id", res.RunID,
			"kind", a.Kind,
			"criteria_id", a.CriteriaID,
			"term", a.TermIndex,
			"description", a.Description)
	}
	m.logger.Info("ratification finished",
		"group", group,
		"run_id", res.RunID,
		"mode", mode,
		"status", res.Status,
		"anomalies", len(res.Anomalies),
		"criteria", res.CheckedCriteria,
		"requests", res.CheckedRequests,
		"duration", res.Duration)
	return res, nil
}

// RatificationResult returns the latest stored result of a group, or an
// empty passing result when the group was never ratified.
func (m *Manager) RatificationResult(group string) (types.RatificationResult, error) {
	_, h, err := m.current("ratification_result", group)
	if err != nil {
		return types.RatificationResult{}, err
	}
	if res := h.result.Load(); res != nil {
		return *res, nil
	}
	return types.RatificationResult{Group: group, Status: true, Anomalies: []types.AnomalyDetail{}}, nil
}

type ratifier struct {
	v       *groupVersion
	deleted map[types.CriteriaID]struct{}

	mu        sync.Mutex
	anomalies []types.AnomalyDetail
}

func (r *ratifier) record(a types.AnomalyDetail) {
	r.mu.Lock()
	r.anomalies = append(r.anomalies, a)
	r.mu.Unlock()
}

func (r *ratifier) sorted() []types.AnomalyDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.anomalies)
	slices.SortStableFunc(out, func(a, b types.AnomalyDetail) int {
		return cmp.Or(
			cmp.Compare(a.CriteriaID, b.CriteriaID),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.TermIndex, b.TermIndex),
		)
	})
	if out == nil {
		out = []types.AnomalyDetail{}
	}
	return out
}

func (r *ratifier) check(job ratifyJob) {
	fields := r.v.resolve(job.doc)
	raw := r.v.candidates(fields)
	validated := r.v.validate(slices.Clone(raw), fields)

	request, err := json.Marshal(job.doc)
	if err != nil {
		request = json.RawMessage("null")
	}

	for _, id := range raw {
		if _, gone := r.deleted[id]; gone {
			r.record(types.AnomalyDetail{
				Kind:        types.AnomalyStaleEntry,
				CriteriaID:  id,
				Request:     request,
				RawMatch:    true,
				Validated:   slices.Contains(validated, id),
				Description: "deleted criteria returned by the index",
			})
		}
	}

	if job.target != nil {
		r.compare(job.target, job.term, fields, raw, validated, request)
		return
	}
	for _, id := range r.v.ids() {
		r.compare(r.v.criteria[id], -1, fields, raw, validated, request)
	}
}

// compare checks one criteria against the outcome of one request. term is
// the term the request was built for, or -1 to pick the diverging term.
func (r *ratifier) compare(c *rules.Compiled, term int, fields rules.Fields, raw, validated []types.CriteriaID, request json.RawMessage) {
	evaluated := rules.Evaluate(c, fields)
	inRaw := slices.Contains(raw, c.ID)
	inValidated := slices.Contains(validated, c.ID)

	if term < 0 {
		term = r.divergingTerm(c, fields)
	}
	detail := types.AnomalyDetail{
		CriteriaID: c.ID,
		TermIndex:  term,
		Request:    request,
		Evaluated:  evaluated,
		RawMatch:   inRaw,
		Validated:  inValidated,
	}

	if evaluated && !inRaw {
		d := detail
		d.Kind = types.AnomalyMissingFromIndex
		d.Predicates = r.probes(c, term, fields)
		d.Description = fmt.Sprintf("criteria %s evaluates true but the index did not return it", c.ID)
		r.record(d)
	}
	if inValidated != evaluated {
		d := detail
		d.Kind = types.AnomalyValidationMismatch
		d.Predicates = r.probes(c, term, fields)
		d.Description = fmt.Sprintf("validated search returned %v, evaluation returned %v", inValidated, evaluated)
		r.record(d)
	}
}

// divergingTerm returns the first satisfied term the index missed, or the
// first satisfied term, or 0.
func (r *ratifier) divergingTerm(c *rules.Compiled, fields rules.Fields) int {
	ix := r.v.indexFor(c.Form)
	candidates := ix.Candidates(fields)
	first := -1
	for _, t := range c.Terms {
		if !t.Satisfied(fields) {
			continue
		}
		if first < 0 {
			first = t.Index
		}
		if _, ok := candidates[index.TermRef{CriteriaID: c.ID, Term: t.Index}]; !ok {
			return t.Index
		}
	}
	return max(first, 0)
}

// probes reports every predicate of a term with its outcome and index keys.
func (r *ratifier) probes(c *rules.Compiled, term int, fields rules.Fields) []types.PredicateProbe {
	t := c.Term(term)
	if t == nil {
		return nil
	}
	keys := r.v.indexFor(c.Form).Explain(c.ID, term, fields)
	out := make([]types.PredicateProbe, 0, len(t.ByIndex))
	for _, p := range t.ByIndex {
		tr := rules.TracePredicate(p, fields)
		kp := keys[p.Index]
		out = append(out, types.PredicateProbe{
			PredicateIndex: p.Index,
			Description:    tr.Description,
			Input:          tr.Input,
			Satisfied:      tr.Result,
			Indexed:        kp.Indexed,
			KeyHit:         kp.KeyHit,
		})
	}
	return out
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}
