package index

import (
	"math"
	"slices"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

/*
 * Index builder: converts compiled terms into index entries.
 *
 * DNF term (conjunction):
 *   - Indexable predicates (INCLUDED, absence unsatisfied, path LHS,
 *     EQUALITY/RANGE/VERSIONING) are ordered cheapest first: equality before
 *     ordered, fewer values first. At most MaxLevel of them are chosen.
 *   - Each chosen predicate contributes components: one exact Key per
 *     equality value, or one score bound for RANGE/VERSIONING.
 *   - The cartesian product of component choices yields Key-sets; each is one
 *     entry at level k = number of chosen predicates. While the product
 *     exceeds MaxCombinations the widest predicate is dropped.
 *   - No indexable predicate left: one sentinel entry at level 0.
 *
 * CNF term (disjunction):
 *   - Any non-indexable predicate makes the term a level-0 sentinel, since it
 *     alone could satisfy the disjunction without touching the index.
 *   - Otherwise every component of every predicate is a single-key entry at
 *     level 1: one matched predicate satisfies a disjunction.
 *
 * Empty terms (tautologies) are level-0 sentinels in either form.
 *
 * Every entry is a necessary condition of its term: a request satisfying the
 * term hits all keys of at least one of its entries. The index may over-match
 * but never under-match; search validation removes the over-matches.
 */

// Options bound combinatorial generation per term.
type Options struct {
	// MaxLevel is the largest number of predicates combined into one Key-set.
	MaxLevel int
	// MaxCombinations caps the Key-sets generated for one DNF term.
	MaxCombinations int
}

// DefaultOptions returns the package defaults.
func DefaultOptions() Options {
	return Options{
		MaxLevel:        types.DefaultMaxLevel,
		MaxCombinations: types.DefaultMaxCombinations,
	}
}

func (o Options) normalized() Options {
	if o.MaxLevel <= 0 {
		o.MaxLevel = types.DefaultMaxLevel
	}
	if o.MaxCombinations <= 0 {
		o.MaxCombinations = types.DefaultMaxCombinations
	}
	return o
}

// component is one way a predicate can hit the index.
type component struct {
	pred  *rules.CompiledPredicate
	exact bool
	key   types.Key // exact components
	lo    float64   // ordered components
	hi    float64
}

func (c component) field() string { return c.pred.Field }

// componentsOf expands an indexable predicate into its components.
func componentsOf(p *rules.CompiledPredicate) []component {
	switch p.Detail.Caveat {
	case types.CaveatEquality:
		values := p.EqualityValues()
		out := make([]component, len(values))
		for i, v := range values {
			out[i] = component{pred: p, exact: true, key: types.ExactKey(p.Field, v)}
		}
		return out
	case types.CaveatRange, types.CaveatVersioning:
		lo, hi := p.Bounds()
		return []component{{pred: p, lo: lo, hi: hi}}
	case types.CaveatRegex:
		return nil
	default:
		return nil
	}
}

// entryKey is one key of an entry, remembered so the entry can be removed
// and explained later.
type entryKey struct {
	pred   int // source predicate index; -1 for the sentinel
	cp     *rules.CompiledPredicate
	exact  bool
	key    types.Key
	field  string
	caveat types.Caveat
	lo, hi float64
}

// entrySpec is an entry before it is assigned an id.
type entrySpec struct {
	level int
	keys  []entryKey
}

// required returns how many probe hits the entry needs. Exact keys are
// de-duplicated when built; every ordered bound is probed independently.
func (s entrySpec) required() int { return len(s.keys) }

func sentinelSpec() entrySpec {
	return entrySpec{level: 0, keys: []entryKey{{pred: -1, exact: true, key: types.SentinelKey()}}}
}

// planTerm computes the entries of one term.
func planTerm(form types.Form, term *rules.CompiledTerm, opts Options) []entrySpec {
	if term.IsTautology() {
		return []entrySpec{sentinelSpec()}
	}
	if form == types.FormCNF {
		return planDisjunction(term)
	}
	return planConjunction(term, opts)
}

func planDisjunction(term *rules.CompiledTerm) []entrySpec {
	for _, p := range term.ByIndex {
		if !p.Indexable() {
			return []entrySpec{sentinelSpec()}
		}
	}

	var specs []entrySpec
	for _, p := range term.ByIndex {
		for _, c := range componentsOf(p) {
			specs = append(specs, specFromComponents(1, []component{c}))
		}
	}
	return specs
}

func planConjunction(term *rules.CompiledTerm, opts Options) []entrySpec {
	chosen := chooseIndexable(term, opts)
	if len(chosen) == 0 {
		return []entrySpec{sentinelSpec()}
	}

	arena := make([][]component, len(chosen))
	for i, p := range chosen {
		arena[i] = componentsOf(p)
	}

	var specs []entrySpec
	it := newKeySetIter(arena)
	buf := make([]component, len(arena))
	for it.next() {
		for i, ci := range it.idx {
			buf[i] = arena[i][ci]
		}
		specs = append(specs, specFromComponents(len(arena), buf))
	}
	return specs
}

// chooseIndexable picks the predicates a conjunction is indexed on.
func chooseIndexable(term *rules.CompiledTerm, opts Options) []*rules.CompiledPredicate {
	var candidates []*rules.CompiledPredicate
	for _, p := range term.ByIndex {
		if p.Indexable() {
			candidates = append(candidates, p)
		}
	}

	// Equality first (exact lookups), then fewer components, then cost.
	slices.SortStableFunc(candidates, func(a, b *rules.CompiledPredicate) int {
		if ao, bo := a.Ordered(), b.Ordered(); ao != bo {
			if ao {
				return 1
			}
			return -1
		}
		if na, nb := width(a), width(b); na != nb {
			return na - nb
		}
		return a.Cost - b.Cost
	})

	if len(candidates) > opts.MaxLevel {
		candidates = candidates[:opts.MaxLevel]
	}

	for len(candidates) > 0 && productSize(candidates) > opts.MaxCombinations {
		widest := 0
		for i, p := range candidates {
			if width(p) >= width(candidates[widest]) {
				widest = i
			}
		}
		candidates = slices.Delete(candidates, widest, widest+1)
	}
	return candidates
}

// width is the number of components a predicate expands to.
func width(p *rules.CompiledPredicate) int {
	if p.Ordered() {
		return 1
	}
	return len(p.EqualityValues())
}

// productSize multiplies component counts, saturating at MaxInt.
func productSize(preds []*rules.CompiledPredicate) int {
	n := 1
	for _, p := range preds {
		w := width(p)
		if w != 0 && n > math.MaxInt/w {
			return math.MaxInt
		}
		n *= w
	}
	return n
}

// specFromComponents builds an entry spec, de-duplicating exact keys.
func specFromComponents(level int, comps []component) entrySpec {
	spec := entrySpec{level: level, keys: make([]entryKey, 0, len(comps))}
	for _, c := range comps {
		if c.exact {
			dup := false
			for _, k := range spec.keys {
				if k.exact && k.key == c.key {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			spec.keys = append(spec.keys, entryKey{pred: c.pred.Index, cp: c.pred, exact: true, key: c.key})
			continue
		}
		spec.keys = append(spec.keys, entryKey{
			pred:   c.pred.Index,
			cp:     c.pred,
			field:  c.field(),
			caveat: c.pred.Detail.Caveat,
			lo:     c.lo,
			hi:     c.hi,
		})
	}
	return spec
}

// keySetIter enumerates the cartesian product of per-predicate component
// lists as index arrays over the arena, odometer style. idx is reused
// between calls; callers copy what they keep.
type keySetIter struct {
	sizes   []int
	idx     []int
	started bool
	done    bool
}

func newKeySetIter(arena [][]component) *keySetIter {
	it := &keySetIter{sizes: make([]int, len(arena)), idx: make([]int, len(arena))}
	for i, comps := range arena {
		it.sizes[i] = len(comps)
		if len(comps) == 0 {
			it.done = true
		}
	}
	return it
}

func (it *keySetIter) next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		return true
	}
	for i := len(it.idx) - 1; i >= 0; i-- {
		it.idx[i]++
		if it.idx[i] < it.sizes[i] {
			return true
		}
		it.idx[i] = 0
	}
	it.done = true
	return false
}
