package engine

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

func TestSearch_Examples(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Add("g1", criteriaC1(), criteriaC2()))

	tests := []struct {
		name    string
		request string
		want    []string
	}{
		{"C1 and C2 match", `{"a":"A1","b":"B3","n":0.3,"p":true}`, []string{"C1", "C2"}},
		{"C2 by n alone", `{"n":1}`, []string{"C2"}},
		{"excluded value", `{"a":"A1","b":"B1","n":0.3,"p":true}`, []string{"C2"}},
		{"excluded field absent", `{"a":"A2","n":0.2,"p":true}`, []string{"C1", "C2"}},
		{"p false", `{"a":"A1","n":0.1,"p":false}`, []string{"C2"}},
		{"nothing", `{"a":"A3","n":5}`, nil},
		{"empty request", ``, nil},
		{"string number does not coerce", `{"n":"1"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := search(t, m, "g1", tt.request)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearch_Caveats(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Add("g1",
		types.NewDNF("range", []types.Predicate{
			types.Include("score", types.RangeOf(1, 5, true, false)),
		}),
		types.NewDNF("version", []types.Predicate{
			types.Include("client.version", types.VersionOf(types.VersionAbove, "2.1", true)),
		}),
		types.NewDNF("regex", []types.Predicate{
			types.Include("name", types.RegexOf(`^dev-\d+$`)),
		}),
		types.NewDNF("nested", []types.Predicate{
			types.Include("items[*].sku", types.EqualityOf(strs("X1")...)),
		}),
	))

	tests := []struct {
		name    string
		request string
		want    []string
	}{
		{"range lower included", `{"score":1}`, []string{"range"}},
		{"range upper excluded", `{"score":5}`, nil},
		{"range inside", `{"score":4.99}`, []string{"range"}},
		{"range string ignored", `{"score":"3"}`, nil},
		{"version above", `{"client":{"version":"2.1.1"}}`, []string{"version"}},
		{"version base excluded", `{"client":{"version":"2.1"}}`, nil},
		{"version below", `{"client":{"version":"1.9"}}`, nil},
		{"version numeric", `{"client":{"version":3}}`, []string{"version"}},
		{"regex", `{"name":"dev-42"}`, []string{"regex"}},
		{"regex number text", `{"name":42}`, nil},
		{"wildcard any element", `{"items":[{"sku":"A"},{"sku":"X1"}]}`, []string{"nested"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := search(t, m, "g1", tt.request)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearch_Errors(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Add("g1", criteriaC2()))

	_, err := m.Search("missing", []byte(`{}`))
	assert.True(t, IsNotFound(err))

	_, err = m.Search("g1", []byte(`{"n":`))
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
	assert.Equal(t, types.KindInternalError, types.KindOf(err))
}

func TestSearch_SkipValidation(t *testing.T) {
	m := newManager(t)
	// Regex predicates are not indexed, so the term is a sentinel entry
	// returned for every request.
	require.NoError(t, m.Add("g1", types.NewDNF("re", []types.Predicate{
		types.Include("name", types.RegexOf(`^x`)),
	})))

	raw, err := m.Search("g1", []byte(`{"name":"y"}`), SkipValidation())
	require.NoError(t, err)
	assert.Equal(t, []string{"re"}, raw)
	assert.Empty(t, search(t, m, "g1", `{"name":"y"}`))
}

func TestSearch_Sampling(t *testing.T) {
	m := newManager(t, WithSampleCapacity(2))
	require.NoError(t, m.Add("g1", criteriaC2()))

	for _, req := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		search(t, m, "g1", req)
	}
	_, err := m.Search("g1", []byte(`{"n":4}`), WithoutSampling())
	require.NoError(t, err)

	stats, err := m.Stats("g1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Samples)

	_, h, err := m.current("test", "g1")
	require.NoError(t, err)
	samples := h.samples.snapshot()
	require.Len(t, samples, 2)
	assert.Equal(t, map[string]any{"n": 2.0}, samples[0])
	assert.Equal(t, map[string]any{"n": 3.0}, samples[1])
}

func TestManager_Evaluate(t *testing.T) {
	m := newManager(t)

	ok, err := m.Evaluate(criteriaC1(), []byte(`{"a":"A1","b":"B3","n":0.3,"p":true}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Evaluate(criteriaC2(), []byte(`{"a":"A3"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Evaluate(types.Criteria{ID: "x"}, []byte(`{}`))
	assert.ErrorIs(t, err, types.ErrIndexGenerationError)

	tr, err := m.Debug(criteriaC1(), []byte(`{"a":"A1"}`))
	require.NoError(t, err)
	assert.False(t, tr.Result)
	require.Len(t, tr.Terms, 1)
	assert.Len(t, tr.Terms[0].Predicates, 4)

	require.NoError(t, m.Add("g1", criteriaC2()))
	ok, err = m.EvaluateByID("g1", "C2", []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = m.EvaluateByID("g1", "C1", []byte(`{}`))
	assert.ErrorIs(t, err, types.ErrCriteriaNotFound)
}

// Property-based test: validated search returns exactly the criteria that
// evaluate true.
func TestSearch_PropertyEqualsEvaluate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	criteria := []types.Criteria{
		criteriaC1(),
		criteriaC2(),
		types.NewDNF("d1",
			[]types.Predicate{
				types.Include("n", types.RangeOf(0, 2, true, false)),
				types.Exclude("a", types.EqualityOf(strs("A2")...)),
			},
			[]types.Predicate{types.Include("v", types.VersionOf(types.VersionBelow, "1.2", false))},
		),
		types.NewCNF("c1",
			[]types.Predicate{
				types.Include("n", types.EqualityOf(nums(0, 1)...)),
				types.Include("v", types.VersionOf(types.VersionAbove, "1.1", true)),
			},
			[]types.Predicate{
				types.Exclude("b", types.EqualityOf(strs("B1")...)),
				types.Include("p", types.EqualityOf(types.Bool(true))),
			},
		),
		types.NewDNF("d2", []types.Predicate{
			types.Include("a", types.EqualityOf(strs("A1", "A3")...)),
			types.Include("b", types.EqualityOf(strs("B2")...)),
			types.Include("n", types.RangeOf(1, 3, false, true)),
		}),
	}

	m := newManager(t, WithMaxLevel(2), WithSampleCapacity(0))
	require.NoError(t, m.Add("g", criteria...))
	compiled := make([]*rules.Compiled, len(criteria))
	for i, c := range criteria {
		var err error
		compiled[i], err = rules.Compile(c)
		require.NoError(t, err)
	}

	letters := []string{"A1", "A2", "A3", "B1", "B2", "B3"}
	versions := []string{"1.0", "1.1", "1.1.5", "1.2", "2"}

	properties.Property("search equals brute-force evaluation", prop.ForAll(
		func(a, b, n, v int, p, hasN, hasP bool) bool {
			doc := map[string]any{}
			if a >= 0 {
				doc["a"] = letters[a]
			}
			if b >= 0 {
				doc["b"] = letters[b]
			}
			if hasN {
				doc["n"] = float64(n) / 2
			}
			if v >= 0 {
				doc["v"] = versions[v]
			}
			if hasP {
				doc["p"] = p
			}
			data, err := json.Marshal(doc)
			if err != nil {
				return false
			}

			got, err := m.Search("g", data)
			if err != nil {
				return false
			}
			var want []string
			for _, c := range compiled {
				ok, err := rules.EvaluateDocument(c, data)
				if err != nil {
					return false
				}
				if ok {
					want = append(want, c.ID)
				}
			}
			slices.Sort(want)
			return slices.Equal(got, want)
		},
		gen.IntRange(-1, 5),
		gen.IntRange(-1, 5),
		gen.IntRange(-1, 7),
		gen.IntRange(-1, 4),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
