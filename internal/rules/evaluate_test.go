// internal/rules/evaluate_test.go
package rules

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/critidx/internal/types"
)

func mustCompile(t *testing.T, c types.Criteria) *Compiled {
	t.Helper()
	compiled, err := Compile(c)
	if err != nil {
		t.Fatalf("Compile(%s) error = %v, want nil", c.ID, err)
	}
	return compiled
}

func evalDoc(t *testing.T, c *Compiled, doc string) bool {
	t.Helper()
	ok, err := EvaluateDocument(c, []byte(doc))
	if err != nil {
		t.Fatalf("EvaluateDocument(%s) error = %v, want nil", doc, err)
	}
	return ok
}

func strs(ss ...string) []types.Value {
	out := make([]types.Value, len(ss))
	for i, s := range ss {
		out[i] = types.String(s)
	}
	return out
}

func nums(fs ...float64) []types.Value {
	out := make([]types.Value, len(fs))
	for i, f := range fs {
		out[i] = types.Number(f)
	}
	return out
}

// C1 = (a in {A1,A2}) and (b not in {B1,B2}) and (n in {0.1,0.2,0.3}) and (p = true)
func criteriaC1() types.Criteria {
	return types.NewDNF("C1", []types.Predicate{
		types.Include("a", types.EqualityOf(strs("A1", "A2")...)),
		types.Exclude("b", types.EqualityOf(strs("B1", "B2")...)),
		types.Include("n", types.EqualityOf(nums(0.1, 0.2, 0.3)...)),
		types.Include("p", types.EqualityOf(types.Bool(true))),
	})
}

func TestEvaluate_DNFConjunction(t *testing.T) {
	c1 := mustCompile(t, criteriaC1())

	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{"all satisfied", `{"a":"A1","b":"B3","n":0.3,"p":true}`, true},
		{"excluded field absent", `{"a":"A2","n":0.1,"p":true}`, true},
		{"excluded value present", `{"a":"A1","b":"B1","n":0.3,"p":true}`, false},
		{"included value missing", `{"b":"B3","n":0.3,"p":true}`, false},
		{"wrong number", `{"a":"A1","n":0.4,"p":true}`, false},
		{"bool mismatch", `{"a":"A1","n":0.3,"p":false}`, false},
		{"string bool not coerced", `{"a":"A1","n":0.3,"p":"true"}`, false},
		{"string number not coerced", `{"a":"A1","n":"0.3","p":true}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalDoc(t, c1, tt.doc); got != tt.want {
				t.Errorf("Evaluate(C1, %s) = %v, want %v", tt.doc, got, tt.want)
			}
		})
	}
}

func TestEvaluate_DNFAnyTerm(t *testing.T) {
	c := mustCompile(t, types.NewDNF("any",
		[]types.Predicate{types.Include("a", types.EqualityOf(strs("x")...))},
		[]types.Predicate{types.Include("b", types.EqualityOf(strs("y")...))},
	))

	if !evalDoc(t, c, `{"b":"y"}`) {
		t.Errorf("second term satisfied: Evaluate = false, want true")
	}
	if evalDoc(t, c, `{"a":"y","b":"x"}`) {
		t.Errorf("no term satisfied: Evaluate = true, want false")
	}
}

func TestEvaluate_CNF(t *testing.T) {
	// C2 = (a in {A1,A2}) or (n in {1,2,3})
	c2 := mustCompile(t, types.NewCNF("C2", []types.Predicate{
		types.Include("a", types.EqualityOf(strs("A1", "A2")...)),
		types.Include("n", types.EqualityOf(nums(1, 2, 3)...)),
	}))

	if !evalDoc(t, c2, `{"n":1}`) {
		t.Errorf("Evaluate(C2, {n:1}) = false, want true")
	}
	if !evalDoc(t, c2, `{"a":"A2","n":9}`) {
		t.Errorf("Evaluate(C2, {a:A2,n:9}) = false, want true")
	}
	if evalDoc(t, c2, `{"a":"A3"}`) {
		t.Errorf("Evaluate(C2, {a:A3}) = true, want false")
	}

	// Every disjunction must hold
	c3 := mustCompile(t, types.NewCNF("C3",
		[]types.Predicate{types.Include("a", types.EqualityOf(strs("A1")...))},
		[]types.Predicate{types.Include("b", types.EqualityOf(strs("B1")...))},
	))
	if evalDoc(t, c3, `{"a":"A1"}`) {
		t.Errorf("Evaluate(C3, {a:A1}) = true, want false")
	}
	if !evalDoc(t, c3, `{"a":"A1","b":"B1"}`) {
		t.Errorf("Evaluate(C3, {a:A1,b:B1}) = false, want true")
	}
}

func TestEvaluate_Tautology(t *testing.T) {
	c := mustCompile(t, types.TautologicalCriteria("always"))
	if !evalDoc(t, c, `{}`) {
		t.Errorf("Evaluate(tautology, {}) = false, want true")
	}

	cnf := mustCompile(t, types.NewCNF("cnf-empty", nil, []types.Predicate{}))
	if !evalDoc(t, cnf, `{"x":1}`) {
		t.Errorf("Evaluate(empty CNF terms) = false, want true")
	}
}

func TestEvaluate_ExclusionAbsence(t *testing.T) {
	c := mustCompile(t, types.NewDNF("excl", []types.Predicate{
		types.Exclude("country", types.EqualityOf(strs("XX")...)),
		types.Exclude("score", types.RangeOf(0, 10, true, true)),
	}))

	if !evalDoc(t, c, `{}`) {
		t.Errorf("Evaluate(excluded-only, {}) = false, want true")
	}
	if evalDoc(t, c, `{"score": 5}`) {
		t.Errorf("Evaluate(excluded-only, {score:5}) = true, want false")
	}
	// Type mismatch: detail not matched, exclusion satisfied
	if !evalDoc(t, c, `{"score": "5"}`) {
		t.Errorf("Evaluate(excluded-only, {score:\"5\"}) = false, want true")
	}
}

func TestEvaluate_RangeBoundaries(t *testing.T) {
	tests := []struct {
		name         string
		includeLower bool
		includeUpper bool
		value        string
		want         bool
	}{
		{"upper inclusive at upper", true, true, "10", true},
		{"upper exclusive at upper", true, false, "10", false},
		{"lower inclusive at lower", true, true, "1", true},
		{"lower exclusive at lower", false, true, "1", false},
		{"inside", false, false, "5", true},
		{"below", true, true, "0.5", false},
		{"above", true, true, "10.5", false},
		{"string value", true, true, `"5"`, false},
		{"bool value", true, true, "true", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCompile(t, types.NewDNF("r", []types.Predicate{
				types.Include("x", types.RangeOf(1, 10, tt.includeLower, tt.includeUpper)),
			}))
			if got := evalDoc(t, c, `{"x":`+tt.value+`}`); got != tt.want {
				t.Errorf("Evaluate(x=%s) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Versioning(t *testing.T) {
	tests := []struct {
		name    string
		check   types.VersionCheck
		base    string
		exclude bool
		value   string
		want    bool
	}{
		{"above higher", types.VersionAbove, "5.7.40", false, `"5.7.41"`, true},
		{"above equal included", types.VersionAbove, "5.7.40", false, `"5.7.40"`, true},
		{"above equal excluded", types.VersionAbove, "5.7.40", true, `"5.7.40"`, false},
		{"above lower", types.VersionAbove, "5.7.40", false, `"5.7.39"`, false},
		{"below lower", types.VersionBelow, "5.7.40", false, `"5.6"`, true},
		{"below equal excluded", types.VersionBelow, "5.7.40", true, `"5.7.40"`, false},
		{"below higher", types.VersionBelow, "5.7.40", false, `"8.0"`, false},
		{"suffix ignored", types.VersionAbove, "5.7", false, `"5.7.40-log"`, true},
		{"numeric value", types.VersionAbove, "5.6", false, `5.7`, true},
		{"unparseable value", types.VersionAbove, "1.0", false, `"latest"`, false},
		{"missing components", types.VersionBelow, "5.7.0", true, `"5.7"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCompile(t, types.NewDNF("v", []types.Predicate{
				types.Include("ver", types.VersionOf(tt.check, tt.base, tt.exclude)),
			}))
			if got := evalDoc(t, c, `{"ver":`+tt.value+`}`); got != tt.want {
				t.Errorf("Evaluate(ver=%s) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Regex(t *testing.T) {
	c := mustCompile(t, types.NewDNF("re", []types.Predicate{
		types.Include("ua", types.RegexOf(`^Mozilla/\d+(?=\.0)`)),
	}))

	if !evalDoc(t, c, `{"ua":"Mozilla/5.0 (X11)"}`) {
		t.Errorf("lookahead pattern should match")
	}
	if evalDoc(t, c, `{"ua":"curl/8.1"}`) {
		t.Errorf("unrelated agent should not match")
	}

	num := mustCompile(t, types.NewDNF("re-num", []types.Predicate{
		types.Include("code", types.RegexOf(`^4\d\d$`)),
	}))
	if !evalDoc(t, num, `{"code":404}`) {
		t.Errorf("regex should match number text rendering")
	}
	if evalDoc(t, num, `{"code":{"x":1}}`) {
		t.Errorf("regex should never match non-scalars")
	}
}

func TestEvaluate_LiteralLHS(t *testing.T) {
	on := mustCompile(t, types.NewDNF("lit", []types.Predicate{
		{Kind: types.Included, LHS: types.LiteralRef(types.String("on")), Detail: types.EqualityOf(strs("on")...), Weight: 1},
	}))
	if !evalDoc(t, on, `{}`) {
		t.Errorf("literal matching its own detail should be satisfied")
	}

	off := mustCompile(t, types.NewDNF("lit-off", []types.Predicate{
		{Kind: types.Included, LHS: types.LiteralRef(types.Number(1)), Detail: types.EqualityOf(nums(2)...), Weight: 1},
	}))
	if evalDoc(t, off, `{}`) {
		t.Errorf("literal not matching its detail should not be satisfied")
	}
}

func TestEvaluate_WildcardPath(t *testing.T) {
	c := mustCompile(t, types.NewDNF("wild", []types.Predicate{
		types.Include("items[?(@.kind == 'book')].price", types.RangeOf(10, 20, true, true)),
	}))

	if !evalDoc(t, c, `{"items":[{"kind":"pen","price":1},{"kind":"book","price":12}]}`) {
		t.Errorf("filtered price 12 should be in range")
	}
	if evalDoc(t, c, `{"items":[{"kind":"pen","price":12}]}`) {
		t.Errorf("no book: field absent, included predicate should fail")
	}
}

func TestDebug_Trace(t *testing.T) {
	c1 := mustCompile(t, criteriaC1())
	doc, err := DecodeDocument([]byte(`{"a":"A1","b":"B1","n":0.3}`))
	if err != nil {
		t.Fatalf("DecodeDocument() error = %v", err)
	}

	tr := Debug(c1, ResolveFields(doc, c1.Paths()))

	if tr.Result {
		t.Errorf("Result = true, want false")
	}
	if len(tr.Terms) != 1 || len(tr.Terms[0].Predicates) != 4 {
		t.Fatalf("trace shape = %+v, want 1 term with 4 predicates", tr.Terms)
	}

	preds := tr.Terms[0].Predicates
	wantResults := []bool{true, false, true, false}
	for i, p := range preds {
		if p.Index != i {
			t.Errorf("Predicates[%d].Index = %d, want source order", i, p.Index)
		}
		if p.Result != wantResults[i] {
			t.Errorf("Predicates[%d].Result = %v, want %v (%s)", i, p.Result, wantResults[i], p.Description)
		}
	}
	if preds[3].Present || preds[3].Input != "<absent>" {
		t.Errorf("p absent: Present = %v, Input = %q", preds[3].Present, preds[3].Input)
	}

	out := tr.String()
	for _, want := range []string{"C1", "FAIL", `a IN {"A1", "A2"}`, "<absent>"} {
		if !strings.Contains(out, want) {
			t.Errorf("Trace.String() missing %q:\n%s", want, out)
		}
	}
}

// Property-based test: Debug agrees with Evaluate
func TestDebug_PropertyAgreesWithEvaluate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	dnf := mustCompile(t, types.NewDNF("d",
		[]types.Predicate{
			types.Include("a", types.EqualityOf(nums(0, 1, 2)...)),
			types.Exclude("b", types.RangeOf(0, 3, true, false)),
		},
		[]types.Predicate{types.Include("c", types.VersionOf(types.VersionAbove, "2.1", true))},
	))
	cnf := mustCompile(t, types.NewCNF("c",
		[]types.Predicate{
			types.Include("a", types.EqualityOf(nums(0, 1, 2)...)),
			types.Include("c", types.VersionOf(types.VersionBelow, "2.1", false)),
		},
		[]types.Predicate{types.Exclude("b", types.RangeOf(0, 3, true, false))},
	))

	properties.Property("trace result equals Evaluate", prop.ForAll(
		func(a, b, major, minor int, hasA, hasB, hasC bool) bool {
			fields := Fields{}
			if hasA {
				fields["a"] = types.Number(float64(a))
			}
			if hasB {
				fields["b"] = types.Number(float64(b))
			}
			if hasC {
				fields["c"] = types.String(Version{uint64(major), uint64(minor)}.String())
			}
			for _, c := range []*Compiled{dnf, cnf} {
				if Debug(c, fields).Result != Evaluate(c, fields) {
					return false
				}
			}
			return true
		},
		gen.IntRange(-1, 4),
		gen.IntRange(-1, 4),
		gen.IntRange(0, 3),
		gen.IntRange(0, 3),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
