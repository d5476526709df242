// internal/index/index_test.go
package index

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/critidx/internal/rules"
	"github.com/solatis/critidx/internal/types"
)

func build(t *testing.T, form types.Form, cs ...types.Criteria) *Leveled {
	t.Helper()
	txn := New(form, DefaultOptions()).Begin()
	for _, c := range cs {
		txn.Insert(mustCompile(t, c))
	}
	return txn.Commit()
}

func hasCandidate(got map[TermRef]struct{}, id types.CriteriaID, term int) bool {
	_, ok := got[TermRef{CriteriaID: id, Term: term}]
	return ok
}

func TestLeveled_CandidatesDNF(t *testing.T) {
	ix := build(t, types.FormDNF, criteriaC1())

	tests := []struct {
		name   string
		fields rules.Fields
		want   bool
	}{
		{
			name:   "all keys hit",
			fields: rules.Fields{"a": types.String("A1"), "b": types.String("B3"), "n": types.Number(0.3), "p": types.Bool(true)},
			want:   true,
		},
		{
			name:   "excluded value is not narrowed",
			fields: rules.Fields{"a": types.String("A2"), "b": types.String("B1"), "n": types.Number(0.1), "p": types.Bool(true)},
			want:   true,
		},
		{
			name:   "one key missing",
			fields: rules.Fields{"a": types.String("A1"), "n": types.Number(0.3)},
			want:   false,
		},
		{
			name:   "wrong value",
			fields: rules.Fields{"a": types.String("A3"), "n": types.Number(0.3), "p": types.Bool(true)},
			want:   false,
		},
		{
			name:   "no cross-type equality",
			fields: rules.Fields{"a": types.String("A1"), "n": types.String("0.3"), "p": types.Bool(true)},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.Candidates(tt.fields)
			if hasCandidate(got, "C1", 0) != tt.want {
				t.Errorf("Candidates() = %v, want C1 candidate = %v", got, tt.want)
			}
		})
	}
}

func TestLeveled_CandidatesCNF(t *testing.T) {
	ix := build(t, types.FormCNF, types.NewCNF("C2", []types.Predicate{
		types.Include("a", types.EqualityOf(strs("A1", "A2")...)),
		types.Include("n", types.EqualityOf(nums(1, 2, 3)...)),
	}))

	if got := ix.Candidates(rules.Fields{"n": types.Number(1)}); !hasCandidate(got, "C2", 0) {
		t.Errorf("Candidates({n:1}) = %v, want C2 term 0", got)
	}
	if got := ix.Candidates(rules.Fields{"a": types.String("A2"), "n": types.Number(9)}); !hasCandidate(got, "C2", 0) {
		t.Errorf("Candidates({a:A2}) = %v, want C2 term 0", got)
	}
	if got := ix.Candidates(rules.Fields{"a": types.String("A9")}); len(got) != 0 {
		t.Errorf("Candidates({a:A9}) = %v, want none", got)
	}
}

func TestLeveled_SentinelAlwaysCandidate(t *testing.T) {
	ix := build(t, types.FormDNF,
		types.TautologicalCriteria("T"),
		types.NewDNF("X", []types.Predicate{types.Exclude("b", types.EqualityOf(strs("B1")...))}),
	)

	got := ix.Candidates(rules.Fields{})
	if !hasCandidate(got, "T", 0) || !hasCandidate(got, "X", 0) {
		t.Errorf("Candidates({}) = %v, want T and X", got)
	}
	if counts := ix.LevelCounts(); len(counts) != 1 || counts[0] != 2 {
		t.Errorf("LevelCounts() = %v, want [2]", counts)
	}
}

func TestLeveled_OrderedKeys(t *testing.T) {
	ix := build(t, types.FormDNF,
		types.NewDNF("R", []types.Predicate{
			types.Include("country", types.EqualityOf(strs("NL")...)),
			types.Include("age", types.RangeOf(18, 65, true, false)),
		}),
		types.NewDNF("V", []types.Predicate{
			types.Include("version", types.VersionOf(types.VersionAbove, "5.7", true)),
		}),
	)

	tests := []struct {
		name   string
		fields rules.Fields
		id     types.CriteriaID
		want   bool
	}{
		{"range inside", rules.Fields{"country": types.String("NL"), "age": types.Number(30)}, "R", true},
		{"range lower bound", rules.Fields{"country": types.String("NL"), "age": types.Number(18)}, "R", true},
		{"range exclusive upper", rules.Fields{"country": types.String("NL"), "age": types.Number(65)}, "R", false},
		{"range wrong type", rules.Fields{"country": types.String("NL"), "age": types.String("30")}, "R", false},
		{"range key only", rules.Fields{"age": types.Number(30)}, "R", false},
		{"version above", rules.Fields{"version": types.String("5.8.1")}, "V", true},
		{"version base excluded", rules.Fields{"version": types.String("5.7")}, "V", false},
		{"version below", rules.Fields{"version": types.String("5.6.9")}, "V", false},
		{"version number", rules.Fields{"version": types.Number(6)}, "V", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasCandidate(ix.Candidates(tt.fields), tt.id, 0); got != tt.want {
				t.Errorf("candidate %s = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestTxn_CopyOnWrite(t *testing.T) {
	base := build(t, types.FormDNF, criteriaC1())
	fields := rules.Fields{"a": types.String("A1"), "n": types.Number(0.3), "p": types.Bool(true)}

	txn := base.Begin()
	if n := txn.Remove("C1"); n != 6 {
		t.Fatalf("Remove(C1) = %d, want 6", n)
	}
	txn.Insert(mustCompile(t, types.NewDNF("C9", []types.Predicate{
		types.Include("a", types.EqualityOf(strs("A1")...)),
	})))
	next := txn.Commit()

	if !hasCandidate(base.Candidates(fields), "C1", 0) {
		t.Error("base lost C1 after a transaction on top of it")
	}
	if hasCandidate(base.Candidates(fields), "C9", 0) {
		t.Error("base sees C9 inserted by a later transaction")
	}
	if hasCandidate(next.Candidates(fields), "C1", 0) {
		t.Error("next still returns removed C1")
	}
	if !hasCandidate(next.Candidates(fields), "C9", 0) {
		t.Error("next is missing inserted C9")
	}
	if base.Len() != 6 || next.Len() != 1 {
		t.Errorf("Len() = %d / %d, want 6 / 1", base.Len(), next.Len())
	}
	if next.Has("C1") || !next.Has("C9") {
		t.Errorf("Has(C1)=%v Has(C9)=%v, want false true", next.Has("C1"), next.Has("C9"))
	}
}

func TestTxn_IDReuseAfterCommit(t *testing.T) {
	ix := build(t, types.FormDNF, types.NewDNF("A", []types.Predicate{
		types.Include("age", types.RangeOf(0, 10, true, true)),
	}))

	txn := ix.Begin()
	txn.Remove("A")
	txn.Insert(mustCompile(t, types.NewDNF("B", []types.Predicate{
		types.Include("age", types.RangeOf(5, 20, true, true)),
	})))
	ix = txn.Commit()

	// The id released by A is only reusable in a later transaction.
	if got := ix.Entries("B")[0]; got == nil {
		t.Fatal("Entries(B) is empty")
	}
	if got := ix.Candidates(rules.Fields{"age": types.Number(2)}); len(got) != 0 {
		t.Errorf("Candidates(age=2) = %v, want none", got)
	}

	txn = ix.Begin()
	txn.Insert(mustCompile(t, types.NewDNF("C", []types.Predicate{
		types.Include("age", types.RangeOf(0, 3, true, true)),
	})))
	ix = txn.Commit()

	got := ix.Candidates(rules.Fields{"age": types.Number(2)})
	if !hasCandidate(got, "C", 0) || hasCandidate(got, "B", 0) {
		t.Errorf("Candidates(age=2) = %v, want only C", got)
	}
}

func TestTxn_ReinsertReplacesEntries(t *testing.T) {
	ix := build(t, types.FormDNF, types.NewDNF("A", []types.Predicate{
		types.Include("a", types.EqualityOf(strs("x")...)),
	}))

	txn := ix.Begin()
	txn.Insert(mustCompile(t, types.NewDNF("A", []types.Predicate{
		types.Include("a", types.EqualityOf(strs("y")...)),
	})))
	ix = txn.Commit()

	if got := ix.Candidates(rules.Fields{"a": types.String("x")}); len(got) != 0 {
		t.Errorf("Candidates(a=x) = %v, want none", got)
	}
	if got := ix.Candidates(rules.Fields{"a": types.String("y")}); !hasCandidate(got, "A", 0) {
		t.Errorf("Candidates(a=y) = %v, want A", got)
	}
	if ix.Len() != 1 {
		t.Errorf("Len() = %d, want 1", ix.Len())
	}
}

func TestTxn_RemoveAllCleansLevels(t *testing.T) {
	ix := build(t, types.FormDNF, criteriaC1())

	txn := ix.Begin()
	txn.Remove("C1")
	ix = txn.Commit()

	if counts := ix.LevelCounts(); len(counts) != 1 || counts[0] != 0 {
		t.Errorf("LevelCounts() = %v, want [0]", counts)
	}
	if len(ix.levels[0].fields) != 0 {
		t.Errorf("level 0 fields = %v, want empty", ix.levels[0].fields)
	}
}

func TestTxn_CommitTwicePanics(t *testing.T) {
	txn := New(types.FormDNF, DefaultOptions()).Begin()
	txn.Commit()

	defer func() {
		if recover() == nil {
			t.Error("second Commit() did not panic")
		}
	}()
	txn.Commit()
}

func TestLeveled_Explain(t *testing.T) {
	ix := build(t, types.FormDNF, criteriaC1())

	probes := ix.Explain("C1", 0, rules.Fields{"a": types.String("A1"), "n": types.Number(0.5), "p": types.Bool(true)})

	tests := []struct {
		pred    int
		indexed bool
		hit     bool
	}{
		{0, true, true},
		{1, false, false},
		{2, true, false},
		{3, true, true},
	}
	for _, tt := range tests {
		got := probes[tt.pred]
		if got.Indexed != tt.indexed || got.KeyHit != tt.hit {
			t.Errorf("Explain()[%d] = %+v, want Indexed=%v KeyHit=%v", tt.pred, got, tt.indexed, tt.hit)
		}
	}
}

func TestLeveled_Dump(t *testing.T) {
	ix := build(t, types.FormDNF,
		types.TautologicalCriteria("T"),
		types.NewDNF("R", []types.Predicate{types.Include("age", types.RangeOf(1, 2, true, true))}),
	)

	snap := ix.Dump()
	if snap.Form != "DNF" || snap.Entries != 2 {
		t.Errorf("Dump() = %+v, want DNF with 2 entries", snap)
	}
	if len(snap.Levels) != 2 {
		t.Fatalf("len(Levels) = %d, want 2", len(snap.Levels))
	}
	if k := snap.Levels[0].Keys[0]; k.Field != "*" || k.Postings[0].CriteriaID != "T" {
		t.Errorf("level 0 key = %+v, want sentinel posting for T", k)
	}
	if k := snap.Levels[1].Keys[0]; k.Field != "age" || k.Key != "[1, 2]" {
		t.Errorf("level 1 key = %+v, want age [1, 2]", k)
	}
}

// Every request satisfying a criteria makes at least one of its terms a
// candidate; the index may over-match but never drop a true match.
func TestLeveled_NeverUnderMatches(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	values := []types.Value{types.String("x"), types.String("y"), types.Number(1), types.Number(2), types.Bool(true)}

	predicate := func(field, kind, v int, excluded bool) types.Predicate {
		name := fmt.Sprintf("f%d", field)
		var d types.Detail
		switch kind {
		case 0:
			d = types.EqualityOf(values[v%len(values)], values[(v+1)%len(values)])
		case 1:
			d = types.RangeOf(float64(v%3), float64(v%3+1), v%2 == 0, true)
		case 2:
			d = types.VersionOf(types.VersionCheck(v%2), fmt.Sprintf("%d.1", v%3), v%2 == 0)
		default:
			d = types.RegexOf("^x")
		}
		if excluded {
			return types.Exclude(name, d)
		}
		return types.Include(name, d)
	}

	properties.Property("candidates cover evaluation", prop.ForAll(
		func(form bool, shape []int, reqFields []int, reqValues []int) bool {
			var terms [][]types.Predicate
			var preds []types.Predicate
			for i := 0; i+3 < len(shape); i += 4 {
				preds = append(preds, predicate(shape[i]%3, shape[i+1]%4, shape[i+2], shape[i+3]%5 == 0))
				if shape[i+3]%3 == 0 {
					terms = append(terms, preds)
					preds = nil
				}
			}
			terms = append(terms, preds)

			c := types.NewDNF("P", terms...)
			f := types.FormDNF
			if form {
				c = types.NewCNF("P", terms...)
				f = types.FormCNF
			}
			compiled, err := rules.Compile(c)
			if err != nil {
				return true
			}

			txn := New(f, Options{MaxLevel: 2, MaxCombinations: 8}).Begin()
			txn.Insert(compiled)
			ix := txn.Commit()

			fields := rules.Fields{}
			reqs := append([]types.Value{}, values...)
			reqs = append(reqs, types.String("1.5"), types.String("2.0"), types.Number(1.5), types.Number(0.5))
			for i := 0; i < len(reqFields) && i < len(reqValues); i++ {
				fields[fmt.Sprintf("f%d", reqFields[i]%3)] = reqs[reqValues[i]%len(reqs)]
			}

			candidates := ix.Candidates(fields)
			for _, term := range compiled.Terms {
				if term.Satisfied(fields) && !hasCandidate(candidates, "P", term.Index) {
					return false
				}
			}
			return true
		},
		gen.Bool(),
		gen.SliceOfN(16, gen.IntRange(0, 20)),
		gen.SliceOfN(3, gen.IntRange(0, 5)),
		gen.SliceOfN(3, gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
