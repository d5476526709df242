package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/critidx/internal/types"
)

func mustDecode(t *testing.T, data string) any {
	t.Helper()
	doc, err := DecodeDocument([]byte(data))
	if err != nil {
		t.Fatalf("DecodeDocument(%s) error = %v, want nil", data, err)
	}
	return doc
}

func TestParsePath_Canonical(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want string
	}{
		{"bare key", "a", "a"},
		{"root dotted", "$.a.b", "a.b"},
		{"bare dotted", "device.os", "device.os"},
		{"quoted key", "$['first name'].x", "['first name'].x"},
		{"quoted plain key", "$['a'].b", "a.b"},
		{"index", "items[0].sku", "items[0].sku"},
		{"dot wildcard", "items.*.sku", "items[*].sku"},
		{"bracket wildcard", "items[*].sku", "items[*].sku"},
		{"string filter", "items[?(@.kind == 'book')].price", "items[?(@.kind == 'book')].price"},
		{"number filter", "items[?(@.n==5)].x", "items[?(@.n == 5)].x"},
		{"bool filter", "items[?(@.on == true)].x", "items[?(@.on == true)].x"},
		{"root only", "$", "$"},
		{"spaces trimmed", "  a.b  ", "a.b"},
		{"quote escaped", `$['it\'s']`, `['it\'s']`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePath(tt.expr)
			if err != nil {
				t.Fatalf("ParsePath(%q) error = %v, want nil", tt.expr, err)
			}
			if got := p.String(); got != tt.want {
				t.Errorf("ParsePath(%q).String() = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParsePath_Errors(t *testing.T) {
	deep := strings.TrimSuffix(strings.Repeat("a.", types.MaxPathDepth+1), ".")

	tests := []struct {
		name    string
		expr    string
		wantErr error
	}{
		{"empty", "", types.ErrInvalidPath},
		{"double dot", "a..b", types.ErrInvalidPath},
		{"trailing dot", "a.", types.ErrInvalidPath},
		{"unterminated bracket", "a[", types.ErrInvalidPath},
		{"bad bracket", "a[x]", types.ErrInvalidPath},
		{"unterminated quote", "a['x", types.ErrInvalidPath},
		{"bad filter", "a[?(@.k != 1)]", types.ErrInvalidPath},
		{"root junk", "$a", types.ErrInvalidPath},
		{"too deep", deep, types.ErrPathTooDeep},
		{"too many wildcards", "a[*].b[*].c[*]", types.ErrTooManyWildcards},
		{"filters count as wildcards", "a[*].b[?(@.k == 1)].c.*", types.ErrTooManyWildcards},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePath(tt.expr)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParsePath(%q) error = %v, want %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	data := `{
		"user": {"name": "ada", "tags": ["x", "y"]},
		"items": [
			{"kind": "pen", "price": 2},
			{"kind": "book", "price": 12},
			{"kind": "book", "price": 30}
		],
		"nested": {"b": {"v": 2}, "a": {"v": 1}},
		"sparse": [{"v": null}, {"v": 7}],
		"nothing": null
	}`
	doc := mustDecode(t, data)

	tests := []struct {
		name      string
		path      string
		wantValue any
		wantFound bool
	}{
		{"simple key", "user.name", "ada", true},
		{"array index", "user.tags[1]", "y", true},
		{"index out of range", "user.tags[5]", nil, false},
		{"missing key", "user.email", nil, false},
		{"wildcard first element", "items[*].price", float64(2), true},
		{"wildcard object sorted keys", "nested.*.v", float64(1), true},
		{"filter first match", "items[?(@.kind == 'book')].price", float64(12), true},
		{"filter no match", "items[?(@.kind == 'cup')].price", nil, false},
		{"wildcard skips null", "sparse[*].v", float64(7), true},
		{"null is absent", "nothing", nil, false},
		{"key on array", "items.kind", nil, false},
		{"index on object", "user[0]", nil, false},
		{"path through scalar", "user.name.first", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(MustParsePath(tt.path), doc)
			if tt.wantFound {
				if err != nil {
					t.Fatalf("Resolve(%q) error = %v, want nil", tt.path, err)
				}
				if res.Value != tt.wantValue {
					t.Errorf("Resolve(%q).Value = %v, want %v", tt.path, res.Value, tt.wantValue)
				}
				return
			}
			if !errors.Is(err, types.ErrFieldNotFound) {
				t.Errorf("Resolve(%q) error = %v, want ErrFieldNotFound", tt.path, err)
			}
		})
	}
}

func TestResolve_ResolvedPath(t *testing.T) {
	doc := mustDecode(t, `{"items": [{"kind": "pen"}, {"kind": "book", "price": 12}]}`)

	res, err := Resolve(MustParsePath("items[?(@.kind == 'book')].price"), doc)
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if got := res.ResolvedPath.String(); got != "items[1].price" {
		t.Errorf("ResolvedPath = %q, want %q", got, "items[1].price")
	}
}

func TestResolveFields(t *testing.T) {
	doc := mustDecode(t, `{"a": "A1", "n": 0.3, "p": true, "obj": {"x": 1}, "z": null}`)
	paths := map[string]Path{}
	for _, expr := range []string{"a", "n", "p", "obj", "z", "missing"} {
		p := MustParsePath(expr)
		paths[p.String()] = p
	}

	fields := ResolveFields(doc, paths)

	want := Fields{
		"a":   types.String("A1"),
		"n":   types.Number(0.3),
		"p":   types.Bool(true),
		"obj": types.Other(),
	}
	if len(fields) != len(want) {
		t.Fatalf("len(fields) = %d, want %d (%v)", len(fields), len(want), fields)
	}
	for k, v := range want {
		if got, ok := fields[k]; !ok || got != v {
			t.Errorf("fields[%q] = %#v, %v; want %#v", k, got, ok, v)
		}
	}
}

func TestDecodeDocument(t *testing.T) {
	if _, err := DecodeDocument([]byte(`{"a":`)); !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("DecodeDocument(truncated) error = %v, want ErrInvalidRequest", err)
	}

	doc, err := DecodeDocument(nil)
	if err != nil {
		t.Fatalf("DecodeDocument(nil) error = %v, want nil", err)
	}
	if m, ok := doc.(map[string]any); !ok || len(m) != 0 {
		t.Errorf("DecodeDocument(nil) = %v, want empty object", doc)
	}

	big := make([]byte, types.MaxPayloadSize+1)
	if _, err := DecodeDocument(big); !errors.Is(err, types.ErrPayloadTooLarge) {
		t.Errorf("DecodeDocument(oversized) error = %v, want ErrPayloadTooLarge", err)
	}
}

// Property-based test: arbitrary expressions never panic the parser
func TestParsePath_PropertyNeverPanics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parsing never crashes regardless of input", prop.ForAll(
		func(expr string) bool {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("ParsePath(%q) panicked: %v", expr, r)
				}
			}()
			_, _ = ParsePath(expr)
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// Property-based test: canonical rendering is a fixed point
func TestParsePath_PropertyCanonicalFixedPoint(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	pieces := []string{"a", ".b", "[0]", "[*]", ".*", "['x y']", "[?(@.k == 'v')]", "[3]", ".c_d"}

	properties.Property("String() reparses to itself", prop.ForAll(
		func(choices []int) bool {
			expr := "$"
			for _, c := range choices {
				piece := pieces[c]
				if piece == "a" {
					piece = ".a"
				}
				expr += piece
			}
			p, err := ParsePath(expr)
			if err != nil {
				// Limits exceeded; not a canonicalization concern
				return errors.Is(err, types.ErrTooManyWildcards) || errors.Is(err, types.ErrPathTooDeep)
			}
			again, err := ParsePath(p.String())
			if err != nil {
				return false
			}
			return again.String() == p.String()
		},
		gen.SliceOfN(6, gen.IntRange(0, len(pieces)-1)),
	))

	properties.TestingRun(t)
}

// Property-based test: resolution of arbitrary documents never panics
func TestResolve_PropertyNeverPanics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	docs := []string{`{}`, `[]`, `null`, `1`, `{"a": null}`, `{"a": [1, {"b": 2}]}`, `{"a": {"b": [null, {"c": "x"}]}}`}
	paths := []Path{
		MustParsePath("a"),
		MustParsePath("a[*].b"),
		MustParsePath("a.b[*].c"),
		MustParsePath("a[?(@.b == 2)].b"),
		MustParsePath("$"),
	}

	properties.Property("resolution never crashes", prop.ForAll(
		func(di, pi int) bool {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Resolve() panicked: %v", r)
				}
			}()
			doc := mustDecode(t, docs[di])
			_, _ = Resolve(paths[pi], doc)
			return true
		},
		gen.IntRange(0, len(docs)-1),
		gen.IntRange(0, len(paths)-1),
	))

	properties.TestingRun(t)
}
