// internal/rules/fieldpath.go
package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/solatis/critidx/internal/types"
)

/*
 * Field path parsing and resolution for JSON request documents.
 *
 * Paths use a JSONPath-like syntax:
 *
 *   $.device.os          dotted keys, optional "$" root
 *   user['first name']   quoted keys
 *   items[0].sku         array indices
 *   items[*].sku         wildcards ("items.*.sku" is equivalent)
 *   items[?(@.kind == 'book')].price
 *                        filter: first element whose key equals the literal
 *
 * Every path has a canonical rendering (Path.String) which is the field name
 * used in Fields maps and index keys, so "a.b" and "$['a'].b" share entries.
 *
 * Wildcards and filters implement ANY semantics: the first element (sorted
 * key order for objects) under which the remainder resolves wins. Enforces
 * MaxPathDepth (16) and MaxNestedWildcards (2) at parse time; filters count
 * as wildcards.
 *
 * JSON null is treated as absent so wildcard traversal continues past it.
 */

// Filter selects array elements (or object values) whose Key equals Value.
type Filter struct {
	Key   string
	Value types.Value
}

// PathSegment is one step of a field path.
type PathSegment struct {
	Key      string
	Index    int
	IsIndex  bool
	Wildcard bool
	Filter   *Filter
}

// Path is a parsed field path.
type Path []PathSegment

// ResolveResult contains the resolved value and the actual path taken.
type ResolveResult struct {
	Value        any  // resolved value (nil if not found)
	ResolvedPath Path // path with wildcards and filters replaced by actual indices/keys
	Found        bool // true if path resolved to a non-null value
}

// ParsePath parses a field path expression.
// Returns ErrInvalidPath for syntax errors, ErrPathTooDeep and
// ErrTooManyWildcards for paths exceeding resource limits.
func ParsePath(expr string) (Path, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", types.ErrInvalidPath)
	}

	p := &pathParser{src: s}
	path, err := p.parse()
	if err != nil {
		return nil, err
	}

	if len(path) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	if path.Wildcards() > types.MaxNestedWildcards {
		return nil, types.ErrTooManyWildcards
	}
	return path, nil
}

// MustParsePath is ParsePath for static paths; panics on error.
func MustParsePath(expr string) Path {
	p, err := ParsePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Wildcards counts wildcard and filter segments.
func (p Path) Wildcards() int {
	n := 0
	for _, seg := range p {
		if seg.Wildcard || seg.Filter != nil {
			n++
		}
	}
	return n
}

// String renders the canonical form of the path.
func (p Path) String() string {
	if len(p) == 0 {
		return "$"
	}
	var b strings.Builder
	for i, seg := range p {
		switch {
		case seg.Wildcard:
			b.WriteString("[*]")
		case seg.Filter != nil:
			b.WriteString("[?(@.")
			b.WriteString(seg.Filter.Key)
			b.WriteString(" == ")
			b.WriteString(filterLiteral(seg.Filter.Value))
			b.WriteString(")]")
		case seg.IsIndex:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
		case isPlainKey(seg.Key):
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg.Key)
		default:
			b.WriteByte('[')
			b.WriteString(quote(seg.Key))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func filterLiteral(v types.Value) string {
	if v.Kind == types.KindString {
		return quote(v.Str)
	}
	return v.String()
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quote renders s as a single-quoted path literal readable by readQuoted.
func quote(s string) string {
	return "'" + quoteEscaper.Replace(s) + "'"
}

// isPlainKey reports whether key can be written without brackets.
func isPlainKey(key string) bool {
	if key == "" || key == "*" || key == "$" {
		return false
	}
	if key[0] >= '0' && key[0] <= '9' {
		return false
	}
	return !strings.ContainsAny(key, ".[]'\" ?@()=*$")
}

type pathParser struct {
	src string
	pos int
}

func (p *pathParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d in %q", types.ErrInvalidPath, fmt.Sprintf(format, args...), p.pos, p.src)
}

func (p *pathParser) eof() bool { return p.pos >= len(p.src) }

func (p *pathParser) peek() byte { return p.src[p.pos] }

func (p *pathParser) parse() (Path, error) {
	var path Path

	switch p.peek() {
	case '$':
		p.pos++
	case '[':
		// Canonical form of paths whose first segment needs brackets.
	default:
		// Bare leading key: "a.b" is "$.a.b".
		key := p.readKey()
		if key == "" {
			return nil, p.errorf("expected key")
		}
		path = append(path, keySegment(key))
	}

	for !p.eof() {
		switch p.peek() {
		case '.':
			p.pos++
			if p.eof() {
				return nil, p.errorf("trailing dot")
			}
			if p.peek() == '*' {
				p.pos++
				path = append(path, PathSegment{Wildcard: true})
				continue
			}
			key := p.readKey()
			if key == "" {
				return nil, p.errorf("expected key after dot")
			}
			path = append(path, PathSegment{Key: key})
		case '[':
			p.pos++
			seg, err := p.readBracket()
			if err != nil {
				return nil, err
			}
			path = append(path, seg)
		default:
			return nil, p.errorf("unexpected %q", p.peek())
		}
	}
	return path, nil
}

// keySegment converts a bare leading key; "*" is a wildcard.
func keySegment(key string) PathSegment {
	if key == "*" {
		return PathSegment{Wildcard: true}
	}
	return PathSegment{Key: key}
}

func (p *pathParser) readKey() string {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == '.' || c == '[' {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

func (p *pathParser) readBracket() (PathSegment, error) {
	p.skipSpaces()
	if p.eof() {
		return PathSegment{}, p.errorf("unterminated bracket")
	}

	var seg PathSegment
	switch c := p.peek(); {
	case c == '*':
		p.pos++
		seg = PathSegment{Wildcard: true}
	case c == '\'' || c == '"':
		key, err := p.readQuoted()
		if err != nil {
			return PathSegment{}, err
		}
		seg = PathSegment{Key: key}
	case c == '?':
		f, err := p.readFilter()
		if err != nil {
			return PathSegment{}, err
		}
		seg = PathSegment{Filter: f}
	case c >= '0' && c <= '9':
		start := p.pos
		for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
		}
		n, err := strconv.Atoi(p.src[start:p.pos])
		if err != nil {
			return PathSegment{}, p.errorf("bad index")
		}
		seg = PathSegment{Index: n, IsIndex: true}
	default:
		return PathSegment{}, p.errorf("unexpected %q in brackets", c)
	}

	p.skipSpaces()
	if p.eof() || p.peek() != ']' {
		return PathSegment{}, p.errorf("expected ]")
	}
	p.pos++
	return seg, nil
}

func (p *pathParser) skipSpaces() {
	for !p.eof() && p.peek() == ' ' {
		p.pos++
	}
}

func (p *pathParser) readQuoted() (string, error) {
	q := p.peek()
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		p.pos++
		switch {
		case c == '\\' && !p.eof():
			b.WriteByte(p.peek())
			p.pos++
		case c == q:
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
	return "", p.errorf("unterminated quote")
}

// readFilter parses "?(@.key == literal)".
func (p *pathParser) readFilter() (*Filter, error) {
	if !strings.HasPrefix(p.src[p.pos:], "?(@.") {
		return nil, p.errorf("expected ?(@.")
	}
	p.pos += len("?(@.")

	start := p.pos
	for !p.eof() && p.peek() != '=' && p.peek() != ' ' {
		p.pos++
	}
	key := p.src[start:p.pos]
	if key == "" {
		return nil, p.errorf("empty filter key")
	}

	p.skipSpaces()
	if !strings.HasPrefix(p.src[p.pos:], "==") {
		return nil, p.errorf("expected ==")
	}
	p.pos += 2
	p.skipSpaces()
	if p.eof() {
		return nil, p.errorf("expected filter literal")
	}

	var val types.Value
	if c := p.peek(); c == '\'' || c == '"' {
		s, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		val = types.String(s)
	} else {
		start := p.pos
		for !p.eof() && p.peek() != ')' && p.peek() != ' ' {
			p.pos++
		}
		lit := p.src[start:p.pos]
		switch lit {
		case "true":
			val = types.Bool(true)
		case "false":
			val = types.Bool(false)
		default:
			f, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				return nil, p.errorf("bad filter literal %q", lit)
			}
			val = types.Number(f)
		}
	}

	p.skipSpaces()
	if p.eof() || p.peek() != ')' {
		return nil, p.errorf("expected )")
	}
	p.pos++
	return &Filter{Key: key, Value: val}, nil
}

// DecodeDocument parses a JSON request document for resolution.
// An empty payload is an empty object.
func DecodeDocument(data []byte) (any, error) {
	if len(data) > types.MaxPayloadSize {
		return nil, types.ErrPayloadTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
	}
	return doc, nil
}

// Resolve traverses a decoded document following path segments.
// Returns ErrFieldNotFound if the path does not exist or resolves to null.
func Resolve(path Path, doc any) (ResolveResult, error) {
	return resolveRecursive(path, doc, make(Path, 0, len(path)))
}

// resolveRecursive traverses nested JSON structures following path segments.
// Returns first match for wildcards and filters (ANY semantics). Accumulates
// the resolved path with actual indices/keys for trace diagnostics.
func resolveRecursive(path Path, current any, resolvedSoFar Path) (ResolveResult, error) {
	if len(path) == 0 {
		if current == nil {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return ResolveResult{
			Value:        current,
			ResolvedPath: resolvedSoFar,
			Found:        true,
		}, nil
	}

	seg := path[0]
	remaining := path[1:]

	switch v := current.(type) {
	case map[string]any:
		if seg.Wildcard || seg.Filter != nil {
			// Sort keys for deterministic iteration order
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				val := v[key]
				if seg.Filter != nil && !seg.Filter.accepts(val) {
					continue
				}
				resolved := append(resolvedSoFar[:len(resolvedSoFar):len(resolvedSoFar)], PathSegment{Key: key})
				result, err := resolveRecursive(remaining, val, resolved)
				if err == nil && result.Found {
					return result, nil
				}
			}
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if seg.IsIndex {
			// Cannot index into object with integer
			return ResolveResult{}, types.ErrFieldNotFound
		}
		val, ok := v[seg.Key]
		if !ok {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, val, append(resolvedSoFar, seg))

	case []any:
		if seg.Wildcard || seg.Filter != nil {
			for i, elem := range v {
				if seg.Filter != nil && !seg.Filter.accepts(elem) {
					continue
				}
				resolved := append(resolvedSoFar[:len(resolvedSoFar):len(resolvedSoFar)], PathSegment{Index: i, IsIndex: true})
				result, err := resolveRecursive(remaining, elem, resolved)
				if err == nil && result.Found {
					return result, nil
				}
			}
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if !seg.IsIndex {
			// Cannot use string key on array
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if seg.Index < 0 || seg.Index >= len(v) {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, v[seg.Index], append(resolvedSoFar, seg))

	default:
		// Null or scalar value but path continues
		return ResolveResult{}, types.ErrFieldNotFound
	}
}

func (f *Filter) accepts(elem any) bool {
	obj, ok := elem.(map[string]any)
	if !ok {
		return false
	}
	v, ok := types.FromAny(obj[f.Key])
	return ok && v == f.Value
}

// Fields maps canonical field paths to resolved request values.
// Absent paths are not present in the map.
type Fields map[string]types.Value

// Get returns the value of a field and whether it is present.
func (f Fields) Get(name string) (types.Value, bool) {
	v, ok := f[name]
	return v, ok
}

// ResolveFields resolves every path against doc.
// paths is keyed by canonical field name.
func ResolveFields(doc any, paths map[string]Path) Fields {
	fields := make(Fields, len(paths))
	for name, path := range paths {
		res, err := Resolve(path, doc)
		if err != nil || !res.Found {
			continue
		}
		if v, ok := types.FromAny(res.Value); ok {
			fields[name] = v
		}
	}
	return fields
}
