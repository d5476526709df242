package types

import (
	"fmt"
	"math"
	"strconv"
)

// ValueKind discriminates the Value tagged union.
type ValueKind uint8

const (
	// KindInvalid is the zero kind; it never appears in resolved fields.
	KindInvalid ValueKind = iota
	KindString
	KindNumber
	KindBool
	// KindOther marks a present but non-scalar request value (object or array).
	KindOther
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindOther:
		return "other"
	default:
		return "invalid"
	}
}

// Value is a scalar criteria or request value.
// Comparable by == and usable as a map key. Equality is kind-aware:
// String("5") and Number(5) are different values.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// String constructs a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number constructs a numeric value. Negative zero is folded to zero so
// map keys and equality agree.
func Number(f float64) Value {
	if f == 0 {
		f = 0
	}
	return Value{Kind: KindNumber, Num: f}
}

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Other marks a present value that is not a scalar.
func Other() Value { return Value{Kind: KindOther} }

// FromAny converts a decoded JSON value to a Value.
// nil reports ok=false (JSON null is treated as absent).
func FromAny(v any) (Value, bool) {
	switch x := v.(type) {
	case nil:
		return Value{}, false
	case string:
		return String(x), true
	case float64:
		return Number(x), true
	case float32:
		return Number(float64(x)), true
	case int:
		return Number(float64(x)), true
	case int64:
		return Number(float64(x)), true
	case int32:
		return Number(float64(x)), true
	case uint32:
		return Number(float64(x)), true
	case uint64:
		return Number(float64(x)), true
	case bool:
		return Bool(x), true
	case Value:
		return x, x.Kind != KindInvalid
	default:
		return Other(), true
	}
}

// Any returns the Go representation used by encoding/json.
func (v Value) Any() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

// Text renders the value as a string. Used by regex and version matching.
// Reports ok=false for non-scalar values.
func (v Value) Text() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.Bool), true
	default:
		return "", false
	}
}

// Score projects the value onto the real line for ordered index lookups.
// Strings and non-scalars project to zero.
func (v Value) Score() float64 {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return strconv.Quote(v.Str)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindOther:
		return "<other>"
	default:
		return "<invalid>"
	}
}

// GoString keeps %#v output readable in test failures.
func (v Value) GoString() string {
	return fmt.Sprintf("types.Value(%s:%s)", v.Kind, v.String())
}

// IsFinite reports whether a numeric value is neither NaN nor infinite.
func (v Value) IsFinite() bool {
	return v.Kind == KindNumber && !math.IsNaN(v.Num) && !math.IsInf(v.Num, 0)
}
