// Package types provides domain models shared across critidx components.
//
// Zero-dependency design: value, criteria, key and error types use only the
// standard library so the index, rules and engine packages can share them
// without pulling in transport or storage deps. ID utilities in ids.go import
// uuid but are isolated for selective inclusion.
//
// Wire formats (criteria JSON, gRPC messages) are handled by internal/codec
// and internal/core/api. This package holds the in-memory shapes only.
package types

import "encoding/json"

// CriteriaID identifies a criteria inside an index group.
// Free-form string: ids come from the caller, not from this service.
type CriteriaID = string

// Payload represents an arbitrary JSON request document.
// json.RawMessage wrapper preserves original bytes; fields are extracted
// on demand by path resolution in internal/rules.
type Payload json.RawMessage

// MarshalJSON implements json.Marshaler.
// Delegates to json.RawMessage to preserve original payload bytes unchanged.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.RawMessage(p).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
// Delegates to json.RawMessage to capture raw bytes without parsing.
func (p *Payload) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(p).UnmarshalJSON(data)
}

// Resource limits enforced when criteria are compiled and requests resolved.
const (
	// MaxPayloadSize limits request documents to bound decode cost per search.
	MaxPayloadSize = 1024 * 1024

	// MaxPathDepth prevents stack overflow during recursive path resolution.
	MaxPathDepth = 16

	// MaxNestedWildcards limits wildcard expansion to prevent combinatorial explosion.
	MaxNestedWildcards = 2

	// MaxEqualityValues bounds the value set of a single equality predicate.
	MaxEqualityValues = 4096

	// MaxPredicatesPerTerm bounds the width of a single conjunction/disjunction.
	MaxPredicatesPerTerm = 256

	// MaxCriteriaIDLength bounds criteria identifiers.
	MaxCriteriaIDLength = 256
)

// Index defaults. Both are overridable through engine.Options.
const (
	// DefaultMaxLevel is the largest predicate subset indexed per term.
	DefaultMaxLevel = 4

	// DefaultMaxCombinations caps the Key-sets generated for one term.
	DefaultMaxCombinations = 256
)
