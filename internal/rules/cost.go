// internal/rules/cost.go
package rules

import "github.com/solatis/critidx/internal/types"

/*
 * Cost model for predicate evaluation.
 *
 * Cost formula: lookup_cost + (caveat_cost * type_multiplier * 8^wildcards)
 *
 * Predicates within a term are evaluated in ascending cost order so cheap
 * equality lookups short-circuit before regex matching runs. Literal
 * left-hand sides have no lookup cost.
 *
 * Wildcard execution multiplier: 8^n reflects worst-case fanout per wildcard
 * or filter segment. With MaxNestedWildcards=2, ceiling is 64x cost.
 */

const (
	// Caveat base costs
	CostEquality   = 5
	CostRange      = 7
	CostVersioning = 9
	CostRegex      = 10

	// Field lookup cost per key segment
	CostLookupPerSegment = 128

	// Value type multipliers
	MultiplierBool   = 1
	MultiplierFloat  = 4
	MultiplierString = 48
	MultiplierAny    = 128
)

// CalculatePredicateCost computes cost for a single predicate.
// cost = lookup_cost + (caveat_cost * type_multiplier * 8^wildcards)
func CalculatePredicateCost(path Path, d types.Detail) int {
	lookupCost := 0
	for _, seg := range path {
		if seg.Key != "" {
			lookupCost += CostLookupPerSegment
		}
	}

	execMult := 1
	for i := 0; i < path.Wildcards(); i++ {
		execMult *= 8
	}

	return lookupCost + caveatCost(d.Caveat)*typeMultiplier(d)*execMult
}

// caveatCost returns base cost for detail execution.
func caveatCost(c types.Caveat) int {
	switch c {
	case types.CaveatEquality:
		return CostEquality
	case types.CaveatRange:
		return CostRange
	case types.CaveatVersioning:
		return CostVersioning
	case types.CaveatRegex:
		return CostRegex
	default:
		return CostRegex
	}
}

// typeMultiplier reflects comparison overhead of the values a detail tests.
// Equality over mixed kinds takes the most expensive kind present.
func typeMultiplier(d types.Detail) int {
	switch d.Caveat {
	case types.CaveatEquality:
		mult := MultiplierBool
		for _, v := range d.Equality.Values {
			switch v.Kind {
			case types.KindNumber:
				mult = max(mult, MultiplierFloat)
			case types.KindString:
				mult = max(mult, MultiplierString)
			}
		}
		return mult
	case types.CaveatRange:
		return MultiplierFloat
	case types.CaveatVersioning:
		return MultiplierString
	case types.CaveatRegex:
		return MultiplierAny
	default:
		return MultiplierAny
	}
}
