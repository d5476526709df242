package types

import (
	"encoding/json"
	"time"
)

// AnomalyKind classifies a divergence found by ratification.
type AnomalyKind string

const (
	// AnomalyMissingFromIndex: the evaluator accepts the request but the raw
	// index search does not return the criteria. The index under-matched.
	AnomalyMissingFromIndex AnomalyKind = "MISSING_FROM_INDEX"

	// AnomalyValidationMismatch: validated search membership differs from
	// brute-force evaluation.
	AnomalyValidationMismatch AnomalyKind = "VALIDATION_MISMATCH"

	// AnomalyStaleEntry: a deleted criteria is still returned by the index.
	AnomalyStaleEntry AnomalyKind = "STALE_ENTRY"
)

// PredicateProbe describes one predicate of the diverging term.
type PredicateProbe struct {
	PredicateIndex int    `json:"predicate_index"`
	Description    string `json:"description"`
	Input          string `json:"input"`
	Satisfied      bool   `json:"satisfied"`
	Indexed        bool   `json:"indexed"`
	KeyHit         bool   `json:"key_hit"`
}

// AnomalyDetail records one divergence with enough context to diagnose it.
type AnomalyDetail struct {
	Kind        AnomalyKind      `json:"kind"`
	CriteriaID  CriteriaID       `json:"criteria_id"`
	TermIndex   int              `json:"term_index"`
	Request     json.RawMessage  `json:"request"`
	Evaluated   bool             `json:"evaluated"`
	RawMatch    bool             `json:"raw_match"`
	Validated   bool             `json:"validated"`
	Predicates  []PredicateProbe `json:"predicates,omitempty"`
	Description string           `json:"description"`
}

// RatificationResult is the outcome of one ratification run.
type RatificationResult struct {
	RunID            string          `json:"run_id"`
	Group            string          `json:"group"`
	Status           bool            `json:"status"`
	Anomalies        []AnomalyDetail `json:"anomalies"`
	IsFullFledgedRun bool            `json:"is_full_fledged_run"`
	CheckedCriteria  int             `json:"checked_criteria"`
	CheckedRequests  int             `json:"checked_requests"`
	Generation       uint64          `json:"generation"`
	StartedAt        time.Time       `json:"started_at"`
	Duration         time.Duration   `json:"duration"`
}
