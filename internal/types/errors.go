package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for criteria validation and request resolution.
var (
	// ErrPayloadTooLarge indicates the request document exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrTooManyWildcards indicates a field path exceeds MaxNestedWildcards.
	ErrTooManyWildcards = errors.New("field path has too many wildcards")

	// ErrInvalidPath indicates a field path could not be parsed.
	ErrInvalidPath = errors.New("invalid field path")

	// ErrTooManyValues indicates an equality detail exceeds MaxEqualityValues.
	ErrTooManyValues = errors.New("equality detail has too many values")

	// ErrTooManyPredicates indicates a term exceeds MaxPredicatesPerTerm.
	ErrTooManyPredicates = errors.New("term has too many predicates")

	// ErrEmptyExpression indicates a criteria has no terms.
	ErrEmptyExpression = errors.New("criteria expression is empty")

	// ErrMissingID indicates a criteria without an identifier.
	ErrMissingID = errors.New("criteria id is required")

	// ErrIDTooLong indicates a criteria id exceeding MaxCriteriaIDLength.
	ErrIDTooLong = errors.New("criteria id too long")

	// ErrInvalidForm indicates an unknown normal form or a term type that
	// does not belong to the criteria form.
	ErrInvalidForm = errors.New("invalid normal form")

	// ErrInvalidDetail indicates a malformed predicate detail.
	ErrInvalidDetail = errors.New("invalid predicate detail")

	// ErrInvalidVersion indicates a dotted version that cannot be parsed.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrFieldNotFound indicates a field path could not be resolved.
	ErrFieldNotFound = errors.New("field not found")

	// ErrInvalidRequest indicates a request document that is not valid JSON.
	ErrInvalidRequest = errors.New("invalid request document")

	// ErrCriteriaNotFound indicates a criteria id unknown to its group.
	ErrCriteriaNotFound = errors.New("criteria not found")

	// ErrMalformedCriteria indicates a criteria document that does not match
	// the wire shape.
	ErrMalformedCriteria = errors.New("malformed criteria document")
)

// ErrorKind is the caller-facing failure taxonomy of the index service.
type ErrorKind int

const (
	KindInternalError ErrorKind = iota
	KindIndexNotFound
	KindIndexGroupExists
	KindIndexGenerationError
	KindIndexExportError
	KindIndexImportError
)

func (k ErrorKind) String() string {
	switch k {
	case KindIndexNotFound:
		return "INDEX_NOT_FOUND"
	case KindIndexGroupExists:
		return "INDEX_GROUP_EXISTS"
	case KindIndexGenerationError:
		return "INDEX_GENERATION_ERROR"
	case KindIndexExportError:
		return "INDEX_EXPORT_ERROR"
	case KindIndexImportError:
		return "INDEX_IMPORT_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// IndexError is a typed failure carrying its ErrorKind.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type IndexError struct {
	Kind  ErrorKind
	Group string
	Op    string
	Err   error
}

func (e *IndexError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Group != "" {
		msg += fmt.Sprintf(" (group %q)", e.Group)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IndexError) Unwrap() error { return e.Err }

// Is matches any IndexError of the same kind when target is one of the
// kind sentinels below.
func (e *IndexError) Is(target error) bool {
	t, ok := target.(*IndexError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Group == "" && t.Op == "" && t.Err == nil
}

// Kind sentinels for errors.Is.
var (
	ErrIndexNotFound        = &IndexError{Kind: KindIndexNotFound}
	ErrIndexGroupExists     = &IndexError{Kind: KindIndexGroupExists}
	ErrIndexGenerationError = &IndexError{Kind: KindIndexGenerationError}
	ErrIndexExportError     = &IndexError{Kind: KindIndexExportError}
	ErrIndexImportError     = &IndexError{Kind: KindIndexImportError}
	ErrInternalError        = &IndexError{Kind: KindInternalError}
)

// NewIndexError wraps err with kind, operation and group.
func NewIndexError(kind ErrorKind, op, group string, err error) *IndexError {
	return &IndexError{Kind: kind, Op: op, Group: group, Err: err}
}

// KindOf extracts the ErrorKind of err. Errors outside the taxonomy are internal.
func KindOf(err error) ErrorKind {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindInternalError
}
