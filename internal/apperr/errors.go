package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Shared error taxonomy.
//
// Packages return these (wrapped with %w where context helps) so the HTTP
// boundary can map them without knowing package internals:
// - ValidationError      -> 400 with field detail
// - ErrNotFound          -> 404
// - ErrConflict          -> 409
// - ErrInsufficientFunds -> 402 (spoken denial on call flows)
// - ProviderError        -> 502 (degraded response on call flows)
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ValidationError carries per-field messages for malformed management input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field problem and returns the receiver for chaining.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
	return e
}

// OrNil returns nil when no field problems were recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid builds a single-field validation error.
func Invalid(field, msg string) error {
	return (&ValidationError{}).Add(field, msg)
}

// ProviderError wraps a failure of an external collaborator
// (carrier API, object storage, transcoding).
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func Provider(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsProvider(err error) bool {
	var p *ProviderError
	return errors.As(err, &p)
}
