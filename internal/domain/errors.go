package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Every error leaving the core matches exactly one of these with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrStockExceeded = errors.New("requested quantity exceeds available stock")
	ErrNotFound      = errors.New("not found")
	ErrPersistence   = errors.New("persistence failure")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError collects field violations; it unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Add records a violation.
func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// Err returns nil when no violation was recorded.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid builds a single-field validation error.
func Invalid(field, reason string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Reason: reason}}}
}

// StockError reports the quantity that was asked for against what the catalog has.
type StockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("product %d: requested %d, available %d: %v", e.ProductID, e.Requested, e.Available, ErrStockExceeded)
}

func (e *StockError) Unwrap() error {
	return ErrStockExceeded
}

// Persistence marks err as a transient storage failure.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// Kind returns the sentinel err belongs to, or nil if it belongs to none.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrStockExceeded, ErrNotFound, ErrPersistence} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
