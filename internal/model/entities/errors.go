package entities

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrFieldMismatch = errors.New("reading belongs to a different field")
	ErrFarmMismatch  = errors.New("reading belongs to a different farm")
)

// ValidationError reports a malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvariantViolation is returned when a reading contradicts the identity of the
// aggregate it is applied to.
type InvariantViolation struct {
	FieldID string
	Got     string
	Err     error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("field %s: %v (got %q)", e.FieldID, e.Err, e.Got)
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvariantViolation reports whether err is or wraps an *InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

func rangeReason(lo, hi, got float64) string {
	g := strconv.FormatFloat(got, 'g', -1, 64)
	if hi == math.MaxFloat64 {
		return fmt.Sprintf("must be >= %s, got %s", formatNumber(lo), g)
	}
	return fmt.Sprintf("must be between %s and %s, got %s", formatNumber(lo), formatNumber(hi), g)
}

// formatNumber prints whole numbers without decimals and everything else with one.
func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
