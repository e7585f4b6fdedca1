// Package errclass classifies failures so that transports can decide whether a
// message should be redelivered or dropped.
package errclass

import (
	"context"
	"errors"
	"fmt"
)

// Class is the handling class of an error.
type Class int

const (
	// Transient errors are expected to go away on retry (store outages, timeouts, conflicts).
	Transient Class = iota
	// Invalid errors come from malformed or out-of-range input. Retrying cannot help.
	Invalid
	// Integrity errors signal data that contradicts persisted state. Retrying cannot help.
	Integrity
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Integrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its class and the place it happened.
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap decorates err following the "component.op: action failed: %w" pattern.
func Wrap(err error, component, op, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, op, action, err)
}

func wrap(class Class, err error, component, op, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, op, action),
		Component: component,
		Operation: op,
	}
}

// WrapTransient marks err as retryable.
func WrapTransient(err error, component, op, action string) error {
	return wrap(Transient, err, component, op, action)
}

// WrapInvalid marks err as caused by bad input.
func WrapInvalid(err error, component, op, action string) error {
	return wrap(Invalid, err, component, op, action)
}

// WrapIntegrity marks err as a data-integrity violation.
func WrapIntegrity(err error, component, op, action string) error {
	return wrap(Integrity, err, component, op, action)
}

// ClassOf returns the class of err. Unclassified errors are Transient so that
// unknown failures get another chance instead of being dropped.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Transient
}

// IsTransient reports whether err was explicitly or implicitly classified as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ClassOf(err) == Transient
}

// IsInvalid reports whether err was classified as invalid input.
func IsInvalid(err error) bool {
	return err != nil && ClassOf(err) == Invalid
}

// IsIntegrity reports whether err was classified as a data-integrity violation.
func IsIntegrity(err error) bool {
	return err != nil && ClassOf(err) == Integrity
}

// Retryable reports whether the message that produced err should be redelivered.
func Retryable(err error) bool {
	return IsTransient(err)
}
