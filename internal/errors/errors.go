// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidFill        = errors.New("invalid fill")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointCorrupt  = errors.New("checkpoint corrupt")
	ErrPersistence        = errors.New("persistence failed")
	ErrTimeout            = errors.New("operation timed out")
	ErrSubscriptionLost   = errors.New("subscription lost")
	ErrServiceNotRunning  = errors.New("service not running")
	ErrServiceStarted     = errors.New("service already started")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDatabaseError      = errors.New("database error")
	ErrQueueClosed        = errors.New("fill intake closed")
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
	ErrMalformedFrame     = errors.New("malformed feed frame")
)

// ValidationError represents a validation error on an incoming fill.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match any validation failure with ErrInvalidFill.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidFill
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// PersistenceError represents a failure to write or read durable state.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("persistence error [%s] %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("persistence error [%s]: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports ErrPersistence for every PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op, path string, err error) *PersistenceError {
	return &PersistenceError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// TransportError represents a fill feed that could not be (re)established.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error [%s] after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrSubscriptionLost for every TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrSubscriptionLost
}

// NewTransportError creates a new TransportError.
func NewTransportError(url string, attempts int, err error) *TransportError {
	return &TransportError{
		URL:      url,
		Attempts: attempts,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
