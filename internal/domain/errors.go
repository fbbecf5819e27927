package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrUnsupportedIndex     = fmt.Errorf("index: %w", ErrUnsupported)
	ErrInvalidYear          = fmt.Errorf("year: %w", ErrInvalidInput)
	ErrLayerNotFound        = fmt.Errorf("layer: %w", ErrNotFound)
	ErrRemoteInitialization = fmt.Errorf("remote initialization: %w", ErrUnavailable)
	ErrStudyAreaUnavailable = fmt.Errorf("study area: %w", ErrUnavailable)
	ErrNotReady             = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrStorageUnavailable   = fmt.Errorf("storage: %w", ErrUnavailable)
	ErrRemote               = fmt.Errorf("remote compute: %w", ErrInternal)
)

// UnsupportedIndexError names an index that is not in the registry.
type UnsupportedIndexError struct {
	Name string
}

// Error implements the error interface.
func (e *UnsupportedIndexError) Error() string {
	return fmt.Sprintf("unsupported index %q", e.Name)
}

// Unwrap returns the underlying error type.
func (e *UnsupportedIndexError) Unwrap() error {
	return ErrUnsupportedIndex
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RemoteError is a failure reported by, or on the way to, the compute service.
type RemoteError struct {
	Operation string // compute, maps, token
	Code      int    // HTTP status, 0 for transport errors
	Status    string // service status string, e.g. RESOURCE_EXHAUSTED
	Message   string
	Err       error // transport error, if any
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s failed: %v", e.Operation, e.Err)
	}
	if e.Status != "" {
		return fmt.Sprintf("remote %s failed (%d %s): %s", e.Operation, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s failed (%d): %s", e.Operation, e.Code, e.Message)
}

// Unwrap returns ErrRemote and the transport error.
func (e *RemoteError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRemote, e.Err}
	}
	return []error{ErrRemote}
}

// StudyAreaError represents a failure to load the study-area geometry.
type StudyAreaError struct {
	Source string // asset, geojson, geopackage
	Ref    string // asset id or object key
	Err    error
}

// Error implements the error interface.
func (e *StudyAreaError) Error() string {
	return fmt.Sprintf("loading study area from %s %s: %v", e.Source, e.Ref, e.Err)
}

// Unwrap returns ErrStudyAreaUnavailable and the cause.
func (e *StudyAreaError) Unwrap() []error {
	return []error{ErrStudyAreaUnavailable, e.Err}
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, read, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
