package mangashelf

import (
	"errors"
	"fmt"

	"github.com/tendant/mangashelf/pkg/mangashelf/acl"
)

// Error types
var (
	// ErrNotFound indicates a referenced record or blob does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates the request was rejected because of its input
	ErrValidation = errors.New("validation failed")

	// ErrVersionConflict indicates an update was based on a stale version
	ErrVersionConflict = errors.New("version conflict")

	// ErrPermissionDenied indicates an identified caller lacks the permission
	ErrPermissionDenied = acl.ErrPermissionDenied

	// ErrUnauthenticated indicates no caller identity was resolved
	ErrUnauthenticated = acl.ErrUnauthenticated
)

// NotFoundError names the kind and id of the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError carries a human-readable reason for a rejected request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError from a format string.
func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StorageError represents a failure reported by an object or blob store
type StorageError struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrapStoreError keeps not-found and version conflicts recognizable and wraps
// everything else as a StorageError.
func wrapStoreError(collection, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{Kind: collection, ID: key}
	}
	if errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("%s %s: %w", collection, key, err)
	}
	return &StorageError{Backend: "object", Op: op, Key: collection + "/" + key, Err: err}
}
