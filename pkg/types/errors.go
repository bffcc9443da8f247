package types

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match these with errors.Is.
var (
	ErrStorage          = errors.New("storage failure")
	ErrNotFound         = errors.New("rule not found")
	ErrValidation       = errors.New("invalid rule")
	ErrCapabilityDenied = errors.New("emission capability denied")
)

// Backend lifecycle errors.
var (
	ErrDetached        = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// StorageError reports an I/O or transaction failure. The operation that
// returned it had no partial effect.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) hold for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NotFoundError reports an explicit rule ID that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports a rule that cannot be persisted, or a persisted
// line that could not be parsed (Line > 0).
type ValidationError struct {
	Field  string
	Line   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid rule at line %d: %s: %s", e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// HeldByChannel reports a replace set carrying an ID that a rule in another
// channel already owns.
func HeldByChannel(id, channelID string) error {
	return &ValidationError{Field: "id", Reason: fmt.Sprintf("%s is held by channel %q", id, channelID)}
}

// WrapStorage wraps err as a StorageError for op unless it already carries
// one of the taxonomy's sentinels. A nil err stays nil.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
