package store

import (
	"errors"
	"fmt"

	"github.com/alimasry/go-notepad/diff"
)

// Sentinel errors returned by documents, the registry and backends.
var (
	// ErrVersionConflict is wrapped by *ConflictError.
	ErrVersionConflict = errors.New("version conflict")

	// ErrMalformedOperation is returned when a diff cannot be applied to the
	// current content. It is the same value as diff.ErrMalformedOperation.
	ErrMalformedOperation = diff.ErrMalformedOperation

	// ErrStorageFailure is wrapped by *StorageError.
	ErrStorageFailure = errors.New("storage failure")

	// ErrNotFound is returned by a Backend when nothing is stored for a key.
	ErrNotFound = errors.New("document not found")

	ErrInvalidKey     = errors.New("invalid document key")
	ErrInvalidContent = errors.New("content is not valid UTF-8")
)

// ConflictError reports a stale expected version. It carries the
// authoritative state so the caller can reconcile without another read.
type ConflictError struct {
	Key      string
	Expected int64
	Version  int64
	Content  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %q: expected version %d, current version %d", e.Key, e.Expected, e.Version)
}

func (e *ConflictError) Is(target error) bool { return target == ErrVersionConflict }

// StorageError reports a failed load or save. The in-memory document is
// never advanced when a save fails, so the write may be retried as is.
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("document %q: %s: %v", e.Key, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error        { return e.Err }
func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }

// Retryable is always true: nothing was committed.
func (e *StorageError) Retryable() bool { return true }

// Outcome classifies the result of a document operation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeConflict
	OutcomeMalformed
	OutcomeInvalid
	OutcomeStorage
	OutcomeUnknown
)

var outcomeNames = [...]string{
	OutcomeOK:        "ok",
	OutcomeConflict:  "version_mismatch",
	OutcomeMalformed: "malformed_operation",
	OutcomeInvalid:   "invalid_request",
	OutcomeStorage:   "storage_failure",
	OutcomeUnknown:   "internal_error",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// Classify maps an error returned by this package to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrVersionConflict):
		return OutcomeConflict
	case errors.Is(err, ErrMalformedOperation):
		return OutcomeMalformed
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidContent):
		return OutcomeInvalid
	case errors.Is(err, ErrStorageFailure):
		return OutcomeStorage
	default:
		return OutcomeUnknown
	}
}
