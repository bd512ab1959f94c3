package engine

import (
	"errors"
	"fmt"

	"remindbot/internal/store"
)

// ErrNotFound is returned when no stored reminder matches the given filter.
// It is not retried.
var ErrNotFound = errors.New("no reminder matches")

// ValidationError marks malformed input, rejected before any transaction.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid input: " + e.Reason }

// ConcurrencyError marks an operation that exhausted its optimistic retry
// budget. The caller may resubmit.
type ConcurrencyError struct {
	Err error
}

func (e *ConcurrencyError) Error() string { return fmt.Sprintf("concurrent edits: %v", e.Err) }
func (e *ConcurrencyError) Unwrap() error { return e.Err }

// PersistenceError marks a store that was unreachable or rejected a commit.
// No timer side effects were performed.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence failed: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// errNothingToDo is returned by transaction functions to abort the commit
// when the operation turns out to be a no-op (idempotent delete paths).
var errNothingToDo = errors.New("nothing to do")

// classify maps a transaction error into the engine taxonomy, passing
// engine-domain errors through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.Is(err, ErrNotFound) || errors.As(err, &ve) {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return &ConcurrencyError{Err: err}
	}
	return &PersistenceError{Err: err}
}
