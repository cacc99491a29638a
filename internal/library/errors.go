package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/five82/backdrop/internal/docstore"
)

var (
	// ErrAuthRequired guards mutating actions attempted without a user.
	ErrAuthRequired = errors.New("sign in required")
	// ErrForbidden is returned when the actor does not own the collection.
	ErrForbidden = errors.New("not the collection owner")
	// ErrNotFound is returned when a collection or profile does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError rejects input before any remote call. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NetworkError wraps a transport or store failure. The operation may be
// retried as-is.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PartialWriteError reports a two-step mutation whose first step landed and
// whose second did not. Remedy names the single repair call to retry.
type PartialWriteError struct {
	Op           string
	Step         int
	CollectionID string
	Remedy       string
	Err          error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s collection %s: step %d failed (retry with %s): %v",
		e.Op, e.CollectionID, e.Step, e.Remedy, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying unchanged.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	var partial *PartialWriteError
	return errors.As(err, &netErr) || errors.As(err, &partial)
}

// StoreError classifies a document store error for op. Missing documents map
// to ErrNotFound; cancellation passes through; everything else is a
// NetworkError.
func StoreError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return &NetworkError{Op: op, Err: err}
	}
}
