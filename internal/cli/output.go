package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/five82/backdrop/internal/collections"
	"github.com/five82/backdrop/internal/library"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0
	ExitFailure = 1 // the operation failed (network, store)
	ExitUsage   = 2 // bad flags or input
	ExitAuth    = 3 // no user configured or not the owner
	ExitPartial = 4 // a two-step write stopped halfway; see the repair hint
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors from the engine
// are classified by kind.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var verr *library.ValidationError
	var partial *library.PartialWriteError
	switch {
	case errors.As(err, &partial):
		return ExitPartial
	case errors.As(err, &verr):
		return ExitUsage
	case errors.Is(err, library.ErrAuthRequired), errors.Is(err, library.ErrForbidden):
		return ExitAuth
	default:
		return ExitFailure
	}
}

// RepairHint returns the command that finishes a half-done collection
// write, or "" when err is not a partial write.
func RepairHint(err error) string {
	var partial *library.PartialWriteError
	if !errors.As(err, &partial) {
		return ""
	}
	switch partial.Remedy {
	case collections.RemedyLinkToOwner:
		return "backdrop collections repair link " + partial.CollectionID
	case collections.RemedyPurgeCollection:
		return "backdrop collections repair purge " + partial.CollectionID
	default:
		return ""
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
