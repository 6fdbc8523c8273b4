package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/d70-t/how-to-eurec4a/internal/app"
	"github.com/d70-t/how-to-eurec4a/pkg/catalog"
	"github.com/d70-t/how-to-eurec4a/pkg/fetch"
	"github.com/d70-t/how-to-eurec4a/pkg/flags"
	"github.com/d70-t/how-to-eurec4a/pkg/segments"
)

// Exit codes for CLI commands.
const (
	ExitSuccess  = 0 // Successful execution
	ExitFailure  = 1 // Fetch, decode or storage failure
	ExitUsage    = 2 // Invalid flags, references or parameters
	ExitNotFound = 3 // Unknown catalog entry, variable, segment or file
	ExitBadData  = 4 // No valid samples or an unusable flag table
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

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCode picks the exit code of a domain error
func exitCode(err error) int {
	var (
		reqErr   *app.RequestError
		paramErr *catalog.ParameterError
		nameErr  *flags.UnknownFlagNameError
		emptyErr *flags.EmptySeriesError
		codeErr  *flags.CodeError
		tableErr *flags.MalformedFlagTableError
	)
	switch {
	case errors.As(err, &reqErr), errors.As(err, &paramErr), errors.As(err, &nameErr),
		errors.Is(err, flags.ErrInvalidWindow), errors.Is(err, catalog.ErrInvalidRef):
		return ExitUsage
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, segments.ErrNotFound), errors.Is(err, fetch.ErrNotFound):
		return ExitNotFound
	case errors.As(err, &emptyErr), errors.As(err, &codeErr), errors.As(err, &tableErr):
		return ExitBadData
	}
	return ExitFailure
}

// classify wraps err with the exit code of its cause
func classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return WrapExitError(exitCode(err), message, err)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
