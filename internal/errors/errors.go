package errors

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/julianstephens/habitgarden/internal/logger"
)

var (
	// ErrHabitNotFound is returned when a habit id is not present in the local cache
	ErrHabitNotFound = stderrors.New("habit not found")
	// ErrNotOpen is returned when the sync service is used before Open
	ErrNotOpen = stderrors.New("sync service not opened")
	// ErrOffline is returned by a manual sync while the remote store is unreachable
	ErrOffline = stderrors.New("remote store unreachable")
)

// RemoteError reports a failed write-through call against the remote store.
// The local cache is left unchanged whenever one is returned.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ValidationError reports invalid habit input. No remote call is made.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// IsRemote reports whether err wraps a RemoteError
func IsRemote(err error) bool {
	var re *RemoteError
	return stderrors.As(err, &re)
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return stderrors.As(err, &ve)
}

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error: %v", err)
}

// Formatf formats an error message with a consistent "Error: " prefix using a format string
func Formatf(format string, args ...interface{}) string {
	return fmt.Sprintf("Error: "+format, args...)
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s\n", Format(err))
		os.Exit(1)
	}
}
