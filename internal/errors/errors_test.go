package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "simple error", err: stderrors.New("something went wrong"), expected: "Error: something went wrong"},
		{
			name:     "remote error",
			err:      &RemoteError{Op: "add habit", Err: stderrors.New("connection refused")},
			expected: "Error: remote add habit failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := Format(tt.err); result != tt.expected {
				t.Errorf("Format(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestFormatf(t *testing.T) {
	got := Formatf("habit %q not found", "Meditate")
	if got != `Error: habit "Meditate" not found` {
		t.Errorf("unexpected Formatf result: %q", got)
	}
}

func TestRemoteErrorUnwrap(t *testing.T) {
	cause := stderrors.New("timeout")
	err := fmt.Errorf("adding habit: %w", &RemoteError{Op: "insert habit", Err: cause})

	if !IsRemote(err) {
		t.Fatal("expected IsRemote to see through wrapping")
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to reach the underlying cause")
	}
	if IsValidation(err) {
		t.Error("remote error must not be reported as a validation error")
	}
}

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("add: %w", &ValidationError{Field: "title", Msg: "must not be empty"})
	if !IsValidation(err) {
		t.Fatal("expected IsValidation to be true")
	}
	if got := err.Error(); got != "add: invalid title: must not be empty" {
		t.Errorf("unexpected message %q", got)
	}
}
