package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/covenant/pkg/config"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("repository.backend", "unknown backend")

	expected := "config error in repository.backend: unknown backend"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCommandError(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := NewCommandError("scan", underlyingErr)

	expected := "command scan failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is() should work with CommandError.Unwrap()")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "plain", err: errors.New("boom"), want: ExitError},
		{name: "violation", err: fmt.Errorf("3 conflicts: %w", ErrViolation), want: ExitViolation},
		{name: "wrapped violation", err: NewCommandError("evaluate", ErrViolation), want: ExitViolation},
		{name: "config error", err: NewConfigError("x", "y"), want: ExitConfig},
		{
			name: "validation error",
			err:  fmt.Errorf("load: %w", config.ValidationError{Errors: []config.FieldError{{Field: "live.poll_interval", Message: "must be positive"}}}),
			want: ExitConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
