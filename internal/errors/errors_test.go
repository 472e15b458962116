package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SessionError
		want string
	}{
		{
			name: "message only",
			err:  NewSessionError("cannot stop", nil),
			want: "session error: cannot stop",
		},
		{
			name: "with session and cause",
			err:  NewSessionError("cannot stop", ErrInvalidTransition).WithSession("docs"),
			want: "session error [session=docs]: cannot stop: invalid status transition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Is(t *testing.T) {
	err := NewSessionError("cannot stop", ErrInvalidTransition)

	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("SessionError should match its cause")
	}
	if !errors.Is(err, &SessionError{}) {
		t.Error("SessionError should match any *SessionError target")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("SessionError should not match unrelated sentinel")
	}
}

func TestLoopError(t *testing.T) {
	err := NewLoopError("backend exited non-zero", ErrIterationFailed).
		WithSession("docs").
		WithIteration(3).
		WithExitCode(2).
		WithDiagnostic("boom")

	want := "loop error [session=docs, iteration=3, exit=2]: backend exited non-zero: iteration failed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrIterationFailed) {
		t.Error("LoopError should match ErrIterationFailed")
	}
	if err.Diagnostic != "boom" {
		t.Errorf("Diagnostic = %q, want %q", err.Diagnostic, "boom")
	}

	wrapped := fmt.Errorf("run: %w", err)
	var loopErr *LoopError
	if !errors.As(wrapped, &loopErr) {
		t.Fatal("errors.As should find LoopError through wrapping")
	}
	if loopErr.Iteration != 3 {
		t.Errorf("Iteration = %d, want 3", loopErr.Iteration)
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("session", "docs")

	if got, want := err.Error(), "session 'docs' not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}

	withCause := NewNotFoundError("task file", "PRD.md").WithCause(errors.New("stat failed"))
	if got, want := withCause.Error(), "task file 'PRD.md' not found: stat failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("must be greater than zero").WithField("maxIterations").WithValue(0)

	want := "validation error [field=maxIterations, value=0]: must be greater than zero"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("acquiring state lock", 10*time.Second).WithCause(ErrLockTimeout)

	want := "timeout error: acquiring state lock (timeout: 10s): lock acquisition timed out"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if !errors.Is(err, ErrLockTimeout) {
		t.Error("TimeoutError should match its cause")
	}
	if !IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
}

func TestClassificationHelpers(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryable  bool
		userFacing bool
		severity   Severity
	}{
		{"nil", nil, false, false, SeverityDebug},
		{"plain", errors.New("x"), false, false, SeverityError},
		{"not found", NewNotFoundError("session", "a"), false, true, SeverityWarning},
		{"loop", NewLoopError("x", nil), false, true, SeverityError},
		{"wrapped timeout", Wrap(NewTimeoutError("x", time.Second), "ctx"), true, true, SeverityWarning},
		{"bare timeout sentinel", Wrapf(ErrTimeout, "waiting %d", 1), true, false, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := IsUserFacing(tt.err); got != tt.userFacing {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.userFacing)
			}
			if got := GetSeverity(tt.err); got != tt.severity {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.severity)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}
