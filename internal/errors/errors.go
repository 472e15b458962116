// Package errors provides the error taxonomy shared by the ralphloop packages.
// It defines sentinel errors for the conditions callers branch on, typed
// errors that carry context (session name, iteration, timeout), and
// classification helpers used by the CLI when reporting failures.
//
// # Error Types
//
// Domain errors describe failures in a subsystem:
//   - SessionError: state store and session lifecycle failures
//   - LoopError: iteration loop failures (backend exit codes, empty output)
//
// Semantic errors describe common conditions:
//   - NotFoundError: a file or session does not exist
//   - ValidationError: invalid input or an illegal state transition
//   - TimeoutError: a bounded wait (lock acquisition) was exhausted
//
// # Usage
//
//	err := errors.NewNotFoundError("session", "docs-refresh")
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
//	var loopErr *errors.LoopError
//	if errors.As(err, &loopErr) { ... }
//
// A run that exhausts its iteration budget is not an error; it is reported
// through the loop result status.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers can import only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates a missing file or session record.
	ErrNotFound = New("not found")
	// ErrLockTimeout indicates the state lock could not be acquired within its bound.
	ErrLockTimeout = New("lock acquisition timed out")
	// ErrCorruptState indicates the state file could not be parsed.
	ErrCorruptState = New("state file corrupted")
	// ErrInvalidTransition indicates a status change the session state machine forbids.
	ErrInvalidTransition = New("invalid status transition")
	// ErrAlreadyExists indicates a session name that is already taken.
	ErrAlreadyExists = New("already exists")
	// ErrSessionActive indicates a session whose process is still running.
	ErrSessionActive = New("session is active")
)

var (
	// ErrBackendUnavailable indicates the configured backend is not installed.
	ErrBackendUnavailable = New("backend unavailable")
	// ErrIterationFailed indicates the backend exited non-zero or produced no usable output.
	ErrIterationFailed = New("iteration failed")
)

var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// RalphError is implemented by every typed error in this package.
type RalphError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsRetryable() bool { return e.retryable }

func (e *baseError) IsUserFacing() bool { return e.userFacing }

// formatPrefixed renders "kind [k=v, ...]: message: cause".
func formatPrefixed(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// SessionError represents a state store or session lifecycle failure.
//
// Example:
//
//	err := errors.NewSessionError("cannot stop session", errors.ErrInvalidTransition).WithSession("docs")
//	fmt.Println(err) // "session error [session=docs]: cannot stop session: invalid status transition"
type SessionError struct {
	baseError
	Session string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithSession adds a session name to the error context.
func (e *SessionError) WithSession(name string) *SessionError {
	e.Session = name
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.Session != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.Session))
	}
	return formatPrefixed("session error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LoopError represents a failure inside the iteration loop.
//
// Example:
//
//	err := errors.NewLoopError("backend exited non-zero", errors.ErrIterationFailed).
//		WithIteration(3).WithExitCode(1)
type LoopError struct {
	baseError
	Session   string
	Iteration int
	ExitCode  int
	// Diagnostic holds backend output collected for the failed iteration.
	Diagnostic string
}

// NewLoopError creates a new LoopError.
func NewLoopError(message string, cause error) *LoopError {
	return &LoopError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithSession adds a session name to the error context.
func (e *LoopError) WithSession(name string) *LoopError {
	e.Session = name
	return e
}

// WithIteration adds the iteration number to the error context.
func (e *LoopError) WithIteration(n int) *LoopError {
	e.Iteration = n
	return e
}

// WithExitCode records the backend exit code.
func (e *LoopError) WithExitCode(code int) *LoopError {
	e.ExitCode = code
	return e
}

// WithDiagnostic attaches collected backend output.
func (e *LoopError) WithDiagnostic(text string) *LoopError {
	e.Diagnostic = text
	return e
}

// Error returns the formatted error message.
func (e *LoopError) Error() string {
	var parts []string
	if e.Session != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.Session))
	}
	if e.Iteration > 0 {
		parts = append(parts, fmt.Sprintf("iteration=%d", e.Iteration))
	}
	if e.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	return formatPrefixed("loop error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *LoopError) Is(target error) bool {
	if _, ok := target.(*LoopError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task file", "PRD.md")
//	fmt.Println(err) // "task file 'PRD.md' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrNotFound {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("must be greater than zero").WithField("maxIterations").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatPrefixed("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that exhausted its time bound.
//
// Example:
//
//	err := errors.NewTimeoutError("acquiring state lock", 10*time.Second).WithCause(errors.ErrLockTimeout)
//	fmt.Println(err) // "timeout error: acquiring state lock (timeout: 10s): lock acquisition timed out"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RalphError
	if As(err, &re) {
		return re.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var re RalphError
	if As(err, &re) {
		return re.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement RalphError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var re RalphError
	if As(err, &re) {
		return re.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
