package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "loop.max_iterations")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// markerRegex restricts completion markers to a single token that cannot
// break out of the <promise> tag
var markerRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidNotifyEvents returns the statuses a webhook can subscribe to
func ValidNotifyEvents() []string {
	return []string{"running", "stale", "stopped", "complete", "failed", "max_iterations"}
}

// ValidApprovalModes returns the accepted codex approval modes
func ValidApprovalModes() []string {
	return []string{"full-auto", "bypass", "default"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateState()...)
	errors = append(errors, c.validateLoop()...)
	errors = append(errors, c.validateTasks()...)
	errors = append(errors, c.validateBackend()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateNotify()...)

	return errors
}

func (c *Config) validateState() []ValidationError {
	var errors []ValidationError

	if c.State.LockTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "state.lock_timeout_seconds",
			Value:   c.State.LockTimeoutSeconds,
			Message: "must be non-negative",
		})
	}
	if c.State.LockPollMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "state.lock_poll_ms",
			Value:   c.State.LockPollMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateLoop() []ValidationError {
	var errors []ValidationError

	if c.Loop.MaxIterations <= 0 {
		errors = append(errors, ValidationError{
			Field:   "loop.max_iterations",
			Value:   c.Loop.MaxIterations,
			Message: "must be greater than zero",
		})
	}

	if !markerRegex.MatchString(c.Loop.CompletionMarker) {
		errors = append(errors, ValidationError{
			Field:   "loop.completion_marker",
			Value:   c.Loop.CompletionMarker,
			Message: "must be a single word of letters, digits, '_', '.', ':' or '-'",
		})
	}

	if strings.TrimSpace(c.Loop.TaskFile) == "" {
		errors = append(errors, ValidationError{
			Field:   "loop.task_file",
			Value:   c.Loop.TaskFile,
			Message: "cannot be empty",
		})
	}

	return errors
}

func (c *Config) validateTasks() []ValidationError {
	var errors []ValidationError

	check := func(field, pattern string) {
		if pattern == "" {
			return
		}
		if _, err := regexp.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   pattern,
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}
	check("tasks.header_pattern", c.Tasks.HeaderPattern)
	check("tasks.unchecked_pattern", c.Tasks.UncheckedPattern)
	for i, t := range c.Tasks.Terminators {
		check(fmt.Sprintf("tasks.terminators[%d]", i), t)
	}

	return errors
}

func (c *Config) validateBackend() []ValidationError {
	var errors []ValidationError

	name := strings.ToLower(c.Backend.Name)
	if name != "" && !slices.Contains(ValidBackends(), name) {
		errors = append(errors, ValidationError{
			Field:   "backend.name",
			Value:   c.Backend.Name,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	if name == "command" && strings.TrimSpace(c.Backend.Command.Path) == "" {
		errors = append(errors, ValidationError{
			Field:   "backend.command.path",
			Value:   c.Backend.Command.Path,
			Message: "is required when backend.name is \"command\"",
		})
	}

	if mode := c.Backend.Codex.ApprovalMode; mode != "" && !slices.Contains(ValidApprovalModes(), strings.ToLower(mode)) {
		errors = append(errors, ValidationError{
			Field:   "backend.codex.approval_mode",
			Value:   mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidApprovalModes(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateNotify() []ValidationError {
	var errors []ValidationError

	for i, hook := range c.Notify.Webhooks {
		u, err := url.Parse(hook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("notify.webhooks[%d]", i),
				Value:   hook,
				Message: "must be an http or https URL",
			})
		}
	}

	for i, event := range c.Notify.Events {
		if !slices.Contains(ValidNotifyEvents(), event) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("notify.events[%d]", i),
				Value:   event,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidNotifyEvents(), ", ")),
			})
		}
	}

	return errors
}
