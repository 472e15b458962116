// Package ai adapts external text-generation CLIs to the single Backend
// interface the iteration loop consumes.
package ai

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/ralphloop/internal/config"
)

// BackendName identifies a supported AI backend.
type BackendName string

const (
	BackendClaude  BackendName = "claude"
	BackendCodex   BackendName = "codex"
	BackendCommand BackendName = "command"
)

// IterationResult is the outcome of one backend invocation.
type IterationResult struct {
	// ExitCode is the process exit status; -1 if it was killed by a signal.
	ExitCode int
	// FinalText is the backend's final answer parsed from the transcript.
	FinalText string
	// Stderr holds the tail of the process's standard error.
	Stderr string
}

// Backend runs one loop iteration against an external tool.
type Backend interface {
	Name() BackendName
	DisplayName() string
	// IsInstalled reports whether the tool can be found on this host.
	IsInstalled() bool
	// InstallHint tells the user how to install the tool.
	InstallHint() string
	// RunIteration sends prompt to the tool and blocks until it exits. The raw
	// transcript is written to outputPath. A non-zero exit is reported in the
	// result, not as an error; errors mean the tool could not be run at all.
	RunIteration(ctx context.Context, prompt, model, outputPath string) (IterationResult, error)
	// ParseText extracts the final answer from a transcript written by RunIteration.
	ParseText(path string) (string, error)
}

// ErrUnknownBackend is returned when the configured backend is unsupported.
var ErrUnknownBackend = fmt.Errorf("unknown AI backend")

// NewFromConfig builds a Backend from configuration.
func NewFromConfig(cfg *config.Config) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing config")
	}

	switch strings.ToLower(cfg.Backend.Name) {
	case string(BackendClaude), "":
		return NewClaudeBackend(cfg.Backend.Claude), nil
	case string(BackendCodex):
		return NewCodexBackend(cfg.Backend.Codex), nil
	case string(BackendCommand):
		return NewCommandBackend(cfg.Backend.Command)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend.Name)
	}
}

// DefaultBackend returns a Claude backend with default settings.
func DefaultBackend() Backend {
	return NewClaudeBackend(config.ClaudeBackendConfig{
		Command:         "claude",
		SkipPermissions: true,
	})
}

func lookPath(command string) bool {
	if command == "" {
		return false
	}
	_, err := exec.LookPath(command)
	return err == nil
}

// ClaudeBackend implements Backend for Claude Code.
type ClaudeBackend struct {
	command         string
	skipPermissions bool
}

// NewClaudeBackend creates a Claude backend from config.
func NewClaudeBackend(cfg config.ClaudeBackendConfig) *ClaudeBackend {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	return &ClaudeBackend{
		command:         command,
		skipPermissions: cfg.SkipPermissions,
	}
}

func (c *ClaudeBackend) Name() BackendName { return BackendClaude }

func (c *ClaudeBackend) DisplayName() string { return "Claude" }

func (c *ClaudeBackend) IsInstalled() bool { return lookPath(c.command) }

func (c *ClaudeBackend) InstallHint() string {
	return "install Claude Code with: npm install -g @anthropic-ai/claude-code"
}

// args builds the print-mode invocation; the prompt is fed on stdin.
func (c *ClaudeBackend) args(model string) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if c.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	return args
}

func (c *ClaudeBackend) RunIteration(ctx context.Context, prompt, model, outputPath string) (IterationResult, error) {
	return runIteration(ctx, invocation{
		command:    c.command,
		args:       c.args(model),
		prompt:     prompt,
		outputPath: outputPath,
	}, c.ParseText)
}

func (c *ClaudeBackend) ParseText(path string) (string, error) {
	return parseClaudeStream(path)
}

// CodexBackend implements Backend for Codex CLI.
type CodexBackend struct {
	command      string
	approvalMode string
}

// NewCodexBackend creates a Codex backend from config.
func NewCodexBackend(cfg config.CodexBackendConfig) *CodexBackend {
	command := cfg.Command
	if command == "" {
		command = "codex"
	}
	mode := cfg.ApprovalMode
	if mode == "" {
		mode = "full-auto"
	}
	return &CodexBackend{
		command:      command,
		approvalMode: mode,
	}
}

func (c *CodexBackend) Name() BackendName { return BackendCodex }

func (c *CodexBackend) DisplayName() string { return "Codex" }

func (c *CodexBackend) IsInstalled() bool { return lookPath(c.command) }

func (c *CodexBackend) InstallHint() string {
	return "install the Codex CLI with: npm install -g @openai/codex"
}

// args builds a non-interactive exec invocation; "-" reads the prompt from stdin.
func (c *CodexBackend) args(model string) []string {
	args := []string{"exec", "--json"}
	args = append(args, c.approvalFlags()...)
	if model != "" {
		args = append(args, "--model", model)
	}
	return append(args, "-")
}

func (c *CodexBackend) approvalFlags() []string {
	switch strings.ToLower(c.approvalMode) {
	case "bypass":
		return []string{"--dangerously-bypass-approvals-and-sandbox"}
	case "full-auto":
		return []string{"--full-auto"}
	default:
		return nil
	}
}

func (c *CodexBackend) RunIteration(ctx context.Context, prompt, model, outputPath string) (IterationResult, error) {
	return runIteration(ctx, invocation{
		command:    c.command,
		args:       c.args(model),
		prompt:     prompt,
		outputPath: outputPath,
	}, c.ParseText)
}

func (c *CodexBackend) ParseText(path string) (string, error) {
	return parseCodexEvents(path)
}

// CommandBackend runs any program that reads the prompt on stdin and
// prints its answer on stdout. The model override is exported as
// RALPH_MODEL.
type CommandBackend struct {
	path string
	args []string
}

// NewCommandBackend creates a generic command backend.
func NewCommandBackend(cfg config.CommandBackendConfig) (*CommandBackend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("command backend requires a path")
	}
	return &CommandBackend{
		path: cfg.Path,
		args: append([]string(nil), cfg.Args...),
	}, nil
}

func (c *CommandBackend) Name() BackendName { return BackendCommand }

func (c *CommandBackend) DisplayName() string { return c.path }

func (c *CommandBackend) IsInstalled() bool { return lookPath(c.path) }

func (c *CommandBackend) InstallHint() string {
	return fmt.Sprintf("make sure %q is installed and on PATH", c.path)
}

func (c *CommandBackend) RunIteration(ctx context.Context, prompt, model, outputPath string) (IterationResult, error) {
	var env []string
	if model != "" {
		env = append(env, "RALPH_MODEL="+model)
	}
	return runIteration(ctx, invocation{
		command:    c.path,
		args:       c.args,
		env:        env,
		prompt:     prompt,
		outputPath: outputPath,
	}, c.ParseText)
}

func (c *CommandBackend) ParseText(path string) (string, error) {
	return parsePlain(path)
}
