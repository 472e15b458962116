package ai

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Iron-Ham/ralphloop/internal/errors"
)

const stderrTailBytes = 8 * 1024

type workDirKey struct{}

// WithWorkDir returns a context that makes RunIteration start the tool in dir.
func WithWorkDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workDirKey{}, dir)
}

func workDir(ctx context.Context) string {
	dir, _ := ctx.Value(workDirKey{}).(string)
	return dir
}

type invocation struct {
	command    string
	args       []string
	env        []string
	prompt     string
	outputPath string
}

// runIteration starts the tool with the prompt on stdin, streams stdout into
// the transcript file and parses the final answer from it.
func runIteration(ctx context.Context, inv invocation, parse func(string) (string, error)) (IterationResult, error) {
	if inv.outputPath == "" {
		return IterationResult{}, errors.NewValidationError("output path is required").WithField("outputPath")
	}
	if err := os.MkdirAll(filepath.Dir(inv.outputPath), 0755); err != nil {
		return IterationResult{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := os.Create(inv.outputPath)
	if err != nil {
		return IterationResult{}, fmt.Errorf("failed to create transcript: %w", err)
	}
	defer out.Close()

	stderr := &tailBuffer{max: stderrTailBytes}
	cmd := exec.CommandContext(ctx, inv.command, inv.args...)
	cmd.Dir = workDir(ctx)
	cmd.Stdin = strings.NewReader(inv.prompt)
	cmd.Stdout = out
	cmd.Stderr = stderr
	if len(inv.env) > 0 {
		cmd.Env = append(os.Environ(), inv.env...)
	}

	result := IterationResult{}
	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			if errors.Is(runErr, exec.ErrNotFound) {
				return IterationResult{}, fmt.Errorf("%w: %s: %v", errors.ErrBackendUnavailable, inv.command, runErr)
			}
			return IterationResult{}, fmt.Errorf("failed to run %s: %w", inv.command, runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	result.Stderr = stderr.String()

	if err := out.Sync(); err != nil {
		return result, fmt.Errorf("failed to sync transcript: %w", err)
	}

	text, err := parse(inv.outputPath)
	if err != nil {
		return result, fmt.Errorf("failed to parse transcript: %w", err)
	}
	result.FinalText = text
	return result, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
