// Package testutil provides testing utilities for ralphloop tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Iron-Ham/ralphloop/internal/ai"
)

// SetupProject creates a temporary project directory holding files.
// The files map contains relative paths to file contents.
func SetupProject(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for path, content := range files {
		WriteFile(t, filepath.Join(dir, path), content)
	}
	return dir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// TaskFile renders a task document with one block per entry. Each block gets
// the given number of unchecked and checked items.
func TaskFile(blocks ...[2]int) string {
	out := "# Plan\n\n"
	for i, b := range blocks {
		out += fmt.Sprintf("### Task %d\n\n", i+1)
		for j := 0; j < b[0]; j++ {
			out += fmt.Sprintf("- [ ] open item %d.%d\n", i+1, j+1)
		}
		for j := 0; j < b[1]; j++ {
			out += fmt.Sprintf("- [x] done item %d.%d\n", i+1, j+1)
		}
		out += "\n"
	}
	return out
}

// Step is one scripted backend iteration.
type Step struct {
	// Do runs before the result is returned, e.g. to edit the task file.
	Do       func() error
	Text     string
	ExitCode int
	Stderr   string
	Err      error
}

// Call records one RunIteration invocation.
type Call struct {
	Prompt     string
	Model      string
	OutputPath string
	Canceled   bool
}

// FakeBackend is an ai.Backend that replays scripted steps. When the script
// runs out, the last step repeats.
type FakeBackend struct {
	mu        sync.Mutex
	Steps     []Step
	Installed bool
	calls     []Call
}

// NewFakeBackend returns an installed FakeBackend with steps.
func NewFakeBackend(steps ...Step) *FakeBackend {
	return &FakeBackend{Steps: steps, Installed: true}
}

func (f *FakeBackend) Name() ai.BackendName { return "fake" }

func (f *FakeBackend) DisplayName() string { return "Fake" }

func (f *FakeBackend) IsInstalled() bool { return f.Installed }

func (f *FakeBackend) InstallHint() string { return "install the fake backend" }

func (f *FakeBackend) RunIteration(ctx context.Context, prompt, model, outputPath string) (ai.IterationResult, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, Call{
		Prompt:     prompt,
		Model:      model,
		OutputPath: outputPath,
		Canceled:   ctx.Err() != nil,
	})
	var step Step
	switch {
	case n < len(f.Steps):
		step = f.Steps[n]
	case len(f.Steps) > 0:
		step = f.Steps[len(f.Steps)-1]
	}
	f.mu.Unlock()

	if step.Do != nil {
		if err := step.Do(); err != nil {
			return ai.IterationResult{}, err
		}
	}
	if step.Err != nil {
		return ai.IterationResult{}, step.Err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return ai.IterationResult{}, err
	}
	if err := os.WriteFile(outputPath, []byte(step.Text), 0644); err != nil {
		return ai.IterationResult{}, err
	}
	return ai.IterationResult{ExitCode: step.ExitCode, FinalText: step.Text, Stderr: step.Stderr}, nil
}

func (f *FakeBackend) ParseText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Calls returns a copy of the recorded invocations.
func (f *FakeBackend) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// FakeChecker reports the pids in Alive as running.
type FakeChecker struct {
	mu    sync.Mutex
	Alive map[int]bool
}

// NewFakeChecker returns a checker treating pids as alive.
func NewFakeChecker(pids ...int) *FakeChecker {
	c := &FakeChecker{Alive: make(map[int]bool)}
	for _, pid := range pids {
		c.Alive[pid] = true
	}
	return c
}

// IsAlive implements process.Checker.
func (c *FakeChecker) IsAlive(pid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Alive[pid]
}

// Kill marks pid as dead.
func (c *FakeChecker) Kill(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Alive, pid)
}
