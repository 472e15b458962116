package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/state"
	"github.com/Iron-Ham/ralphloop/internal/testutil"
)

const promise = "<promise>COMPLETE</promise>"

type transitionLog struct {
	mu  sync.Mutex
	all []Transition
}

func (l *transitionLog) record(tr Transition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, tr)
	return nil
}

func (l *transitionLog) statuses() []state.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]state.Status, len(l.all))
	for i, tr := range l.all {
		out[i] = tr.Status
	}
	return out
}

func (l *transitionLog) last() Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.all[len(l.all)-1]
}

type fakeRecorder struct {
	mu         sync.Mutex
	outcomes   []string
	runStatus  string
	iterations int
}

func (r *fakeRecorder) IterationFinished(_ string, _ time.Duration, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) RunFinished(status string, iterations int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runStatus = status
	r.iterations = iterations
}

func noSleep(context.Context, time.Duration) error { return nil }

func newProject(t *testing.T, tasks string) (dir string, opts Options) {
	t.Helper()
	dir = testutil.SetupProject(t, map[string]string{"PRD.md": tasks})
	return dir, Options{
		Session:          "docs",
		ProjectDir:       dir,
		TaskFile:         "PRD.md",
		MaxIterations:    3,
		CompletionMarker: "COMPLETE",
		OutputDir:        filepath.Join(dir, ".ralphloop", "output"),
	}
}

// checkOff replaces the task file with one that has no unchecked items.
func checkOff(t *testing.T, dir string) func() error {
	return func() error {
		return os.WriteFile(filepath.Join(dir, "PRD.md"), []byte(testutil.TaskFile([2]int{0, 2})), 0644)
	}
}

func equalStatuses(a, b []state.Status) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func TestRun_CompletesWhenTasksDoneAndPromiseEmitted(t *testing.T) {
	dir, opts := newProject(t, testutil.TaskFile([2]int{1, 0}, [2]int{1, 1}))
	backend := testutil.NewFakeBackend(
		testutil.Step{Text: "worked on task 1"},
		testutil.Step{Do: checkOff(t, dir), Text: "all done\n" + promise + "\n"},
	)
	rec := &fakeRecorder{}
	log := &transitionLog{}

	c := New(backend, WithClock(nil, noSleep), WithRecorder(rec))
	res, err := c.Run(context.Background(), opts, log.record)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Status != state.StatusComplete {
		t.Errorf("Status = %q, want complete", res.Status)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
	if res.RemainingTasks != 0 {
		t.Errorf("RemainingTasks = %d, want 0", res.RemainingTasks)
	}

	want := []state.Status{
		state.StatusRunning, state.StatusRunning,
		state.StatusRunning, state.StatusComplete,
	}
	if got := log.statuses(); !equalStatuses(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if got := log.all[0].RemainingTasks; got != 2 {
		t.Errorf("first transition remaining = %d, want 2", got)
	}
	if rec.runStatus != "complete" || rec.iterations != 2 {
		t.Errorf("recorder run = %q/%d", rec.runStatus, rec.iterations)
	}
	if strings.Join(rec.outcomes, ",") != "continue,complete" {
		t.Errorf("recorder outcomes = %v", rec.outcomes)
	}
}

func TestRun_PromiseIgnoredWhileTasksRemain(t *testing.T) {
	_, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
	backend := testutil.NewFakeBackend(testutil.Step{Text: promise})
	log := &transitionLog{}

	res, err := New(backend, WithClock(nil, noSleep)).Run(context.Background(), opts, log.record)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != state.StatusMaxIterations {
		t.Errorf("Status = %q, want max_iterations", res.Status)
	}
	if res.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", res.Iterations)
	}
	if res.RemainingTasks != 1 {
		t.Errorf("RemainingTasks = %d, want 1", res.RemainingTasks)
	}
	if got := log.last().Status; got != state.StatusMaxIterations {
		t.Errorf("last transition = %q, want max_iterations", got)
	}
	if n := len(backend.Calls()); n != 3 {
		t.Errorf("backend called %d times, want 3", n)
	}
}

func TestRun_NegatedPromiseIsNotCompletion(t *testing.T) {
	dir, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
	opts.MaxIterations = 1
	backend := testutil.NewFakeBackend(testutil.Step{Do: checkOff(t, dir), Text: "I cannot say " + promise})

	res, err := New(backend, WithClock(nil, noSleep)).Run(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != state.StatusMaxIterations {
		t.Errorf("Status = %q, want max_iterations", res.Status)
	}
}

func TestRun_BackendFailure(t *testing.T) {
	tests := []struct {
		name     string
		step     testutil.Step
		exitCode int
	}{
		{"non-zero exit", testutil.Step{Text: "partial", ExitCode: 2, Stderr: "boom"}, 2},
		{"empty output", testutil.Step{Text: "  \n"}, 0},
		{"invocation error", testutil.Step{Err: errors.ErrBackendUnavailable}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
			backend := testutil.NewFakeBackend(tt.step)
			log := &transitionLog{}
			rec := &fakeRecorder{}

			res, err := New(backend, WithClock(nil, noSleep), WithRecorder(rec)).Run(context.Background(), opts, log.record)
			if !errors.Is(err, errors.ErrIterationFailed) {
				t.Fatalf("expected ErrIterationFailed, got %v", err)
			}
			var loopErr *errors.LoopError
			if !errors.As(err, &loopErr) {
				t.Fatalf("expected *LoopError, got %T", err)
			}
			if loopErr.Iteration != 1 || loopErr.Session != "docs" {
				t.Errorf("LoopError = %+v", loopErr)
			}
			if loopErr.ExitCode != tt.exitCode {
				t.Errorf("ExitCode = %d, want %d", loopErr.ExitCode, tt.exitCode)
			}
			if loopErr.Diagnostic != tt.step.Stderr {
				t.Errorf("Diagnostic = %q, want %q", loopErr.Diagnostic, tt.step.Stderr)
			}

			if res.Status != state.StatusFailed {
				t.Errorf("Status = %q, want failed", res.Status)
			}
			last := log.last()
			if last.Status != state.StatusFailed || last.Err == nil {
				t.Errorf("last transition = %+v, want failed with error", last)
			}
			if rec.runStatus != "failed" {
				t.Errorf("recorder run status = %q", rec.runStatus)
			}
			if len(backend.Calls()) != 1 {
				t.Error("the loop must stop after a failed iteration")
			}
		})
	}
}

func TestRun_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options, *testutil.FakeBackend)
		is     error
	}{
		{"missing project dir", func(o *Options, _ *testutil.FakeBackend) { o.ProjectDir = filepath.Join(o.ProjectDir, "nope") }, errors.ErrNotFound},
		{"zero iterations", func(o *Options, _ *testutil.FakeBackend) { o.MaxIterations = 0 }, errors.ErrInvalidInput},
		{"budget already spent", func(o *Options, _ *testutil.FakeBackend) { o.StartIteration = 3 }, errors.ErrInvalidInput},
		{"missing task file", func(o *Options, _ *testutil.FakeBackend) { o.TaskFile = "MISSING.md" }, errors.ErrNotFound},
		{"backend not installed", func(_ *Options, b *testutil.FakeBackend) { b.Installed = false }, errors.ErrBackendUnavailable},
		{"bad context pattern", func(o *Options, _ *testutil.FakeBackend) { o.ContextFiles = []string{"[a-"} }, errors.ErrInvalidInput},
		{"session name with path separator", func(o *Options, _ *testutil.FakeBackend) { o.Session = "../out" }, errors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
			backend := testutil.NewFakeBackend(testutil.Step{Text: "x"})
			tt.mutate(&opts, backend)
			log := &transitionLog{}

			_, err := New(backend, WithClock(nil, noSleep)).Run(context.Background(), opts, log.record)
			if !errors.Is(err, tt.is) {
				t.Fatalf("expected %v, got %v", tt.is, err)
			}
			if len(log.all) != 0 {
				t.Errorf("no transitions expected before preconditions pass, got %v", log.statuses())
			}
			if len(backend.Calls()) != 0 {
				t.Error("backend must not run when preconditions fail")
			}
		})
	}
}

func TestRun_CancelBetweenIterations(t *testing.T) {
	_, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
	opts.MaxIterations = 10

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := testutil.NewFakeBackend(
		testutil.Step{Text: "one"},
		testutil.Step{Do: func() error { cancel(); return nil }, Text: "two"},
	)
	log := &transitionLog{}

	sleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	res, err := New(backend, WithDelay(time.Hour), WithClock(nil, sleep)).Run(ctx, opts, log.record)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Status != state.StatusStopped {
		t.Errorf("Status = %q, want stopped", res.Status)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
	if got := log.last().Status; got != state.StatusStopped {
		t.Errorf("last transition = %q, want stopped", got)
	}

	calls := backend.Calls()
	if len(calls) != 2 {
		t.Fatalf("backend called %d times, want 2", len(calls))
	}
	if calls[1].Canceled {
		t.Error("in-flight backend call must not see the cancellation")
	}
}

func TestRun_StopRequestedByHandler(t *testing.T) {
	_, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
	backend := testutil.NewFakeBackend(testutil.Step{Text: "progress"})

	var seen int
	handler := func(tr Transition) error {
		seen++
		if seen == 2 {
			return fmt.Errorf("session was stopped: %w", ErrStopRequested)
		}
		return nil
	}

	res, err := New(backend, WithClock(nil, noSleep)).Run(context.Background(), opts, handler)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != state.StatusStopped {
		t.Errorf("Status = %q, want stopped", res.Status)
	}
	if len(backend.Calls()) != 1 {
		t.Errorf("backend called %d times, want 1", len(backend.Calls()))
	}
}

func TestRun_HandlerErrorAborts(t *testing.T) {
	_, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
	backend := testutil.NewFakeBackend(testutil.Step{Text: "progress"})
	boom := errors.New("disk full")

	_, err := New(backend, WithClock(nil, noSleep)).Run(context.Background(), opts, func(Transition) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if len(backend.Calls()) != 0 {
		t.Error("backend must not run when the running transition cannot be recorded")
	}
}

func TestRun_ResumeStartsAfterStartIteration(t *testing.T) {
	_, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
	opts.MaxIterations = 5
	opts.StartIteration = 3
	backend := testutil.NewFakeBackend(testutil.Step{Text: "progress"})
	log := &transitionLog{}

	res, err := New(backend, WithClock(nil, noSleep)).Run(context.Background(), opts, log.record)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", res.Iterations)
	}
	if len(backend.Calls()) != 2 {
		t.Errorf("backend called %d times, want 2", len(backend.Calls()))
	}
	if got := log.all[0].Iteration; got != 4 {
		t.Errorf("first iteration = %d, want 4", got)
	}
}

func TestRun_PromptAndOutputPath(t *testing.T) {
	dir, opts := newProject(t, testutil.TaskFile([2]int{0, 1}, [2]int{2, 0}))
	testutil.WriteFile(t, filepath.Join(dir, "docs", "api.md"), "api")
	opts.MaxIterations = 1
	opts.Model = "opus"
	opts.ContextFiles = []string{"docs/*.md"}
	backend := testutil.NewFakeBackend(testutil.Step{Text: "progress"})

	c := New(backend, WithClock(nil, noSleep))
	c.newID = func() string { return "fixed" }
	res, err := c.Run(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := backend.Calls()
	if len(calls) != 1 {
		t.Fatalf("backend called %d times, want 1", len(calls))
	}
	call := calls[0]
	if call.Model != "opus" {
		t.Errorf("Model = %q, want opus", call.Model)
	}
	for _, want := range []string{"### Task 2", "open item 2.1", "docs/api.md", "iteration 1 of 1"} {
		if !strings.Contains(call.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(call.Prompt, "### Task 1") {
		t.Error("prompt should only carry the first block with unchecked items")
	}

	wantPath := filepath.Join(opts.OutputDir, "docs-1-fixed.log")
	if call.OutputPath != wantPath || res.OutputPath != wantPath {
		t.Errorf("OutputPath = %q / %q, want %q", call.OutputPath, res.OutputPath, wantPath)
	}
	if res.Output != "progress" {
		t.Errorf("Output = %q, want progress", res.Output)
	}
}

func TestRun_NoUncheckedBlockUsesPlaceholder(t *testing.T) {
	_, opts := newProject(t, testutil.TaskFile([2]int{0, 1}))
	opts.MaxIterations = 1
	backend := testutil.NewFakeBackend(testutil.Step{Text: "nothing to do"})

	if _, err := New(backend, WithClock(nil, noSleep)).Run(context.Background(), opts, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(backend.Calls()[0].Prompt, NoTaskBlock) {
		t.Error("prompt should carry the placeholder block")
	}
}

func TestRun_DelayBetweenIterations(t *testing.T) {
	_, opts := newProject(t, testutil.TaskFile([2]int{1, 0}))
	backend := testutil.NewFakeBackend(testutil.Step{Text: "progress"})

	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	if _, err := New(backend, WithDelay(5*time.Millisecond), WithClock(nil, sleep)).Run(context.Background(), opts, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sleeps) != 2 {
		t.Errorf("slept %d times, want 2 (no sleep after the last iteration)", len(sleeps))
	}
}
