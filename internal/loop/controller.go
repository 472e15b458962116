// Package loop drives an agent through a task document one iteration at a
// time until every item is checked off and the agent emits its completion
// promise, or the iteration budget runs out.
//
// The controller never touches the session store. Every status change is
// reported through the OnTransition callback; callers decide how to persist
// it. Cancellation is honored only between iterations; a backend call in
// flight always runs to completion.
package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/Iron-Ham/ralphloop/internal/ai"
	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/state"
	"github.com/Iron-Ham/ralphloop/internal/tasks"
)

// DefaultDelay is the pause between iterations.
const DefaultDelay = 2 * time.Second

// ErrStopRequested may be returned (wrapped) by an OnTransition callback to
// end the run as stopped, for example when the session was stopped from
// another process.
var ErrStopRequested = errors.New("stop requested")

// Options describe one run.
type Options struct {
	Session          string
	ProjectDir       string
	TaskFile         string
	MaxIterations    int
	CompletionMarker string
	Model            string
	// PromptTemplate is inline template text; PromptFile takes precedence.
	PromptTemplate string
	PromptFile     string
	// ContextFiles are glob patterns relative to ProjectDir.
	ContextFiles []string
	// OutputDir receives iteration transcripts.
	OutputDir string
	// StartIteration is the number of iterations already done, for resume.
	StartIteration int
}

// Transition is a status change reported to the caller.
type Transition struct {
	Session        string
	Iteration      int
	Status         state.Status
	RemainingTasks int
	// OutputPath is the transcript of the iteration, when there is one.
	OutputPath string
	// Err is set on failed transitions.
	Err error
}

// OnTransition receives every status change. Returning an error aborts the
// run; wrap ErrStopRequested to end it as stopped instead.
type OnTransition func(Transition) error

// Result summarizes a finished run.
type Result struct {
	Status         state.Status
	Iterations     int
	RemainingTasks int
	Duration       time.Duration
	// Output is the final answer text of the last iteration.
	Output string
	// OutputPath is the transcript of the last iteration.
	OutputPath string
}

// Recorder receives loop measurements.
type Recorder interface {
	IterationFinished(backend string, duration time.Duration, outcome string)
	RunFinished(status string, iterations int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) IterationFinished(string, time.Duration, string) {}
func (nopRecorder) RunFinished(string, int, time.Duration)          {}

// Controller runs iterations against a Backend.
type Controller struct {
	backend  ai.Backend
	parser   *tasks.Parser
	logger   *logging.Logger
	delay    time.Duration
	recorder Recorder
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	newID    func() string
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// WithParser replaces the default task parser.
func WithParser(p *tasks.Parser) ControllerOption {
	return func(c *Controller) { c.parser = p }
}

// WithDelay sets the pause between iterations. Zero or negative disables it.
func WithDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.delay = d }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithClock replaces time.Now and the inter-iteration sleep.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New creates a Controller for backend.
func New(backend ai.Backend, opts ...ControllerOption) *Controller {
	c := &Controller{
		backend:  backend,
		parser:   tasks.NewParser(),
		logger:   logging.NopLogger(),
		delay:    DefaultDelay,
		recorder: nopRecorder{},
		now:      time.Now,
		sleep:    sleepContext,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// run holds the state of one Run call.
type run struct {
	c        *Controller
	opts     Options
	notify   OnTransition
	logger   *logging.Logger
	taskPath string
	prompt   *PromptTemplate
	globs    []glob.Glob
	started  time.Time
	result   Result
}

// Run executes iterations StartIteration+1 .. MaxIterations. Reaching the
// budget is reported as StatusMaxIterations with a nil error. Backend
// failures end the run as StatusFailed with a *errors.LoopError.
func (c *Controller) Run(ctx context.Context, opts Options, onTransition OnTransition) (Result, error) {
	r := &run{
		c:       c,
		opts:    opts,
		notify:  onTransition,
		logger:  c.logger.WithSession(opts.Session),
		started: c.now(),
	}
	if err := r.prepare(); err != nil {
		return Result{}, err
	}

	res, err := r.loop(ctx)
	res.Duration = c.now().Sub(r.started)
	c.recorder.RunFinished(string(res.Status), res.Iterations, res.Duration)
	r.logger.Info("run finished",
		"status", string(res.Status),
		"iterations", res.Iterations,
		"remaining_tasks", res.RemainingTasks,
		"duration_ms", res.Duration.Milliseconds())
	return res, err
}

// prepare checks the preconditions. Each failure is a distinct error.
func (r *run) prepare() error {
	o := &r.opts

	info, err := os.Stat(o.ProjectDir)
	if err != nil || !info.IsDir() {
		nf := errors.NewNotFoundError("project directory", o.ProjectDir)
		if err != nil {
			nf = nf.WithCause(err)
		}
		return nf
	}

	if o.MaxIterations <= 0 {
		return errors.NewValidationError("max iterations must be greater than zero").
			WithField("maxIterations").WithValue(o.MaxIterations)
	}
	if o.StartIteration < 0 || o.StartIteration >= o.MaxIterations {
		return errors.NewValidationError("no iterations left in the budget").
			WithField("startIteration").WithValue(o.StartIteration)
	}

	if o.TaskFile == "" {
		return errors.NewValidationError("task file is required").WithField("taskFile")
	}
	r.taskPath = o.TaskFile
	if !filepath.IsAbs(r.taskPath) {
		r.taskPath = filepath.Join(o.ProjectDir, o.TaskFile)
	}
	if info, err := os.Stat(r.taskPath); err != nil || info.IsDir() {
		nf := errors.NewNotFoundError("task file", r.taskPath)
		if err != nil {
			nf = nf.WithCause(err)
		}
		return nf
	}

	if !r.c.backend.IsInstalled() {
		return errors.NewLoopError(
			fmt.Sprintf("%s is not installed", r.c.backend.DisplayName()),
			errors.ErrBackendUnavailable,
		).WithSession(o.Session).WithDiagnostic(r.c.backend.InstallHint())
	}

	if o.CompletionMarker == "" {
		o.CompletionMarker = "COMPLETE"
	}
	if o.Session == "" {
		o.Session = filepath.Base(o.ProjectDir)
		r.logger = r.c.logger.WithSession(o.Session)
	}
	if err := state.ValidateName(o.Session); err != nil {
		return err
	}
	if o.OutputDir == "" {
		o.OutputDir = filepath.Join(os.TempDir(), "ralphloop")
	}

	r.prompt, err = LoadPromptTemplate(o.PromptTemplate, o.PromptFile)
	if err != nil {
		return err
	}
	r.globs, err = CompileContextPatterns(o.ContextFiles)
	return err
}

func (r *run) emit(tr Transition) error {
	tr.Session = r.opts.Session
	if r.notify == nil {
		return nil
	}
	return r.notify(tr)
}

func (r *run) loop(ctx context.Context) (Result, error) {
	r.result = Result{Iterations: r.opts.StartIteration, RemainingTasks: state.UnknownTaskCount}

	for iteration := r.opts.StartIteration + 1; iteration <= r.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return r.stop(err)
		}

		done, err := r.iterate(ctx, iteration)
		if err != nil || done {
			return r.result, err
		}

		if iteration < r.opts.MaxIterations && r.c.delay > 0 {
			if err := r.c.sleep(ctx, r.c.delay); err != nil {
				return r.stop(err)
			}
		}
	}

	r.result.Status = state.StatusMaxIterations
	r.logger.Warn("iteration budget exhausted", "max_iterations", r.opts.MaxIterations)
	if err := r.emit(Transition{
		Iteration:      r.result.Iterations,
		Status:         state.StatusMaxIterations,
		RemainingTasks: r.result.RemainingTasks,
		OutputPath:     r.result.OutputPath,
	}); err != nil {
		return r.callbackFailed(err)
	}
	return r.result, nil
}

// iterate runs one iteration. done reports a terminal outcome.
func (r *run) iterate(ctx context.Context, iteration int) (done bool, err error) {
	logger := r.logger.WithIteration(iteration)
	r.result.Iterations = iteration

	before, err := r.c.parser.CountRemaining(r.taskPath)
	if err != nil {
		return true, r.fail(iteration, "failed to count remaining tasks", err, "")
	}
	r.result.RemainingTasks = before
	if err := r.emit(Transition{Iteration: iteration, Status: state.StatusRunning, RemainingTasks: before}); err != nil {
		_, err = r.callbackFailed(err)
		return true, err
	}

	prompt, err := r.renderPrompt(iteration)
	if err != nil {
		return true, r.fail(iteration, "failed to build prompt", err, "")
	}

	outPath := filepath.Join(r.opts.OutputDir, fmt.Sprintf("%s-%d-%s.log", r.opts.Session, iteration, r.c.newID()))
	r.result.OutputPath = outPath
	logger.Info("starting iteration",
		"remaining_tasks", before,
		"backend", string(r.c.backend.Name()),
		"output", outPath)

	started := r.c.now()
	bctx := ai.WithWorkDir(context.WithoutCancel(ctx), r.opts.ProjectDir)
	res, err := r.c.backend.RunIteration(bctx, prompt, r.opts.Model, outPath)
	elapsed := r.c.now().Sub(started)
	backend := string(r.c.backend.Name())

	switch {
	case err != nil:
		r.c.recorder.IterationFinished(backend, elapsed, "error")
		return true, r.fail(iteration, "backend invocation failed", err, res.Stderr)
	case res.ExitCode != 0:
		r.c.recorder.IterationFinished(backend, elapsed, "error")
		return true, r.fail(iteration, fmt.Sprintf("backend exited with status %d", res.ExitCode), nil, res.Stderr, res.ExitCode)
	case strings.TrimSpace(res.FinalText) == "":
		r.c.recorder.IterationFinished(backend, elapsed, "error")
		return true, r.fail(iteration, "backend produced no answer", nil, res.Stderr)
	}
	r.result.Output = res.FinalText

	after, err := r.c.parser.CountRemaining(r.taskPath)
	if err != nil {
		r.c.recorder.IterationFinished(backend, elapsed, "error")
		return true, r.fail(iteration, "failed to count remaining tasks", err, "")
	}
	r.result.RemainingTasks = after

	if IsComplete(res.FinalText, r.opts.CompletionMarker, after) {
		r.c.recorder.IterationFinished(backend, elapsed, "complete")
		logger.Info("completion promise accepted", "duration_ms", elapsed.Milliseconds())
		r.result.Status = state.StatusComplete
		if err := r.emit(Transition{Iteration: iteration, Status: state.StatusComplete, RemainingTasks: after, OutputPath: outPath}); err != nil {
			_, err = r.callbackFailed(err)
			return true, err
		}
		return true, nil
	}

	r.c.recorder.IterationFinished(backend, elapsed, "continue")
	logger.Info("iteration finished",
		"remaining_tasks", after,
		"duration_ms", elapsed.Milliseconds())
	if err := r.emit(Transition{Iteration: iteration, Status: state.StatusRunning, RemainingTasks: after, OutputPath: outPath}); err != nil {
		_, err = r.callbackFailed(err)
		return true, err
	}
	return false, nil
}

func (r *run) renderPrompt(iteration int) (string, error) {
	block, ok, err := r.c.parser.NextUncheckedBlock(r.taskPath)
	if err != nil {
		return "", err
	}
	text := NoTaskBlock
	if ok {
		text = block.Text
	}

	files, err := ResolveContextFiles(r.opts.ProjectDir, r.globs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve context files: %w", err)
	}

	return r.prompt.Render(PromptData{
		TaskFile:         r.opts.TaskFile,
		CompletionMarker: r.opts.CompletionMarker,
		Iteration:        iteration,
		MaxIterations:    r.opts.MaxIterations,
		TaskBlock:        text,
		ContextFiles:     files,
	})
}

// fail ends the run as failed and reports it.
func (r *run) fail(iteration int, msg string, cause error, diagnostic string, exitCode ...int) error {
	if cause == nil {
		cause = errors.ErrIterationFailed
	} else if !errors.Is(cause, errors.ErrIterationFailed) {
		cause = errors.Join(errors.ErrIterationFailed, cause)
	}
	loopErr := errors.NewLoopError(msg, cause).
		WithSession(r.opts.Session).
		WithIteration(iteration).
		WithDiagnostic(diagnostic)
	if len(exitCode) > 0 {
		loopErr = loopErr.WithExitCode(exitCode[0])
	}

	r.result.Status = state.StatusFailed
	r.logger.WithIteration(iteration).Error("iteration failed",
		"error", loopErr.Error(),
		"diagnostic", diagnostic)

	if err := r.emit(Transition{
		Iteration:      iteration,
		Status:         state.StatusFailed,
		RemainingTasks: r.result.RemainingTasks,
		OutputPath:     r.result.OutputPath,
		Err:            loopErr,
	}); err != nil {
		return errors.Join(loopErr, err)
	}
	return loopErr
}

// stop ends the run as stopped after cancellation.
func (r *run) stop(cause error) (Result, error) {
	r.result.Status = state.StatusStopped
	r.logger.Info("run stopped", "iteration", r.result.Iterations, "reason", cause.Error())
	if err := r.emit(Transition{
		Iteration:      r.result.Iterations,
		Status:         state.StatusStopped,
		RemainingTasks: r.result.RemainingTasks,
		OutputPath:     r.result.OutputPath,
	}); err != nil && !errors.Is(err, ErrStopRequested) {
		return r.result, errors.Join(cause, err)
	}
	return r.result, cause
}

// callbackFailed handles an error returned by OnTransition.
func (r *run) callbackFailed(err error) (Result, error) {
	if errors.Is(err, ErrStopRequested) {
		r.result.Status = state.StatusStopped
		r.logger.Info("run stopped by transition handler", "reason", err.Error())
		return r.result, nil
	}
	r.result.Status = state.StatusFailed
	return r.result, fmt.Errorf("transition handler: %w", err)
}
