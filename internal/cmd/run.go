package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/ai"
	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/loop"
	"github.com/Iron-Ham/ralphloop/internal/notify"
	"github.com/Iron-Ham/ralphloop/internal/server"
	"github.com/Iron-Ham/ralphloop/internal/session"
	"github.com/Iron-Ham/ralphloop/internal/state"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [project-dir]",
	Short: "Start a new loop session in the foreground",
	Long: `Start a new session and run the loop until the task document is done,
the iteration budget is exhausted, the backend fails, or the session is
stopped.

Each iteration hands the prompt to the backend, then re-reads the task
document. The run completes only when no unchecked task is left anywhere
in the document and the final answer ends with <promise>COMPLETE</promise>.

The project directory defaults to the current directory and the session
name defaults to its base name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runName          string
	runTaskFile      string
	runMaxIterations int
	runMarker        string
	runModel         string
	runBackend       string
	runPrompt        string
	runPromptFile    string
	runContext       []string
	runDelay         time.Duration
	runServeAddr     string
)

func init() {
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "session name (default: project directory name)")
	runCmd.Flags().StringVarP(&runTaskFile, "task-file", "t", "", "task document relative to the project directory (default from config: PRD.md)")
	runCmd.Flags().IntVarP(&runMaxIterations, "max-iterations", "m", 0, "iteration budget (default from config: 10)")
	runCmd.Flags().StringVar(&runMarker, "marker", "", "completion marker inside <promise>...</promise>")
	runCmd.Flags().StringVar(&runModel, "model", "", "model passed to the backend")
	runCmd.Flags().StringVarP(&runBackend, "backend", "b", "", "backend: claude, codex or command")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "inline prompt template")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "file holding the prompt template")
	runCmd.Flags().StringSliceVar(&runContext, "context", nil, "glob of files listed in the prompt (repeatable)")
	runCmd.Flags().DurationVar(&runDelay, "delay", 0, "pause between iterations (default from config: 2s)")
	runCmd.Flags().StringVar(&runServeAddr, "serve", "", "also serve the status endpoint on this address while running")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies the flags the user set over the loaded config.
func applyRunFlags(cmd *cobra.Command, a *app) {
	flags := cmd.Flags()
	if flags.Changed("task-file") {
		a.cfg.Loop.TaskFile = runTaskFile
	}
	if flags.Changed("max-iterations") {
		a.cfg.Loop.MaxIterations = runMaxIterations
	}
	if flags.Changed("marker") {
		a.cfg.Loop.CompletionMarker = runMarker
	}
	if flags.Changed("model") {
		a.cfg.Backend.Model = runModel
	}
	if flags.Changed("backend") {
		a.cfg.Backend.Name = runBackend
	}
	if flags.Changed("prompt") {
		a.cfg.Loop.PromptTemplate = runPrompt
	}
	if flags.Changed("prompt-file") {
		a.cfg.Loop.PromptFile = runPromptFile
	}
	if flags.Changed("context") {
		a.cfg.Loop.ContextFiles = runContext
	}
	if flags.Changed("delay") {
		a.cfg.Loop.DelayMs = int(runDelay / time.Millisecond)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, a)

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}
	name := runName
	if name == "" {
		name = filepath.Base(dir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return startSession(ctx, a, name, dir, runServeAddr, cmd.OutOrStdout())
}

// startSession records a new session and runs its loop.
func startSession(ctx context.Context, a *app, name, dir, serveAddr string, out io.Writer) error {
	backend, err := newBackend(a.cfg)
	if err != nil {
		return err
	}
	if err := a.init(ctx); err != nil {
		return err
	}

	logPath := a.paths.SessionLogFile(name)
	if _, err := a.sessions.Start(ctx, session.Spec{
		Name:             name,
		PID:              os.Getpid(),
		Dir:              dir,
		TaskFile:         a.cfg.Loop.TaskFile,
		MaxIterations:    a.cfg.Loop.MaxIterations,
		CompletionMarker: a.cfg.Loop.CompletionMarker,
		Backend:          string(backend.Name()),
		Model:            a.cfg.Backend.Model,
		LogFile:          logPath,
	}); err != nil {
		if errors.Is(err, errors.ErrAlreadyExists) {
			return fmt.Errorf("%w (use 'ralphloop resume %s' or 'ralphloop rm %s')", err, name, name)
		}
		return err
	}

	logger, err := a.sessionLogger(name)
	if err != nil {
		return a.abandon(name, err)
	}
	defer logger.Close()

	fmt.Fprintf(out, "Session %s started (pid %d, log %s)\n", name, os.Getpid(), logPath)
	return a.runLoop(ctx, backend, logger, a.loopOptions(name, dir, 0), serveAddr, out)
}

// loopOptions builds the controller options for a session.
func (a *app) loopOptions(name, dir string, start int) loop.Options {
	return loop.Options{
		Session:          name,
		ProjectDir:       dir,
		TaskFile:         a.cfg.Loop.TaskFile,
		MaxIterations:    a.cfg.Loop.MaxIterations,
		CompletionMarker: a.cfg.Loop.CompletionMarker,
		Model:            a.cfg.Backend.Model,
		PromptTemplate:   a.cfg.Loop.PromptTemplate,
		PromptFile:       a.cfg.Loop.PromptFile,
		ContextFiles:     a.cfg.Loop.ContextFiles,
		OutputDir:        a.paths.OutputDir,
		StartIteration:   start,
	}
}

// runLoop drives the controller for a session that is already recorded as
// running, persisting every transition through the notify fan-out.
func (a *app) runLoop(ctx context.Context, backend ai.Backend, logger *logging.Logger, opts loop.Options, serveAddr string, out io.Writer) error {
	parser, err := a.parser()
	if err != nil {
		return a.abandon(opts.Session, err)
	}

	if serveAddr != "" {
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		srv := server.New(server.Options{
			Addr:     serveAddr,
			Sessions: a.sessions,
			Metrics:  a.metrics.Handler(),
			Logger:   logger,
		})
		go func() {
			if err := srv.ListenAndServe(serveCtx); err != nil {
				logger.Error("status endpoint failed", "addr", serveAddr, "error", err.Error())
			}
		}()
		fmt.Fprintf(out, "Serving status on http://%s\n", serveAddr)
	}

	fanout := notify.New(notify.Options{
		Store:    a.store,
		Webhooks: a.cfg.Notify.Webhooks,
		Events:   a.cfg.Notify.Events,
		Sender:   notify.NewWebhookClient(notify.WithTimeout(a.cfg.Notify.WebhookTimeout())),
		Metrics:  a.metrics,
		Logger:   logger,
	})
	controller := loop.New(backend,
		loop.WithLogger(logger),
		loop.WithParser(parser),
		loop.WithDelay(a.cfg.Loop.Delay()),
		loop.WithRecorder(a.metrics),
	)

	res, err := controller.Run(ctx, opts, fanout.Handler(ctx))
	if res.Status == "" && err != nil {
		return a.abandon(opts.Session, err)
	}

	printResult(out, opts.Session, res)

	switch {
	case err == nil:
		return nil
	case res.Status == state.StatusStopped && ctx.Err() != nil:
		return nil
	default:
		return err
	}
}

// abandon marks a session failed when its loop could not start.
func (a *app) abandon(name string, cause error) error {
	ctx := context.Background()
	if _, err := a.store.Transition(ctx, name, state.StatusFailed, state.Fields{}.WithError(cause.Error())); err != nil {
		a.logger.WithSession(name).Warn("failed to record failed session", "error", err.Error())
	}
	return cause
}

func printResult(out io.Writer, name string, res loop.Result) {
	remaining := "unknown"
	if res.RemainingTasks >= 0 {
		remaining = fmt.Sprintf("%d", res.RemainingTasks)
	}
	fmt.Fprintf(out, "Session %s %s after %d iteration(s) in %s; tasks remaining: %s\n",
		name, res.Status, res.Iterations, res.Duration.Round(time.Second), remaining)
	if res.OutputPath != "" {
		fmt.Fprintf(out, "Last transcript: %s\n", res.OutputPath)
	}
}
