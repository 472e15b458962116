package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/ralphloop/internal/session"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Continue a stopped, failed, stale or exhausted session",
	Long: `Resume brings a session back to running under this process and
continues the loop from its recorded iteration. The project directory,
task file, marker, backend and model come from the session record.

A session that hit its budget can be resumed with a larger
--max-iterations. Complete sessions cannot be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var (
	resumeMaxIterations int
	resumeServe         string
)

func init() {
	resumeCmd.Flags().IntVarP(&resumeMaxIterations, "max-iterations", "m", 0, "raise the iteration budget")
	resumeCmd.Flags().StringVar(&resumeServe, "serve", "", "also serve the status endpoint on this address while running")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return resumeSession(ctx, a, args[0], resumeMaxIterations, resumeServe, cmd.OutOrStdout())
}

// resumeSession takes over a recorded session and continues its loop.
func resumeSession(ctx context.Context, a *app, name string, maxIterations int, serveAddr string, out io.Writer) error {
	rec, err := a.sessions.Resume(ctx, name, session.ResumeSpec{
		PID:           os.Getpid(),
		MaxIterations: maxIterations,
		LogFile:       a.paths.SessionLogFile(name),
	})
	if err != nil {
		return err
	}

	logger, err := a.sessionLogger(name)
	if err != nil {
		return a.abandon(name, err)
	}
	defer logger.Close()

	// the record decides what is being worked on
	if rec.Backend != "" {
		a.cfg.Backend.Name = rec.Backend
	}
	a.cfg.Backend.Model = rec.Model
	a.cfg.Loop.TaskFile = rec.TaskFile
	a.cfg.Loop.MaxIterations = rec.MaxIterations
	if rec.CompletionMarker != "" {
		a.cfg.Loop.CompletionMarker = rec.CompletionMarker
	}

	backend, err := newBackend(a.cfg)
	if err != nil {
		return a.abandon(name, err)
	}

	fmt.Fprintf(out, "Session %s resumed at iteration %d of %d (pid %d)\n",
		name, rec.Iteration, rec.MaxIterations, os.Getpid())
	return a.runLoop(ctx, backend, logger, a.loopOptions(name, rec.Dir, rec.Iteration), serveAddr, out)
}
