package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running session",
	Long: `Stop marks a running session as stopped and sends SIGTERM to the
process running its loop, if that process is still alive. The loop
finishes the current iteration's bookkeeping and exits.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	rec, err := a.sessions.Stop(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session %s stopped at iteration %d\n", rec.Name, rec.Iteration)
	return nil
}
