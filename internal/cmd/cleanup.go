package cmd

import (
	"fmt"

	"github.com/Iron-Ham/ralphloop/internal/state"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Find running sessions whose process has died",
	Long: `Cleanup scans the state file for sessions recorded as running whose
process no longer exists. By default they are marked stale so they can be
resumed; with --remove their records are deleted.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

var cleanupRemove bool

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupRemove, "remove", false, "delete dead sessions instead of marking them stale")

	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	mode := state.ModeMark
	if cleanupRemove {
		mode = state.ModeRemove
	}

	names, err := a.sessions.Cleanup(cmd.Context(), mode)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No stale sessions found.")
		return nil
	}
	verb := "Marked stale"
	if mode == state.ModeRemove {
		verb = "Removed"
	}
	for _, name := range names {
		fmt.Fprintf(out, "%s: %s\n", verb, name)
	}
	return nil
}
