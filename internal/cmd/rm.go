package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:     "rm <name>...",
	Aliases: []string{"remove"},
	Short:   "Remove session records",
	Long: `Remove deletes session records from the state file. Sessions whose
loop is still running are refused unless --force is given; --force does
not signal the process, use 'stop' for that.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

var rmForce bool

func init() {
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "remove even if the session is running")

	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	for _, name := range args {
		if err := a.sessions.Remove(cmd.Context(), name, rmForce); err != nil {
			return fmt.Errorf("failed to remove session %s: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed session %s\n", name)
	}
	return nil
}
