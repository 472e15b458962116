package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/state"
	"github.com/Iron-Ham/ralphloop/internal/tui/styles"
	"github.com/Iron-Ham/ralphloop/internal/tui/watch"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show session status",
	Long: `Show every recorded session, or the details of one.

With --watch the table refreshes whenever the state file changes; use
the arrow keys to select a session and 's' to stop it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusWatch  bool
	statusOutput string
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "refresh live until interrupted")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", outputTable, "output format: table, json or yaml")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	switch statusOutput {
	case outputTable, outputJSON, outputYAML:
	default:
		return fmt.Errorf("invalid output format %q (valid: table, json, yaml)", statusOutput)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.init(cmd.Context()); err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}

	if statusWatch {
		return watchStatus(cmd.Context(), a, name)
	}
	return printStatus(cmd.Context(), a, name, statusOutput, cmd.OutOrStdout(), time.Now())
}

// printStatus writes one snapshot of the state file to out.
func printStatus(ctx context.Context, a *app, name, format string, out io.Writer, now time.Time) error {
	if name != "" {
		rec, err := a.store.Get(ctx, name)
		if err != nil {
			return err
		}
		switch format {
		case outputJSON:
			return writeJSON(out, rec)
		case outputYAML:
			return writeYAML(out, rec)
		}
		renderDetail(out, rec, now, isTerminal(out))
		return nil
	}

	records, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	switch format {
	case outputJSON:
		return writeJSON(out, records)
	case outputYAML:
		return writeYAML(out, records)
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	if isTerminal(out) {
		fmt.Fprint(out, watch.RenderTable(records, now, -1))
		return nil
	}
	return renderPlainTable(out, records, now)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML renders v through its JSON form so records keep their state
// file keys.
func writeYAML(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func renderPlainTable(out io.Writer, records []state.Record, now time.Time) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(watch.Columns, "\t"))
	for _, rec := range records {
		fmt.Fprintln(tw, strings.Join(watch.Row(rec, now), "\t"))
	}
	return tw.Flush()
}

func renderDetail(out io.Writer, rec state.Record, now time.Time, styled bool) {
	row := watch.Row(rec, now)
	status := row[1]
	label := func(s string) string { return s }
	if styled {
		status = styles.RenderStatus(status)
		label = func(s string) string { return styles.Muted.Render(s) }
	}

	lines := [][2]string{
		{"Session", rec.Name},
		{"Status", status},
		{"Iteration", row[2]},
		{"Tasks left", row[3]},
		{"PID", row[4]},
		{"Backend", row[5]},
		{"Model", rec.Model},
		{"Directory", rec.Dir},
		{"Task file", rec.TaskFile},
		{"Marker", rec.CompletionMarker},
		{"Log", rec.LogFile},
		{"Updated", row[6]},
	}
	if !rec.StartedAt.IsZero() {
		lines = append(lines, [2]string{"Started", rec.StartedAt.Local().Format(time.DateTime)})
	}
	for _, l := range lines {
		if l[1] == "" {
			continue
		}
		fmt.Fprintf(out, "%s %s\n", label(fmt.Sprintf("%-11s", l[0]+":")), l[1])
	}
	if rec.Error != "" {
		msg := "Error: " + rec.Error
		if styled {
			msg = styles.ErrorMsg.Render(msg)
		}
		fmt.Fprintln(out, msg)
	}
}

// watchStatus runs the live table until the user quits.
func watchStatus(ctx context.Context, a *app, name string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []watch.Option{
		watch.WithStopper(func(ctx context.Context, name string) error {
			_, err := a.sessions.Stop(ctx, name)
			return err
		}),
	}
	if name != "" {
		opts = append(opts, watch.WithFilter(name))
	}

	fw, err := watch.NewFileWatcher(a.store.Path(), a.logger)
	if err != nil {
		// polling still refreshes the table
		a.logger.Warn("state file watch unavailable", "error", err.Error())
	} else {
		go fw.Run(ctx)
		opts = append(opts, watch.WithChanges(fw.Changes()))
	}

	return watch.Run(watch.NewModel(ctx, a.store.List, opts...))
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
