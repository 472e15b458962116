package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/ralphloop/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve session status over HTTP",
	Long: `Serve exposes the state file as JSON:

  GET    /health
  GET    /sessions[?status=running]
  GET    /sessions/{name}
  POST   /sessions/{name}/stop
  DELETE /sessions/{name}[?force=true]
  GET    /metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config: 127.0.0.1:7777)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.init(cmd.Context()); err != nil {
		return err
	}

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Options{
		Addr:     addr,
		Sessions: a.sessions,
		Metrics:  a.metrics.Handler(),
		Logger:   a.logger,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Serving status on http://%s\n", addr)
	return srv.ListenAndServe(ctx)
}
