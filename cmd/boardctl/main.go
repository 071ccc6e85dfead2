// Command boardctl drives a salesboard server from the terminal: it shows
// the pipeline board, moves leads through the drag reconciler and creates
// invoices.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"salesboard/internal/apiclient"
)

type app struct {
	server  string
	token   string
	timeout time.Duration
	verbose bool

	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

func (a *app) client() *apiclient.Client {
	return apiclient.New(a.server, a.token, nil)
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:           "boardctl",
		Short:         "Pipeline board and invoice client for salesboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}

	root.PersistentFlags().StringVar(&a.server, "server", envOr("BOARDCTL_SERVER", "http://localhost:8080"), "salesboard base URL")
	root.PersistentFlags().StringVar(&a.token, "token", os.Getenv("BOARDCTL_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 15*time.Second, "per-command timeout")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newBoardCmd(a),
		newMoveCmd(a),
		newTerminalCmd(a, "won", "Mark a lead as won"),
		newTerminalCmd(a, "lost", "Mark a lead as lost"),
		newTerminalCmd(a, "delete", "Delete a lead from the pipeline"),
		newInvoiceCmd(a),
		newNextNumberCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
