package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nt4mon",
		Short: "Watch and record NT4 publish/subscribe servers",
		Long: `nt4mon is a client for NT4 servers.

It connects over WebSocket, subscribes to topics, and either streams
value updates to stdout (watch) or records them for snapshot export
to a file or S3 (record). The connection survives server restarts;
subscriptions and published values are replayed automatically.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		watchCmd(),
		recordCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newLogger builds the CLI logger. Debug level includes per-frame detail
// from the protocol engine.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
