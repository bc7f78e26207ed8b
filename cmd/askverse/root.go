package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "askverse",
	Short: "Multi-agent question answering over documentation, APIs and data",
	Long: `askverse answers natural-language questions by decomposing them into
sub-tasks for document, API and data agents and merging their answers.

With no subcommand it runs the HTTP and WebSocket server.

Configuration:
  Config file: ./config.yaml (override with --config)
  Environment: ASKVERSE_* variables and .env files override the file`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(createUserCmd)
	rootCmd.AddCommand(createKeyCmd)
	rootCmd.AddCommand(indexAPIsCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
