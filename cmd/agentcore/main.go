// Package main provides the CLI entry point for agentcore, a multi-tenant
// LLM agent runtime: it drives turn-based conversations with an LLM,
// invokes tools, and streams incremental output back to whichever channel
// sent the message (webhook, HTTP+SSE, or this binary's own stdin/stdout
// REPL).
//
// # Basic usage
//
//	agentcore run                 # interactive stdin/stdout session
//	agentcore serve --config agentcore.yaml
//	agentcore migrate
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"

	envFile string
	cfgFile string
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the root command and its subcommands. Separated
// from main so tests can exercise it without touching os.Exit.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentcore",
		Short:        "agentcore - multi-tenant LLM agent runtime",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file to seed environment variables (optional)")
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to a YAML configuration override file (optional)")

	root.AddCommand(
		buildRunCmd(),
		buildServeCmd(),
		buildMigrateCmd(),
	)
	return root
}
