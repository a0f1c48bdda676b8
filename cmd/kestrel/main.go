// Command kestrel is the CLI entry point for the voice-first coding-assistant
// orchestrator: it loads configuration from the environment, wires the LLM
// provider, tool registry, session store, and Manager/Coder agent loop, and
// serves the HTTP/WebSocket control surface described in SPEC_FULL.md §6.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kestrel",
		Short: "Kestrel - voice-first coding-assistant orchestrator",
		Long: `Kestrel decomposes a natural-language coding request into a dependency-ordered
plan, dispatches each step to a tool-using coding agent, validates and retries
on failure, and streams structured events back to the client in real time.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(buildServeCmd(), buildSessionCmd())
	return root
}
