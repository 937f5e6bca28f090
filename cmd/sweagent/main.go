// Command sweagent drives an LM through a sandboxed shell to resolve a
// software engineering task: one instance at a time with `run`, a whole
// batch with `run-batch`, or a previously recorded trajectory replayed
// against a live sandbox with `run-replay`.
//
// # Basic usage
//
//	sweagent run --config sweagent.yaml --instance task.yaml
//	sweagent run-batch --config sweagent.yaml --instances tasks.yaml
//
// # Environment variables
//
//   - CONFIG_ROOT: base directory relative --config paths resolve against
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider credentials,
//     used when provider.api_key is absent from the config
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Separated from main so tests can
// exercise it without calling os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sweagent",
		Short: "sweagent resolves software engineering tasks with an LM-driven agent loop",
		Long: `sweagent drives a language model through a sandboxed shell session to
resolve a software engineering task end to end: it reads the problem
statement, lets the model issue shell commands through a constrained tool
surface, and records every turn to a trajectory file until the model submits
a patch or a terminal condition (cost limit, parse failures, environment
failure) ends the run.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildRunBatchCmd(),
		buildRunReplayCmd(),
		buildInspectorCmd(),
		buildTrajToDemoCmd(),
	)

	return rootCmd
}
