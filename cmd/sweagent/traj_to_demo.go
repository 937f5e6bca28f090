package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

func buildTrajToDemoCmd() *cobra.Command {
	var (
		trajPath string
		outPath  string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "traj-to-demo",
		Short: "Convert a finished trajectory into a demonstration file for AgentLoop.Demonstrations",
		Long: `traj-to-demo strips a recorded trajectory down to its assistant/observation
turn pairs and writes them as a demonstration file: future runs can feed the
file back in as Demonstrations, giving the model a worked example in its
opening context instead of starting from the system prompt alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return trajToDemo(trajPath, outPath, format)
		},
	}

	cmd.Flags().StringVar(&trajPath, "trajectory", "", "Path to a recorded .traj.json file (required)")
	cmd.Flags().StringVar(&outPath, "output", "", "Path to write the demonstration file to (required)")
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml or json")
	_ = cmd.MarkFlagRequired("trajectory")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func trajToDemo(trajPath, outPath, format string) error {
	raw, err := os.ReadFile(trajPath)
	if err != nil {
		return fmt.Errorf("read trajectory: %w", err)
	}
	var traj swe.Trajectory
	if err := json.Unmarshal(raw, &traj); err != nil {
		return fmt.Errorf("parse trajectory %s: %w", trajPath, err)
	}
	if !traj.Status.Terminal() {
		return fmt.Errorf("trajectory %s did not reach a terminal status (status: %s), refusing to demo-ize an unfinished run", trajPath, traj.Status)
	}

	demo := demoTurns(traj.History)
	if len(demo) == 0 {
		return fmt.Errorf("trajectory %s has no assistant turns to demonstrate", trajPath)
	}

	var out []byte
	switch format {
	case "yaml", "":
		out, err = yaml.Marshal(demo)
	case "json":
		out, err = json.MarshalIndent(demo, "", "  ")
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
	if err != nil {
		return fmt.Errorf("marshal demonstration: %w", err)
	}

	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}

// demoTurns drops every turn that isn't part of the assistant/observation
// exchange (system and user prompts are supplied fresh by the run the
// demonstration is attached to) and renumbers StepIndex from zero so the
// demonstration reads as a self-contained episode.
func demoTurns(history []swe.Turn) []swe.Turn {
	out := make([]swe.Turn, 0, len(history))
	for _, turn := range history {
		if turn.Role != swe.RoleAssistant && turn.Role != swe.RoleToolObservation {
			continue
		}
		turn.StepIndex = len(out)
		out = append(out, turn)
	}
	return out
}
