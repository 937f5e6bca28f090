package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweagent-go/sweagent/internal/config"
	"github.com/sweagent-go/sweagent/internal/infra"
	"github.com/sweagent-go/sweagent/internal/instance"
	"github.com/sweagent-go/sweagent/internal/model"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

func buildRunReplayCmd() *cobra.Command {
	var (
		configFiles []string
		overrides   []string
		instPath    string
		trajPath    string
	)

	cmd := &cobra.Command{
		Use:   "run-replay",
		Short: "Re-execute a recorded trajectory's actions against a fresh sandbox",
		Long: `run-replay feeds a previously recorded trajectory's assistant turns back
through AgentLoop in order, using a ReplayModel in place of a live provider,
so the exact action sequence runs again against a newly prepared sandbox
without spending any model budget. Useful for verifying an environment
change didn't alter a known-good run's outcome.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), configFiles, overrides, instPath, trajPath)
		},
	}

	cmd.Flags().StringArrayVarP(&configFiles, "config", "c", nil, "YAML/JSON5 config file, repeatable; later files win on conflict")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "Dotted-path override a.b.c=v, repeatable, applied after all --config files")
	cmd.Flags().StringVar(&instPath, "instance", "", "Path to the instance file the trajectory was originally recorded against (required)")
	cmd.Flags().StringVar(&trajPath, "trajectory", "", "Path to a recorded .traj.json file (required)")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("trajectory")

	return cmd
}

func runReplay(ctx context.Context, configFiles, overrides []string, instPath, trajPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFiles, overrides)
	if err != nil {
		return err
	}

	logger, closeLog := infra.NewLogger(cfg.Logging)
	defer closeLog()

	instances, err := instance.Load(instPath)
	if err != nil {
		return err
	}
	if len(instances) != 1 {
		return fmt.Errorf("run-replay takes exactly one instance, %s declares %d", instPath, len(instances))
	}
	inst := instances[0]

	raw, err := os.ReadFile(trajPath)
	if err != nil {
		return fmt.Errorf("read trajectory: %w", err)
	}
	var recorded swe.Trajectory
	if err := json.Unmarshal(raw, &recorded); err != nil {
		return fmt.Errorf("parse trajectory %s: %w", trajPath, err)
	}

	replay := model.NewReplayModelFromText(assistantTexts(recorded.History)...)

	registry, stopRegistry, err := buildRegistry(cfg.Tools, logger)
	if err != nil {
		return err
	}
	defer stopRegistry()

	loop, err := buildRunner(ctx, cfg, inst, replay, registry, nil, false, logger)
	if err != nil {
		return err
	}

	status, err := loop.Run(ctx)
	if err != nil {
		return fmt.Errorf("replay %s: %w", inst.ID, err)
	}
	logger.Info("replay finished", "instance_id", inst.ID, "status", status, "recorded_status", recorded.Status, "actions_replayed", replay.Calls())
	return nil
}

// assistantTexts rebuilds each assistant turn's model output, in order, for
// NewReplayModelFromText: the thought followed by the recorded action text
// wrapped in a fenced code block, the same shape renderAssistantContent
// sends back to the model, so the replayed run's parser recovers the
// recorded command. The text is rebuilt, not the original bytes; a
// function-call action, whose Raw is not a command line, does not parse
// back into the same action.
func assistantTexts(history []swe.Turn) []string {
	texts := make([]string, 0, len(history))
	for _, turn := range history {
		if turn.Role != swe.RoleAssistant || turn.Action == nil {
			continue
		}
		text := turn.Thought
		if turn.Action.Raw != "" {
			if text != "" {
				text += "\n"
			}
			text += "```\n" + turn.Action.Raw + "\n```"
		}
		texts = append(texts, text)
	}
	return texts
}
