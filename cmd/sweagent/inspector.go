package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sweagent-go/sweagent/internal/config"
	"github.com/sweagent-go/sweagent/internal/instance"
	"github.com/sweagent-go/sweagent/internal/trajectory"
)

func buildInspectorCmd() *cobra.Command {
	var (
		configFiles []string
		overrides   []string
		schema      bool
		docs        bool
		outputRoot  string
		instanceID  string
	)

	cmd := &cobra.Command{
		Use:   "inspector",
		Short: "Inspect the instance schema, tool registry, or a recorded trajectory's resume state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if schema {
				raw, err := instance.Schema()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			}

			cfg, err := config.Load(configFiles, overrides)
			if err != nil {
				return err
			}

			if docs {
				registry, stopRegistry, err := buildRegistry(cfg.Tools, nil)
				if err != nil {
					return err
				}
				defer stopRegistry()
				fmt.Fprintln(cmd.OutOrStdout(), registry.Docs())
				return nil
			}

			if instanceID == "" {
				return fmt.Errorf("--instance-id is required unless --schema or --docs is set")
			}
			root := outputRoot
			if root == "" {
				root = cfg.Trajectory.OutputRoot
			}
			state, traj, err := trajectory.Inspect(root, instanceID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resume state: %s\n", resumeStateName(state))
			if traj != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nturns: %d\ntotal cost: %.4f\n", traj.Status, len(traj.History), traj.TotalCost)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&configFiles, "config", "c", nil, "YAML/JSON5 config file, repeatable; later files win on conflict")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "Dotted-path override a.b.c=v, repeatable, applied after all --config files")
	cmd.Flags().BoolVar(&schema, "schema", false, "Print the instance file's JSON schema and exit")
	cmd.Flags().BoolVar(&docs, "docs", false, "Print the configured tool registry's documentation and exit")
	cmd.Flags().StringVar(&outputRoot, "output-root", "", "Trajectory directory to inspect; defaults to trajectory.output_root")
	cmd.Flags().StringVar(&instanceID, "instance-id", "", "Instance ID whose trajectory resume state to report")

	return cmd
}

func resumeStateName(state trajectory.ResumeState) string {
	switch state {
	case trajectory.ResumeNone:
		return "none"
	case trajectory.ResumeTerminal:
		return "terminal"
	case trajectory.ResumePartial:
		return "partial"
	case trajectory.ResumeCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}
