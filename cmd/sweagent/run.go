package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweagent-go/sweagent/internal/config"
	"github.com/sweagent-go/sweagent/internal/infra"
	"github.com/sweagent-go/sweagent/internal/instance"
)

func buildRunCmd() *cobra.Command {
	var (
		configFiles   []string
		overrides     []string
		instPath      string
		trace         bool
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent loop against a single instance",
		Example: `  sweagent run --config sweagent.yaml --instance task.yaml
  sweagent run -c base.yaml -c local.yaml --instance task.yaml --set loop.cost_limit=1.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(cmd.Context(), configFiles, overrides, instPath, trace, traceEndpoint)
		},
	}

	cmd.Flags().StringArrayVarP(&configFiles, "config", "c", nil, "YAML/JSON5 config file, repeatable; later files win on conflict")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "Dotted-path override a.b.c=v, repeatable, applied after all --config files")
	cmd.Flags().StringVar(&instPath, "instance", "", "Path to the instance file (required)")
	cmd.Flags().BoolVar(&trace, "trace", false, "Wrap the model and shell calls in OpenTelemetry spans")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP/gRPC collector endpoint; required with --trace")
	_ = cmd.MarkFlagRequired("instance")

	return cmd
}

func runSingle(ctx context.Context, configFiles, overrides []string, instPath string, trace bool, traceEndpoint string) error {
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
		return fmt.Errorf("run takes exactly one instance, %s declares %d", instPath, len(instances))
	}
	inst := instances[0]
	if inst.ID == "" {
		inst.ID = newInstanceID()
	}

	shutdownTracing, err := infra.NewTracerProvider(ctx, infra.TraceConfig{ServiceName: "sweagent", Endpoint: traceEndpoint})
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	client, err := buildModelClient(ctx, cfg.Provider)
	if err != nil {
		return err
	}

	registry, stopRegistry, err := buildRegistry(cfg.Tools, logger)
	if err != nil {
		return err
	}
	defer stopRegistry()

	mirror, err := newTrajectoryMirror(ctx, cfg.Trajectory)
	if err != nil {
		return err
	}

	loop, err := buildRunner(ctx, cfg, inst, client, registry, mirror, trace, logger)
	if err != nil {
		return err
	}

	status, err := loop.Run(ctx)
	if err != nil {
		return fmt.Errorf("instance %s: %w", inst.ID, err)
	}
	logger.Info("instance finished", "instance_id", inst.ID, "status", status)
	return nil
}
