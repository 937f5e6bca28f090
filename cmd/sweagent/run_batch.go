package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweagent-go/sweagent/internal/batch"
	"github.com/sweagent-go/sweagent/internal/config"
	"github.com/sweagent-go/sweagent/internal/infra"
	"github.com/sweagent-go/sweagent/internal/instance"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

func buildRunBatchCmd() *cobra.Command {
	var (
		configFiles   []string
		overrides     []string
		instPath      string
		trace         bool
		traceEndpoint string
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "run-batch",
		Short: "Run the agent loop over every instance in a file or directory",
		Example: `  sweagent run-batch --config sweagent.yaml --instances tasks/
  sweagent run-batch -c base.yaml --instances tasks.yaml --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), configFiles, overrides, instPath, trace, traceEndpoint, metricsAddr)
		},
	}

	cmd.Flags().StringArrayVarP(&configFiles, "config", "c", nil, "YAML/JSON5 config file, repeatable; later files win on conflict")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "Dotted-path override a.b.c=v, repeatable, applied after all --config files")
	cmd.Flags().StringVar(&instPath, "instances", "", "Instance file or directory of instance files (required)")
	cmd.Flags().BoolVar(&trace, "trace", false, "Wrap the model and shell calls in OpenTelemetry spans")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP/gRPC collector endpoint; required with --trace")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address while the batch runs")
	_ = cmd.MarkFlagRequired("instances")

	return cmd
}

func runBatch(ctx context.Context, configFiles, overrides []string, instPath string, trace bool, traceEndpoint, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFiles, overrides)
	if err != nil {
		return err
	}

	logger, closeLog := infra.NewLogger(cfg.Logging)
	defer closeLog()

	instances, err := loadInstances(instPath)
	if err != nil {
		return err
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

	index, closeIndex, err := buildResumeIndex(cfg.Batch.Index)
	if err != nil {
		return err
	}
	defer closeIndex()

	var sink batch.EventSink = batch.EventSinkFunc(func(ev batch.Event) {
		logEvent(logger, ev)
	})

	if metricsAddr != "" {
		metrics := infra.NewMetrics()
		sink = metrics.Sink(sink)
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	factory := func(ctx context.Context, inst swe.Instance) (batch.InstanceRunner, error) {
		return buildRunner(ctx, cfg, inst, client, registry, mirror, trace, logger)
	}

	runner := batch.New(batch.Config{
		Workers:    cfg.Batch.Workers,
		OutputRoot: cfg.Trajectory.OutputRoot,
		Redo:       cfg.Batch.Redo,
		Shuffle:    cfg.Batch.Shuffle,
		Seed:       cfg.Batch.Seed,
		Factory:    factory,
		Sink:       sink,
		Index:      index,
	})

	if err := runner.Run(ctx, instances); err != nil {
		return err
	}

	stats := runner.Stats()
	logger.Info("batch finished",
		"successes", stats.Successes,
		"failures", stats.Failures,
		"skipped", stats.Skipped,
		"total_cost", stats.TotalCost,
	)
	return nil
}

// loadInstances accepts either a single instance file or a directory of
// instance files, mirroring instance.Load/LoadDir's own split.
func loadInstances(path string) ([]swe.Instance, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return instance.LoadDir(path)
	}
	return instance.Load(path)
}

// buildResumeIndex selects the resume backend named by cfg.Driver, or
// returns a nil index (and a no-op closer) when resume tracking is
// disabled, in which case BatchRunner falls back to scanning trajectory
// files directly.
func buildResumeIndex(cfg config.IndexConfig) (batch.ResumeIndex, func() error, error) {
	switch cfg.Driver {
	case "":
		return nil, func() error { return nil }, nil
	case "sqlite":
		index, err := batch.OpenSQLiteResumeIndex(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite resume index: %w", err)
		}
		return index, index.Close, nil
	case "postgres":
		index, err := batch.OpenPostgresResumeIndex(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres resume index: %w", err)
		}
		return index, index.Close, nil
	default:
		return nil, nil, &swe.ConfigError{Component: "batch.index", Reason: fmt.Sprintf("unknown driver %q (want sqlite or postgres)", cfg.Driver)}
	}
}

func logEvent(logger *slog.Logger, ev batch.Event) {
	switch ev.Type {
	case batch.EventFailure, batch.EventAborted:
		logger.Warn("instance event", "type", ev.Type, "instance_id", ev.InstanceID, "status", ev.Status, "error", ev.Error)
	case batch.EventProgress:
		logger.Info("progress", "completed", ev.Completed, "total", ev.Total)
	default:
		logger.Info("instance event", "type", ev.Type, "instance_id", ev.InstanceID, "status", ev.Status, "cost", ev.Cost)
	}
}
