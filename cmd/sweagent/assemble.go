package main

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/sweagent-go/sweagent/internal/agentloop"
	"github.com/sweagent-go/sweagent/internal/config"
	"github.com/sweagent-go/sweagent/internal/history"
	"github.com/sweagent-go/sweagent/internal/infra"
	"github.com/sweagent-go/sweagent/internal/model"
	"github.com/sweagent-go/sweagent/internal/parser"
	"github.com/sweagent-go/sweagent/internal/sandbox"
	"github.com/sweagent-go/sweagent/internal/tools"
	"github.com/sweagent-go/sweagent/internal/trajectory"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// buildRegistry loads every configured bundle directory and, if
// cfg.Watch is set, starts an fsnotify watcher that hot-reloads a bundle
// when its manifest changes underneath a long-running run-batch process.
// The returned stop func is always safe to call, even when watching was
// never started.
func buildRegistry(cfg config.ToolsConfig, logger *slog.Logger) (*tools.Registry, func() error, error) {
	reg := tools.NewRegistry()
	if err := tools.LoadBundleDirs(reg, cfg.BundleDirs); err != nil {
		return nil, nil, err
	}

	if !cfg.Watch || len(cfg.BundleDirs) == 0 {
		return reg, func() error { return nil }, nil
	}

	watcher := tools.NewWatcher(reg, cfg.BundleDirs, 0, logger)
	if err := watcher.Start(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("start bundle watcher: %w", err)
	}
	return reg, watcher.Close, nil
}

// preparedCloser adapts a *sandbox.Prepared to io.Closer so it can be
// handed to agentloop.Config.Closer directly: AgentLoop tears the whole
// sandbox down (shell process and container both) the moment a run reaches
// TERMINAL, rather than leaking a container per finished instance.
type preparedCloser struct {
	prepared *sandbox.Prepared
}

func (p preparedCloser) Close() error { return p.prepared.Close() }

// newTrajectoryMirror builds the optional S3 mirror named in cfg, or nil
// when no bucket is configured.
func newTrajectoryMirror(ctx context.Context, cfg config.TrajectoryConfig) (trajectory.Mirror, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config for trajectory mirror: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return trajectory.NewS3Mirror(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// buildRunner assembles one instance's full collaborator graph — sandbox,
// tool registry already built by the caller, parser, history, trajectory
// writer, and AgentLoop — and returns it as a batch.InstanceRunner-shaped
// value. The sandbox itself is not exposed to the caller: it is torn down
// automatically via agentloop.Config.Closer once the loop reaches a
// terminal status.
func buildRunner(
	ctx context.Context,
	cfg *config.Config,
	inst swe.Instance,
	baseClient model.ModelClient,
	registry *tools.Registry,
	mirror trajectory.Mirror,
	enableTracing bool,
	logger *slog.Logger,
) (*agentloop.Loop, error) {
	controller := sandbox.New(sandbox.Config{
		Registry:     registry,
		BundlesRoot:  cfg.Sandbox.BundlesRoot,
		DisableCache: cfg.Sandbox.DisableCache,
		SetupTimeout: cfg.Sandbox.SetupTimeout(),
		Logger:       logger,
	})
	prepared, err := controller.Prepare(ctx, inst)
	if err != nil {
		return nil, fmt.Errorf("prepare sandbox for %s: %w", inst.ID, err)
	}

	var exec agentloop.Executor = prepared.Shell
	modelClient := baseClient
	if enableTracing {
		exec = infra.TraceExecutor(prepared.Shell)
		modelClient = infra.TraceModelClient(baseClient)
	}

	outputRoot := cfg.Trajectory.OutputRoot
	if outputRoot == "" {
		outputRoot = "trajectories"
	}
	traj := swe.NewTrajectory(inst.ID, swe.EnvInfo{Image: inst.Image, BaseCommit: prepared.BaseCommit})
	writer := trajectory.New(outputRoot, inst.ID, traj, mirror)

	p := parser.New(registry, parser.Config{
		LastCodeBlockWins: cfg.Loop.LastCodeBlockWinsLenient,
		BlockedCommands:   cfg.Loop.BlockedCommands,
	})

	longRunning := make(map[string]bool, len(cfg.Loop.LongRunningTools))
	for _, name := range cfg.Loop.LongRunningTools {
		longRunning[name] = true
	}

	loop, err := agentloop.New(inst.ID, agentloop.Config{
		Model:            modelClient,
		ModelID:          cfg.Provider.DefaultModel,
		Parser:           p,
		Registry:         registry,
		Exec:             exec,
		Closer:           preparedCloser{prepared: prepared},
		History:          history.NewStore(),
		Writer:           writer,
		SystemPrompt:     systemPrompt,
		InstancePrompt:   inst.ProblemStatement,
		CostLimit:        cfg.Loop.CostLimit,
		RetryCap:         cfg.Loop.RetryCap,
		MaxTokens:        cfg.Loop.MaxTokens,
		DefaultTimeout:   cfg.Loop.DefaultTimeout(),
		LongTimeout:      cfg.Loop.LongTimeout(),
		NoOutputTimeout:  cfg.Loop.NoOutputTimeout(),
		LongRunningTools: longRunning,
		PatchComputer:    &agentloop.GitDiffPatchComputer{Exec: exec, BaseCommit: prepared.BaseCommit, Timeout: cfg.Loop.DefaultTimeout()},
		Logger:           logger,
	})
	if err != nil {
		_ = prepared.Close()
		return nil, fmt.Errorf("build agent loop for %s: %w", inst.ID, err)
	}
	return loop, nil
}

// systemPrompt is the fixed instruction preamble every instance run opens
// with, describing the turn protocol the parser enforces: one fenced action
// block per reply.
const systemPrompt = `You are an autonomous software engineering agent operating inside a Linux
shell. Each reply must contain your reasoning followed by exactly one fenced
code block naming the single command you want to run next. You will see the
command's output before your next turn. When the task is solved, run submit.`

// newInstanceID generates a filesystem-safe identifier for an instance file
// that didn't declare its own id, so operators can point run at an ad hoc
// problem statement without hand-authoring one.
func newInstanceID() string {
	return "instance-" + uuid.NewString()
}
