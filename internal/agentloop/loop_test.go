package agentloop

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweagent-go/sweagent/internal/history"
	"github.com/sweagent-go/sweagent/internal/model"
	"github.com/sweagent-go/sweagent/internal/parser"
	"github.com/sweagent-go/sweagent/internal/shell"
	"github.com/sweagent-go/sweagent/internal/tools"
	"github.com/sweagent-go/sweagent/internal/trajectory"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	bundle := &swe.ToolBundle{
		Name: "test",
		Tools: []swe.ToolSpec{
			{Name: "ls", Signature: "ls"},
			{Name: "echo", Signature: "echo text", Args: []swe.ToolArg{{Name: "text", Type: swe.ArgString, Required: true}}},
			{Name: "sleep", Signature: "sleep seconds", Args: []swe.ToolArg{{Name: "seconds", Type: swe.ArgInteger, Required: true}}},
			{Name: "edit", Signature: "edit line replacement", Args: []swe.ToolArg{
				{Name: "line", Type: swe.ArgInteger, Required: true},
				{Name: "replacement", Type: swe.ArgString, Required: true},
			}},
			{Name: "submit", Signature: "submit", Terminal: true},
		},
	}
	if err := reg.LoadBundle(bundle); err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	return reg
}

// fakeExecutor is a deterministic Executor double: commands are matched by
// exact string against a canned script, so tests never spawn a real shell.
type fakeExecutor struct {
	scripted map[string]func() (shell.Result, error)
	calls    []string
}

func (f *fakeExecutor) Exec(ctx context.Context, command string, timeout, noOutputTimeout time.Duration) (shell.Result, error) {
	f.calls = append(f.calls, command)
	if fn, ok := f.scripted[command]; ok {
		return fn()
	}
	return shell.Result{Stdout: []byte("ok\n"), ExitCode: 0}, nil
}

func baseConfig(t *testing.T, m model.ModelClient, exec Executor) Config {
	t.Helper()
	reg := testRegistry(t)
	return Config{
		Model:          m,
		ModelID:        "test-model",
		Parser:         parser.New(reg, parser.Config{}),
		Registry:       reg,
		Exec:           exec,
		History:        history.NewStore(),
		Writer:         newTestWriter(t, "instance-1"),
		SystemPrompt:   "system",
		InstancePrompt: "fix the bug",
		RetryCap:       2,
	}
}

func codeBlock(body string) string {
	return "```\n" + body + "\n```"
}

func TestEmptyReplyModelReachesExitFormat(t *testing.T) {
	m := model.NewReplayModelFromText("", "")
	cfg := baseConfig(t, m, &fakeExecutor{scripted: map[string]func() (shell.Result, error){}})
	loop, err := New("instance-1", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != swe.StatusExitFormat {
		t.Fatalf("expected exit_format, got %s", status)
	}

	turns := cfg.History.Snapshot()
	got := 0
	for _, turn := range turns {
		if turn.Role == swe.RoleAssistant || turn.Role == swe.RoleToolObservation {
			got++
		}
	}
	if got != 4 {
		t.Fatalf("expected 4 assistant/observation turns after setup, got %d", got)
	}
}

func TestInstantSubmitModel(t *testing.T) {
	m := model.NewReplayModel([]model.Response{{Text: codeBlock("submit"), Cost: 0.1}})
	exec := &fakeExecutor{scripted: map[string]func() (shell.Result, error){
		"git diff abc123": func() (shell.Result, error) { return shell.Result{Stdout: []byte("")}, nil },
	}}
	cfg := baseConfig(t, m, exec)
	cfg.PatchComputer = &GitDiffPatchComputer{Exec: exec, BaseCommit: "abc123"}

	loop, err := New("instance-2", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != swe.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", status)
	}
	if len(exec.calls) != 1 || !strings.HasPrefix(exec.calls[0], "git diff") {
		t.Fatalf("expected a single git diff call, got %v", exec.calls)
	}
}

func TestTimeoutRecoveryThenSubmit(t *testing.T) {
	m := model.NewReplayModel([]model.Response{
		{Text: codeBlock("sleep 999")},
		{Text: codeBlock("echo done")},
		{Text: codeBlock("submit")},
	})
	exec := &fakeExecutor{scripted: map[string]func() (shell.Result, error){
		"sleep 999": func() (shell.Result, error) {
			return shell.Result{Stdout: []byte("partial"), ExitCode: -1}, &swe.ExecTimeoutError{Command: "sleep 999", Elapsed: "1s"}
		},
	}}
	cfg := baseConfig(t, m, exec)
	cfg.PatchComputer = &GitDiffPatchComputer{Exec: exec, BaseCommit: ""}

	loop, err := New("instance-3", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != swe.StatusSubmitted {
		t.Fatalf("expected submitted after recovering from timeout, got %s", status)
	}

	var sawTimeoutObservation bool
	for _, turn := range cfg.History.Snapshot() {
		if turn.Role == swe.RoleToolObservation && turn.Observation != nil && strings.Contains(string(turn.Observation.Output), "[timeout]") {
			sawTimeoutObservation = true
		}
	}
	if !sawTimeoutObservation {
		t.Fatal("expected a timeout notice in the observation history")
	}
}

func TestCostCutoffAfterTwoExecutions(t *testing.T) {
	resp := func() model.Response { return model.Response{Text: codeBlock("ls"), Cost: 0.4} }
	m := model.NewReplayModel([]model.Response{resp(), resp(), resp(), resp()})
	exec := &fakeExecutor{scripted: map[string]func() (shell.Result, error){}}
	cfg := baseConfig(t, m, exec)
	cfg.CostLimit = 0.8

	loop, err := New("instance-4", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != swe.StatusExitCost {
		t.Fatalf("expected exit_cost, got %s", status)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("expected exactly 2 successful executions before cutoff, got %d", len(exec.calls))
	}
}

func TestEditThenSubmitProducesNonEmptyPatch(t *testing.T) {
	m := model.NewReplayModel([]model.Response{
		{Text: codeBlock("edit 12\nreturn fixed_value")},
		{Text: codeBlock("submit")},
	})
	exec := &fakeExecutor{scripted: map[string]func() (shell.Result, error){
		"git diff abc123": func() (shell.Result, error) {
			return shell.Result{Stdout: []byte("diff --git a/f.py b/f.py\n-broken\n+fixed_value\n")}, nil
		},
	}}
	cfg := baseConfig(t, m, exec)
	cfg.PatchComputer = &GitDiffPatchComputer{Exec: exec, BaseCommit: "abc123"}
	writer, dir := newTestWriterWithDir(t, "instance-5")
	cfg.Writer = writer

	loop, err := New("instance-5", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != swe.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", status)
	}

	_, traj, err := trajectory.Inspect(dir, "instance-5")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if traj.FinalPatch == "" {
		t.Fatal("expected a non-empty final patch")
	}
}

func TestProviderExhaustionYieldsExitEnvironment(t *testing.T) {
	m := model.NewReplayModel(nil)
	m.Exhausted = &swe.ProviderTransientError{Cause: errors.New("rate limited")}
	cfg := baseConfig(t, m, &fakeExecutor{scripted: map[string]func() (shell.Result, error){}})

	loop, err := New("instance-6", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := loop.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if status != swe.StatusExitEnvironment {
		t.Fatalf("expected exit_environment, got %s", status)
	}
}

func TestCancelledContextYieldsAborted(t *testing.T) {
	m := model.NewReplayModel(nil)
	m.Exhausted = context.Canceled
	cfg := baseConfig(t, m, &fakeExecutor{scripted: map[string]func() (shell.Result, error){}})

	loop, err := New("instance-7", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, err := loop.Run(ctx)
	if err == nil {
		t.Fatal("expected an error")
	}
	if status != swe.StatusAborted {
		t.Fatalf("expected aborted, got %s", status)
	}
}

func TestRenderCommandUsesRawForShellFormatActions(t *testing.T) {
	spec := swe.ToolSpec{Name: "echo", Args: []swe.ToolArg{{Name: "text", Type: swe.ArgString, Required: true}}}
	action := &swe.Action{Name: "echo", Raw: "echo hello world", Args: map[string]any{"text": "hello world"}}
	if got := renderCommand(spec, action); got != "echo hello world" {
		t.Fatalf("expected raw command preserved, got %q", got)
	}
}

func TestRenderCommandRendersFromArgsForFunctionCallActions(t *testing.T) {
	spec := swe.ToolSpec{Name: "echo", Args: []swe.ToolArg{{Name: "text", Type: swe.ArgString, Required: true}}}
	action := &swe.Action{Name: "echo", Raw: `{"text":"hi there"}`, Args: map[string]any{"text": "hi there"}}
	got := renderCommand(spec, action)
	if got != `echo 'hi there'` {
		t.Fatalf("expected rendered+quoted command, got %q", got)
	}
}
