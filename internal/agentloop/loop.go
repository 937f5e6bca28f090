// Package agentloop drives one Instance through the turn-by-turn state
// machine: SETUP composes the prompts, THINKING queries the model and
// checks the cost limit, parsing recovers from malformed replies up to a
// retry cap, EXECUTING dispatches the action through a shell (or a
// Go-native tool), OBSERVING shapes and records the result, and TERMINAL
// writes the final trajectory.
//
// Phase is tracked as an explicit state field rather than nested function
// calls, with THINKING querying the model and a parse step deciding whether
// to execute or retry, and every step appended to history as it happens.
// AgentLoop does not stream — a ModelClient here returns one complete
// Response per call — and has no async job queue or session/branch
// persistence layer, since a SWE-agent instance is a single linear run
// rather than an interactively-branchable chat.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sweagent-go/sweagent/internal/history"
	"github.com/sweagent-go/sweagent/internal/model"
	"github.com/sweagent-go/sweagent/internal/parser"
	"github.com/sweagent-go/sweagent/internal/shell"
	"github.com/sweagent-go/sweagent/internal/tools"
	"github.com/sweagent-go/sweagent/internal/trajectory"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Phase names one state of the loop.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseThinking
	PhaseExecuting
	PhaseObserving
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseThinking:
		return "thinking"
	case PhaseExecuting:
		return "executing"
	case PhaseObserving:
		return "observing"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Executor is the narrow subset of shell.SessionShell AgentLoop depends on,
// so tests can substitute a fake without spawning a real shell process.
type Executor interface {
	Exec(ctx context.Context, command string, timeout, noOutputTimeout time.Duration) (shell.Result, error)
}

var _ Executor = (*shell.SessionShell)(nil)

// PatchComputer produces the final patch at a terminal action, diffing the
// working tree against the recorded base commit.
type PatchComputer interface {
	ComputePatch(ctx context.Context) (string, error)
}

// StateInspector gathers a hidden state observation (cwd, open file, env
// snapshot) after an action executes. This is a narrow capability rather
// than a cyclic Agent<->Env back-pointer: AgentLoop calls it, but never
// holds a reference to whatever prepared the environment.
type StateInspector interface {
	Inspect(ctx context.Context) (swe.SessionState, error)
}

// OutputShaper rewrites an observation before it is appended to history,
// e.g. prepending a file view for an editor tool. Called with the action
// that produced obs; may mutate and return a new Observation.
type OutputShaper func(action *swe.Action, obs swe.Observation) swe.Observation

// Config wires every collaborator AgentLoop needs for one instance run.
type Config struct {
	Model    model.ModelClient
	ModelID  string
	Parser   *parser.Parser
	Registry *tools.Registry
	Exec     Executor
	// Closer shuts down the session when the loop reaches TERMINAL, e.g. a
	// *shell.SessionShell. Optional.
	Closer io.Closer

	History   *history.Store
	Processor history.Processor
	Writer    *trajectory.Writer

	SystemPrompt   string
	InstancePrompt string
	Demonstrations []swe.Turn

	// CostLimit is the per-instance budget; zero disables the check.
	CostLimit float64
	// RetryCap is the number of consecutive parse failures tolerated before
	// exit_format; 2 is the typical default.
	RetryCap  int
	MaxTokens int

	DefaultTimeout   time.Duration
	LongTimeout      time.Duration
	LongRunningTools map[string]bool
	NoOutputTimeout  time.Duration

	PatchComputer  PatchComputer
	StateInspector StateInspector
	Shapers        map[string]OutputShaper
	// TerminalStatus maps a terminal tool's name to the Status its
	// invocation sets; tools absent from this map default to exit_user
	// unless named "submit", which defaults to submitted.
	TerminalStatus map[string]swe.Status

	Logger *slog.Logger
}

func (c *Config) sanitize() error {
	if c.Model == nil || c.Parser == nil || c.Registry == nil || c.Exec == nil || c.History == nil || c.Writer == nil {
		return &swe.ConfigError{Component: "AgentLoop", Reason: "Model, Parser, Registry, Exec, History, and Writer are required"}
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 2
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.LongTimeout <= 0 {
		c.LongTimeout = 10 * time.Minute
	}
	if c.NoOutputTimeout <= 0 {
		c.NoOutputTimeout = 2 * time.Minute
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Processor == nil {
		c.Processor = history.Identity()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Loop drives a single Instance's conversation to a terminal status.
type Loop struct {
	cfg        Config
	instanceID string

	phase                    Phase
	consecutiveParseFailures int
	totalCost                float64
	toolDefs                 []model.ToolDefinition
}

// New validates cfg and returns a Loop ready to Run for instanceID.
func New(instanceID string, cfg Config) (*Loop, error) {
	if err := cfg.sanitize(); err != nil {
		return nil, err
	}
	return &Loop{cfg: cfg, instanceID: instanceID, phase: PhaseSetup}, nil
}

// Phase reports the loop's current state, for progress reporting and tests.
func (l *Loop) Phase() Phase { return l.phase }

// Run drives the instance to a terminal status, writing every turn through
// the configured trajectory.Writer as it goes.
func (l *Loop) Run(ctx context.Context) (swe.Status, error) {
	if err := l.setupPhase(ctx); err != nil {
		return l.fail(ctx, err)
	}
	l.phase = PhaseThinking

	var pendingAction *swe.Action
	var outcome actionOutcome

	for {
		switch l.phase {
		case PhaseThinking:
			action, status, done, err := l.thinkingPhase(ctx)
			if err != nil {
				return l.fail(ctx, err)
			}
			if done {
				return l.finalize(ctx, status, "")
			}
			pendingAction = action
			l.phase = PhaseExecuting

		case PhaseExecuting:
			o, err := l.executingPhase(ctx, pendingAction)
			if err != nil {
				return l.fail(ctx, err)
			}
			if o.terminal {
				return l.finalize(ctx, o.terminalStatus, o.patch)
			}
			outcome = o
			l.phase = PhaseObserving

		case PhaseObserving:
			done, status, err := l.observingPhase(ctx, pendingAction, outcome)
			if err != nil {
				return l.fail(ctx, err)
			}
			if done {
				return l.finalize(ctx, status, "")
			}
			l.phase = PhaseThinking
		}
	}
}

// setupPhase composes the system and instance prompts (plus any
// demonstrations) and pushes them as the trajectory's opening turns.
func (l *Loop) setupPhase(ctx context.Context) error {
	l.phase = PhaseSetup
	l.toolDefs = toolDefinitions(l.cfg.Registry)

	if l.cfg.SystemPrompt != "" {
		if err := l.appendTurn(ctx, swe.Turn{Role: swe.RoleSystem, Thought: l.cfg.SystemPrompt}); err != nil {
			return err
		}
	}
	if l.cfg.InstancePrompt != "" {
		if err := l.appendTurn(ctx, swe.Turn{Role: swe.RoleUser, Thought: l.cfg.InstancePrompt}); err != nil {
			return err
		}
	}
	for _, demo := range l.cfg.Demonstrations {
		demo.IsDemo = true
		demo.Role = swe.RoleDemonstration
		if err := l.appendTurn(ctx, demo); err != nil {
			return err
		}
	}
	return nil
}

// thinkingPhase applies the history processor, queries the model, enforces
// the cost limit, and parses the reply into an Action. done reports a
// terminal status was reached (exit_cost or exit_format) without an action
// to execute.
func (l *Loop) thinkingPhase(ctx context.Context) (action *swe.Action, status swe.Status, done bool, err error) {
	l.phase = PhaseThinking

	view := l.cfg.Processor.Process(l.cfg.History.Snapshot())
	req := model.Request{
		System:    l.cfg.SystemPrompt,
		Messages:  renderMessages(view),
		Tools:     l.toolDefs,
		MaxTokens: l.cfg.MaxTokens,
		Model:     l.cfg.ModelID,
	}

	resp, err := l.cfg.Model.Query(ctx, req)
	if err != nil {
		return nil, "", false, err
	}

	if l.cfg.CostLimit > 0 && l.totalCost+resp.Cost > l.cfg.CostLimit {
		if werr := l.appendTurn(ctx, swe.Turn{
			Role:      swe.RoleAssistant,
			Thought:   resp.Text,
			TokensIn:  resp.Usage.InputTokens,
			TokensOut: resp.Usage.OutputTokens,
			Cost:      resp.Cost,
		}); werr != nil {
			return nil, "", false, werr
		}
		return nil, swe.StatusExitCost, true, nil
	}

	thought, parsedAction, perr := l.parseResponse(resp)
	if perr != nil {
		var parseErr *swe.ParseError
		if !errors.As(perr, &parseErr) {
			return nil, "", false, perr
		}
		if werr := l.appendTurn(ctx, swe.Turn{
			Role:      swe.RoleAssistant,
			Thought:   resp.Text,
			TokensIn:  resp.Usage.InputTokens,
			TokensOut: resp.Usage.OutputTokens,
			Cost:      resp.Cost,
		}); werr != nil {
			return nil, "", false, werr
		}
		if werr := l.appendTurn(ctx, swe.Turn{
			Role:        swe.RoleToolObservation,
			Observation: &swe.Observation{Output: []byte(formatErrorTemplate(parseErr)), ExitCode: -1},
		}); werr != nil {
			return nil, "", false, werr
		}
		l.consecutiveParseFailures++
		if l.consecutiveParseFailures >= l.cfg.RetryCap {
			return nil, swe.StatusExitFormat, true, nil
		}
		return nil, "", false, nil
	}

	l.consecutiveParseFailures = 0
	if werr := l.appendTurn(ctx, swe.Turn{
		Role:      swe.RoleAssistant,
		Thought:   thought,
		Action:    parsedAction,
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
		Cost:      resp.Cost,
	}); werr != nil {
		return nil, "", false, werr
	}
	return parsedAction, "", false, nil
}

func (l *Loop) parseResponse(resp *model.Response) (string, *swe.Action, error) {
	if resp.ToolCall != nil {
		argsJSON, err := json.Marshal(resp.ToolCall.Args)
		if err != nil {
			return "", nil, fmt.Errorf("marshal tool call args: %w", err)
		}
		action, err := l.cfg.Parser.ParseFunctionCall(resp.ToolCall.Name, argsJSON)
		return resp.Text, action, err
	}
	return l.cfg.Parser.Parse(resp.Text)
}

// actionOutcome is the result of dispatching one Action through EXECUTING.
type actionOutcome struct {
	observation    swe.Observation
	terminal       bool
	terminalStatus swe.Status
	patch          string
}

// executingPhase dispatches action through the registered tool, either a
// Go-native implementation or a rendered shell command line.
func (l *Loop) executingPhase(ctx context.Context, action *swe.Action) (actionOutcome, error) {
	l.phase = PhaseExecuting

	if l.cfg.Registry.IsTerminal(action.Name) {
		patch := ""
		if l.cfg.PatchComputer != nil {
			p, err := l.cfg.PatchComputer.ComputePatch(ctx)
			if err != nil {
				return actionOutcome{}, err
			}
			patch = p
		}
		return actionOutcome{terminal: true, terminalStatus: terminalStatusFor(action.Name, l.cfg.TerminalStatus), patch: patch}, nil
	}

	if native, ok := l.cfg.Registry.Native(action.Name); ok {
		start := time.Now()
		output, exitCode, err := native.Execute(ctx, action.Args)
		obs := swe.Observation{Output: []byte(output), ExitCode: exitCode, Duration: time.Since(start)}
		if err != nil {
			if obs.ExitCode == 0 {
				obs.ExitCode = 1
			}
			obs.Output = append(obs.Output, []byte("\n"+err.Error())...)
		}
		return actionOutcome{observation: obs}, nil
	}

	spec, ok := l.cfg.Registry.Get(action.Name)
	if !ok {
		return actionOutcome{}, &swe.ParseError{Subtype: swe.ParseUnknownTool, Message: fmt.Sprintf("unknown tool %q", action.Name)}
	}

	command := renderCommand(spec, action)
	timeout := l.cfg.DefaultTimeout
	if l.cfg.LongRunningTools[action.Name] {
		timeout = l.cfg.LongTimeout
	}

	res, execErr := l.cfg.Exec.Exec(ctx, command, timeout, l.cfg.NoOutputTimeout)
	obs := swe.Observation{Output: res.Stdout, ExitCode: res.ExitCode, Duration: res.Duration, Truncated: res.Truncated}
	if execErr != nil {
		var timeoutErr *swe.ExecTimeoutError
		if errors.As(execErr, &timeoutErr) {
			obs.Output = append(obs.Output, []byte("\n[timeout] "+timeoutErr.Error())...)
			obs.ExitCode = -1
		} else {
			return actionOutcome{}, execErr
		}
	}
	return actionOutcome{observation: obs}, nil
}

// observingPhase shapes the observation, attaches a hidden state probe if
// configured, and appends the tool_observation turn.
func (l *Loop) observingPhase(ctx context.Context, action *swe.Action, outcome actionOutcome) (done bool, status swe.Status, err error) {
	l.phase = PhaseObserving

	obs := outcome.observation
	if shaper, ok := l.cfg.Shapers[action.Name]; ok {
		obs = shaper(action, obs)
	}
	if l.cfg.StateInspector != nil {
		if state, serr := l.cfg.StateInspector.Inspect(ctx); serr == nil {
			if raw, merr := json.Marshal(state); merr == nil {
				obs.Output = append(obs.Output, []byte("\n[state] "+string(raw))...)
			}
		} else {
			l.cfg.Logger.Warn("state inspection failed", "error", serr)
		}
	}

	if werr := l.appendTurn(ctx, swe.Turn{Role: swe.RoleToolObservation, Observation: &obs}); werr != nil {
		return false, "", werr
	}
	if l.cfg.CostLimit > 0 && l.totalCost > l.cfg.CostLimit {
		return true, swe.StatusExitCost, nil
	}
	return false, "", nil
}

// appendTurn writes turn to the trajectory and tracks the running cost
// total, since Trajectory.Append folds each turn's cost into the cumulative
// figure and does not expose it back out.
func (l *Loop) appendTurn(ctx context.Context, turn swe.Turn) error {
	l.totalCost += turn.Cost
	return l.cfg.Writer.WriteTurn(ctx, turn)
}

// finalize marks the trajectory terminal, closes the session, and returns
// the final status.
func (l *Loop) finalize(ctx context.Context, status swe.Status, patch string) (swe.Status, error) {
	l.phase = PhaseTerminal
	err := l.cfg.Writer.Finalize(ctx, status, patch)
	if l.cfg.Closer != nil {
		if cerr := l.cfg.Closer.Close(); cerr != nil {
			l.cfg.Logger.Warn("close session on terminal", "error", cerr)
		}
	}
	return status, err
}

// fail classifies an unrecoverable error into a terminal status:
// ConfigError aborts the whole process (the instance trajectory is left
// non-terminal for the caller to handle), a cancelled context yields
// aborted, and every other Kind maps to its corresponding exit_* status,
// defaulting to exit_environment.
func (l *Loop) fail(ctx context.Context, err error) (swe.Status, error) {
	var classified swe.Classified
	if errors.As(err, &classified) && classified.Kind() == swe.KindConfig {
		return swe.StatusInProgress, err
	}

	status := swe.StatusExitEnvironment
	switch {
	case ctx.Err() != nil:
		status = swe.StatusAborted
	case errors.As(err, &classified):
		switch classified.Kind() {
		case swe.KindContextExceeded:
			status = swe.StatusExitContext
		case swe.KindCostExceeded:
			status = swe.StatusExitCost
		}
	}
	finalStatus, ferr := l.finalize(ctx, status, "")
	if ferr != nil {
		return finalStatus, ferr
	}
	return finalStatus, err
}

func toolDefinitions(registry *tools.Registry) []model.ToolDefinition {
	specs := registry.Specs()
	defs := make([]model.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, model.ToolDefinition{Name: spec.Name, Description: spec.Docstring, Schema: tools.JSONSchema(spec)})
	}
	return defs
}

func terminalStatusFor(name string, overrides map[string]swe.Status) swe.Status {
	if status, ok := overrides[name]; ok {
		return status
	}
	if name == "submit" {
		return swe.StatusSubmitted
	}
	return swe.StatusExitUser
}

// renderCommand reconstructs a shell invocation from a tool's declared
// signature and parsed arguments. A shell-format reply's Action.Raw is
// already the literal command text the model wrote, including whatever
// quoting and line breaks it chose, so it is used verbatim whenever it
// begins with the tool name; a function-call-style reply's Raw is its JSON
// argument payload, which is not shell syntax, so that case is rendered
// positionally from the typed arguments instead.
func renderCommand(spec swe.ToolSpec, action *swe.Action) string {
	if strings.HasPrefix(strings.TrimSpace(action.Raw), action.Name) {
		return action.Raw
	}
	parts := make([]string, 0, len(spec.Args)+1)
	parts = append(parts, spec.Name)
	for i, a := range spec.Args {
		v, ok := action.Args[a.Name]
		if !ok {
			continue
		}
		s := fmt.Sprint(v)
		if i == len(spec.Args)-1 && a.Type == swe.ArgString && strings.Contains(s, "\n") {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, shellQuoteArg(s))
	}
	return strings.Join(parts, " ")
}

func shellQuoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n'\"$`\\") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}
