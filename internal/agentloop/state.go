package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// ShellStateInspector is the default StateInspector: it runs a hidden
// state-inspection command inside the sandbox and decodes its stdout as a
// swe.SessionState JSON document. Tool bundles that want OBSERVING to attach
// cwd/open-file/cursor state define this command (conventionally a shell
// function installed alongside the editor tools); a bundle that doesn't
// define it simply has no StateInspector configured.
type ShellStateInspector struct {
	Exec    Executor
	Command string
	Timeout time.Duration
}

func (s *ShellStateInspector) Inspect(ctx context.Context) (swe.SessionState, error) {
	command := s.Command
	if command == "" {
		command = "_sweagent_state"
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	res, err := s.Exec.Exec(ctx, command, timeout, 0)
	if err != nil {
		return swe.SessionState{}, err
	}
	var state swe.SessionState
	if err := json.Unmarshal(res.Stdout, &state); err != nil {
		return swe.SessionState{}, fmt.Errorf("parse state observation: %w", err)
	}
	return state, nil
}

var _ StateInspector = (*ShellStateInspector)(nil)
