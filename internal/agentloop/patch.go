package agentloop

import (
	"context"
	"strings"
	"time"
)

// GitDiffPatchComputer is the default PatchComputer: it diffs the working
// tree against BaseCommit via the same Executor the loop dispatches actions
// through. For a non-git repo source, EnvController records a
// "content:"-prefixed anchor instead of a commit SHA; the patch format is
// unspecified for that case, so ComputePatch reports an empty patch rather
// than guessing at a diff format.
type GitDiffPatchComputer struct {
	Exec       Executor
	BaseCommit string
	Timeout    time.Duration
}

func (p *GitDiffPatchComputer) ComputePatch(ctx context.Context) (string, error) {
	if p.BaseCommit == "" || strings.HasPrefix(p.BaseCommit, "content:") {
		return "", nil
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	res, err := p.Exec.Exec(ctx, "git diff "+p.BaseCommit, timeout, 0)
	if err != nil {
		return "", err
	}
	return string(res.Stdout), nil
}

var _ PatchComputer = (*GitDiffPatchComputer)(nil)
