package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweagent-go/sweagent/internal/shell"
	"github.com/sweagent-go/sweagent/internal/tools"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Config configures EnvController.
type Config struct {
	Registry *tools.Registry

	// BundlesRoot is the host directory containing one subdirectory per
	// loaded bundle (the tools.d/<bundle>/ convention); empty means bundles
	// declare no files beyond their manifest.
	BundlesRoot string

	// DisableCache skips the prepared-image cache even when a matching tag
	// exists, for callers that need a guaranteed-fresh environment.
	DisableCache bool

	SetupTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) sanitize() {
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Prepared is the result of bringing an Instance's environment online: a
// running SessionShell plus the commit EnvController recorded as the
// diffing anchor.
type Prepared struct {
	Shell       *shell.SessionShell
	ContainerID string
	BaseCommit  string

	controller *EnvController
}

// Close tears down the container and the shell process.
func (p *Prepared) Close() error {
	_ = p.Shell.Close()
	return p.controller.docker.stopContainer(context.Background(), p.ContainerID)
}

// EnvController prepares a per-instance sandbox through a six-step sequence:
// resolve image, start container, materialize repo, run setup, install
// tools, record base_commit. It plays an orchestration role
// (pooling-free, since each Instance gets exactly one container for its
// lifetime) while dockerRunner plays the raw docker CLI call role.
type EnvController struct {
	cfg    Config
	docker dockerRunner
}

// New creates an EnvController.
func New(cfg Config) *EnvController {
	cfg.sanitize()
	return &EnvController{cfg: cfg}
}

// Prepare runs the full sequence for one Instance: resolve image, start
// container, materialize repo, run setup, install tools, record
// base_commit. Steps 3-5 are skipped when a prepared-image cache hit is
// found — they are the only ones the cache can shortcut without changing
// semantics.
func (c *EnvController) Prepare(ctx context.Context, inst swe.Instance) (*Prepared, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}

	image := inst.Image
	cacheTag := prepCacheTag(inst.Image, inst.RepoSource, inst.Setup)
	cacheHit := false
	if !c.cfg.DisableCache && c.docker.imageExists(ctx, cacheTag) {
		image = cacheTag
		cacheHit = true
	} else if err := c.docker.ensureImage(ctx, inst.Image); err != nil {
		return nil, err
	}

	containerID, err := c.docker.startContainer(ctx, image)
	if err != nil {
		return nil, err
	}

	sess := shell.New(shell.Config{
		Command: []string{"docker", "exec", "-i", containerID, "/bin/sh"},
		Logger:  c.cfg.Logger,
	})
	if err := sess.Start(ctx); err != nil {
		_ = c.docker.stopContainer(ctx, containerID)
		return nil, err
	}

	baseCommit := ""
	if !cacheHit {
		baseCommit, err = c.materializeAndSetup(ctx, sess, containerID, inst)
		if err != nil {
			_ = sess.Close()
			_ = c.docker.stopContainer(ctx, containerID)
			return nil, err
		}
		if c.cfg.Registry != nil {
			if err := c.cfg.Registry.Install(ctx, newInstaller(sess, c.docker, containerID, c.cfg.BundlesRoot)); err != nil {
				_ = sess.Close()
				_ = c.docker.stopContainer(ctx, containerID)
				return nil, err
			}
		}
		if !c.cfg.DisableCache {
			if err := c.docker.commitImage(ctx, containerID, cacheTag); err != nil {
				c.cfg.Logger.Warn("prep cache commit failed, continuing without caching", "error", err)
			}
		}
	} else {
		baseCommit, err = c.recordBaseCommit(ctx, sess, inst)
		if err != nil {
			_ = sess.Close()
			_ = c.docker.stopContainer(ctx, containerID)
			return nil, err
		}
	}

	return &Prepared{Shell: sess, ContainerID: containerID, BaseCommit: baseCommit, controller: c}, nil
}

// materializeAndSetup checks out/copies the repository, runs the instance's
// setup script, and returns the commit to anchor the final diff on.
func (c *EnvController) materializeAndSetup(ctx context.Context, sess *shell.SessionShell, containerID string, inst swe.Instance) (string, error) {
	switch inst.RepoSource.Kind {
	case swe.RepoSourceLocal:
		localPath, err := resolveLocalPath(inst.RepoSource.Path)
		if err != nil {
			return "", err
		}
		if _, err := sess.Exec(ctx, "mkdir -p /workspace", time.Minute, 0); err != nil {
			return "", err
		}
		if err := c.docker.copyToContainer(ctx, localPath+"/.", containerID, "/workspace"); err != nil {
			return "", err
		}
	case swe.RepoSourceRemote:
		cloneCmd := fmt.Sprintf("git clone %s /workspace", shQuote(inst.RepoSource.URL))
		if res, err := sess.Exec(ctx, cloneCmd, 10*time.Minute, time.Minute); err != nil || res.ExitCode != 0 {
			return "", &swe.EnvUnreachableError{Reason: fmt.Sprintf("git clone failed: %v (%s)", err, string(res.Stdout))}
		}
		if inst.RepoSource.Commit != "" {
			checkoutCmd := fmt.Sprintf("cd /workspace && git checkout %s", shQuote(inst.RepoSource.Commit))
			if res, err := sess.Exec(ctx, checkoutCmd, 2*time.Minute, time.Minute); err != nil || res.ExitCode != 0 {
				return "", &swe.EnvUnreachableError{Reason: fmt.Sprintf("git checkout failed: %v (%s)", err, string(res.Stdout))}
			}
		}
	case swe.RepoSourceImage:
		lnCmd := fmt.Sprintf("ln -s %s /workspace", shQuote(inst.RepoSource.Path))
		if res, err := sess.Exec(ctx, lnCmd, time.Minute, 0); err != nil || res.ExitCode != 0 {
			return "", &swe.EnvUnreachableError{Reason: fmt.Sprintf("link in-image path failed: %v (%s)", err, string(res.Stdout))}
		}
	case swe.RepoSourceNone:
		if _, err := sess.Exec(ctx, "mkdir -p /workspace", time.Minute, 0); err != nil {
			return "", err
		}
	}

	if inst.Setup != "" {
		setupCmd := fmt.Sprintf("cd /workspace && %s", inst.Setup)
		res, err := sess.Exec(ctx, setupCmd, c.cfg.SetupTimeout, 2*time.Minute)
		if err != nil {
			return "", err
		}
		if res.ExitCode != 0 {
			return "", &swe.EnvUnreachableError{Reason: fmt.Sprintf("setup script exited %d", res.ExitCode)}
		}
	}

	return c.recordBaseCommit(ctx, sess, inst)
}

// recordBaseCommit returns the git HEAD commit if /workspace is a git repo,
// or a content hash anchor otherwise as the equivalent anchor for non-git
// repos.
func (c *EnvController) recordBaseCommit(ctx context.Context, sess *shell.SessionShell, inst swe.Instance) (string, error) {
	if inst.RepoSource.Kind == swe.RepoSourceNone {
		return "", nil
	}
	if inst.RepoSource.Kind == swe.RepoSourceRemote && inst.RepoSource.Commit != "" {
		return inst.RepoSource.Commit, nil
	}
	res, err := sess.Exec(ctx, "cd /workspace && git rev-parse HEAD 2>/dev/null", 30*time.Second, 0)
	if err == nil && res.ExitCode == 0 {
		return trimTrailingNewline(string(res.Stdout)), nil
	}
	// Not a git repo: hash the tree so the final patch is still diffable
	// against a stable anchor.
	hashRes, err := sess.Exec(ctx, "cd /workspace && find . -type f -exec sha256sum {} + | sort | sha256sum", time.Minute, 0)
	if err != nil {
		return "", err
	}
	return "content:" + trimTrailingNewline(string(hashRes.Stdout)), nil
}

func trimTrailingNewline(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
