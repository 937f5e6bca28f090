// Package sandbox implements EnvController, the per-instance environment
// lifecycle: resolve an image, start a container, materialize the
// instance's repository, run its setup script, install the tool registry,
// and record the starting commit used for final diffing.
//
// Only the Docker backend is implemented. The container runtime is treated
// as an external collaborator; a microVM (Firecracker) or hosted-SaaS
// backend is out of scope here (see DESIGN.md).
package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// dockerRunner shells out to the docker CLI rather than the Docker Engine
// API client.
type dockerRunner struct{}

func (dockerRunner) run(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// ensureImage pulls an image if it is not already present locally.
func (d dockerRunner) ensureImage(ctx context.Context, image string) error {
	if _, _, err := d.run(ctx, "image", "inspect", image); err == nil {
		return nil
	}
	if _, stderr, err := d.run(ctx, "pull", image); err != nil {
		return &swe.EnvUnreachableError{Reason: fmt.Sprintf("pull image %s: %v: %s", image, err, strings.TrimSpace(stderr))}
	}
	return nil
}

// startContainer brings up a long-lived container running a minimal sh
// sleep loop under docker's --init, so SessionShell can attach to it with
// `docker exec`.
func (d dockerRunner) startContainer(ctx context.Context, image string) (containerID string, err error) {
	args := []string{"run", "-d", "--init", image, "sh", "-c", "while true; do sleep 3600; done"}
	out, stderr, err := d.run(ctx, args...)
	if err != nil {
		return "", &swe.EnvUnreachableError{Reason: fmt.Sprintf("start container: %v: %s", err, strings.TrimSpace(stderr))}
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return "", &swe.EnvUnreachableError{Reason: "docker run returned empty container id"}
	}
	return id, nil
}

func (d dockerRunner) stopContainer(ctx context.Context, containerID string) error {
	_, _, err := d.run(ctx, "rm", "-f", containerID)
	return err
}

func (d dockerRunner) copyToContainer(ctx context.Context, src, containerID, dst string) error {
	_, stderr, err := d.run(ctx, "cp", src, containerID+":"+dst)
	if err != nil {
		return fmt.Errorf("docker cp %s -> %s:%s: %w: %s", src, containerID, dst, err, strings.TrimSpace(stderr))
	}
	return nil
}

// commitImage snapshots a prepared container into a tagged image, used by
// the prep cache so a future instance with the same (image, repo, setup)
// hash can skip checkout/setup/install entirely.
func (d dockerRunner) commitImage(ctx context.Context, containerID, tag string) error {
	_, stderr, err := d.run(ctx, "commit", containerID, tag)
	if err != nil {
		return fmt.Errorf("docker commit: %w: %s", err, strings.TrimSpace(stderr))
	}
	return nil
}

func (d dockerRunner) imageExists(ctx context.Context, tag string) bool {
	_, _, err := d.run(ctx, "image", "inspect", tag)
	return err == nil
}

// prepCacheTag derives a deterministic image tag from the hash identifying
// a prepared environment: (image, repo source, setup script) together
// identify a reusable prepared image.
func prepCacheTag(image string, repo swe.RepoSource, setup string) string {
	h := sha256.New()
	_, _ = h.Write([]byte(image))
	_, _ = h.Write([]byte(repo.Kind))
	_, _ = h.Write([]byte(repo.Path))
	_, _ = h.Write([]byte(repo.URL))
	_, _ = h.Write([]byte(repo.Commit))
	_, _ = h.Write([]byte(setup))
	sum := h.Sum(nil)
	return "sweagent-prep:" + hex.EncodeToString(sum[:16])
}

// resolveLocalPath makes a local repo path absolute and checks that it
// exists; docker cp accepts a directory path directly, so no archive is
// built. Kept as a seam isolating workspace-staging from the exec call.
func resolveLocalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", &swe.ConfigError{Component: "EnvController", Reason: "repo_source.path does not exist: " + abs}
	}
	return abs, nil
}

const defaultSetupTimeout = 20 * time.Minute
