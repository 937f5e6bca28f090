package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/sweagent-go/sweagent/internal/shell"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// sessionInstaller implements tools.Installer on top of a SessionShell and
// the container's docker cp path, so ToolRegistry.Install can bootstrap
// bundles inside whatever sandbox EnvController just brought up.
//
// Unlike swe.ToolSpec, swe.ToolBundle carries no embedded file contents —
// tools.d/<bundle>/ is a real directory on the host (the
// tools.ParseBundle convention), so CopyBundle ships that directory
// straight through docker cp rather than re-materializing files from a map.
type sessionInstaller struct {
	sess        *shell.SessionShell
	docker      dockerRunner
	containerID string
	bundlesRoot string
}

func newInstaller(sess *shell.SessionShell, docker dockerRunner, containerID, bundlesRoot string) *sessionInstaller {
	return &sessionInstaller{sess: sess, docker: docker, containerID: containerID, bundlesRoot: bundlesRoot}
}

const bundleRoot = "/opt/sweagent/tools"

func (i *sessionInstaller) CopyBundle(ctx context.Context, bundle *swe.ToolBundle) (string, error) {
	dest := bundleRoot + "/" + bundle.Name
	if _, err := i.sess.Exec(ctx, "mkdir -p "+shQuote(dest), time.Minute, 0); err != nil {
		return "", err
	}
	if i.bundlesRoot == "" {
		return dest, nil
	}
	src := i.bundlesRoot + "/" + bundle.Name + "/."
	if err := i.docker.copyToContainer(ctx, src, i.containerID, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (i *sessionInstaller) RunInstallStep(ctx context.Context, bundlePath, step string) error {
	cmd := fmt.Sprintf("cd %s && %s", shQuote(bundlePath), step)
	res, err := i.sess.Exec(ctx, cmd, 5*time.Minute, time.Minute)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("install step %q exited %d: %s", step, res.ExitCode, string(res.Stdout))
	}
	return nil
}

func (i *sessionInstaller) AppendRC(ctx context.Context, rcFile string) error {
	cmd := fmt.Sprintf("echo %s >> ~/.bashrc", shQuote("source "+rcFile))
	_, err := i.sess.Exec(ctx, cmd, 30*time.Second, 0)
	return err
}

func (i *sessionInstaller) SeedEnvVar(ctx context.Context, name, value string) error {
	cmd := fmt.Sprintf("export %s=%s", name, shQuote(value))
	_, err := i.sess.Exec(ctx, cmd, 30*time.Second, 0)
	return err
}
