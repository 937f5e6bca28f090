package agentloop

import (
	"testing"

	"github.com/sweagent-go/sweagent/internal/trajectory"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

func newTestWriter(t *testing.T, instanceID string) *trajectory.Writer {
	t.Helper()
	w, _ := newTestWriterWithDir(t, instanceID)
	return w
}

func newTestWriterWithDir(t *testing.T, instanceID string) (*trajectory.Writer, string) {
	t.Helper()
	dir := t.TempDir()
	traj := swe.NewTrajectory(instanceID, swe.EnvInfo{Image: "python:3.11"})
	return trajectory.New(dir, instanceID, traj, nil), dir
}
