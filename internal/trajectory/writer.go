// Package trajectory persists a swe.Trajectory to disk: one JSON document
// per instance rewritten atomically on every turn, a sibling .patch file
// holding the final patch verbatim, and resume detection that distinguishes
// a genuinely-finished trajectory from one left half-written by a crashed
// worker.
//
// Writer writes after every single turn instead of only at the end
// (BatchRunner's resume and crash-isolation guarantees depend on that), so
// the write path additionally does the temp-file-then-rename dance required
// for atomicity.
package trajectory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Mirror uploads a completed trajectory (and its patch) to a remote store,
// e.g. S3, once Finalize has written them locally. Optional; a Writer with no Mirror only
// touches the local filesystem.
type Mirror interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Writer owns the on-disk trajectory file and sibling patch file for one
// instance. It is not safe for concurrent use by more than one goroutine:
// the trajectory writer must be the only one writing to a given instance's
// file.
type Writer struct {
	mu sync.Mutex

	outputRoot string
	instanceID string
	mirror     Mirror

	traj *swe.Trajectory
}

// New creates a Writer for instanceID rooted at outputRoot (one run
// directory in the persisted state layout).
func New(outputRoot, instanceID string, traj *swe.Trajectory, mirror Mirror) *Writer {
	return &Writer{outputRoot: outputRoot, instanceID: instanceID, traj: traj, mirror: mirror}
}

func (w *Writer) trajPath() string {
	return filepath.Join(w.outputRoot, w.instanceID+".traj.json")
}

func (w *Writer) patchPath() string {
	return filepath.Join(w.outputRoot, w.instanceID+".patch")
}

// WriteTurn appends turn to the in-memory trajectory and atomically
// rewrites the trajectory file. Called after every AgentLoop step.
func (w *Writer) WriteTurn(ctx context.Context, turn swe.Turn) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.traj.Append(turn); err != nil {
		return err
	}
	return w.flushLocked(ctx)
}

// Finalize marks the trajectory terminal, writes the final patch file, and
// performs a last atomic rewrite of the trajectory file.
func (w *Writer) Finalize(ctx context.Context, status swe.Status, finalPatch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.traj.SetTerminal(status, finalPatch); err != nil {
		return err
	}
	if err := atomicWrite(w.patchPath(), []byte(finalPatch)); err != nil {
		return fmt.Errorf("write patch file: %w", err)
	}
	if err := w.flushLocked(ctx); err != nil {
		return err
	}
	if w.mirror != nil {
		raw, err := json.MarshalIndent(w.traj, "", "  ")
		if err == nil {
			_ = w.mirror.Put(ctx, w.instanceID+".traj.json", raw)
			_ = w.mirror.Put(ctx, w.instanceID+".patch", []byte(finalPatch))
		}
	}
	return nil
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if err := os.MkdirAll(w.outputRoot, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(w.traj, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trajectory: %w", err)
	}
	return atomicWrite(w.trajPath(), raw)
}

// atomicWrite writes to a temp file in the same directory, then renames
// over the target so a crash never leaves a half-written trajectory
// readable under the final name.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ResumeState reports how a prior run left an instance's trajectory, so
// BatchRunner's resume logic can decide whether to skip, re-run from
// scratch, or (a future enhancement) replay partial history.
type ResumeState int

const (
	// ResumeNone means no trajectory file exists for this instance.
	ResumeNone ResumeState = iota
	// ResumeTerminal means a prior run completed with a terminal status;
	// BatchRunner should skip this instance unless --redo is set.
	ResumeTerminal
	// ResumePartial means a trajectory file exists but is not terminal,
	// e.g. the worker crashed mid-run; re-run from scratch rather than
	// attempt a partial replay.
	ResumePartial
	// ResumeCorrupt means a trajectory file exists but failed to parse,
	// treated the same as ResumePartial (re-run from scratch).
	ResumeCorrupt
)

// Inspect reads an existing trajectory file for instanceID under
// outputRoot, if any, and classifies its resume state.
func Inspect(outputRoot, instanceID string) (ResumeState, *swe.Trajectory, error) {
	path := filepath.Join(outputRoot, instanceID+".traj.json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ResumeNone, nil, nil
	}
	if err != nil {
		return ResumeCorrupt, nil, err
	}
	var traj swe.Trajectory
	if err := json.Unmarshal(raw, &traj); err != nil {
		return ResumeCorrupt, nil, nil
	}
	if traj.Status.Terminal() {
		return ResumeTerminal, &traj, nil
	}
	return ResumePartial, &traj, nil
}
