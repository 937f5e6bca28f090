package batch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sweagent-go/sweagent/internal/trajectory"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

type fakeRunner struct {
	status swe.Status
	err    error
	panics bool
}

func (f *fakeRunner) Run(ctx context.Context) (swe.Status, error) {
	if f.panics {
		panic("boom")
	}
	return f.status, f.err
}

type collectingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *collectingSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newWriterForInstance(t *testing.T, dir, instanceID string, status swe.Status, cost float64) {
	t.Helper()
	traj := swe.NewTrajectory(instanceID, swe.EnvInfo{Image: "python:3.11"})
	w := trajectory.New(dir, instanceID, traj, nil)
	if cost > 0 {
		if err := w.WriteTurn(context.Background(), swe.Turn{Role: swe.RoleAssistant, Cost: cost}); err != nil {
			t.Fatalf("seed turn: %v", err)
		}
	}
	if status.Terminal() {
		if err := w.Finalize(context.Background(), status, ""); err != nil {
			t.Fatalf("finalize: %v", err)
		}
	}
}

func instances(ids ...string) []swe.Instance {
	out := make([]swe.Instance, 0, len(ids))
	for _, id := range ids {
		out = append(out, swe.Instance{
			ID:               id,
			ProblemStatement: "fix the bug",
			Image:            "python:3.11",
			RepoSource:       swe.RepoSource{Kind: swe.RepoSourceNone},
		})
	}
	return out
}

func TestRunAllSucceed(t *testing.T) {
	dir := t.TempDir()
	sink := &collectingSink{}
	r := New(Config{
		Workers:    2,
		OutputRoot: dir,
		Sink:       sink,
		Factory: func(ctx context.Context, inst swe.Instance) (InstanceRunner, error) {
			return &fakeRunner{status: swe.StatusSubmitted}, nil
		},
	})

	insts := instances("a", "b", "c")
	for _, inst := range insts {
		newWriterForInstance(t, dir, inst.ID, swe.StatusInProgress, 0)
	}

	if err := r.Run(context.Background(), insts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := r.Stats()
	if stats.Successes != 3 {
		t.Fatalf("expected 3 successes, got %d", stats.Successes)
	}
	if len(sink.byType(EventSuccess)) != 3 {
		t.Fatalf("expected 3 success events, got %d", len(sink.byType(EventSuccess)))
	}
}

func TestRunSkipsTerminalInstancesUnlessRedo(t *testing.T) {
	dir := t.TempDir()
	newWriterForInstance(t, dir, "done", swe.StatusSubmitted, 0.2)

	var factoryCalls int
	sink := &collectingSink{}
	r := New(Config{
		Workers:    1,
		OutputRoot: dir,
		Sink:       sink,
		Factory: func(ctx context.Context, inst swe.Instance) (InstanceRunner, error) {
			factoryCalls++
			return &fakeRunner{status: swe.StatusSubmitted}, nil
		},
	})

	if err := r.Run(context.Background(), instances("done")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if factoryCalls != 0 {
		t.Fatalf("expected factory not called for a terminal instance, got %d calls", factoryCalls)
	}
	if len(sink.byType(EventSkipped)) != 1 {
		t.Fatalf("expected one skipped event, got %d", len(sink.byType(EventSkipped)))
	}

	r2 := New(Config{
		Workers:    1,
		OutputRoot: dir,
		Redo:       true,
		Sink:       sink,
		Factory: func(ctx context.Context, inst swe.Instance) (InstanceRunner, error) {
			factoryCalls++
			return &fakeRunner{status: swe.StatusSubmitted}, nil
		},
	})
	if err := r2.Run(context.Background(), instances("done")); err != nil {
		t.Fatalf("Run with redo: %v", err)
	}
	if factoryCalls != 1 {
		t.Fatalf("expected factory called once with --redo, got %d calls", factoryCalls)
	}
}

func TestRunIsolatesPanickingWorker(t *testing.T) {
	dir := t.TempDir()
	sink := &collectingSink{}
	for _, id := range []string{"crasher", "survivor"} {
		newWriterForInstance(t, dir, id, swe.StatusInProgress, 0)
	}

	r := New(Config{
		Workers:    2,
		OutputRoot: dir,
		Sink:       sink,
		Factory: func(ctx context.Context, inst swe.Instance) (InstanceRunner, error) {
			if inst.ID == "crasher" {
				return &fakeRunner{panics: true}, nil
			}
			return &fakeRunner{status: swe.StatusSubmitted}, nil
		},
	})

	if err := r.Run(context.Background(), instances("crasher", "survivor")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := r.Stats()
	if stats.Successes != 1 {
		t.Fatalf("expected the surviving instance to still succeed, got %d successes", stats.Successes)
	}
	if stats.Failures != 1 {
		t.Fatalf("expected the panicking instance to be reported as a failure, got %d", stats.Failures)
	}
	if len(sink.byType(EventFailure)) != 1 {
		t.Fatalf("expected one failure event, got %d", len(sink.byType(EventFailure)))
	}
}

func TestRunPropagatesCancellationAsAborted(t *testing.T) {
	dir := t.TempDir()
	sink := &collectingSink{}
	newWriterForInstance(t, dir, "late", swe.StatusInProgress, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(Config{
		Workers:    1,
		OutputRoot: dir,
		Sink:       sink,
		Factory: func(ctx context.Context, inst swe.Instance) (InstanceRunner, error) {
			t.Fatal("factory should not run once the context is already cancelled")
			return nil, errors.New("unreachable")
		},
	})

	if err := r.Run(ctx, instances("late")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.byType(EventAborted)) != 1 {
		t.Fatalf("expected one aborted event, got %d", len(sink.byType(EventAborted)))
	}
}

func TestPlanShuffleIsDeterministicForASeed(t *testing.T) {
	r1 := New(Config{Shuffle: true, Seed: 42})
	r2 := New(Config{Shuffle: true, Seed: 42})

	insts := instances("a", "b", "c", "d", "e")
	p1 := r1.Plan(insts)
	p2 := r2.Plan(insts)

	for i := range p1 {
		if p1[i].ID != p2[i].ID {
			t.Fatalf("same seed produced different orders at index %d: %s vs %s", i, p1[i].ID, p2[i].ID)
		}
	}
}

func TestRunReportsCostFromFinalizedTrajectory(t *testing.T) {
	dir := t.TempDir()
	sink := &collectingSink{}
	newWriterForInstance(t, dir, "priced", swe.StatusInProgress, 0)

	r := New(Config{
		Workers:    1,
		OutputRoot: dir,
		Sink:       sink,
		Factory: func(ctx context.Context, inst swe.Instance) (InstanceRunner, error) {
			return &costingRunner{dir: dir, instanceID: inst.ID}, nil
		},
	})

	if err := r.Run(context.Background(), instances("priced")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := r.Stats()
	if stats.TotalCost != 0.5 {
		t.Fatalf("expected total cost 0.5, got %v", stats.TotalCost)
	}
}

// costingRunner finalizes a real trajectory file with a nonzero cost before
// returning, so runOne's post-hoc trajectory.Inspect has something to read.
type costingRunner struct {
	dir        string
	instanceID string
}

func (c *costingRunner) Run(ctx context.Context) (swe.Status, error) {
	_, traj, err := trajectory.Inspect(c.dir, c.instanceID)
	if err != nil {
		return swe.StatusExitEnvironment, err
	}
	w := trajectory.New(c.dir, c.instanceID, traj, nil)
	if err := w.WriteTurn(ctx, swe.Turn{Role: swe.RoleAssistant, Cost: 0.5}); err != nil {
		return swe.StatusExitEnvironment, err
	}
	if err := w.Finalize(ctx, swe.StatusSubmitted, ""); err != nil {
		return swe.StatusExitEnvironment, err
	}
	return swe.StatusSubmitted, nil
}
