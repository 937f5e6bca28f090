// Package batch drives a fixed-size worker pool of AgentLoop runs across a
// set of Instances: bounded parallelism, per-worker crash isolation, resume
// detection against existing trajectory files, and a single serialized
// progress-event stream.
//
// The worker loop and panic-isolation shape are grounded on the generic
// WorkerPool in the example pack's infra package (job channel, per-job
// goroutine, stats counters), adapted here to drive one AgentLoop per
// Instance instead of a generic processor function; the panic recovery
// itself is grounded on that pack's CommandQueue.drainLane, which wraps
// each dispatched task in a deferred recover() and reports the stack via
// debug.Stack() rather than letting one runaway goroutine take down the
// process.
package batch

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sweagent-go/sweagent/internal/trajectory"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// InstanceRunner is the narrow capability BatchRunner needs from an
// AgentLoop: drive one instance to a terminal status. agentloop.Loop
// satisfies this directly.
type InstanceRunner interface {
	Run(ctx context.Context) (swe.Status, error)
}

// Factory builds the InstanceRunner (and everything it needs: sandbox,
// history store, trajectory writer) for one Instance. Returning an error
// here — rather than from Run — lets BatchRunner distinguish "could not
// even start this instance" (still reported as a Failure event) from a
// panic inside a running loop.
type Factory func(ctx context.Context, inst swe.Instance) (InstanceRunner, error)

// EventType classifies one line of the progress stream.
type EventType string

const (
	EventStart    EventType = "start"
	EventSuccess  EventType = "success"
	EventFailure  EventType = "failure"
	EventSkipped  EventType = "skipped"
	EventAborted  EventType = "aborted"
	EventProgress EventType = "progress"
)

// Event is one line of the batch's progress stream.
type Event struct {
	Type       EventType  `json:"type"`
	InstanceID string     `json:"instance_id"`
	Status     swe.Status `json:"status,omitempty"`
	Cost       float64    `json:"cost,omitempty"`
	Error      string     `json:"error,omitempty"`
	// Completed/Total accompany EventProgress, reporting how far the whole
	// run has advanced.
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	At        time.Time `json:"at"`
}

// EventSink receives one Event at a time. BatchRunner serializes every
// call to Emit through a single goroutine so a sink that writes to a file
// or stdout never needs its own locking.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// Config wires a BatchRunner.
type Config struct {
	// Workers is the fixed number of concurrent AgentLoop runs. Must be >= 1.
	Workers int
	// OutputRoot is the trajectory directory Factory's writers and this
	// runner's resume-detection both read/write.
	OutputRoot string
	// Redo forces every instance to re-run even if a prior trajectory
	// reached a terminal status.
	Redo bool
	// Shuffle randomizes instance start order using Seed, for workload
	// spreading across repeated runs without losing reproducibility.
	Shuffle bool
	Seed    int64
	// Factory builds the runner for one instance.
	Factory Factory
	// Sink receives progress events. Required.
	Sink EventSink
	// Index, if set, is consulted before trajectory.Inspect on every resume
	// check and updated after every run. Optional; Run falls back to a plain
	// filesystem scan when nil.
	Index ResumeIndex
}

func (c *Config) sanitize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// BatchRunner fans AgentLoop out over a set of Instances with bounded
// parallelism, crash isolation between workers, and resume support.
type BatchRunner struct {
	cfg Config

	mu        sync.Mutex
	totalCost float64
	successes int
	failures  int
	skipped   int
}

// New creates a BatchRunner.
func New(cfg Config) *BatchRunner {
	cfg.sanitize()
	return &BatchRunner{cfg: cfg}
}

// planned is one instance paired with its resume decision.
type planned struct {
	inst  swe.Instance
	skip  bool
	prior *swe.Trajectory
}

// Plan returns the start order without running anything: a copy of
// instances, shuffled with Seed when Shuffle is set. It does not classify
// resume state; Run does that. Exposed separately from Run so a caller
// (e.g. --preview) can print the start order.
func (r *BatchRunner) Plan(instances []swe.Instance) []swe.Instance {
	out := make([]swe.Instance, len(instances))
	copy(out, instances)
	if r.cfg.Shuffle {
		rng := rand.New(rand.NewSource(r.cfg.Seed))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

// Run drives every instance through the worker pool to completion or until
// ctx is cancelled. It returns only once every worker has exited.
func (r *BatchRunner) Run(ctx context.Context, instances []swe.Instance) error {
	if r.cfg.Factory == nil {
		return &swe.ConfigError{Component: "BatchRunner", Reason: "Factory is required"}
	}
	if r.cfg.Sink == nil {
		return &swe.ConfigError{Component: "BatchRunner", Reason: "Sink is required"}
	}

	ordered := r.Plan(instances)
	plans := make([]planned, 0, len(ordered))
	for _, inst := range ordered {
		p := planned{inst: inst}
		if !r.cfg.Redo {
			if r.cfg.Index != nil {
				if status, found, err := r.cfg.Index.Lookup(ctx, inst.ID); err == nil && found && status.Terminal() {
					p.skip = true
					p.prior = &swe.Trajectory{InstanceID: inst.ID, Status: status}
					plans = append(plans, p)
					continue
				}
			}
			state, prior, err := trajectory.Inspect(r.cfg.OutputRoot, inst.ID)
			if err == nil && state == trajectory.ResumeTerminal {
				p.skip = true
				p.prior = prior
				if r.cfg.Index != nil && prior != nil {
					_ = r.cfg.Index.Record(ctx, inst.ID, prior.Status, prior.TotalCost)
				}
			}
		}
		plans = append(plans, p)
	}

	events := make(chan Event, len(plans)+1)
	var sinkWG sync.WaitGroup
	sinkWG.Add(1)
	go func() {
		defer sinkWG.Done()
		for ev := range events {
			r.cfg.Sink.Emit(ev)
		}
	}()

	jobs := make(chan planned, len(plans))
	for _, p := range plans {
		jobs <- p
	}
	close(jobs)

	var completed int
	var progressMu sync.Mutex
	reportProgress := func() {
		progressMu.Lock()
		completed++
		n := completed
		progressMu.Unlock()
		events <- Event{Type: EventProgress, Completed: n, Total: len(plans), At: r.now()}
	}

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				r.runOne(ctx, p, events)
				reportProgress()
			}
		}()
	}
	wg.Wait()
	close(events)
	sinkWG.Wait()
	return nil
}

// runOne drives a single instance, recovering from any panic raised inside
// Factory or the returned runner so one broken instance can never bring
// down the pool.
func (r *BatchRunner) runOne(ctx context.Context, p planned, events chan<- Event) {
	if p.skip {
		r.mu.Lock()
		r.skipped++
		r.mu.Unlock()
		status := swe.Status("")
		if p.prior != nil {
			status = p.prior.Status
		}
		events <- Event{Type: EventSkipped, InstanceID: p.inst.ID, Status: status, At: r.now()}
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			r.failures++
			r.mu.Unlock()
			events <- Event{
				Type:       EventFailure,
				InstanceID: p.inst.ID,
				Error:      fmt.Sprintf("panic: %v\n%s", rec, debug.Stack()),
				At:         r.now(),
			}
		}
	}()

	if ctx.Err() != nil {
		events <- Event{Type: EventAborted, InstanceID: p.inst.ID, Status: swe.StatusAborted, At: r.now()}
		return
	}

	events <- Event{Type: EventStart, InstanceID: p.inst.ID, At: r.now()}

	runner, err := r.cfg.Factory(ctx, p.inst)
	if err != nil {
		r.mu.Lock()
		r.failures++
		r.mu.Unlock()
		events <- Event{Type: EventFailure, InstanceID: p.inst.ID, Error: err.Error(), At: r.now()}
		return
	}

	status, runErr := runner.Run(ctx)

	cost := 0.0
	if _, traj, inspectErr := trajectory.Inspect(r.cfg.OutputRoot, p.inst.ID); inspectErr == nil && traj != nil {
		cost = traj.TotalCost
	}
	r.mu.Lock()
	r.totalCost += cost
	switch status {
	case swe.StatusSubmitted:
		r.successes++
	case swe.StatusAborted:
	default:
		r.failures++
	}
	r.mu.Unlock()

	if r.cfg.Index != nil && status.Terminal() {
		_ = r.cfg.Index.Record(ctx, p.inst.ID, status, cost)
	}

	switch {
	case status == swe.StatusAborted:
		events <- Event{Type: EventAborted, InstanceID: p.inst.ID, Status: status, Cost: cost, At: r.now()}
	case runErr != nil:
		events <- Event{Type: EventFailure, InstanceID: p.inst.ID, Status: status, Cost: cost, Error: runErr.Error(), At: r.now()}
	case status == swe.StatusSubmitted:
		events <- Event{Type: EventSuccess, InstanceID: p.inst.ID, Status: status, Cost: cost, At: r.now()}
	default:
		events <- Event{Type: EventFailure, InstanceID: p.inst.ID, Status: status, Cost: cost, At: r.now()}
	}
}

func (r *BatchRunner) now() time.Time { return time.Now() }

// Stats summarizes a finished (or in-progress) run.
type Stats struct {
	Successes int
	Failures  int
	Skipped   int
	TotalCost float64
}

// Stats returns the current counters. Safe to call concurrently with Run.
func (r *BatchRunner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Successes: r.successes, Failures: r.failures, Skipped: r.skipped, TotalCost: r.totalCost}
}
