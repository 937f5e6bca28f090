package infra

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweagent-go/sweagent/internal/batch"
	"github.com/sweagent-go/sweagent/pkg/swe"
)

// Metrics holds the Prometheus collectors run-batch updates from its
// EventSink, mirroring the counters BatchRunner.Stats already tracks
// in-process so a scrape reflects live progress without polling Stats.
type Metrics struct {
	registry *prometheus.Registry

	instancesTotal *prometheus.CounterVec
	instanceCost   prometheus.Histogram
	turnsTotal     prometheus.Counter
}

// NewMetrics registers a fresh set of collectors on a private registry, so
// multiple BatchRunners in the same test binary don't collide on the
// default global registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		instancesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "sweagent_instances_total",
			Help: "Instances processed by run-batch, by event type.",
		}, []string{"event"}),
		instanceCost: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "sweagent_instance_cost_usd",
			Help:    "Per-instance total cost in USD at completion.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		turnsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "sweagent_turns_total",
			Help: "AgentLoop turns appended to trajectories across the run.",
		}),
	}
	return m
}

// ObserveEvent folds one batch.Event into the collectors. Call this from an
// EventSink wrapping the operator's real sink (stdout, a file, ...).
func (m *Metrics) ObserveEvent(ev batch.Event) {
	m.instancesTotal.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == batch.EventSuccess || ev.Type == batch.EventFailure {
		m.instanceCost.Observe(ev.Cost)
	}
}

// ObserveTurn increments the turn counter; called once per AgentLoop step
// via a history.Processor hook or directly by a custom EventSink.
func (m *Metrics) ObserveTurn(swe.Turn) { m.turnsTotal.Inc() }

// Sink wraps an EventSink so every Emit both updates the collectors and
// forwards to the wrapped sink.
func (m *Metrics) Sink(next batch.EventSink) batch.EventSink {
	return batch.EventSinkFunc(func(ev batch.Event) {
		m.ObserveEvent(ev)
		next.Emit(ev)
	})
}

// Serve starts an HTTP server exposing /metrics on addr, returning once ctx
// is cancelled or the server fails to start.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
