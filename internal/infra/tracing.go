package infra

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweagent-go/sweagent/internal/model"
	"github.com/sweagent-go/sweagent/internal/shell"
)

// TraceConfig configures the OTLP/gRPC trace exporter. An empty Endpoint
// disables export: NewTracerProvider still returns a usable no-op provider
// so callers never need to branch on whether tracing is on.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Insecure       bool
}

// NewTracerProvider sets the global TracerProvider and propagator and
// returns a shutdown func that flushes pending spans. When cfg.Endpoint is
// empty it installs otel's default no-op provider and a no-op shutdown.
func NewTracerProvider(ctx context.Context, cfg TraceConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "sweagent"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", name),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

// tracer is looked up lazily from the global provider so these decorators
// work whether or not NewTracerProvider installed a real exporter.
func tracer() trace.Tracer { return otel.Tracer("github.com/sweagent-go/sweagent/internal/agentloop") }

// tracingModelClient wraps a model.ModelClient so every Query becomes one
// span, letting a turn's "thinking" latency show up next to the
// tracingExecutor's "executing" spans in the same trace.
type tracingModelClient struct {
	next model.ModelClient
}

// TraceModelClient wraps client so each Query call is recorded as a span.
func TraceModelClient(client model.ModelClient) model.ModelClient {
	return &tracingModelClient{next: client}
}

func (t *tracingModelClient) Query(ctx context.Context, req model.Request) (*model.Response, error) {
	ctx, span := tracer().Start(ctx, "model.Query", trace.WithAttributes(
		attribute.String("model.id", req.Model),
		attribute.Int("model.message_count", len(req.Messages)),
	))
	defer span.End()

	resp, err := t.next.Query(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("model.tokens_in", resp.Usage.InputTokens),
		attribute.Int("model.tokens_out", resp.Usage.OutputTokens),
		attribute.Float64("model.cost", resp.Cost),
	)
	return resp, nil
}

// tracingExecutor wraps an agentloop.Executor (shell.SessionShell in
// production) so every dispatched command becomes a span.
type tracingExecutor struct {
	next interface {
		Exec(ctx context.Context, command string, timeout, noOutputTimeout time.Duration) (shell.Result, error)
	}
}

// TraceExecutor wraps exec so each Exec call is recorded as a span.
func TraceExecutor(exec interface {
	Exec(ctx context.Context, command string, timeout, noOutputTimeout time.Duration) (shell.Result, error)
}) interface {
	Exec(ctx context.Context, command string, timeout, noOutputTimeout time.Duration) (shell.Result, error)
} {
	return &tracingExecutor{next: exec}
}

func (t *tracingExecutor) Exec(ctx context.Context, command string, timeout, noOutputTimeout time.Duration) (shell.Result, error) {
	ctx, span := tracer().Start(ctx, "shell.Exec", trace.WithAttributes(
		attribute.String("shell.command", command),
	))
	defer span.End()

	result, err := t.next.Exec(ctx, command, timeout, noOutputTimeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(
		attribute.Int("shell.exit_code", result.ExitCode),
		attribute.Bool("shell.timed_out", result.Timeout),
	)
	return result, nil
}
