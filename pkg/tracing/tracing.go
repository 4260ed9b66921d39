package tracing

import (
	"context"
	"fmt"

	"tandem/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "tandem"

var (
	ServiceNameKey  = attribute.Key("service.name")
	EnvironmentKey  = attribute.Key("deployment.environment")
	HTTPMethodKey   = attribute.Key("http.method")
	HTTPRouteKey    = attribute.Key("http.route")
	HTTPStatusKey   = attribute.Key("http.status_code")
	ConnectionIDKey = attribute.Key("connection.id")
	RoleKey         = attribute.Key("participant.role")
	RoomIDKey       = attribute.Key("room.id")
	MessageTypeKey  = attribute.Key("websocket.message_type")
	MediaItemKey    = attribute.Key("media.item_id")
	DBOperationKey  = attribute.Key("db.operation")
	DBSystemKey     = attribute.Key("db.system")
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	}
}

// Provider owns the SDK tracer provider, if one was installed.
type Provider struct {
	sdk *tracesdk.TracerProvider
}

// Init installs a Jaeger-exporting global tracer provider. With tracing
// disabled the global no-op provider stays in place and Shutdown does nothing.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}
	return install(cfg, tracesdk.WithBatcher(exporter))
}

func install(cfg Config, opts ...tracesdk.TracerProviderOption) (*Provider, error) {
	res, err := resource.New(context.Background(), resource.WithAttributes(
		ServiceNameKey.String(cfg.ServiceName),
		EnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	sampler := tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))
	sdk := tracesdk.NewTracerProvider(append(opts, tracesdk.WithResource(res), tracesdk.WithSampler(sampler))...)

	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return &Provider{sdk: sdk}, nil
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

func start(ctx context.Context, kind trace.SpanKind, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return start(ctx, trace.SpanKindServer, "http."+method,
		HTTPMethodKey.String(method),
		HTTPRouteKey.String(route),
	)
}

// TraceWebSocketMessage opens a span for one inbound frame.
func TraceWebSocketMessage(ctx context.Context, messageType, connectionID string) (context.Context, trace.Span) {
	return start(ctx, trace.SpanKindServer, "websocket."+messageType,
		MessageTypeKey.String(messageType),
		ConnectionIDKey.String(connectionID),
	)
}

func TraceRepositoryOperation(ctx context.Context, operation, backend string) (context.Context, trace.Span) {
	return start(ctx, trace.SpanKindClient, "db."+operation,
		DBOperationKey.String(operation),
		DBSystemKey.String(backend),
	)
}

// AddSpanAttributes annotates the span in ctx, if it is recording.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
