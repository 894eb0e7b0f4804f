package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span is the tracing handle passed through repositories and services.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	AddEvent(name string, attributes map[string]interface{})
	RecordError(err error)
	SetStatus(code int, description string)
}

// StartSpanFunc creates and starts a new span. Handlers receive one via
// dependency injection; tests use NoopStartSpan.
type StartSpanFunc func(ctx context.Context, name string) (context.Context, Span)

// Span status codes accepted by Span.SetStatus.
const (
	SpanStatusOK    = 1
	SpanStatusError = 2
)

// otelSpanWrapper adapts an OpenTelemetry span to the Span interface.
type otelSpanWrapper struct {
	span trace.Span
}

func (o *otelSpanWrapper) End() { o.span.End() }

func (o *otelSpanWrapper) SetStatus(code int, description string) {
	switch code {
	case SpanStatusOK:
		o.span.SetStatus(codes.Ok, description)
	case SpanStatusError:
		o.span.SetStatus(codes.Error, description)
	default:
		o.span.SetStatus(codes.Unset, description)
	}
}

func (o *otelSpanWrapper) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		o.span.SetAttributes(attribute.String(key, v))
	case int:
		o.span.SetAttributes(attribute.Int(key, v))
	case int64:
		o.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		o.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		o.span.SetAttributes(attribute.Bool(key, v))
	default:
		o.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (o *otelSpanWrapper) AddEvent(name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	o.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (o *otelSpanWrapper) RecordError(err error) {
	if err == nil {
		return
	}
	o.span.RecordError(err)
	o.span.SetStatus(codes.Error, err.Error())
}

// NewStartSpan returns a StartSpanFunc backed by the global otel tracer
// provider. Without an SDK installed the provider is a no-op, so
// instrumentation is always safe to call; exporter wiring belongs to the
// deployment, not this library.
func NewStartSpan(serviceName string) StartSpanFunc {
	tracer := otel.Tracer(serviceName)
	return func(ctx context.Context, name string) (context.Context, Span) {
		ctx, span := tracer.Start(ctx, name)
		return ctx, &otelSpanWrapper{span: span}
	}
}

// noopSpan satisfies Span without any backend.
type noopSpan struct{}

func (noopSpan) End()                                                {}
func (noopSpan) SetAttribute(key string, value interface{})          {}
func (noopSpan) AddEvent(name string, attrs map[string]interface{})  {}
func (noopSpan) RecordError(err error)                               {}
func (noopSpan) SetStatus(code int, description string)              {}

// NoopStartSpan is the StartSpanFunc used when tracing is disabled.
func NoopStartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}
