package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/procroute/internal/eventbus"
	events "github.com/hanpama/procroute/internal/events"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/hanpama/procroute"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Subscribe(eventbus.Current(), tp.Tracer(instrumentationName))

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Subscribe records spans for the events published on bus with tracer.
func Subscribe(bus *eventbus.Bus, tracer trace.Tracer) (unsubscribe func()) {
	if bus == nil {
		return func() {}
	}
	s := &subscriber{tracer: tracer}
	return s.register(bus)
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // request id -> trace.Span
	callSpans sync.Map // call id -> trace.Span
}

func (s *subscriber) register(bus *eventbus.Bus) func() {
	unsubs := []func(){
		eventbus.On(bus, func(ctx context.Context, e events.RequestStart) {
			_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Method),
				attribute.String("http.target", e.Path),
				attribute.String("request.id", e.RequestID),
			)
			s.httpSpans.Store(e.RequestID, span)
		}),

		eventbus.On(bus, func(ctx context.Context, e events.RequestFinish) {
			v, ok := s.httpSpans.LoadAndDelete(e.RequestID)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(
				semconv.HTTPStatusCodeKey.Int(e.Status),
				attribute.Bool("http.streamed", e.Streamed),
			)
			if e.Status >= 500 {
				span.SetStatus(otelcodes.Error, "")
			}
			span.End()
		}),

		eventbus.On(bus, func(ctx context.Context, e events.ProcedureStart) {
			parent := ctx
			if v, ok := s.httpSpans.Load(e.RequestID); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
			_, span := s.tracer.Start(parent, "procedure.call")
			span.SetAttributes(
				attribute.String("procedure.kind", e.Kind),
				attribute.String("procedure.key", e.Key),
			)
			s.callSpans.Store(e.CallID, span)
		}),

		eventbus.On(bus, func(ctx context.Context, e events.ProcedureFinish) {
			v, ok := s.callSpans.LoadAndDelete(e.CallID)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(
				attribute.String("procedure.outcome", e.Outcome),
				attribute.String("grpc.code", e.Code.String()),
			)
			if e.Err != nil {
				span.RecordError(e.Err)
				if e.Code == codes.Internal || e.Code == codes.Unknown {
					span.SetStatus(otelcodes.Error, e.Err.Error())
				}
			}
			span.End()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
