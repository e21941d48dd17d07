package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc/codes"

	eventbus "github.com/hanpama/procroute/internal/eventbus"
	events "github.com/hanpama/procroute/internal/events"
)

func TestSpansFollowEvents(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	bus := eventbus.New()
	unsubscribe := Subscribe(bus, tp.Tracer("test"))
	defer unsubscribe()

	ctx := context.Background()
	eventbus.Emit(ctx, bus, events.RequestStart{RequestID: "r1", Method: "GET", Path: "/greet"})
	eventbus.Emit(ctx, bus, events.ProcedureStart{CallID: 7, Kind: "query", Key: "greet", RequestID: "r1"})
	eventbus.Emit(ctx, bus, events.ProcedureFinish{CallID: 7, Kind: "query", Key: "greet", RequestID: "r1", Outcome: "error", Code: codes.Internal, Err: errors.New("boom")})
	eventbus.Emit(ctx, bus, events.RequestFinish{RequestID: "r1", Method: "GET", Path: "/greet", Status: 500})

	spans := rec.Ended()
	require.Len(t, spans, 2)
	call, http := spans[0], spans[1]
	require.Equal(t, "procedure.call", call.Name())
	require.Equal(t, "http.request", http.Name())
	require.Equal(t, http.SpanContext().SpanID(), call.Parent().SpanID())
	require.Len(t, call.Events(), 1)
	require.Equal(t, "Error", call.Status().Code.String())
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup("", "procd")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	Subscribe(nil, nil)()
}
