package reqid

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// key is the context key for the request ID.
type key struct{}

// NewContext returns a copy of parent with a request ID stored. The ID is the
// trace ID of the span in parent when there is one, and a fresh ULID
// otherwise. It also returns the ID.
func NewContext(parent context.Context) (context.Context, string) {
	var id string
	if sc := trace.SpanContextFromContext(parent); sc.HasTraceID() {
		id = sc.TraceID().String()
	} else {
		id = ulid.Make().String()
	}
	return WithID(parent, id), id
}

// WithID returns a copy of parent carrying id, for example one received from
// an upstream proxy.
func WithID(parent context.Context, id string) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
