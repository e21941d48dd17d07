package procedure

import (
	"context"
	"reflect"

	"google.golang.org/protobuf/types/known/structpb"
)

// Next invokes the downstream chain with a request context of type C.
// Metadata is forwarded unchanged.
type Next[C any] func(ctx context.Context, rc C, arg *structpb.Value) (Outcome, error)

// MiddlewareFunc is the body of a middleware that receives a request context
// of type In and hands a context of type Out to its downstream. It may call
// next any number of times, usually once, or not at all to short-circuit.
type MiddlewareFunc[In, Out any] func(ctx context.Context, rc In, arg *structpb.Value, md Metadata, next Next[Out]) (Outcome, error)

// Middleware is a type-erased middleware descriptor. Build one with
// NewMiddleware; the zero value is invalid and rejected by Stack.With.
type Middleware struct {
	name   string
	in     reflect.Type
	out    reflect.Type
	handle func(ctx context.Context, rc any, arg *structpb.Value, md Metadata, next Layer) (Outcome, error)
	mapper ArgMapper
}

// NewMiddleware wraps fn into a Middleware. In and Out are recorded so that
// stacks can verify context compatibility when they are assembled.
func NewMiddleware[In, Out any](name string, fn MiddlewareFunc[In, Out]) Middleware {
	in := reflect.TypeFor[In]()
	mw := Middleware{name: name, in: in, out: reflect.TypeFor[Out]()}
	if fn == nil {
		return mw
	}
	mw.handle = func(ctx context.Context, rc any, arg *structpb.Value, md Metadata, next Layer) (Outcome, error) {
		c, ok := asContext[In](rc)
		if !ok {
			return Outcome{}, contextMismatch(in, rc)
		}
		return fn(ctx, c, arg, md, func(ctx context.Context, rc Out, arg *structpb.Value) (Outcome, error) {
			return next.Call(ctx, rc, arg, md)
		})
	}
	return mw
}

// WithMapper returns a copy of m that maps arguments and results between m
// and its downstream. Calling it again nests the new mapper inside the
// existing one.
func (m Middleware) WithMapper(mapper ArgMapper) Middleware {
	m.mapper = ComposeMappers(m.mapper, mapper)
	return m
}

// Name returns the middleware's name.
func (m Middleware) Name() string { return m.name }

// InContext is the request context type m accepts.
func (m Middleware) InContext() reflect.Type { return m.in }

// OutContext is the request context type m hands downstream.
func (m Middleware) OutContext() reflect.Type { return m.out }

func (m Middleware) wrap(next Layer) Layer {
	if m.mapper != nil {
		next = &mappedLayer{mapper: m.mapper, next: next}
	}
	return &middlewareLayer{mw: m, next: next}
}

type middlewareLayer struct {
	mw   Middleware
	next Layer
}

func (l *middlewareLayer) Call(ctx context.Context, rc any, arg *structpb.Value, md Metadata) (Outcome, error) {
	return l.mw.handle(ctx, rc, arg, md, l.next)
}
