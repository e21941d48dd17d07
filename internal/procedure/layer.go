package procedure

import (
	"context"
	"reflect"

	"google.golang.org/protobuf/types/known/structpb"
)

// Layer is one stage of the execution pipeline.
//
// Contract
//   - Call must be safe for concurrent use. A Layer holds no per-request
//     state; everything request-scoped arrives as an argument.
//   - rc is the request context value. Its dynamic type must match what the
//     layer was built for; a mismatch is reported as CodeInternal.
//   - arg may be nil when the caller supplied no argument.
//   - md is read-only.
//   - Failures are returned as *ExecError. Nothing is allowed to escape as a
//     panic; terminal layers recover resolver panics themselves.
type Layer interface {
	Call(ctx context.Context, rc any, arg *structpb.Value, md Metadata) (Outcome, error)
}

// LayerFunc adapts a function to the Layer interface.
type LayerFunc func(ctx context.Context, rc any, arg *structpb.Value, md Metadata) (Outcome, error)

// Call implements Layer.
func (f LayerFunc) Call(ctx context.Context, rc any, arg *structpb.Value, md Metadata) (Outcome, error) {
	return f(ctx, rc, arg, md)
}

// asContext converts the untyped request context into C. A nil rc converts to
// the zero value of any nilable C.
func asContext[C any](rc any) (C, bool) {
	if c, ok := rc.(C); ok {
		return c, true
	}
	var zero C
	if rc != nil {
		return zero, false
	}
	switch reflect.TypeFor[C]().Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return zero, true
	}
	return zero, false
}

func contextMismatch(want reflect.Type, rc any) *ExecError {
	return &ExecError{
		Code:    CodeInternal,
		Message: "request context has type " + typeName(reflect.TypeOf(rc)) + ", layer expects " + typeName(want),
	}
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
