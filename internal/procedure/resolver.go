package procedure

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"runtime/debug"

	"google.golang.org/protobuf/types/known/structpb"
)

// ResolverFunc implements a query or mutation. If R implements Deferred (for
// example *Future[T]) the result is returned to the transport as a deferred
// value; otherwise it is an immediate value.
type ResolverFunc[C, A, R any] func(ctx context.Context, rc C, arg A) (R, error)

// SubscriptionFunc implements a subscription. The returned sequence is
// consumed by the transport, which may stop early; the sequence must release
// its resources when yield returns false.
type SubscriptionFunc[C, A, T any] func(ctx context.Context, rc C, arg A) (iter.Seq2[T, error], error)

// Query terminates s with a query resolver.
func Query[C, A, R any](s *Stack, fn ResolverFunc[C, A, R]) *Procedure {
	return newRequest(KindQuery, s, fn)
}

// Mutation terminates s with a mutation resolver.
func Mutation[C, A, R any](s *Stack, fn ResolverFunc[C, A, R]) *Procedure {
	return newRequest(KindMutation, s, fn)
}

// Subscription terminates s with a subscription resolver.
func Subscription[C, A, T any](s *Stack, fn SubscriptionFunc[C, A, T]) *Procedure {
	want := reflect.TypeFor[C]()
	terminal := LayerFunc(func(ctx context.Context, rc any, arg *structpb.Value, md Metadata) (out Outcome, err error) {
		c, ok := asContext[C](rc)
		if !ok {
			return Outcome{}, contextMismatch(want, rc)
		}
		a, derr := DecodeArg[A](arg)
		if derr != nil {
			return Outcome{}, NewArgumentDecodeError(derr)
		}
		defer recoverResolver(&out, &err)
		seq, ferr := fn(ctx, c, a)
		if ferr != nil {
			return Outcome{}, NewResolverError(ferr)
		}
		return Stream(eraseSequence(seq)), nil
	})
	return newProcedure[C, A, T](KindSubscription, s, fn == nil, terminal)
}

func newRequest[C, A, R any](kind Kind, s *Stack, fn ResolverFunc[C, A, R]) *Procedure {
	want := reflect.TypeFor[C]()
	terminal := LayerFunc(func(ctx context.Context, rc any, arg *structpb.Value, md Metadata) (out Outcome, err error) {
		c, ok := asContext[C](rc)
		if !ok {
			return Outcome{}, contextMismatch(want, rc)
		}
		a, derr := DecodeArg[A](arg)
		if derr != nil {
			return Outcome{}, NewArgumentDecodeError(derr)
		}
		defer recoverResolver(&out, &err)
		r, ferr := fn(ctx, c, a)
		if ferr != nil {
			return Outcome{}, NewResolverError(ferr)
		}
		if d, ok := any(r).(Deferred); ok && !isNil(d) {
			return Defer(resolverDeferred{d}), nil
		}
		return Value(r), nil
	})
	return newProcedure[C, A, R](kind, s, fn == nil, terminal)
}

func recoverResolver(out *Outcome, err *error) {
	if r := recover(); r != nil {
		*out = Outcome{}
		*err = &ExecError{
			Code:    CodeInternal,
			Message: "resolver panicked",
			Cause:   &panicError{value: r, stack: debug.Stack()},
		}
	}
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprint(p.value) }

// Stack returns the goroutine stack captured when the panic was recovered.
func (p *panicError) Stack() []byte { return p.stack }

// resolverDeferred reports failures of a deferred resolver result in the
// same taxonomy as synchronous failures.
type resolverDeferred struct {
	d Deferred
}

func (r resolverDeferred) Await(ctx context.Context) (any, error) {
	v, err := r.d.Await(ctx)
	if err != nil {
		return nil, NewResolverError(err)
	}
	return v, nil
}

func eraseSequence[T any](seq iter.Seq2[T, error]) Sequence {
	if seq == nil {
		return nil
	}
	return func(yield func(any, error) bool) {
		for v, err := range seq {
			if err != nil {
				yield(nil, NewResolverError(err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

func isNil(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return v == nil
}
