package procedure

import (
	"context"
	"fmt"
	"iter"
	"sync"
)

// Sequence is the stream produced by a subscription. Consumers may stop
// ranging at any point; producers must release their resources when yield
// returns false or when they return.
type Sequence = iter.Seq2[any, error]

// Deferred is a value that becomes available later. Await blocks until the
// value is resolved or ctx is done.
type Deferred interface {
	Await(ctx context.Context) (any, error)
}

// OutcomeKind identifies the shape of an Outcome.
type OutcomeKind int

const (
	OutcomeValue OutcomeKind = iota
	OutcomeDeferred
	OutcomeStream
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeValue:
		return "value"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeStream:
		return "stream"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the successful result of a layer call: an immediate value, a
// deferred value or a sequence of values. The zero Outcome is an immediate nil.
type Outcome struct {
	kind     OutcomeKind
	value    any
	deferred Deferred
	stream   Sequence
}

// Value returns an immediate outcome.
func Value(v any) Outcome { return Outcome{kind: OutcomeValue, value: v} }

// Defer returns an outcome resolved later by d.
func Defer(d Deferred) Outcome { return Outcome{kind: OutcomeDeferred, deferred: d} }

// Stream returns a streaming outcome. A nil seq is an empty stream.
func Stream(seq Sequence) Outcome {
	if seq == nil {
		seq = func(func(any, error) bool) {}
	}
	return Outcome{kind: OutcomeStream, stream: seq}
}

// Kind returns the outcome's shape.
func (o Outcome) Kind() OutcomeKind { return o.kind }

// Immediate returns the value of an immediate outcome.
func (o Outcome) Immediate() (any, bool) {
	if o.kind != OutcomeValue {
		return nil, false
	}
	return o.value, true
}

// Deferred returns the pending value of a deferred outcome.
func (o Outcome) Deferred() (Deferred, bool) {
	if o.kind != OutcomeDeferred {
		return nil, false
	}
	return o.deferred, true
}

// Seq returns the sequence of a streaming outcome, or nil.
func (o Outcome) Seq() Sequence {
	if o.kind != OutcomeStream {
		return nil
	}
	return o.stream
}

// Await resolves an immediate or deferred outcome. It fails for streams.
func (o Outcome) Await(ctx context.Context) (any, error) {
	switch o.kind {
	case OutcomeValue:
		return o.value, nil
	case OutcomeDeferred:
		return o.deferred.Await(ctx)
	default:
		return nil, NewInternalError("cannot await a %s outcome", o.kind)
	}
}

// Consistent reports whether the outcome shape is allowed for procedures of
// kind k: queries and mutations yield values, subscriptions yield streams.
func (o Outcome) Consistent(k Kind) bool {
	if k.Streaming() {
		return o.kind == OutcomeStream
	}
	return o.kind == OutcomeValue || o.kind == OutcomeDeferred
}

// MapOutcome applies fn to the value carried by o, preserving its shape. An
// immediate value is mapped now; a deferred value is mapped when awaited; a
// stream is mapped item by item, and iteration stops at the first error.
func MapOutcome(o Outcome, fn func(any) (any, error)) (Outcome, error) {
	switch o.kind {
	case OutcomeValue:
		v, err := fn(o.value)
		if err != nil {
			return Outcome{}, err
		}
		return Value(v), nil
	case OutcomeDeferred:
		return Defer(mappedDeferred{d: o.deferred, fn: fn}), nil
	case OutcomeStream:
		return Stream(mapSequence(o.stream, fn)), nil
	default:
		return o, nil
	}
}

// OnRelease returns an outcome that calls release once the value of o has
// been handed over: immediately for values, after Await for deferred values,
// and when iteration ends for streams.
func OnRelease(o Outcome, release func()) Outcome {
	return OnSettle(o, func(error) { release() })
}

// OnSettle returns an outcome that reports how o ended to settle, exactly
// once. Immediate values settle right away with nil, deferred values settle
// with the error of the first Await, and streams settle with the last error
// they yielded (or nil) when iteration stops.
func OnSettle(o Outcome, settle func(err error)) Outcome {
	var once sync.Once
	report := func(err error) { once.Do(func() { settle(err) }) }
	switch o.kind {
	case OutcomeDeferred:
		return Defer(settlingDeferred{d: o.deferred, settle: report})
	case OutcomeStream:
		seq := o.stream
		return Stream(func(yield func(any, error) bool) {
			var failure error
			defer func() { report(failure) }()
			for v, err := range seq {
				if err != nil {
					failure = err
				}
				if !yield(v, err) {
					return
				}
			}
		})
	default:
		report(nil)
		return o
	}
}

type mappedDeferred struct {
	d  Deferred
	fn func(any) (any, error)
}

func (m mappedDeferred) Await(ctx context.Context) (any, error) {
	v, err := m.d.Await(ctx)
	if err != nil {
		return nil, err
	}
	return m.fn(v)
}

type settlingDeferred struct {
	d      Deferred
	settle func(error)
}

func (s settlingDeferred) Await(ctx context.Context) (v any, err error) {
	defer func() { s.settle(err) }()
	return s.d.Await(ctx)
}

func mapSequence(seq Sequence, fn func(any) (any, error)) Sequence {
	return func(yield func(any, error) bool) {
		for v, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			out, err := fn(v)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}
