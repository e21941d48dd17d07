package procedure

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
)

// ArgMapper transforms the argument on its way downstream and the produced
// value on its way back. In returns an opaque state that is handed to the
// matching Out call of the same request, which allows asymmetric wrap/unwrap
// logic.
type ArgMapper interface {
	In(arg *structpb.Value) (*structpb.Value, any, error)
	Out(result any, state any) (any, error)
}

// MapperFuncs builds an ArgMapper from two functions. A nil function is the
// identity.
type MapperFuncs struct {
	InFunc  func(arg *structpb.Value) (*structpb.Value, any, error)
	OutFunc func(result any, state any) (any, error)
}

// In implements ArgMapper.
func (m MapperFuncs) In(arg *structpb.Value) (*structpb.Value, any, error) {
	if m.InFunc == nil {
		return arg, nil, nil
	}
	return m.InFunc(arg)
}

// Out implements ArgMapper.
func (m MapperFuncs) Out(result any, state any) (any, error) {
	if m.OutFunc == nil {
		return result, nil
	}
	return m.OutFunc(result, state)
}

// ComposeMappers combines two mappers so that a value passes through outer
// and then inner on the way in, and through inner and then outer on the way
// out. Round-tripping through the composition is the same as round-tripping
// through outer around inner. Either argument may be nil.
func ComposeMappers(outer, inner ArgMapper) ArgMapper {
	switch {
	case outer == nil:
		return inner
	case inner == nil:
		return outer
	}
	return composedMapper{outer: outer, inner: inner}
}

type composedMapper struct {
	outer, inner ArgMapper
}

type composedState struct {
	outer, inner any
}

func (c composedMapper) In(arg *structpb.Value) (*structpb.Value, any, error) {
	v, outerState, err := c.outer.In(arg)
	if err != nil {
		return nil, nil, err
	}
	v, innerState, err := c.inner.In(v)
	if err != nil {
		return nil, nil, err
	}
	return v, composedState{outer: outerState, inner: innerState}, nil
}

func (c composedMapper) Out(result any, state any) (any, error) {
	s, _ := state.(composedState)
	v, err := c.inner.Out(result, s.inner)
	if err != nil {
		return nil, err
	}
	return c.outer.Out(v, s.outer)
}

// mappedLayer applies a mapper around the next layer.
type mappedLayer struct {
	mapper ArgMapper
	next   Layer
}

func (l *mappedLayer) Call(ctx context.Context, rc any, arg *structpb.Value, md Metadata) (Outcome, error) {
	mapped, state, err := l.mapper.In(arg)
	if err != nil {
		return Outcome{}, NewArgumentDecodeError(err)
	}
	out, err := l.next.Call(ctx, rc, mapped, md)
	if err != nil {
		return Outcome{}, err
	}
	return MapOutcome(out, func(v any) (any, error) {
		r, err := l.mapper.Out(v, state)
		if err != nil {
			return nil, &ExecError{Code: CodeInternal, Message: "mapping result", Cause: err}
		}
		return r, nil
	})
}
