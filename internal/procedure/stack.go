package procedure

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// Stack is an ordered, immutable list of middleware with a fixed outer
// request context type. With and Merge return new stacks; the receiver is
// never modified, so one stack can be the shared prefix of many procedures.
//
// Configuration mistakes (nil middleware, incompatible context types) do not
// panic. They are recorded on the stack and reported when the procedure is
// registered and the registry is built.
type Stack struct {
	root  reflect.Type
	layer reflect.Type
	mws   []Middleware
	errs  []error
}

// NewStack returns an empty stack whose request context type is C.
func NewStack[C any]() *Stack {
	t := reflect.TypeFor[C]()
	return &Stack{root: t, layer: t}
}

func (s *Stack) clone() *Stack {
	return &Stack{
		root:  s.root,
		layer: s.layer,
		mws:   slices.Clone(s.mws),
		errs:  slices.Clone(s.errs),
	}
}

// With appends mw as the innermost middleware. The resulting stack delivers
// mw's output context type to whatever is attached after it.
func (s *Stack) With(mw Middleware) *Stack {
	next := s.clone()
	if mw.handle == nil {
		next.errs = append(next.errs, &ConfigError{Subject: describe(mw), Err: ErrNilMiddleware})
		return next
	}
	if !s.layer.AssignableTo(mw.in) {
		next.errs = append(next.errs, &ConfigError{
			Subject: describe(mw),
			Err:     fmt.Errorf("%w: middleware accepts %s, stack provides %s", ErrContextType, mw.in, s.layer),
		})
	}
	next.mws = append(next.mws, mw)
	next.layer = mw.out
	return next
}

// Merge joins two stacks end to end: every middleware of outer wraps every
// middleware of inner. inner's outer context type must accept what outer
// delivers.
func Merge(outer, inner *Stack) *Stack {
	m := outer.clone()
	if !outer.layer.AssignableTo(inner.root) {
		m.errs = append(m.errs, &ConfigError{
			Subject: "merged stack",
			Err:     fmt.Errorf("%w: inner stack accepts %s, outer stack provides %s", ErrContextType, inner.root, outer.layer),
		})
	}
	m.mws = append(m.mws, inner.mws...)
	m.errs = append(m.errs, inner.errs...)
	m.layer = inner.layer
	return m
}

// Build folds the middleware around terminal. The first middleware added is
// the outermost layer of the result.
func (s *Stack) Build(terminal Layer) Layer {
	l := terminal
	for i := len(s.mws) - 1; i >= 0; i-- {
		l = s.mws[i].wrap(l)
	}
	return l
}

// ContextType is the request context type the built layer accepts.
func (s *Stack) ContextType() reflect.Type { return s.root }

// LayerContextType is the request context type delivered to the resolver.
func (s *Stack) LayerContextType() reflect.Type { return s.layer }

// Names lists the middleware names from outermost to innermost.
func (s *Stack) Names() []string {
	names := make([]string, len(s.mws))
	for i, mw := range s.mws {
		names[i] = mw.name
	}
	return names
}

// Len returns the number of middleware in the stack.
func (s *Stack) Len() int { return len(s.mws) }

// Err returns every configuration error recorded so far, joined.
func (s *Stack) Err() error { return errors.Join(s.errs...) }

func describe(mw Middleware) string {
	if mw.name == "" {
		return "middleware"
	}
	return fmt.Sprintf("middleware %q", mw.name)
}
