package procedure

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// Info is the metadata collected for a procedure at configuration time.
type Info struct {
	Kind Kind   `json:"kind"`
	Key  string `json:"key,omitempty"`
	// Context is the request context type the procedure accepts.
	Context    string             `json:"context"`
	Middleware []string           `json:"middleware,omitempty"`
	Input      *jsonschema.Schema `json:"input,omitempty"`
	Output     *jsonschema.Schema `json:"output,omitempty"`
}

// Procedure is a stack terminated by a resolver. It is immutable and safe
// for concurrent use; register it with a registry under a key.
type Procedure struct {
	kind  Kind
	layer Layer
	info  Info
	err   error
}

// Kind returns the procedure kind.
func (p *Procedure) Kind() Kind { return p.kind }

// Layer returns the composed layer, outermost middleware first.
func (p *Procedure) Layer() Layer { return p.layer }

// Info returns the procedure metadata. Key is empty until registration.
func (p *Procedure) Info() Info { return p.info }

// Err returns the configuration errors recorded while the procedure was
// assembled, or nil.
func (p *Procedure) Err() error { return p.err }

func newProcedure[C, A, R any](kind Kind, s *Stack, nilResolver bool, terminal Layer) *Procedure {
	if s == nil {
		s = NewStack[C]()
	}
	p := &Procedure{
		kind: kind,
		info: Info{
			Kind:       kind,
			Context:    typeName(s.ContextType()),
			Middleware: s.Names(),
			Input:      schemaFor[A](),
			Output:     schemaFor[R](),
		},
	}
	errs := []error{s.Err()}
	if nilResolver {
		errs = append(errs, &ConfigError{Subject: kind.String() + " resolver", Err: ErrNilResolver})
	}
	if want := reflect.TypeFor[C](); !s.LayerContextType().AssignableTo(want) {
		errs = append(errs, &ConfigError{
			Subject: kind.String() + " resolver",
			Err:     fmt.Errorf("%w: resolver accepts %s, stack provides %s", ErrContextType, want, s.LayerContextType()),
		})
	}
	p.err = errors.Join(errs...)
	p.layer = s.Build(terminal)
	return p
}
