package registry

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

// Separator joins a router prefix and the keys registered below it.
const Separator = "."

// Router collects procedures at configuration time. It is not safe for
// concurrent use; build it once at startup and turn it into a Registry.
type Router struct {
	entries []entry
	errs    []error
}

type entry struct {
	key  string
	proc *procedure.Procedure
}

// NewRouter returns an empty router.
func NewRouter() *Router { return &Router{} }

// Register adds p under key. Problems with the key or with p are recorded
// and reported by Build.
func (r *Router) Register(key string, p *procedure.Procedure) *Router {
	if err := validKey(key); err != nil {
		r.errs = append(r.errs, &procedure.ConfigError{Subject: fmt.Sprintf("key %q", key), Err: err})
		return r
	}
	if p == nil {
		r.errs = append(r.errs, &procedure.ConfigError{Subject: fmt.Sprintf("key %q", key), Err: procedure.ErrNilProcedure})
		return r
	}
	r.entries = append(r.entries, entry{key: key, proc: p})
	return r
}

// Merge registers every procedure of child under prefix + Separator + key.
// An empty prefix merges the keys unchanged.
func (r *Router) Merge(prefix string, child *Router) *Router {
	if prefix != "" {
		if err := validKey(prefix); err != nil {
			r.errs = append(r.errs, &procedure.ConfigError{Subject: fmt.Sprintf("prefix %q", prefix), Err: err})
			return r
		}
	}
	for _, e := range child.entries {
		key := e.key
		if prefix != "" {
			key = prefix + Separator + key
		}
		r.entries = append(r.entries, entry{key: key, proc: e.proc})
	}
	r.errs = append(r.errs, child.errs...)
	return r
}

// Build validates the router and returns the immutable registry. Every
// configuration problem is reported, joined into one error; Build never
// panics.
func (r *Router) Build() (*Registry, error) {
	reg := newRegistry()
	errs := append([]error(nil), r.errs...)
	for _, e := range r.entries {
		k := e.proc.Kind()
		if err := e.proc.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", k, e.key, err))
			continue
		}
		if _, dup := reg.procs[k][e.key]; dup {
			errs = append(errs, &procedure.ConfigError{
				Subject: fmt.Sprintf("%s %q", k, e.key),
				Err:     procedure.ErrDuplicateKey,
			})
			continue
		}
		reg.add(e.key, e.proc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	reg.seal()
	return reg, nil
}

// MustBuild is Build for startup code. It panics on configuration errors.
func (r *Router) MustBuild() *Registry {
	reg, err := r.Build()
	if err != nil {
		panic(err)
	}
	return reg
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", procedure.ErrInvalidKey)
	}
	if strings.HasPrefix(key, Separator) || strings.HasSuffix(key, Separator) {
		return fmt.Errorf("%w: leading or trailing %q", procedure.ErrInvalidKey, Separator)
	}
	if strings.ContainsFunc(key, func(r rune) bool { return unicode.IsSpace(r) || r == '/' }) {
		return fmt.Errorf("%w: contains whitespace or '/'", procedure.ErrInvalidKey)
	}
	return nil
}
