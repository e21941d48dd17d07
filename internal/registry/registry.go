package registry

import (
	"context"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	eventbus "github.com/hanpama/procroute/internal/eventbus"
	events "github.com/hanpama/procroute/internal/events"
	procedure "github.com/hanpama/procroute/internal/procedure"
	reqid "github.com/hanpama/procroute/internal/reqid"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Registry maps (kind, key) pairs to procedures and dispatches requests to
// them. It is immutable once built and safe for concurrent use without locks.
type Registry struct {
	procs map[procedure.Kind]map[string]*procedure.Procedure
	infos map[procedure.Kind][]procedure.Info
}

var callSeq atomic.Uint64

func newRegistry() *Registry {
	r := &Registry{
		procs: make(map[procedure.Kind]map[string]*procedure.Procedure, len(procedure.Kinds)),
		infos: make(map[procedure.Kind][]procedure.Info, len(procedure.Kinds)),
	}
	for _, k := range procedure.Kinds {
		r.procs[k] = make(map[string]*procedure.Procedure)
	}
	return r
}

func (r *Registry) add(key string, p *procedure.Procedure) {
	r.procs[p.Kind()][key] = p
}

func (r *Registry) seal() {
	for _, k := range procedure.Kinds {
		keys := slices.Sorted(maps.Keys(r.procs[k]))
		infos := make([]procedure.Info, 0, len(keys))
		for _, key := range keys {
			info := r.procs[k][key].Info()
			info.Key = key
			infos = append(infos, info)
		}
		r.infos[k] = infos
	}
}

// Lookup returns the procedure registered under (kind, key).
func (r *Registry) Lookup(kind procedure.Kind, key string) (*procedure.Procedure, bool) {
	p, ok := r.procs[kind][key]
	return p, ok
}

// Procedures describes the procedures of one kind, sorted by key.
func (r *Registry) Procedures(kind procedure.Kind) []procedure.Info {
	return slices.Clone(r.infos[kind])
}

// Len returns the number of registered procedures.
func (r *Registry) Len() int {
	n := 0
	for _, m := range r.procs {
		n += len(m)
	}
	return n
}

// Dispatch executes the procedure registered under (kind, key) with the
// request context rc and argument arg. md.Kind and md.Key are overwritten
// with kind and key; an empty md.RequestID is taken from ctx.
//
// The outcome is returned exactly as the procedure's layers produced it:
// deferred values and streams are not resolved here. An outcome whose shape
// does not fit the kind is reported as an internal error.
//
// ProcedureFinish is published when the outcome settles: right away for
// errors and immediate values, after Await for deferred values and when
// iteration stops for streams.
func (r *Registry) Dispatch(ctx context.Context, kind procedure.Kind, key string, rc any, arg *structpb.Value, md procedure.Metadata) (procedure.Outcome, error) {
	md.Kind, md.Key = kind, key
	if md.RequestID == "" {
		md.RequestID, _ = reqid.FromContext(ctx)
	}
	callID := callSeq.Add(1)
	start := time.Now()
	eventbus.Publish(ctx, events.ProcedureStart{CallID: callID, Kind: kind.String(), Key: key, RequestID: md.RequestID})
	finish := func(outcome string, err error) {
		eventbus.Publish(ctx, events.ProcedureFinish{
			CallID:    callID,
			Kind:      kind.String(),
			Key:       key,
			RequestID: md.RequestID,
			Outcome:   outcome,
			Code:      status.Code(err),
			Err:       err,
			Duration:  time.Since(start),
		})
	}

	p, ok := r.procs[kind][key]
	if !ok {
		err := procedure.NewNotFoundError(kind, key)
		finish("error", err)
		return procedure.Outcome{}, err
	}
	out, err := call(ctx, p.Layer(), rc, arg, md)
	if err != nil {
		finish("error", err)
		return procedure.Outcome{}, err
	}
	if !out.Consistent(kind) {
		err := procedure.NewInternalError("%s %q produced a %s outcome", kind, key, out.Kind())
		finish("error", err)
		return procedure.Outcome{}, err
	}
	shape := out.Kind().String()
	return procedure.OnSettle(out, func(err error) { finish(shape, err) }), nil
}

func call(ctx context.Context, l procedure.Layer, rc any, arg *structpb.Value, md procedure.Metadata) (out procedure.Outcome, err error) {
	defer func() {
		if v := recover(); v != nil {
			out, err = procedure.Outcome{}, procedure.NewInternalError("%s %q panicked: %v", md.Kind, md.Key, v)
		}
	}()
	return l.Call(ctx, rc, arg, md)
}
