package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	eventbus "github.com/hanpama/procroute/internal/eventbus"
	events "github.com/hanpama/procroute/internal/events"
	logger "github.com/hanpama/procroute/internal/logger"
	"github.com/hanpama/procroute/internal/middleware/logging"
	"github.com/hanpama/procroute/internal/middleware/validator"
	procedure "github.com/hanpama/procroute/internal/procedure"
	reqid "github.com/hanpama/procroute/internal/reqid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type appCtx struct{}

func greet() *procedure.Procedure {
	return procedure.Query(procedure.NewStack[*appCtx](), func(ctx context.Context, rc *appCtx, name string) (string, error) {
		return "hello, " + name, nil
	})
}

func dispatch(t *testing.T, reg *Registry, kind procedure.Kind, key string, arg *structpb.Value) (procedure.Outcome, error) {
	t.Helper()
	return reg.Dispatch(context.Background(), kind, key, &appCtx{}, arg, procedure.Metadata{})
}

func TestDispatch_Greet(t *testing.T) {
	reg, err := NewRouter().Register("greet", greet()).Build()
	require.NoError(t, err)

	out, err := dispatch(t, reg, procedure.KindQuery, "greet", structpb.NewStringValue("world"))
	require.NoError(t, err)
	v, ok := out.Immediate()
	require.True(t, ok)
	require.Equal(t, "hello, world", v)
}

func TestDispatch_NotFound(t *testing.T) {
	reg := NewRouter().Register("greet", greet()).MustBuild()

	_, err := dispatch(t, reg, procedure.KindMutation, "greet", nil)
	require.ErrorIs(t, err, procedure.ErrNotFound)
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = dispatch(t, reg, procedure.KindQuery, "nope", nil)
	require.ErrorIs(t, err, procedure.ErrNotFound)

	_, err = dispatch(t, reg, procedure.Kind(9), "greet", nil)
	require.ErrorIs(t, err, procedure.ErrNotFound)
}

func TestDispatch_IncrExample(t *testing.T) {
	log, logs := logger.NewObserverLogger("debug")
	calls := 0
	s := procedure.NewStack[*appCtx]().
		With(logging.New[*appCtx](log)).
		With(validator.New[*appCtx](func(n int) error {
			if n < 0 {
				return errors.New("n must not be negative")
			}
			return nil
		}))
	incr := procedure.Mutation(s, func(ctx context.Context, rc *appCtx, n int) (int, error) {
		calls++
		return n + 1, nil
	})
	reg := NewRouter().Register("incr", incr).MustBuild()

	out, err := dispatch(t, reg, procedure.KindMutation, "incr", structpb.NewNumberValue(1))
	require.NoError(t, err)
	v, _ := out.Immediate()
	require.Equal(t, 2, v)

	_, err = dispatch(t, reg, procedure.KindMutation, "incr", structpb.NewNumberValue(-1))
	require.ErrorIs(t, err, procedure.ErrMiddlewareRejected)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	require.Equal(t, 1, calls)
	require.Equal(t, 2, logs.FilterMessage("procedure started").Len())
	failed := logs.FilterMessage("procedure failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "incr", failed[0].ContextMap()["key"])
	require.Equal(t, "mutation", failed[0].ContextMap()["kind"])
}

func TestDispatch_SubscriptionCancellation(t *testing.T) {
	cleaned := make(chan struct{})
	ticks := procedure.Subscription(procedure.NewStack[*appCtx](), func(ctx context.Context, rc *appCtx, _ any) (iter.Seq2[int, error], error) {
		return func(yield func(int, error) bool) {
			defer close(cleaned)
			for i := 1; ; i++ {
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	})
	reg := NewRouter().Register("ticks", ticks).MustBuild()

	out, err := dispatch(t, reg, procedure.KindSubscription, "ticks", nil)
	require.NoError(t, err)
	var got []any
	for v, err := range out.Seq() {
		require.NoError(t, err)
		got = append(got, v)
		if len(got) == 3 {
			break
		}
	}
	require.Equal(t, []any{1, 2, 3}, got)
	<-cleaned
}

func TestDispatch_InconsistentOutcome(t *testing.T) {
	lying := procedure.NewMiddleware("lying", func(ctx context.Context, rc *appCtx, arg *structpb.Value, md procedure.Metadata, next procedure.Next[*appCtx]) (procedure.Outcome, error) {
		return procedure.Stream(nil), nil
	})
	p := procedure.Query(procedure.NewStack[*appCtx]().With(lying), func(ctx context.Context, rc *appCtx, _ any) (int, error) {
		return 1, nil
	})
	reg := NewRouter().Register("q", p).MustBuild()
	_, err := dispatch(t, reg, procedure.KindQuery, "q", nil)
	require.ErrorIs(t, err, procedure.ErrInternal)
}

func TestDispatch_MiddlewarePanicIsInternal(t *testing.T) {
	explode := procedure.NewMiddleware("explode", func(ctx context.Context, rc *appCtx, arg *structpb.Value, md procedure.Metadata, next procedure.Next[*appCtx]) (procedure.Outcome, error) {
		panic("bug")
	})
	p := procedure.Query(procedure.NewStack[*appCtx]().With(explode), func(ctx context.Context, rc *appCtx, _ any) (int, error) {
		return 1, nil
	})
	reg := NewRouter().Register("q", p).MustBuild()
	_, err := dispatch(t, reg, procedure.KindQuery, "q", nil)
	require.ErrorIs(t, err, procedure.ErrInternal)
}

func TestDispatch_Concurrent(t *testing.T) {
	var calls atomic.Int64
	double := procedure.Query(procedure.NewStack[*appCtx](), func(ctx context.Context, rc *appCtx, n int) (int, error) {
		calls.Add(1)
		return n * 2, nil
	})
	reg := NewRouter().Register("double", double).Register("greet", greet()).MustBuild()

	var g errgroup.Group
	for i := range 64 {
		g.Go(func() error {
			out, err := reg.Dispatch(context.Background(), procedure.KindQuery, "double", &appCtx{}, structpb.NewNumberValue(float64(i)), procedure.Metadata{})
			if err != nil {
				return err
			}
			if v, _ := out.Immediate(); v != i*2 {
				return fmt.Errorf("double(%d) = %v", i, v)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 64, calls.Load())
}

func TestBuild_ReportsEveryProblem(t *testing.T) {
	mismatched := procedure.Query(procedure.NewStack[*appCtx](), func(ctx context.Context, rc string, _ any) (int, error) {
		return 0, nil
	})
	_, err := NewRouter().
		Register("greet", greet()).
		Register("greet", greet()).
		Register("", greet()).
		Register("bad key", greet()).
		Register("nil", nil).
		Register("mismatched", mismatched).
		Build()
	require.Error(t, err)
	require.ErrorIs(t, err, procedure.ErrDuplicateKey)
	require.ErrorIs(t, err, procedure.ErrInvalidKey)
	require.ErrorIs(t, err, procedure.ErrNilProcedure)
	require.ErrorIs(t, err, procedure.ErrContextType)
	require.Contains(t, err.Error(), `query "mismatched"`)

	require.Panics(t, func() { NewRouter().Register("", greet()).MustBuild() })
}

func TestBuild_SameKeyDifferentKinds(t *testing.T) {
	item := procedure.Mutation(procedure.NewStack[*appCtx](), func(ctx context.Context, rc *appCtx, _ any) (string, error) {
		return "mutated", nil
	})
	reg, err := NewRouter().Register("item", greet()).Register("item", item).Build()
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	out, err := dispatch(t, reg, procedure.KindMutation, "item", nil)
	require.NoError(t, err)
	v, _ := out.Immediate()
	require.Equal(t, "mutated", v)
}

func TestRouter_MergeWithPrefix(t *testing.T) {
	users := NewRouter().Register("get", greet()).Register("list", greet())
	admin := NewRouter().Merge("users", users)
	reg := NewRouter().Register("greet", greet()).Merge("admin", admin).Merge("", NewRouter().Register("ping", greet())).MustBuild()

	var keys []string
	for _, info := range reg.Procedures(procedure.KindQuery) {
		keys = append(keys, info.Key)
	}
	want := []string{"admin.users.get", "admin.users.list", "greet", "ping"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("registered keys mismatch (-want +got):\n%s", diff)
	}

	_, ok := reg.Lookup(procedure.KindQuery, "admin.users.get")
	require.True(t, ok)

	_, err := NewRouter().Merge("bad prefix", users).Build()
	require.ErrorIs(t, err, procedure.ErrInvalidKey)

	_, err = NewRouter().Register("users.get", greet()).Merge("users", users).Build()
	require.ErrorIs(t, err, procedure.ErrDuplicateKey)
}

func TestProcedures_Info(t *testing.T) {
	reg := NewRouter().Register("greet", greet()).MustBuild()
	infos := reg.Procedures(procedure.KindQuery)
	require.Len(t, infos, 1)
	require.Equal(t, "greet", infos[0].Key)
	require.Equal(t, "*registry.appCtx", infos[0].Context)
	require.Empty(t, reg.Procedures(procedure.KindSubscription))
}

func TestDispatch_PublishesEvents(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var starts []events.ProcedureStart
	var finishes []events.ProcedureFinish
	eventbus.On(bus, func(ctx context.Context, e events.ProcedureStart) {
		mu.Lock()
		defer mu.Unlock()
		starts = append(starts, e)
	})
	eventbus.On(bus, func(ctx context.Context, e events.ProcedureFinish) {
		mu.Lock()
		defer mu.Unlock()
		finishes = append(finishes, e)
	})

	reg := NewRouter().Register("greet", greet()).MustBuild()
	ctx := reqid.WithID(context.Background(), "req-1")
	_, err := reg.Dispatch(ctx, procedure.KindQuery, "greet", &appCtx{}, structpb.NewStringValue("x"), procedure.Metadata{})
	require.NoError(t, err)
	_, err = reg.Dispatch(ctx, procedure.KindQuery, "missing", &appCtx{}, nil, procedure.Metadata{RequestID: "explicit"})
	require.Error(t, err)

	require.Len(t, starts, 2)
	require.Len(t, finishes, 2)
	require.Equal(t, starts[0].CallID, finishes[0].CallID)
	require.NotEqual(t, starts[0].CallID, starts[1].CallID)
	require.Equal(t, "req-1", starts[0].RequestID)
	require.Equal(t, "explicit", starts[1].RequestID)
	require.Equal(t, "value", finishes[0].Outcome)
	require.Equal(t, codes.OK, finishes[0].Code)
	require.Equal(t, "error", finishes[1].Outcome)
	require.Equal(t, codes.NotFound, finishes[1].Code)
}

func TestDispatch_FinishWaitsForLateFailures(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var finishes []events.ProcedureFinish
	eventbus.On(bus, func(ctx context.Context, e events.ProcedureFinish) {
		mu.Lock()
		defer mu.Unlock()
		finishes = append(finishes, e)
	})

	lookup := procedure.Query(procedure.NewStack[*appCtx](), func(ctx context.Context, rc *appCtx, _ any) (*procedure.Future[int], error) {
		return procedure.Failed[int](status.Error(codes.Unavailable, "backend down")), nil
	})
	feed := procedure.Subscription(procedure.NewStack[*appCtx](), func(ctx context.Context, rc *appCtx, _ any) (iter.Seq2[int, error], error) {
		return func(yield func(int, error) bool) {
			if yield(1, nil) {
				yield(0, errors.New("upstream closed"))
			}
		}, nil
	})
	reg := NewRouter().Register("lookup", lookup).Register("feed", feed).MustBuild()

	out, err := dispatch(t, reg, procedure.KindQuery, "lookup", nil)
	require.NoError(t, err)
	require.Empty(t, finishes)
	_, err = out.Await(context.Background())
	require.Error(t, err)
	require.Len(t, finishes, 1)
	require.Equal(t, "deferred", finishes[0].Outcome)
	require.Equal(t, codes.Unavailable, finishes[0].Code)
	require.ErrorIs(t, finishes[0].Err, procedure.ErrResolver)

	out, err = dispatch(t, reg, procedure.KindSubscription, "feed", nil)
	require.NoError(t, err)
	for _, err := range out.Seq() {
		if err != nil {
			break
		}
	}
	require.Len(t, finishes, 2)
	require.Equal(t, "stream", finishes[1].Outcome)
	require.Equal(t, codes.Unknown, finishes[1].Code)
}
