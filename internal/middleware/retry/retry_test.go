package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

type session struct{}

func flaky(failures int, code codes.Code, calls *int) procedure.ResolverFunc[*session, any, string] {
	return func(ctx context.Context, rc *session, _ any) (string, error) {
		*calls++
		if *calls <= failures {
			return "", status.Error(code, "try again")
		}
		return "ok", nil
	}
}

func fast(opts ...Option) procedure.Middleware {
	return New[*session](append([]Option{WithInterval(time.Millisecond, 2*time.Millisecond)}, opts...)...)
}

func TestRetriesTransientQueryErrors(t *testing.T) {
	calls := 0
	p := procedure.Query(procedure.NewStack[*session]().With(fast()), flaky(2, codes.Unavailable, &calls))
	out, err := p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{Kind: procedure.KindQuery})
	require.NoError(t, err)
	v, _ := out.Immediate()
	require.Equal(t, "ok", v)
	require.Equal(t, 3, calls)
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	p := procedure.Query(procedure.NewStack[*session]().With(fast(WithMaxRetries(2))), flaky(10, codes.Unavailable, &calls))
	_, err := p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{Kind: procedure.KindQuery})
	require.ErrorIs(t, err, procedure.ErrResolver)
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.Equal(t, 3, calls)
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	calls := 0
	p := procedure.Query(procedure.NewStack[*session]().With(fast()), flaky(10, codes.InvalidArgument, &calls))
	_, err := p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{Kind: procedure.KindQuery})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Equal(t, 1, calls)
}

func TestMutationsAreNotRetriedByDefault(t *testing.T) {
	calls := 0
	p := procedure.Mutation(procedure.NewStack[*session]().With(fast()), flaky(1, codes.Unavailable, &calls))
	_, err := p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{Kind: procedure.KindMutation})
	require.Error(t, err)
	require.Equal(t, 1, calls)

	calls = 0
	p = procedure.Mutation(procedure.NewStack[*session]().With(fast(WithKinds(procedure.KindMutation))), flaky(1, codes.Unavailable, &calls))
	_, err = p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{Kind: procedure.KindMutation})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(procedure.NewResolverError(status.Error(codes.Aborted, "conflict"))))
	require.False(t, Retryable(status.Error(codes.Unavailable, "not wrapped")))
	require.False(t, Retryable(procedure.Rejectf(codes.Unavailable, "rejected")))
	require.False(t, Retryable(procedure.NewResolverError(errors.New("plain"))))

	calls := 0
	custom := WithRetryable(func(err error) bool { return calls < 2 })
	p := procedure.Query(procedure.NewStack[*session]().With(fast(custom)), flaky(5, codes.Internal, &calls))
	_, err := p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{Kind: procedure.KindQuery})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}
