package timeout

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

type session struct{}

func TestDeadlineReachesResolver(t *testing.T) {
	p := procedure.Query(procedure.NewStack[*session]().With(New[*session](10*time.Millisecond)), func(ctx context.Context, rc *session, _ any) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	_, err := p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{Kind: procedure.KindQuery})
	require.ErrorIs(t, err, procedure.ErrResolver)
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestDeadlineCoversStream(t *testing.T) {
	var streamCtx context.Context
	p := procedure.Subscription(procedure.NewStack[*session]().With(New[*session](time.Minute)), func(ctx context.Context, rc *session, _ any) (iter.Seq2[int, error], error) {
		streamCtx = ctx
		return func(yield func(int, error) bool) {
			for i := 0; ctx.Err() == nil; i++ {
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	})
	out, err := p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{Kind: procedure.KindSubscription})
	require.NoError(t, err)
	_, hasDeadline := streamCtx.Deadline()
	require.True(t, hasDeadline)
	require.NoError(t, streamCtx.Err())

	for v := range out.Seq() {
		if v.(int) == 2 {
			break
		}
	}
	require.ErrorIs(t, streamCtx.Err(), context.Canceled)
}

func TestDisabled(t *testing.T) {
	p := procedure.Query(procedure.NewStack[*session]().With(New[*session](0)), func(ctx context.Context, rc *session, _ any) (bool, error) {
		_, ok := ctx.Deadline()
		return ok, nil
	})
	out, err := p.Layer().Call(context.Background(), &session{}, nil, procedure.Metadata{})
	require.NoError(t, err)
	v, _ := out.Immediate()
	require.Equal(t, false, v)
}
