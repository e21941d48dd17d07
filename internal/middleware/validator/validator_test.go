package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

type session struct{}

func nonNegative(n int) error {
	if n < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func TestRejectsInvalidArgument(t *testing.T) {
	calls := 0
	incr := procedure.Mutation(procedure.NewStack[*session]().With(New[*session](nonNegative)), func(ctx context.Context, rc *session, n int) (int, error) {
		calls++
		return n + 1, nil
	})
	require.NoError(t, incr.Err())
	md := procedure.Metadata{Kind: procedure.KindMutation, Key: "incr"}

	out, err := incr.Layer().Call(context.Background(), &session{}, structpb.NewNumberValue(41), md)
	require.NoError(t, err)
	v, _ := out.Immediate()
	require.Equal(t, 42, v)

	_, err = incr.Layer().Call(context.Background(), &session{}, structpb.NewNumberValue(-1), md)
	require.ErrorIs(t, err, procedure.ErrMiddlewareRejected)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Contains(t, err.Error(), "must not be negative")

	_, err = incr.Layer().Call(context.Background(), &session{}, structpb.NewStringValue("x"), md)
	require.ErrorIs(t, err, procedure.ErrArgumentDecode)

	require.Equal(t, 1, calls)
}

func TestNilValidator(t *testing.T) {
	s := procedure.NewStack[*session]().With(New[*session, int](nil))
	require.ErrorIs(t, s.Err(), procedure.ErrNilMiddleware)
}
