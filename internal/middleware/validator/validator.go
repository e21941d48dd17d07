package validator

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

// Name is the middleware name reported in procedure metadata.
const Name = "validator"

// New decodes the argument into A and rejects the request with
// InvalidArgument when validate fails. The argument is forwarded unchanged.
func New[C, A any](validate func(A) error) procedure.Middleware {
	if validate == nil {
		return procedure.NewMiddleware[C, C](Name, nil)
	}
	return procedure.NewMiddleware(Name, func(ctx context.Context, rc C, arg *structpb.Value, md procedure.Metadata, next procedure.Next[C]) (procedure.Outcome, error) {
		a, err := procedure.DecodeArg[A](arg)
		if err != nil {
			return procedure.Outcome{}, procedure.NewArgumentDecodeError(err)
		}
		if err := validate(a); err != nil {
			return procedure.Outcome{}, procedure.Reject(codes.InvalidArgument, err)
		}
		return next(ctx, rc, arg)
	})
}
