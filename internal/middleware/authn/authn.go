package authn

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

// Name is the middleware name reported in procedure metadata.
const Name = "authn"

var ErrMissingCredentials = errors.New("missing credentials")

// AuthenticateFunc derives the authenticated request context from the
// incoming one. A non-nil error rejects the request.
type AuthenticateFunc[In, Out any] func(ctx context.Context, rc In, md procedure.Metadata) (Out, error)

// New returns a middleware that replaces the request context with the one
// produced by authenticate. Plain errors are reported as Unauthenticated
// rejections; an *procedure.ExecError is returned unchanged.
func New[In, Out any](authenticate AuthenticateFunc[In, Out]) procedure.Middleware {
	if authenticate == nil {
		return procedure.NewMiddleware[In, Out](Name, nil)
	}
	return procedure.NewMiddleware(Name, func(ctx context.Context, rc In, arg *structpb.Value, md procedure.Metadata, next procedure.Next[Out]) (procedure.Outcome, error) {
		authed, err := authenticate(ctx, rc, md)
		if err != nil {
			var execErr *procedure.ExecError
			if errors.As(err, &execErr) {
				return procedure.Outcome{}, err
			}
			return procedure.Outcome{}, procedure.Reject(codes.Unauthenticated, err)
		}
		return next(ctx, authed, arg)
	})
}
