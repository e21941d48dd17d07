package timeout

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

// Name is the middleware name reported in procedure metadata.
const Name = "timeout"

// New bounds each call by d. The deadline covers awaiting a deferred value
// and consuming a stream, since both use the context handed to the resolver;
// it is released once the outcome has been consumed. A non-positive d
// disables the deadline.
func New[C any](d time.Duration) procedure.Middleware {
	return procedure.NewMiddleware(Name, func(ctx context.Context, rc C, arg *structpb.Value, md procedure.Metadata, next procedure.Next[C]) (procedure.Outcome, error) {
		if d <= 0 {
			return next(ctx, rc, arg)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		out, err := next(ctx, rc, arg)
		if err != nil {
			cancel()
			return out, err
		}
		return procedure.OnRelease(out, cancel), nil
	})
}
