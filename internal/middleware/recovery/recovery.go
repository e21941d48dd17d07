package recovery

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	logger "github.com/hanpama/procroute/internal/logger"
	procedure "github.com/hanpama/procroute/internal/procedure"
)

// Name is the middleware name reported in procedure metadata.
const Name = "recovery"

// New converts a panic raised while the downstream layers run into an
// internal error. Panics raised later, while a stream is being consumed, are
// not covered.
func New[C any](log logger.Logger) procedure.Middleware {
	return procedure.NewMiddleware(Name, func(ctx context.Context, rc C, arg *structpb.Value, md procedure.Metadata, next procedure.Next[C]) (out procedure.Outcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorWithContext(ctx, "procedure panicked",
					zap.String("kind", md.Kind.String()),
					zap.String("key", md.Key),
					zap.Any("panic", r),
					zap.StackSkip("stack", 2),
				)
				out, err = procedure.Outcome{}, procedure.NewInternalError("panic: %v", r)
			}
		}()
		return next(ctx, rc, arg)
	})
}
