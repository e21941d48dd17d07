package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	logger "github.com/hanpama/procroute/internal/logger"
	procedure "github.com/hanpama/procroute/internal/procedure"
)

// Name is the middleware name reported in procedure metadata.
const Name = "logging"

// New logs every attempt to run a procedure and how it ended. Add it first
// so that rejections by later middleware are recorded too. Deferred values
// are logged once awaited and streams once iteration stops, so failures
// surfacing late are reported as failures.
func New[C any](log logger.Logger) procedure.Middleware {
	return procedure.NewMiddleware(Name, func(ctx context.Context, rc C, arg *structpb.Value, md procedure.Metadata, next procedure.Next[C]) (procedure.Outcome, error) {
		fields := []zap.Field{
			zap.String("kind", md.Kind.String()),
			zap.String("key", md.Key),
		}
		if md.RequestID != "" {
			fields = append(fields, zap.String("request_id", md.RequestID))
		}
		log.Debug("procedure started", fields...)

		start := time.Now()
		out, err := next(ctx, rc, arg)
		if err != nil {
			logFailure(log, err, append(fields, zap.Duration("duration", time.Since(start))))
			return out, err
		}
		return procedure.OnSettle(out, func(err error) {
			fields := append(fields,
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("outcome", out.Kind()),
			)
			if err != nil {
				logFailure(log, err, fields)
				return
			}
			log.Info("procedure completed", fields...)
		}), nil
	})
}

func logFailure(log logger.Logger, err error, fields []zap.Field) {
	fields = append(fields,
		zap.String("error_code", procedure.CodeOf(err).String()),
		zap.String("grpc_code", status.Code(err).String()),
		zap.Error(err),
	)
	if status.Code(err) == codes.Internal {
		log.Error("procedure failed", fields...)
		return
	}
	log.Info("procedure failed", fields...)
}
