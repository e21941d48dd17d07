package retry

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

// Name is the middleware name reported in procedure metadata.
const Name = "retry"

type config struct {
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	kinds           []procedure.Kind
	retryable       func(error) bool
}

// Option configures the retry middleware.
type Option func(*config)

// WithMaxRetries bounds the number of additional attempts. Default 3.
func WithMaxRetries(n uint64) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithInterval sets the initial and maximum backoff intervals.
func WithInterval(initial, maxInterval time.Duration) Option {
	return func(c *config) {
		c.initialInterval = initial
		c.maxInterval = maxInterval
	}
}

// WithKinds selects the procedure kinds that are retried. Default: queries
// only, since mutations are not assumed to be idempotent.
func WithKinds(kinds ...procedure.Kind) Option {
	return func(c *config) { c.kinds = kinds }
}

// WithRetryable replaces the predicate that decides whether an error is
// transient.
func WithRetryable(fn func(error) bool) Option {
	return func(c *config) { c.retryable = fn }
}

// Retryable is the default predicate: resolver errors whose gRPC code is
// Unavailable or Aborted.
func Retryable(err error) bool {
	if !errors.Is(err, procedure.ErrResolver) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.Aborted:
		return true
	}
	return false
}

// New re-invokes the downstream layers with exponential backoff while they
// fail with a retryable error. Subscriptions are never retried, and only the
// call itself is retried: a deferred value that later fails is not.
func New[C any](opts ...Option) procedure.Middleware {
	cfg := config{
		maxRetries:      3,
		initialInterval: 50 * time.Millisecond,
		maxInterval:     time.Second,
		kinds:           []procedure.Kind{procedure.KindQuery},
		retryable:       Retryable,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return procedure.NewMiddleware(Name, func(ctx context.Context, rc C, arg *structpb.Value, md procedure.Metadata, next procedure.Next[C]) (procedure.Outcome, error) {
		if md.Kind.Streaming() || !slices.Contains(cfg.kinds, md.Kind) {
			return next(ctx, rc, arg)
		}

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = cfg.initialInterval
		policy.MaxInterval = cfg.maxInterval
		policy.MaxElapsedTime = 0

		var out procedure.Outcome
		err := backoff.Retry(func() error {
			o, err := next(ctx, rc, arg)
			if err == nil {
				out = o
				return nil
			}
			if !cfg.retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(backoff.WithMaxRetries(policy, cfg.maxRetries), ctx))
		if err != nil {
			return procedure.Outcome{}, procedure.NewResolverError(err)
		}
		return out, nil
	})
}
