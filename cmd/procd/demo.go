package main

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	logger "github.com/hanpama/procroute/internal/logger"
	"github.com/hanpama/procroute/internal/middleware/authn"
	"github.com/hanpama/procroute/internal/middleware/cache"
	"github.com/hanpama/procroute/internal/middleware/logging"
	"github.com/hanpama/procroute/internal/middleware/recovery"
	"github.com/hanpama/procroute/internal/middleware/retry"
	"github.com/hanpama/procroute/internal/middleware/timeout"
	"github.com/hanpama/procroute/internal/middleware/validator"
	procedure "github.com/hanpama/procroute/internal/procedure"
	"github.com/hanpama/procroute/internal/registry"
)

// session is the request context built for every HTTP request.
type session struct {
	RemoteAddr string
	UserAgent  string
}

func newSession(r *http.Request) (any, error) {
	return &session{RemoteAddr: r.RemoteAddr, UserAgent: r.UserAgent()}, nil
}

// user is the request context of procedures behind authentication.
type user struct {
	*session
	Subject   string
	ExpiresAt time.Time
}

type incrInput struct {
	By int64 `json:"by"`
}

type ticksInput struct {
	Count      int `json:"count"`
	IntervalMS int `json:"interval_ms"`
}

type profile struct {
	Subject    string    `json:"subject"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

const defaultTickInterval = time.Second

// demo holds the state shared by the demo procedures.
type demo struct {
	log     logger.Logger
	cache   *cache.Cache
	authn   authn.JWTConfig
	timeout time.Duration
	retries uint64
	counter atomic.Int64
}

func newDemo(cfg *Config, log logger.Logger, c *cache.Cache) *demo {
	return &demo{
		log:   log,
		cache: c,
		authn: authn.JWTConfig{
			Secret:   []byte(cfg.Authn.Secret),
			Issuer:   cfg.Authn.Issuer,
			Audience: cfg.Authn.Audience,
		},
		timeout: cfg.Procedure.Timeout,
		retries: cfg.Procedure.MaxRetries,
	}
}

// base is the stack every demo procedure starts from. Subscriptions use it
// directly since a stream lives as long as its subscriber.
func (d *demo) base() *procedure.Stack {
	return procedure.NewStack[*session]().
		With(recovery.New[*session](d.log)).
		With(logging.New[*session](d.log))
}

// bounded is base with the per-call timeout for queries and mutations.
func (d *demo) bounded() *procedure.Stack {
	return d.base().With(timeout.New[*session](d.timeout))
}

func (d *demo) queries() *procedure.Stack {
	s := d.bounded().With(retry.New[*session](retry.WithMaxRetries(d.retries)))
	if d.cache != nil {
		s = s.With(cache.Middleware[*session](d.cache))
	}
	return s
}

// router registers the demo procedures. Procedures that need a token are
// only registered when a secret is configured.
func (d *demo) router() *registry.Router {
	queries := d.queries()
	r := registry.NewRouter().
		Register("greet", procedure.Query(queries, d.greet)).
		Register("sum", procedure.Query(queries, d.sum)).
		Register("counter", procedure.Query(d.bounded(), d.current)).
		Register("incr", procedure.Mutation(d.bounded().With(validator.New[*session](validateIncr)), d.incr)).
		Register("ticks", procedure.Subscription(d.base(), d.ticks))

	if len(d.authn.Secret) > 0 {
		authed := procedure.Merge(d.bounded(), procedure.NewStack[*session]().
			With(authn.New(authn.JWT(d.authn, toUser))))
		r.Merge("account", registry.NewRouter().Register("me", procedure.Query(authed, d.me)))
	}
	return r
}

func (d *demo) greet(ctx context.Context, rc *session, name string) (string, error) {
	if name == "" {
		name = "world"
	}
	return "hello, " + name, nil
}

func (d *demo) sum(ctx context.Context, rc *session, xs []float64) (*procedure.Future[float64], error) {
	return procedure.Go(ctx, func(ctx context.Context) (float64, error) {
		var total float64
		for _, x := range xs {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			total += x
		}
		return total, nil
	}), nil
}

func (d *demo) current(ctx context.Context, rc *session, _ any) (int64, error) {
	return d.counter.Load(), nil
}

func validateIncr(in incrInput) error {
	if in.By < 0 {
		return errors.New("by must not be negative")
	}
	return nil
}

func (d *demo) incr(ctx context.Context, rc *session, in incrInput) (int64, error) {
	if in.By == 0 {
		in.By = 1
	}
	return d.counter.Add(in.By), nil
}

func (d *demo) ticks(ctx context.Context, rc *session, in ticksInput) (iter.Seq2[int, error], error) {
	interval := defaultTickInterval
	if in.IntervalMS > 0 {
		interval = time.Duration(in.IntervalMS) * time.Millisecond
	}
	return func(yield func(int, error) bool) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for i := 1; in.Count <= 0 || i <= in.Count; i++ {
			select {
			case <-ctx.Done():
				yield(0, ctx.Err())
				return
			case <-t.C:
			}
			if !yield(i, nil) {
				return
			}
		}
	}, nil
}

func toUser(rc *session, claims *jwt.RegisteredClaims) (*user, error) {
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	u := &user{session: rc, Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		u.ExpiresAt = claims.ExpiresAt.Time
	}
	return u, nil
}

func (d *demo) me(ctx context.Context, rc *user, _ any) (profile, error) {
	p := profile{Subject: rc.Subject, ExpiresAt: rc.ExpiresAt}
	if rc.session != nil {
		p.RemoteAddr = rc.RemoteAddr
	}
	return p, nil
}
