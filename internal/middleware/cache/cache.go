package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

// Name is the middleware name reported in procedure metadata.
const Name = "cache"

var (
	cacheTotalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "procroute",
		Name:      "query_cache_total_count",
		Help:      "The total number of query calls that consulted the result cache.",
	})

	cacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "procroute",
		Name:      "query_cache_hit_count",
		Help:      "The total number of query calls served from the result cache.",
	})

	deduplicatedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "procroute",
		Name:      "query_cache_deduplicated_count",
		Help:      "The total number of query calls that shared an in-flight call.",
	})
)

// Cache stores immediate query results keyed by procedure key, argument and
// the values of selected headers. The request context value is not part of
// the key: only cache procedures whose result does not depend on it, or list
// the headers it depends on with Vary.
type Cache struct {
	store *theine.Cache[string, any]
	group singleflight.Group
	ttl   time.Duration
	vary  []string
}

// Option configures a Cache.
type Option func(*Cache)

// Vary adds header names whose values are part of the cache key.
func Vary(headers ...string) Option {
	return func(c *Cache) { c.vary = append(c.vary, headers...) }
}

// NewCache builds a cache holding at most size entries for ttl each.
func NewCache(size int64, ttl time.Duration, opts ...Option) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	store, err := theine.NewBuilder[string, any](size).Build()
	if err != nil {
		return nil, err
	}
	c := &Cache{store: store, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the cache's background resources.
func (c *Cache) Close() { c.store.Close() }

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.store.Len() }

func (c *Cache) key(md procedure.Metadata, arg *structpb.Value) (string, error) {
	d := xxhash.New()
	_, _ = d.WriteString(md.Kind.String())
	_, _ = d.WriteString("\x00" + md.Key + "\x00")
	if arg != nil {
		b, err := proto.MarshalOptions{Deterministic: true}.Marshal(arg)
		if err != nil {
			return "", err
		}
		_, _ = d.Write(b)
	}
	for _, h := range c.vary {
		_, _ = d.WriteString("\x00" + h + "=")
		for _, v := range md.Header.Get(h) {
			_, _ = d.WriteString(v + "\x00")
		}
	}
	return strconv.FormatUint(d.Sum64(), 36), nil
}

// Middleware returns the caching middleware. Only queries with immediate
// results are cached; every other call goes straight through.
func Middleware[C any](c *Cache) procedure.Middleware {
	return procedure.NewMiddleware(Name, func(ctx context.Context, rc C, arg *structpb.Value, md procedure.Metadata, next procedure.Next[C]) (procedure.Outcome, error) {
		if md.Kind != procedure.KindQuery {
			return next(ctx, rc, arg)
		}
		key, err := c.key(md, arg)
		if err != nil {
			return next(ctx, rc, arg)
		}

		cacheTotalCounter.Inc()
		if v, ok := c.store.Get(key); ok {
			cacheHitCounter.Inc()
			return procedure.Value(v), nil
		}

		res, err, shared := c.group.Do(key, func() (any, error) {
			out, err := next(ctx, rc, arg)
			if err != nil {
				return nil, err
			}
			if v, ok := out.Immediate(); ok {
				c.store.SetWithTTL(key, v, 1, c.ttl)
			}
			return out, nil
		})
		if shared {
			deduplicatedCounter.Inc()
		}
		if err != nil {
			return procedure.Outcome{}, err
		}
		return res.(procedure.Outcome), nil
	})
}
