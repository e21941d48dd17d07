package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	eventbus "github.com/hanpama/procroute/internal/eventbus"
	events "github.com/hanpama/procroute/internal/events"
)

const namespace = "procroute"

// Collector turns procedure and HTTP events into Prometheus metrics.
type Collector struct {
	calls        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inflight     *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "procedure_calls_total",
			Help:      "The total number of procedure dispatches by kind, key and gRPC code.",
		}, []string{"kind", "key", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "procedure_dispatch_duration_ms",
			Help:      "Time from dispatch until the outcome settled, in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 200, 500, 1000, 5000},
		}, []string{"kind", "key", "outcome"}),
		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "procedure_inflight",
			Help:      "The number of dispatches currently running.",
		}, []string{"kind"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "The total number of HTTP requests by method and status.",
		}, []string{"method", "status"}),
	}
}

// Subscribe attaches the collector to bus and returns a function that
// detaches it.
func (c *Collector) Subscribe(bus *eventbus.Bus) (unsubscribe func()) {
	unsubs := []func(){
		eventbus.On(bus, func(ctx context.Context, e events.ProcedureStart) {
			c.inflight.WithLabelValues(e.Kind).Inc()
		}),
		eventbus.On(bus, func(ctx context.Context, e events.ProcedureFinish) {
			c.inflight.WithLabelValues(e.Kind).Dec()
			c.calls.WithLabelValues(e.Kind, e.Key, e.Code.String()).Inc()
			c.duration.WithLabelValues(e.Kind, e.Key, e.Outcome).Observe(float64(e.Duration) / float64(time.Millisecond))
		}),
		eventbus.On(bus, func(ctx context.Context, e events.RequestFinish) {
			c.httpRequests.WithLabelValues(e.Method, statusLabel(e.Status)).Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
