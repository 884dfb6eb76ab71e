package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	PushAccepted = "accepted"
	PushRejected = "rejected"
	PushInvalid  = "invalid"

	CallbackPaid      = "paid"
	CallbackFailed    = "failed"
	CallbackDuplicate = "duplicate"
	CallbackUnmatched = "unmatched"
	CallbackMalformed = "malformed"
	CallbackError     = "error"
)

type Registry struct {
	reg                *prometheus.Registry
	OrdersCreated      prometheus.Counter
	PushRequests       *prometheus.CounterVec
	Callbacks          *prometheus.CounterVec
	SideEffectFailures *prometheus.CounterVec
	DispatchDropped    prometheus.Counter
	GatewayLatencySec  prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_created_total"})
	pushRequests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payment_push_requests_total"}, []string{"outcome"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payment_callbacks_total"}, []string{"outcome"})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "side_effect_failures_total"}, []string{"kind"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_dropped_jobs_total"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(ordersCreated, pushRequests, callbacks, sideEffects, dropped, latency)
	return &Registry{
		reg:                r,
		OrdersCreated:      ordersCreated,
		PushRequests:       pushRequests,
		Callbacks:          callbacks,
		SideEffectFailures: sideEffects,
		DispatchDropped:    dropped,
		GatewayLatencySec:  latency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
