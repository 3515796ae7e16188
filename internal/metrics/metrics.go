// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/herald/internal/model"
)

const namespace = "herald"

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	DispatchTotal    *prometheus.CounterVec
	ChannelDelivery  *prometheus.CounterVec
	ChannelLatency   *prometheus.HistogramVec
	PushPruned       prometheus.Counter
	QueueDepth       prometheus.Gauge
	QueueDropped     prometheus.Counter
	ExpiredCollected prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Notifications processed, by terminal state",
		}, []string{"state"}),
		ChannelDelivery: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_deliveries_total",
			Help:      "Channel delivery attempts, by channel and result",
		}, []string{"channel", "result"}),
		ChannelLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_delivery_seconds",
			Help:      "Time spent in a channel sender",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		PushPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_subscriptions_pruned_total",
			Help:      "Push subscriptions removed after the push service reported them gone",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Notification requests waiting for a worker",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Requests rejected because the queue was full",
		}),
		ExpiredCollected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_notifications_deleted_total",
			Help:      "Expired notifications removed by the maintenance job",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveDispatch(state model.DispatchState) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) ObserveDelivery(o model.ChannelOutcome, took time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if o.Succeeded {
		result = "success"
	}
	m.ChannelDelivery.WithLabelValues(string(o.Channel), result).Inc()
	m.ChannelLatency.WithLabelValues(string(o.Channel)).Observe(took.Seconds())
}

func (m *Metrics) ObservePrune() {
	if m == nil {
		return
	}
	m.PushPruned.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveQueueDrop() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

func (m *Metrics) ObserveExpired(n int64) {
	if m == nil {
		return
	}
	m.ExpiredCollected.Add(float64(n))
}
