package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of the alert service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Dispatches       *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryMisses   prometheus.Counter
	OfflineQueued    *prometheus.CounterVec
	StoreFailures    *prometheus.CounterVec
	ConnectedClients prometheus.Gauge
	DispatchLatency  *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_alerts_dispatches_total",
			Help: "Domain events dispatched, by kind and outcome",
		}, []string{"kind", "outcome"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_alerts_live_deliveries_total",
			Help: "Frames enqueued on live connections, by outbound event",
		}, []string{"event"}),
		DeliveryMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "relief_alerts_delivery_misses_total",
			Help: "Connections that left between target resolution and delivery",
		}),
		OfflineQueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_alerts_offline_queued_total",
			Help: "Durable notifications written for offline recipients, by kind",
		}, []string{"kind"}),
		StoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_alerts_store_failures_total",
			Help: "Durable store operations that failed, by operation",
		}, []string{"operation"}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relief_alerts_connected_clients",
			Help: "Live websocket connections",
		}),
		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relief_alerts_dispatch_duration_seconds",
			Help:    "Time spent dispatching one domain event",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveDispatch(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(kind, outcome).Inc()
	m.DispatchLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) AddDeliveries(event string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.Deliveries.WithLabelValues(event).Add(float64(count))
}

func (m *Metrics) AddMisses(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.DeliveryMisses.Add(float64(count))
}

func (m *Metrics) AddOfflineQueued(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.OfflineQueued.WithLabelValues(kind).Add(float64(count))
}

func (m *Metrics) IncrementStoreFailure(operation string) {
	if m == nil {
		return
	}
	m.StoreFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) SetConnectedClients(count int) {
	if m == nil {
		return
	}
	m.ConnectedClients.Set(float64(count))
}
