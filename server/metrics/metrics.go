package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatrelay"

// Results used as label values.
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultMalformed   = "malformed"
	ResultRateLimited = "rate_limited"
	ResultNotFound    = "not_found"
	ResultOffline     = "offline"
	ResultDropped     = "dropped"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	connectionsTotal   prometheus.Counter
	framesTotal        *prometheus.CounterVec
	frameDuration      *prometheus.HistogramVec
	loginsTotal        *prometheus.CounterVec
	evictionsTotal     prometheus.Counter
	messagesRouted     *prometheus.CounterVec
	presenceDeliveries *prometheus.CounterVec
}

// Gauges reports live registry sizes at scrape time.
type Gauges struct {
	Connections   func() int
	Authenticated func() int
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer, gauges Gauges) *Metrics {
	factory := promauto.With(reg)

	if gauges.Connections != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open WebSocket connections",
		}, func() float64 { return float64(gauges.Connections()) })
	}
	if gauges.Authenticated != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authenticated_connections",
			Help:      "Connections bound to a user",
		}, func() float64 { return float64(gauges.Authenticated()) })
	}

	return &Metrics{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted WebSocket connections",
		}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound frames by action and result",
		}, []string{"action", "result"}),
		frameDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Time spent handling one inbound frame",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		loginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		evictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Sessions closed because the user logged in elsewhere",
		}),
		messagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Chat messages by routing result",
		}, []string{"result"}),
		presenceDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_deliveries_total",
			Help:      "Presence events by subscriber and result",
		}, []string{"subscriber", "result"}),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry(), Gauges{})
}

func (m *Metrics) ConnectionAccepted() {
	m.connectionsTotal.Inc()
}

func (m *Metrics) Frame(action, result string, took time.Duration) {
	m.framesTotal.WithLabelValues(action, result).Inc()
	m.frameDuration.WithLabelValues(action).Observe(took.Seconds())
}

func (m *Metrics) Login(result string) {
	m.loginsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Eviction() {
	m.evictionsTotal.Inc()
}

func (m *Metrics) MessageRouted(result string) {
	m.messagesRouted.WithLabelValues(result).Inc()
}

func (m *Metrics) PresenceDelivery(subscriber, result string) {
	m.presenceDeliveries.WithLabelValues(subscriber, result).Inc()
}
