package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auctionhouse"

// PrometheusMetrics implements the engine, gateway and mirror metrics hooks.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	bids          *prometheus.CounterVec
	buyNows       *prometheus.CounterVec
	itemsSold     *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	tickItems     prometheus.Gauge
	tickDuration  prometheus.Histogram
	connections   prometheus.Gauge
	evictions     *prometheus.CounterVec
	mirrored      *prometheus.CounterVec
	mirrorLatency *prometheus.HistogramVec
	mirrorDropped *prometheus.CounterVec
}

// NewPrometheusMetrics registers every collector on a fresh registry
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	m := &PrometheusMetrics{
		registry: reg,
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_total",
			Help:      "Bids processed, by result.",
		}, []string{"result"}),
		buyNows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buy_now_total",
			Help:      "Buy-now requests processed, by result.",
		}, []string{"result"}),
		itemsSold: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_sold_total",
			Help:      "Items that reached the sold state, by reason.",
		}, []string{"reason"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed item store calls, by operation.",
		}, []string{"op"}),
		tickItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_tick_items",
			Help:      "Unsold items reached by the last clock tick.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clock_tick_duration_seconds",
			Help:      "Time spent fanning a tick out to item workers.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Bound WebSocket connections.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_evictions_total",
			Help:      "Connections closed by the server, by reason.",
		}, []string{"reason"}),
		mirrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_events_total",
			Help:      "Events mirrored to JetStream, by event and success.",
		}, []string{"event", "success"}),
		mirrorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mirror_publish_duration_seconds",
			Help:      "JetStream publish latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		mirrorDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_dropped_total",
			Help:      "Events dropped because the mirror queue was full.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bids,
		m.buyNows,
		m.itemsSold,
		m.storeErrors,
		m.tickItems,
		m.tickDuration,
		m.connections,
		m.evictions,
		m.mirrored,
		m.mirrorLatency,
		m.mirrorDropped,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PrometheusMetrics) RecordBid(result string) {
	m.bids.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordBuyNow(result string) {
	m.buyNows.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordItemSold(reason string) {
	m.itemsSold.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *PrometheusMetrics) RecordTick(items int, duration time.Duration) {
	m.tickItems.Set(float64(items))
	m.tickDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}

func (m *PrometheusMetrics) RecordEviction(reason string) {
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordMirrored(event string, success bool, duration time.Duration) {
	m.mirrored.WithLabelValues(event, strconv.FormatBool(success)).Inc()
	m.mirrorLatency.WithLabelValues(event).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordMirrorDropped(event string) {
	m.mirrorDropped.WithLabelValues(event).Inc()
}
