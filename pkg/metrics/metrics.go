// Package metrics exposes daemon state as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/libreseed/torrentio/pkg/snapshot"
)

const namespace = "torrentio"

// Collector holds every metric of the daemon on its own registry.
type Collector struct {
	registry *prometheus.Registry

	EventSubscribers   prometheus.Gauge
	SnapshotsDelivered prometheus.Counter
	SubscribersDropped prometheus.Counter
	Torrents           *prometheus.GaugeVec
	DHTNodes           prometheus.Gauge
	RequestDuration    *prometheus.HistogramVec
	RequestsTotal      *prometheus.CounterVec
}

// New creates a collector with Go runtime and process metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Number of connected event stream subscribers",
		}),
		SnapshotsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_deliveries_total",
			Help:      "Total number of snapshots delivered to subscribers",
		}),
		SubscribersDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Total number of subscribers dropped after a failed write",
		}),
		Torrents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "torrents",
			Help:      "Number of torrents by status",
		}, []string{"status"}),
		DHTNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dht_nodes",
			Help:      "Number of nodes in the DHT routing table",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by status code",
		}, []string{"method", "route", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Subscribers implements events.Observer.
func (c *Collector) Subscribers(n int) {
	c.EventSubscribers.Set(float64(n))
}

// Delivered implements events.Observer.
func (c *Collector) Delivered(sent, dropped int) {
	c.SnapshotsDelivered.Add(float64(sent))
	c.SubscribersDropped.Add(float64(dropped))
}

// ObserveSnapshot records torrent counts and DHT size.
func (c *Collector) ObserveSnapshot(snap snapshot.Snapshot) {
	for status, n := range snap.CountByStatus() {
		c.Torrents.WithLabelValues(string(status)).Set(float64(n))
	}
	c.DHTNodes.Set(float64(snap.Stats.DHTNodes))
}

// Middleware records request counts and latency by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		c.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		c.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
