// Package metrics collects and exposes Prometheus metrics for the store
// server and the sync client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded by the sync controller.
const (
	FetchApplied = "applied"
	FetchStale   = "stale"
	FetchFailed  = "failed"
)

// SyncRecorder is what the sync controller reports to.
type SyncRecorder interface {
	RecordFetch(outcome string)
	RecordFeedEvent()
	RecordMutation(op string, err error)
}

// ServerRecorder is what the store server reports to.
type ServerRecorder interface {
	RecordHTTPRequest(route string, status int, duration time.Duration)
	SubscriptionOpened()
	SubscriptionClosed()
	RecordBroadcast(event string)
}

// Collector implements both recorders on top of Prometheus.
type Collector struct {
	fetches       *prometheus.CounterVec
	feedEvents    prometheus.Counter
	mutations     *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	subscriptions prometheus.Gauge
	broadcasts    *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marksync_sync_fetch_total",
			Help: "Bookmark list fetches by outcome (applied, stale, failed).",
		}, []string{"outcome"}),
		feedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marksync_sync_feed_events_total",
			Help: "Change feed notifications received by the sync controller.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marksync_sync_mutations_total",
			Help: "Bookmark mutations by operation and result.",
		}, []string{"op", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marksync_http_requests_total",
			Help: "HTTP requests served by route and status code.",
		}, []string{"route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marksync_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marksync_realtime_subscriptions",
			Help: "Open realtime subscriptions.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marksync_realtime_broadcasts_total",
			Help: "Change events pushed to realtime subscribers by event type.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		c.fetches,
		c.feedEvents,
		c.mutations,
		c.httpRequests,
		c.httpLatency,
		c.subscriptions,
		c.broadcasts,
	)

	return c
}

// RecordFetch counts a list fetch by outcome.
func (c *Collector) RecordFetch(outcome string) {
	c.fetches.WithLabelValues(outcome).Inc()
}

// RecordFeedEvent counts a change feed notification.
func (c *Collector) RecordFeedEvent() {
	c.feedEvents.Inc()
}

// RecordMutation counts an add or remove, split by success.
func (c *Collector) RecordMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.mutations.WithLabelValues(op, result).Inc()
}

// RecordHTTPRequest counts a served request and observes its latency.
func (c *Collector) RecordHTTPRequest(route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) SubscriptionOpened() { c.subscriptions.Inc() }
func (c *Collector) SubscriptionClosed() { c.subscriptions.Dec() }

// RecordBroadcast counts a change event fanned out to realtime subscribers.
func (c *Collector) RecordBroadcast(event string) {
	c.broadcasts.WithLabelValues(event).Inc()
}

// Nop discards everything. It is the default when no collector is wired.
type Nop struct{}

func (Nop) RecordFetch(string) {}
func (Nop) RecordFeedEvent() {}
func (Nop) RecordMutation(string, error) {}
func (Nop) RecordHTTPRequest(string, int, time.Duration) {}
func (Nop) SubscriptionOpened() {}
func (Nop) SubscriptionClosed() {}
func (Nop) RecordBroadcast(string) {}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute returns a mux serving /metrics.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ SyncRecorder   = (*Collector)(nil)
	_ ServerRecorder = (*Collector)(nil)
	_ SyncRecorder   = Nop{}
	_ ServerRecorder = Nop{}
)
