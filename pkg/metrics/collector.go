// Package metrics exposes search engine and session counters as Prometheus
// metrics through a custom collector, so scrapes read live snapshots
// instead of maintaining parallel counter state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gazouio/gazou/pkg/search"
	"github.com/gazouio/gazou/pkg/session"
)

// Collector bridges engine and session stats into Prometheus.
type Collector struct {
	engine  *search.Engine
	session *session.Server

	searches       *prometheus.Desc
	computations   *prometheus.Desc
	coalesced      *prometheus.Desc
	cacheHits      *prometheus.Desc
	capacityErrors *prometheus.Desc
	queueDepth     *prometheus.Desc

	connections *prometheus.Desc
	messages    *prometheus.Desc
	rateLimited *prometheus.Desc
	handlerErrs *prometheus.Desc
}

// NewCollector creates a collector over the given engine and session server.
func NewCollector(engine *search.Engine, sess *session.Server) *Collector {
	return &Collector{
		engine:  engine,
		session: sess,

		searches: prometheus.NewDesc("gazou_search_requests_total",
			"Total tag searches served", nil, nil),
		computations: prometheus.NewDesc("gazou_search_computations_total",
			"Intersections materialized by the worker pool", nil, nil),
		coalesced: prometheus.NewDesc("gazou_search_coalesced_total",
			"Searches attached to an already in-flight computation", nil, nil),
		cacheHits: prometheus.NewDesc("gazou_search_cache_hits_total",
			"Searches served from an unexpired result slot", nil, nil),
		capacityErrors: prometheus.NewDesc("gazou_search_capacity_errors_total",
			"Searches rejected because queue or slot pool was full", nil, nil),
		queueDepth: prometheus.NewDesc("gazou_search_queue_depth",
			"Tag sets currently waiting for a worker", nil, nil),

		connections: prometheus.NewDesc("gazou_session_connections",
			"Open WebSocket connections", nil, nil),
		messages: prometheus.NewDesc("gazou_session_messages_total",
			"Messages dispatched across all connections", nil, nil),
		rateLimited: prometheus.NewDesc("gazou_session_rate_limited_total",
			"Messages tagged as over the rate budget", nil, nil),
		handlerErrs: prometheus.NewDesc("gazou_session_errors_total",
			"Messages answered with an error envelope", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.searches
	ch <- c.computations
	ch <- c.coalesced
	ch <- c.cacheHits
	ch <- c.capacityErrors
	ch <- c.queueDepth
	ch <- c.connections
	ch <- c.messages
	ch <- c.rateLimited
	ch <- c.handlerErrs
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.engine != nil {
		s := c.engine.Stats()
		ch <- prometheus.MustNewConstMetric(c.searches, prometheus.CounterValue, float64(s.Searches))
		ch <- prometheus.MustNewConstMetric(c.computations, prometheus.CounterValue, float64(s.Computations))
		ch <- prometheus.MustNewConstMetric(c.coalesced, prometheus.CounterValue, float64(s.Coalesced))
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.CacheHits))
		ch <- prometheus.MustNewConstMetric(c.capacityErrors, prometheus.CounterValue, float64(s.CapacityErrors))
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(s.QueueDepth))
	}
	if c.session != nil {
		s := c.session.Stats()
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Connections))
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(s.Messages))
		ch <- prometheus.MustNewConstMetric(c.rateLimited, prometheus.CounterValue, float64(s.RateLimited))
		ch <- prometheus.MustNewConstMetric(c.handlerErrs, prometheus.CounterValue, float64(s.Errors))
	}
}
