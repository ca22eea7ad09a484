// Package metrics holds the prometheus collectors for zone loading, queries
// and nav graph builds.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "midgard_nav"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	zoneLoads     *prometheus.CounterVec
	queries       *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	buildNodes    *prometheus.GaugeVec
	buildPhase    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		zoneLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_loads_total",
			Help:      "Zone loads by result.",
		}, []string{"result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_queries_total",
			Help:      "Spatial queries answered, by kind.",
		}, []string{"kind"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nav_builds_total",
			Help:      "Nav graph builds by result.",
		}, []string{"result"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "nav_build_duration_seconds",
			Help:      "Wall time of completed nav graph builds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		buildNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nav_graph_nodes",
			Help:      "Nodes in the current nav graph of a zone.",
		}, []string{"zone"}),
		buildPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nav_build_phase",
			Help:      "Current build phase of a zone (0 when idle).",
		}, []string{"zone"}),
	}

	reg.MustRegister(
		m.zoneLoads,
		m.queries,
		m.cacheLookups,
		m.builds,
		m.buildDuration,
		m.buildNodes,
		m.buildPhase,
	)
	return m
}

// ZoneLoaded counts a zone load; result is "ok", "empty" or "error".
func (m *Metrics) ZoneLoaded(result string) {
	if m == nil {
		return
	}
	m.zoneLoads.WithLabelValues(result).Inc()
}

// Query counts one answered query of the given kind.
func (m *Metrics) Query(kind string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(kind).Inc()
}

// CacheLookup counts a hit or miss on the named cache.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// BuildFinished records a build outcome. Duration and node count are only
// recorded for successful builds.
func (m *Metrics) BuildFinished(zone, result string, elapsed time.Duration, nodes int) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(result).Inc()
	if result == "ok" {
		m.buildDuration.Observe(elapsed.Seconds())
		m.buildNodes.WithLabelValues(zone).Set(float64(nodes))
	}
}

// GraphNodes sets the node count of a zone's current graph.
func (m *Metrics) GraphNodes(zone string, nodes int) {
	if m == nil {
		return
	}
	m.buildNodes.WithLabelValues(zone).Set(float64(nodes))
}

// BuildPhase publishes the numeric phase of a zone's build.
func (m *Metrics) BuildPhase(zone string, phase int) {
	if m == nil {
		return
	}
	m.buildPhase.WithLabelValues(zone).Set(float64(phase))
}
