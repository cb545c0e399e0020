package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DiscoveryCollector exposes catalog discovery metrics.
type DiscoveryCollector struct {
	gatherer prometheus.Gatherer

	NewEntries   *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	Cursor       *prometheus.GaugeVec
	RunDurations *prometheus.HistogramVec
}

// NewDiscoveryCollector registers discovery metrics against the provided registerer.
func NewDiscoveryCollector(reg prometheus.Registerer) (*DiscoveryCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	newEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tle_discovery_new_entries_total",
		Help: "Catalog entries stored for the first time by discovery runs.",
	}, []string{"source"})
	newEntries, err := registerCounterVec(reg, newEntries, "tle_discovery_new_entries_total")
	if err != nil {
		return nil, err
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tle_discovery_runs_total",
		Help: "Sealed discovery runs, labeled by source and outcome.",
	}, []string{"source", "outcome"})
	runs, err = registerCounterVec(reg, runs, "tle_discovery_runs_total")
	if err != nil {
		return nil, err
	}

	cursor := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tle_discovery_cursor_timestamp_seconds",
		Help: "Latest stored epoch per catalog source, as a Unix timestamp.",
	}, []string{"source"})
	cursor, err = registerGaugeVec(reg, cursor, "tle_discovery_cursor_timestamp_seconds")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tle_discovery_run_duration_seconds",
		Help:    "Duration of discovery runs.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"source"})
	durations, err = registerHistogramVec(reg, durations, "tle_discovery_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &DiscoveryCollector{
		gatherer:     gathererFor(reg),
		NewEntries:   newEntries,
		Runs:         runs,
		Cursor:       cursor,
		RunDurations: durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *DiscoveryCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveRun records a sealed run. A zero cursor leaves the gauge untouched.
func (c *DiscoveryCollector) ObserveRun(source, outcome string, newEntries int, cursor time.Time, d time.Duration) {
	if c == nil {
		return
	}
	if c.Runs != nil {
		c.Runs.WithLabelValues(source, outcome).Inc()
	}
	if c.NewEntries != nil && newEntries > 0 {
		c.NewEntries.WithLabelValues(source).Add(float64(newEntries))
	}
	if c.Cursor != nil && !cursor.IsZero() {
		c.Cursor.WithLabelValues(source).Set(float64(cursor.Unix()))
	}
	if c.RunDurations != nil {
		c.RunDurations.WithLabelValues(source).Observe(d.Seconds())
	}
}
