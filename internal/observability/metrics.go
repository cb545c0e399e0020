package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the collectors.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
)

// FetchCollector bundles Prometheus metrics for single-identity acquisition
// and the source clients beneath it.
type FetchCollector struct {
	gatherer prometheus.Gatherer

	FetchResults    *prometheus.CounterVec
	SourceRequests  *prometheus.CounterVec
	SourceDurations *prometheus.HistogramVec
	SourceRetries   *prometheus.CounterVec
}

// NewFetchCollector registers acquisition metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewFetchCollector(reg prometheus.Registerer) (*FetchCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := gathererFor(reg)

	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tle_fetch_results_total",
		Help: "Single-identity fetch outcomes, labeled by the tier that answered and the outcome.",
	}, []string{"tier", "outcome"})
	results, err := registerCounterVec(reg, results, "tle_fetch_results_total")
	if err != nil {
		return nil, err
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tle_source_requests_total",
		Help: "Requests issued to remote element-set sources, labeled by source and outcome.",
	}, []string{"source", "outcome"})
	requests, err = registerCounterVec(reg, requests, "tle_source_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tle_source_request_duration_seconds",
		Help:    "Source request latency in seconds, including retries and rate-limit waits.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})
	durations, err = registerHistogramVec(reg, durations, "tle_source_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tle_source_retries_total",
		Help: "Retry attempts made after a failed source request.",
	}, []string{"source"})
	retries, err = registerCounterVec(reg, retries, "tle_source_retries_total")
	if err != nil {
		return nil, err
	}

	return &FetchCollector{
		gatherer:        gatherer,
		FetchResults:    results,
		SourceRequests:  requests,
		SourceDurations: durations,
		SourceRetries:   retries,
	}, nil
}

// ObserveFetch records which tier answered a fetch and how it ended.
func (c *FetchCollector) ObserveFetch(tier, outcome string) {
	if c == nil || c.FetchResults == nil {
		return
	}
	c.FetchResults.WithLabelValues(tier, outcome).Inc()
}

// ObserveRequest records one logical source request.
func (c *FetchCollector) ObserveRequest(source, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.SourceRequests != nil {
		c.SourceRequests.WithLabelValues(source, outcome).Inc()
	}
	if c.SourceDurations != nil {
		c.SourceDurations.WithLabelValues(source).Observe(d.Seconds())
	}
}

// ObserveRetry records a retry against source.
func (c *FetchCollector) ObserveRetry(source string) {
	if c == nil || c.SourceRetries == nil {
		return
	}
	c.SourceRetries.WithLabelValues(source).Inc()
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *FetchCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FetchCollector) Handler() http.Handler {
	return HandlerFor(c.Gatherer())
}

// HandlerFor returns a /metrics handler for gatherer, falling back to the
// default gatherer when nil.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
