package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appguard"

// Registry holds all appguard metrics. Each Registry owns its own
// prometheus.Registry so tests can create independent instances.
type Registry struct {
	reg *prometheus.Registry

	// Rule loading
	RulesLoaded         *prometheus.CounterVec
	RulesSkipped        *prometheus.CounterVec
	InvariantViolations prometheus.Counter
	Reloads             *prometheus.CounterVec
	ReloadDuration      prometheus.Histogram
	LastReload          prometheus.Gauge

	// Active state
	WhitelistEntries *prometheus.GaugeVec
	AppOverrides     prometheus.Gauge
	Packages         prometheus.Gauge
	FilteringEnabled prometheus.Gauge
	Toggles          prometheus.Counter

	// Event hub
	EventsPublished prometheus.Gauge
	EventsDropped   prometheus.Gauge

	// Node API
	APIRequests *prometheus.CounterVec
}

// NewRegistry creates a Registry with all metrics registered, plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	r := &Registry{reg: reg}

	r.RulesLoaded = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_loaded_total",
		Help:      "Rules accepted during loads, by scope",
	}, []string{"scope"})

	r.RulesSkipped = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_skipped_total",
		Help:      "Stored rows not turned into rules, by reason",
	}, []string{"reason"})

	r.InvariantViolations = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_invariant_violations_total",
		Help:      "Rule lines that set the same field twice",
	})

	r.Reloads = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reloads_total",
		Help:      "Rule reloads, by result",
	}, []string{"result"})

	r.ReloadDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reload_duration_seconds",
		Help:      "Time taken to load and publish a rule generation",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	r.LastReload = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_reload_timestamp_seconds",
		Help:      "Unix timestamp of the last successful reload",
	})

	r.WhitelistEntries = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "whitelist_entries",
		Help:      "Entries in the active whitelist, by scope",
	}, []string{"scope"})

	r.AppOverrides = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_overrides",
		Help:      "Applications with a decision table override",
	})

	r.Packages = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_packages",
		Help:      "Package names known to the identity registry",
	})

	r.FilteringEnabled = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "filtering_enabled",
		Help:      "1 when filtering is on, 0 when off",
	})

	r.Toggles = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "toggles_total",
		Help:      "Times the periodic toggle flipped filtering",
	})

	r.EventsPublished = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events_published",
		Help:      "Events published on the internal hub",
	})

	r.EventsDropped = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events_dropped",
		Help:      "Events dropped because a subscriber was full",
	})

	r.APIRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Node API requests, by route and status code",
	}, []string{"route", "code"})

	return r
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
