package telemetry

import (
	"net/http"
	"strconv"

	"github.com/maxpert/waljson/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Namespace prefixes every metric name
const Namespace = "waljson"

var (
	registry    *prometheus.Registry
	constLabels prometheus.Labels
)

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Add(float64)
}

// CounterVec hands out the counter for one label combination
type CounterVec interface {
	With(labels ...string) Counter
}

// NoopStat stands in for every metric while Prometheus is disabled
type NoopStat struct{}

func (NoopStat) Observe(float64) {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}

type noopCounterVec struct{}

func (noopCounterVec) With(...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

// register adds c to the registry. Callers check registry first.
func register[C prometheus.Collector](c C) C {
	registry.MustRegister(c)
	return c
}

func NewCounter(name, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}))
}

func NewGauge(name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}))
}

func NewHistogramWithBuckets(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	return register(prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   Namespace,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: constLabels,
	}))
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	return &prometheusCounterVec{vec: register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   Namespace,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}, labels))}
}

// InitializeTelemetry creates the registry when Prometheus is enabled. Every
// metric carries the node id and the replication slot as constant labels.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	constLabels = prometheus.Labels{
		"node_id": strconv.FormatUint(cfg.Config.NodeID, 10),
		"slot":    cfg.Config.Source.Slot,
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled - served on the admin endpoint at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics, or nil
// when Prometheus is disabled.
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
