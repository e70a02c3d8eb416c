// Registers:
//
//	#atmflow_ticks_total{tracker,status}
//	#atmflow_appends_total{tracker}
//	#atmflow_fetch_duration_seconds{source}
//	#atmflow_source_failures_total{source,kind}
//	#atmflow_events_dropped_total{subscriber}
//	#atmflow_event_buffer_length{subscriber}
//	#go_* and process_* system metrics
//
// Exposed through Handler, which the dashboard mounts on /metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick outcomes.
const (
	StatusAppended = "appended"
	StatusSkipped  = "skipped"
	StatusGated    = "gated"
	StatusFailed   = "failed"
)

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atmflow_ticks_total",
			Help: "Tracker ticks by outcome",
		},
		[]string{"tracker", "status"},
	)

	appends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atmflow_appends_total",
			Help: "Records appended to tracker series",
		},
		[]string{"tracker"},
	)

	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atmflow_fetch_duration_seconds",
			Help:    "Option-chain fetch latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)

	sourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atmflow_source_failures_total",
			Help: "Quote source failures by kind",
		},
		[]string{"source", "kind"},
	)

	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atmflow_events_dropped_total",
			Help: "Tick events dropped because a subscriber buffer was full",
		},
		[]string{"subscriber"},
	)

	eventBuffer = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atmflow_event_buffer_length",
			Help: "Buffered tick events per subscriber",
		},
		[]string{"subscriber"},
	)
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		registry.MustRegister(ticks, appends, fetchDuration, sourceFailures, eventsDropped, eventBuffer)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom exporters.
func Registry() *prometheus.Registry {
	Init()
	return registry
}

func ObserveTick(tracker, status string) {
	ticks.WithLabelValues(tracker, status).Inc()
}

func IncrementAppend(tracker string) {
	appends.WithLabelValues(tracker).Inc()
}

func ObserveFetch(source string, d time.Duration) {
	fetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

func IncrementSourceFailure(source, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	sourceFailures.WithLabelValues(source, kind).Inc()
}

func IncrementEventDropped(subscriber string) {
	eventsDropped.WithLabelValues(subscriber).Inc()
}

func SetEventBuffer(subscriber string, n int) {
	eventBuffer.WithLabelValues(subscriber).Set(float64(n))
}
