package monitoring

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles Prometheus metrics for the tracker and exposes a
// ready-to-mount /metrics handler.
type Collector struct {
	gatherer prometheus.Gatherer

	TicksTotal    prometheus.Counter
	TickErrors    prometheus.Counter
	FetchFailures *prometheus.CounterVec
	Events        *prometheus.CounterVec
	SinkFailures  *prometheus.CounterVec
	SamplesBad    prometheus.Counter
	Entities      prometheus.Gauge
}

// NewCollector registers tracker metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_ticks_total",
		Help: "Total number of completed polling ticks.",
	}), "tracker_ticks_total")
	if err != nil {
		return nil, err
	}
	tickErrors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_tick_errors_total",
		Help: "Total number of per-entity tick failures.",
	}), "tracker_tick_errors_total")
	if err != nil {
		return nil, err
	}
	fetchFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_fetch_failures_total",
		Help: "Telemetry fetch failures, labeled by feed source.",
	}, []string{"source"})
	fetchFailures, err = registerCounterVec(reg, fetchFailures, "tracker_fetch_failures_total")
	if err != nil {
		return nil, err
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_events_total",
		Help: "Lifecycle events dispatched, labeled by event kind.",
	}, []string{"kind"})
	events, err = registerCounterVec(reg, events, "tracker_events_total")
	if err != nil {
		return nil, err
	}
	sinkFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_sink_failures_total",
		Help: "Failed notification deliveries, labeled by sink.",
	}, []string{"sink"})
	sinkFailures, err = registerCounterVec(reg, sinkFailures, "tracker_sink_failures_total")
	if err != nil {
		return nil, err
	}
	samplesBad, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_invalid_samples_total",
		Help: "Position samples rejected by the normalizer.",
	}), "tracker_invalid_samples_total")
	if err != nil {
		return nil, err
	}
	entities, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_entities",
		Help: "Number of configured tracked entities.",
	}), "tracker_entities")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		TicksTotal:    ticks,
		TickErrors:    tickErrors,
		FetchFailures: fetchFailures,
		Events:        events,
		SinkFailures:  sinkFailures,
		SamplesBad:    samplesBad,
		Entities:      entities,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
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

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
