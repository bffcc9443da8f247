package dispatch

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "smartnotifier"
const metricsSubsystem = "dispatch"

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	events         *prometheus.CounterVec
	handleDuration *prometheus.HistogramVec
	sinksCreated   prometheus.Counter
	dropped        prometheus.Counter
}

// NewMetrics creates the dispatcher collectors and registers them on reg.
// A collector already registered under the same name is reused, so several
// dispatchers may share one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "events_total",
			Help:      "Events handled, by outcome.",
		}, []string{"outcome"}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one event, by outcome.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"outcome"}),
		sinksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sinks_created_total",
			Help:      "Output sinks created.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dropped_total",
			Help:      "Events rejected because a worker queue was full.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.events, err = register(reg, m.events); err != nil {
		return nil, err
	}
	if m.handleDuration, err = register(reg, m.handleDuration); err != nil {
		return nil, err
	}
	if m.sinksCreated, err = register(reg, m.sinksCreated); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, m.dropped); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register dispatch metrics: %w", err)
	}
	return c, nil
}

func (m *Metrics) observe(outcome Outcome, seconds float64) {
	label := outcome.String()
	m.events.WithLabelValues(label).Inc()
	m.handleDuration.WithLabelValues(label).Observe(seconds)
}
