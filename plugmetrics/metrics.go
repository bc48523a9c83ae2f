// Package plugmetrics exports plug status as Prometheus metrics.
package plugmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rogpeppe/plugmon/monitor"
)

// Metrics holds the metrics for a single plug. It implements
// monitor.Updater.
type Metrics struct {
	registry *prometheus.Registry

	power       prometheus.Gauge
	voltage     prometheus.Gauge
	current     prometheus.Gauge
	energy      prometheus.Gauge
	failures    prometheus.Gauge
	lastReading prometheus.Gauge
	polls       *prometheus.CounterVec
}

var _ monitor.Updater = (*Metrics)(nil)

// New returns a new Metrics instance with its own registry.
// The device label is attached to all the plug metrics.
// If process is true, Go runtime and process metrics are registered too.
func New(device string, process bool) *Metrics {
	labels := prometheus.Labels{"device": device}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "plugmon",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	m := &Metrics{
		registry:    prometheus.NewRegistry(),
		power:       gauge("power_watts", "Most recent power reading."),
		voltage:     gauge("voltage_volts", "Most recent voltage reading."),
		current:     gauge("current_milliamps", "Most recent current reading."),
		energy:      gauge("energy_kwh", "Energy used since the reading log was started."),
		failures:    gauge("consecutive_failures", "Number of consecutive failed polls."),
		lastReading: gauge("last_reading_timestamp_seconds", "Time of the most recent reading."),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "plugmon",
			Name:        "polls_total",
			Help:        "Total count of polls by result.",
			ConstLabels: labels,
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.power,
		m.voltage,
		m.current,
		m.energy,
		m.failures,
		m.lastReading,
		m.polls,
	)
	if process {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	// Make both results visible before the first poll.
	m.polls.WithLabelValues("ok")
	m.polls.WithLabelValues("error")
	return m
}

// UpdateStatus implements monitor.Updater.
func (m *Metrics) UpdateStatus(s *monitor.Status) {
	m.failures.Set(float64(s.Failures))
	if s.Reading == nil {
		m.polls.WithLabelValues("error").Inc()
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.power.Set(s.Reading.Power)
	m.voltage.Set(s.Reading.Voltage)
	m.current.Set(s.Reading.Current)
	m.energy.Set(s.TotalKWh)
	m.lastReading.Set(float64(s.Reading.Time.UnixNano()) / 1e9)
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}
