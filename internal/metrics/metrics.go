// Package metrics exposes delivery and scheduler measurements for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dailycast/internal/broadcast"
	"dailycast/internal/scheduler"
)

const namespace = "dailycast"

// Metrics implements broadcast.Recorder and scheduler.Metrics.
type Metrics struct {
	reg *prometheus.Registry

	deliveries   *prometheus.CounterVec
	passes       *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	passTotal    *prometheus.GaugeVec
	loopState    *prometheus.GaugeVec
	loopFailures *prometheus.CounterVec
	recipients   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by stream and outcome.",
		}, []string{"stream", "outcome"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_passes_total",
			Help:      "Broadcast passes by stream and completion.",
		}, []string{"stream", "complete"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_pass_duration_seconds",
			Help:      "Wall time of broadcast passes.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"stream"}),
		passTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_last_pass_candidates",
			Help:      "Candidates yielded by the last pass of each stream.",
		}, []string{"stream"}),
		loopState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_loop_state",
			Help:      "Current loop state (0 sleeping, 1 running, 2 stopped).",
		}, []string{"stream"}),
		loopFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_pass_failures_total",
			Help:      "Failed passes by stream.",
		}, []string{"stream"}),
		recipients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "directory_recipients",
			Help:      "Recipients in the directory at last count.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deliveries, m.passes, m.passDuration, m.passTotal, m.loopState, m.loopFailures, m.recipients,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Outcome(stream string, k broadcast.Kind) {
	m.deliveries.WithLabelValues(stream, k.String()).Inc()
}

func (m *Metrics) Pass(r broadcast.Report) {
	complete := "true"
	if r.Incomplete {
		complete = "false"
	}
	m.passes.WithLabelValues(r.Name, complete).Inc()
	m.passDuration.WithLabelValues(r.Name).Observe(r.Duration.Seconds())
	m.passTotal.WithLabelValues(r.Name).Set(float64(r.Total))
}

func (m *Metrics) LoopState(stream string, s scheduler.State) {
	m.loopState.WithLabelValues(stream).Set(float64(s))
}

func (m *Metrics) LoopFailure(stream string) {
	m.loopFailures.WithLabelValues(stream).Inc()
}

func (m *Metrics) SetRecipients(n int) { m.recipients.Set(float64(n)) }
