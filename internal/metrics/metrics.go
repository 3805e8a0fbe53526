// Package metrics exports poll loop counters and timings in the Prometheus
// text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/kiranshivaraju/appbuilder/internal/job"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appbuilder"

// PollObserver records job.Poller events. It satisfies job.Observer.
type PollObserver struct {
	attempts *prometheus.CounterVec
	outcomes *prometheus.HistogramVec
}

// NewPollObserver creates the collectors and registers them with reg.
func NewPollObserver(reg prometheus.Registerer) *PollObserver {
	o := &PollObserver{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Status checks by job family, decoded status and result (ok, error)",
			},
			[]string{"job", "status", "result"},
		),
		outcomes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Time from the first status check to the final outcome",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"job", "outcome"},
		),
	}
	reg.MustRegister(o.attempts, o.outcomes)
	return o
}

func (o *PollObserver) ObserveAttempt(name string, status job.Status, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.attempts.WithLabelValues(name, status.String(), result).Inc()
}

func (o *PollObserver) ObserveOutcome(name string, status job.Status, kind job.Kind, elapsed time.Duration) {
	outcome := status.String()
	if kind != 0 {
		outcome = kind.String()
	}
	o.outcomes.WithLabelValues(name, outcome).Observe(elapsed.Seconds())
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the http.Handler for /metrics
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var _ job.Observer = (*PollObserver)(nil)
