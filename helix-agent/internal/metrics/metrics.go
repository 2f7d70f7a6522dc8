// Package metrics exposes Prometheus instruments for the pipeline and the
// HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "helix"

// Recorder owns every collector. It implements graph.StageObserver and
// agent.TurnObserver.
type Recorder struct {
	stageDuration   *prometheus.HistogramVec
	stageOutcomes   *prometheus.CounterVec
	turnsCommitted  *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"stage"},
		),
		stageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_total",
				Help:      "Total number of pipeline stage runs",
			},
			[]string{"stage", "status"},
		),
		turnsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_committed_total",
				Help:      "Total number of committed conversation turns",
			},
			[]string{"status"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
			},
			[]string{"route", "method"},
		),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open conversation sessions",
		}),
	}

	reg.MustRegister(
		r.stageDuration,
		r.stageOutcomes,
		r.turnsCommitted,
		r.requestsTotal,
		r.requestDuration,
		r.activeSessions,
	)
	return r
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "success"
}

// ObserveStage records one stage run.
func (r *Recorder) ObserveStage(stage string, elapsed time.Duration, err error) {
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	r.stageOutcomes.WithLabelValues(stage, status(err != nil)).Inc()
}

// ObserveTurn counts a committed turn.
func (r *Recorder) ObserveTurn(failed bool) {
	r.turnsCommitted.WithLabelValues(status(failed)).Inc()
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	r.requestsTotal.WithLabelValues(route, method, statusCode(code)).Inc()
	r.requestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// SessionOpened and SessionClosed track live sessions.
func (r *Recorder) SessionOpened() { r.activeSessions.Inc() }

func (r *Recorder) SessionClosed() { r.activeSessions.Dec() }

func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
