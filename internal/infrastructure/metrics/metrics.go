// Package metrics exposes Prometheus collectors for the HTTP layer, the
// event bus and the external event API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

const namespace = "universe"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	events          *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	handlerErrors   *prometheus.CounterVec
	externalCalls   *prometheus.CounterVec
	connections     prometheus.Gauge

	settlements        *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	pointsAwarded      prometheus.Counter
	studyMinutes       prometheus.Counter
	achievements       *prometheus.CounterVec
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
}

// New creates and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events published by type.",
		}, []string{"type"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Event handler latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}, []string{"type"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_errors_total",
			Help:      "Event handler failures by type.",
		}, []string{"type"}),
		externalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventapi",
			Name:      "requests_total",
			Help:      "Calls to the external event API by operation and outcome.",
		}, []string{"operation", "outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open realtime connections.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "total",
			Help:      "Session settlements by outcome.",
		}, []string{"outcome"}),
		settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Session settlement latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "points_awarded_total",
			Help:      "Points credited by settlements.",
		}),
		studyMinutes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "study_minutes_total",
			Help:      "Study minutes credited by settlements.",
		}),
		achievements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "achievements_unlocked_total",
			Help:      "Achievement unlocks by id.",
		}, []string{"achievement"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_runs_total",
			Help:      "Background job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Background job latency.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration,
		m.events, m.handlerDuration, m.handlerErrors,
		m.externalCalls, m.connections,
		m.settlements, m.settlementDuration, m.pointsAwarded, m.studyMinutes, m.achievements,
		m.jobRuns, m.jobDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveEvent records one published event.
func (m *Metrics) ObserveEvent(eventType shared.EventType) {
	m.events.WithLabelValues(string(eventType)).Inc()
}

// ObserveHandler records one event handler execution.
func (m *Metrics) ObserveHandler(eventType shared.EventType, d time.Duration, err error) {
	m.handlerDuration.WithLabelValues(string(eventType)).Observe(d.Seconds())
	if err != nil {
		m.handlerErrors.WithLabelValues(string(eventType)).Inc()
	}
}

// ObserveExternalCall records one event API call. outcome is "ok", "error",
// "rate_limited" or "circuit_open".
func (m *Metrics) ObserveExternalCall(operation, outcome string) {
	m.externalCalls.WithLabelValues(operation, outcome).Inc()
}

// ConnectionOpened increments the realtime connection gauge.
func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

// ConnectionClosed decrements the realtime connection gauge.
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// ObserveSettlement records one settlement attempt. outcome is "ok",
// "duplicate" or "error".
func (m *Metrics) ObserveSettlement(outcome string, d time.Duration) {
	m.settlements.WithLabelValues(outcome).Inc()
	m.settlementDuration.Observe(d.Seconds())
}

// ObserveCredit adds settled points and minutes.
func (m *Metrics) ObserveCredit(points, minutes int) {
	if points > 0 {
		m.pointsAwarded.Add(float64(points))
	}
	if minutes > 0 {
		m.studyMinutes.Add(float64(minutes))
	}
}

// ObserveAchievement counts one unlock.
func (m *Metrics) ObserveAchievement(achievementID string) {
	m.achievements.WithLabelValues(achievementID).Inc()
}

// ObserveJob records one background job run.
func (m *Metrics) ObserveJob(job string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
