// Package metrics exposes Prometheus counters and gauges for the
// daemon's own operation: task lifecycle counts, fan-out log writes,
// and API request latency. It deliberately does not track per-task
// resource consumption (CPU/memory accounting is a stated non-goal).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rrockerd_tasks_total",
			Help: "Total number of tasks started, labeled by outcome",
		},
		[]string{"outcome"},
	)

	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rrockerd_tasks_running",
			Help: "Number of tasks currently registered and live",
		},
	)

	TaskStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rrockerd_task_start_duration_seconds",
			Help:    "Time to spawn and register an isolated task",
			Buckets: prometheus.DefBuckets,
		},
	)

	FanoutChunksWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rrockerd_fanout_chunks_written_total",
			Help: "Total number of output chunks appended to task logs",
		},
		[]string{"stream"},
	)

	FanoutActiveReaders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rrockerd_fanout_active_readers",
			Help: "Number of subscribers currently attached across all task logs",
		},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rrockerd_api_requests_total",
			Help: "Total number of RPCs by method and result code",
		},
		[]string{"method", "code"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rrockerd_api_request_duration_seconds",
			Help:    "RPC handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	AuthRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rrockerd_auth_rejections_total",
			Help: "Total number of requests rejected by the peer authenticator",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		TasksTotal,
		TasksRunning,
		TaskStartDuration,
		FanoutChunksWritten,
		FanoutActiveReaders,
		APIRequestsTotal,
		APIRequestDuration,
		AuthRejectionsTotal,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an in-flight operation's duration.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration reports the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
