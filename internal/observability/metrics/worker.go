package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	taskTotal    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskInFlight prometheus.Gauge
	taskRetries  prometheus.Counter
	deadLetters  prometheus.Counter
	queueLag     *prometheus.HistogramVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	taskTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "task_total",
			Help:      "Finished task attempts by resulting state.",
		},
		[]string{"service", "state"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "task_duration_seconds",
			Help:      "Task attempt duration in seconds by resulting state.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "state"},
	)
	taskInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "task_in_flight",
			Help:      "Number of task attempts currently executing.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	taskRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "task_retries_total",
			Help:      "Task attempts that were scheduled for retry.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	deadLetters := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "task_dead_letters_total",
			Help:      "Tasks routed to the dead-letter queue.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragpipe",
			Subsystem: "pipeline",
			Name:      "queue_lag_seconds",
			Help:      "Delay between task enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(taskTotal, taskDuration, taskInFlight, taskRetries, deadLetters, queueLag)

	return &PipelineMetrics{
		registry:     registry,
		taskTotal:    taskTotal,
		taskDuration: taskDuration,
		taskInFlight: taskInFlight,
		taskRetries:  taskRetries,
		deadLetters:  deadLetters,
		queueLag:     queueLag,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartTask() {
	m.taskInFlight.Inc()
}

func (m *PipelineMetrics) FinishTask(service, state string, duration time.Duration) {
	m.taskInFlight.Dec()
	m.taskTotal.WithLabelValues(service, state).Inc()
	m.taskDuration.WithLabelValues(service, state).Observe(duration.Seconds())
}

func (m *PipelineMetrics) TaskRetried() {
	m.taskRetries.Inc()
}

func (m *PipelineMetrics) TaskDeadLettered() {
	m.deadLetters.Inc()
}

func (m *PipelineMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
