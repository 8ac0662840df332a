package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	processesStarted   prometheus.Counter
	processesCompleted prometheus.Counter
	processesFailed    prometheus.Counter
	activeProcesses    prometheus.Gauge
	processDuration    prometheus.Histogram

	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	eventsDropped     *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
	queueDepth        prometheus.Gauge

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector registered with
// reg. Pass prometheus.DefaultRegisterer to expose it on promhttp.Handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		processesStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "genflow_processes_started_total",
				Help: "Total number of processes started",
			},
		),
		processesCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "genflow_processes_completed_total",
				Help: "Total number of processes completed",
			},
		),
		processesFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "genflow_processes_failed_total",
				Help: "Total number of processes failed or cancelled",
			},
		),
		activeProcesses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "genflow_active_processes",
				Help: "Number of currently running processes",
			},
		),
		processDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "genflow_process_duration_seconds",
				Help:    "Duration of completed processes in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_step_executions_total",
				Help: "Total number of step attempts",
			},
			[]string{"step_id", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genflow_step_duration_seconds",
				Help:    "Step attempt duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"step_id"},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_events_dropped_total",
				Help: "Events dropped because a sink queue was full",
			},
			[]string{"sink"},
		),
		webhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_webhook_deliveries_total",
				Help: "Webhook deliveries by outcome",
			},
			[]string{"status"},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "genflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "genflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "genflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "genflow_queue_depth",
				Help: "Number of processes waiting for a worker",
			},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genflow_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"model"},
		),
	}
}

// RecordProcessStarted counts a started process
func (c *Collector) RecordProcessStarted() {
	c.processesStarted.Inc()
}

// RecordProcessCompleted counts a completed process and observes its duration
func (c *Collector) RecordProcessCompleted(duration time.Duration) {
	c.processesCompleted.Inc()
	c.processDuration.Observe(duration.Seconds())
}

// RecordProcessFailed counts a failed or cancelled process
func (c *Collector) RecordProcessFailed() {
	c.processesFailed.Inc()
}

// RecordStepExecuted counts one step attempt
func (c *Collector) RecordStepExecuted(stepID string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.stepsExecuted.WithLabelValues(stepID, status).Inc()
	c.stepDuration.WithLabelValues(stepID).Observe(duration.Seconds())
}

// SetActiveProcesses sets the number of running processes
func (c *Collector) SetActiveProcesses(count int) {
	c.activeProcesses.Set(float64(count))
}

// RecordEventDropped counts an event a sink could not queue
func (c *Collector) RecordEventDropped(sink string) {
	c.eventsDropped.WithLabelValues(sink).Inc()
}

// RecordWebhookDelivery counts a webhook POST by outcome
func (c *Collector) RecordWebhookDelivery(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.webhookDeliveries.WithLabelValues(status).Inc()
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetQueueDepth sets the number of queued jobs
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// ObserveLLMCall records an LLM API call with its token usage
func (c *Collector) ObserveLLMCall(model string, success bool, inputTokens, outputTokens int64, latency time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.llmCalls.WithLabelValues(model, status).Inc()
	c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	c.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
}
