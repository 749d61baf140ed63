package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueDepth   *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	queueErrors  *prometheus.CounterVec

	intakeTotal *prometheus.CounterVec

	activeRuns       prometheus.Gauge
	runTotal         *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	runIterations    prometheus.Histogram
	gatewayRetries   *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	sinkEmitTotal    *prometheus.CounterVec
	sinkFailureTotal *prometheus.CounterVec

	sweepReclaimedTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "agentd_queue_depth",
					Help: "Current queue depth by queue name.",
				},
				[]string{"queue"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_enqueue_total",
					Help: "Total enqueue operations by queue name.",
				},
				[]string{"queue"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_dequeue_total",
					Help: "Total dequeue operations by queue name.",
				},
				[]string{"queue"},
			),
			queueErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_queue_errors_total",
					Help: "Total queue backend errors by queue name and operation.",
				},
				[]string{"queue", "op"},
			),
			intakeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_intake_total",
					Help: "Total intake requests by outcome.",
				},
				[]string{"outcome"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agentd_active_runs",
					Help: "Current number of in-flight runs.",
				},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_run_total",
					Help: "Total runs by provider and terminal status.",
				},
				[]string{"provider", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentd_run_duration_seconds",
					Help:    "Run duration in seconds by provider.",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
				},
				[]string{"provider"},
			),
			runIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agentd_run_iterations",
					Help:    "Tool-calling iterations per run.",
					Buckets: prometheus.LinearBuckets(1, 1, 10),
				},
			),
			gatewayRetries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_gateway_retries_total",
					Help: "Total gateway call retries by provider.",
				},
				[]string{"provider"},
			),
			tokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_tokens_total",
					Help: "Total tokens consumed by provider and direction.",
				},
				[]string{"provider", "direction"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agentd_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			sinkEmitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_sink_emit_total",
					Help: "Total events dispatched by sink.",
				},
				[]string{"sink"},
			),
			sinkFailureTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agentd_sink_failure_total",
					Help: "Total sink publish failures by sink.",
				},
				[]string{"sink"},
			),
			sweepReclaimedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "agentd_sweep_reclaimed_total",
					Help: "Total stale active-run entries reclaimed by the reconciliation sweep.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueDepth,
			m.enqueueTotal,
			m.dequeueTotal,
			m.queueErrors,
			m.intakeTotal,
			m.activeRuns,
			m.runTotal,
			m.runDuration,
			m.runIterations,
			m.gatewayRetries,
			m.tokensTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.sinkEmitTotal,
			m.sinkFailureTotal,
			m.sweepReclaimedTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordEnqueue(queue string, depth int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(queue).Inc()
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func RecordDequeue(queue string, depth int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(queue).Inc()
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func RecordQueueError(queue, op string) {
	getMetrics().queueErrors.WithLabelValues(queue, op).Inc()
}

func RecordIntake(accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	getMetrics().intakeTotal.WithLabelValues(outcome).Inc()
}

func SetActiveRuns(count int) {
	getMetrics().activeRuns.Set(float64(count))
}

func RecordRun(provider, status string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.runTotal.WithLabelValues(provider, status).Inc()
	m.runDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.runIterations.Observe(float64(iterations))
}

func RecordGatewayRetry(provider string) {
	getMetrics().gatewayRetries.WithLabelValues(provider).Inc()
}

func RecordTokens(provider string, input, output int) {
	m := getMetrics()
	m.tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	m.tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordSinkEmit(sink string) {
	getMetrics().sinkEmitTotal.WithLabelValues(sink).Inc()
}

func RecordSinkFailure(sink string) {
	getMetrics().sinkFailureTotal.WithLabelValues(sink).Inc()
}

func RecordSweepReclaimed(count int) {
	getMetrics().sweepReclaimedTotal.Add(float64(count))
}
