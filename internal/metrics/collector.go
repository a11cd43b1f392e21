// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 任务指标
	tasksSubmitted   *prometheus.CounterVec
	taskTransitions  *prometheus.CounterVec
	tasksActive      prometheus.Gauge
	sweepDuration    prometheus.Histogram
	sweepTasksPolled prometheus.Histogram

	// 远端指标
	remoteRequestsTotal   *prometheus.CounterVec
	remoteRequestDuration *prometheus.HistogramVec

	// 转换指标
	conversionsTotal   *prometheus.CounterVec
	conversionDuration prometheus.Histogram

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg（nil 表示默认注册表）
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 任务指标
	c.tasksSubmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of task submissions",
		},
		[]string{"status"}, // accepted, rejected
	)

	c.taskTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task state transitions",
		},
		[]string{"from", "to"},
	)

	c.tasksActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Number of tasks in a non-terminal state",
		},
	)

	c.sweepDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one polling sweep over all active tasks",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	c.sweepTasksPolled = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_tasks_polled",
			Help:      "Number of tasks polled per sweep",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	// 远端指标
	c.remoteRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Total number of requests sent to the generation service",
		},
		[]string{"operation", "status"},
	)

	c.remoteRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Generation service request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// 转换指标
	c.conversionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of format conversions",
		},
		[]string{"status"},
	)

	c.conversionDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Format conversion duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🧊 任务指标记录
// =============================================================================

// RecordSubmission 记录一次任务提交
func (c *Collector) RecordSubmission(accepted bool) {
	if c == nil {
		return
	}
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	c.tasksSubmitted.WithLabelValues(status).Inc()
}

// RecordTransition 记录任务状态转换
func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.taskTransitions.WithLabelValues(from, to).Inc()
}

// SetActiveTasks 设置当前活跃任务数
func (c *Collector) SetActiveTasks(n int) {
	if c == nil {
		return
	}
	c.tasksActive.Set(float64(n))
}

// RecordSweep 记录一次轮询
func (c *Collector) RecordSweep(polled int, duration time.Duration) {
	if c == nil {
		return
	}
	c.sweepDuration.Observe(duration.Seconds())
	c.sweepTasksPolled.Observe(float64(polled))
}

// =============================================================================
// 🛰️ 远端指标记录
// =============================================================================

// RecordRemoteRequest 记录一次远端请求
func (c *Collector) RecordRemoteRequest(operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.remoteRequestsTotal.WithLabelValues(operation, status).Inc()
	c.remoteRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔄 转换指标记录
// =============================================================================

// RecordConversion 记录一次格式转换
func (c *Collector) RecordConversion(success bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	c.conversionsTotal.WithLabelValues(status).Inc()
	c.conversionDuration.Observe(duration.Seconds())
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
