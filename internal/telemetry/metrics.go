package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushJob — имя job в Pushgateway.
const PushJob = "tracepipe"

// Metrics — Prometheus метрики pipeline.
//
// Метрики собираются в собственный registry и отправляются в Pushgateway
// по завершении run. Методы безопасны для nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

// NewMetrics создаёт метрики в новом registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracepipe_stage_duration_seconds",
			Help:    "Wall time of one pipeline stage, including the child process.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage", "status"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracepipe_stage_failures_total",
			Help: "Stages that could not start, timed out or exited non-zero.",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracepipe_runs_total",
			Help: "Finished pipeline runs by final status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.stageDuration, m.stageFailures, m.runs)
	return m
}

// ObserveStage учитывает завершённую стадию.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
	if status != "SUCCEEDED" {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveRun учитывает завершённый run.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// Push отправляет метрики в Pushgateway по адресу url.
// Метрики группируются по workload, чтобы runs разных workloads не затирали друг друга.
func (m *Metrics) Push(ctx context.Context, url, workload string) error {
	if m == nil {
		return nil
	}
	err := push.New(url, PushJob).
		Gatherer(m.registry).
		Grouping("workload", workload).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
