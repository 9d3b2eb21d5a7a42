// Package metrics exposes migration progress as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/bookshelf/relmigrate"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPath = "/metrics"

// StepMetrics observes steps and chunks. Register it as a job listener through
// SimpleJobBuilder.Listener so it receives both step and chunk callbacks.
type StepMetrics struct {
	registry *prometheus.Registry

	itemsRead     *prometheus.GaugeVec
	itemsWritten  *prometheus.GaugeVec
	itemsFiltered *prometheus.GaugeVec
	commitOffset  *prometheus.GaugeVec
	commitsTotal  *prometheus.CounterVec
	chunkErrors   *prometheus.CounterVec
	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	workers       prometheus.GaugeFunc
}

// NewStepMetrics creates and registers the step metrics in registry.
func NewStepMetrics(registry *prometheus.Registry) (*StepMetrics, error) {
	m := &StepMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StepMetrics) initMetrics() {
	m.itemsRead = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relmigrate_step_items_read",
			Help: "Source rows read by the current execution of a step",
		},
		[]string{"job", "step"},
	)
	m.itemsWritten = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relmigrate_step_items_written",
			Help: "Documents written by the current execution of a step",
		},
		[]string{"job", "step"},
	)
	m.itemsFiltered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relmigrate_step_items_filtered",
			Help: "Source rows skipped by the current execution of a step",
		},
		[]string{"job", "step"},
	)
	m.commitOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relmigrate_step_committed_offset",
			Help: "Last committed source offset of a step",
		},
		[]string{"job", "step"},
	)
	m.commitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relmigrate_chunk_commits_total",
			Help: "Total number of committed chunks",
		},
		[]string{"job", "step"},
	)
	m.chunkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relmigrate_chunk_errors_total",
			Help: "Total number of failed chunks",
		},
		[]string{"job", "step", "code"},
	)
	m.stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relmigrate_steps_total",
			Help: "Total number of finished step executions",
		},
		[]string{"job", "step", "status"},
	)
	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "relmigrate_step_duration_seconds",
			Help: "Wall time of step executions",
			// 100ms to ~4.5h
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 11),
		},
		[]string{"job", "step"},
	)
	m.workers = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "relmigrate_chunk_workers_running",
			Help: "Live chunk pool workers, idle workers expire after a second",
		},
		func() float64 { return float64(relmigrate.RunningChunkWorkers()) },
	)
}

// Describe implements the Collector interface
func (m *StepMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.itemsRead.Describe(ch)
	m.itemsWritten.Describe(ch)
	m.itemsFiltered.Describe(ch)
	m.commitOffset.Describe(ch)
	m.commitsTotal.Describe(ch)
	m.chunkErrors.Describe(ch)
	m.stepsTotal.Describe(ch)
	m.stepDuration.Describe(ch)
	m.workers.Describe(ch)
}

// Collect implements the Collector interface
func (m *StepMetrics) Collect(ch chan<- prometheus.Metric) {
	m.itemsRead.Collect(ch)
	m.itemsWritten.Collect(ch)
	m.itemsFiltered.Collect(ch)
	m.commitOffset.Collect(ch)
	m.commitsTotal.Collect(ch)
	m.chunkErrors.Collect(ch)
	m.stepsTotal.Collect(ch)
	m.stepDuration.Collect(ch)
	m.workers.Collect(ch)
}

func (m *StepMetrics) setProgress(execution *relmigrate.StepExecution) {
	p := execution.Progress
	m.itemsRead.WithLabelValues(execution.JobName, execution.StepName).Set(float64(p.ReadCount))
	m.itemsWritten.WithLabelValues(execution.JobName, execution.StepName).Set(float64(p.WriteCount))
	m.itemsFiltered.WithLabelValues(execution.JobName, execution.StepName).Set(float64(p.FilterCount))
	m.commitOffset.WithLabelValues(execution.JobName, execution.StepName).Set(float64(p.LastCommittedOffset))
}

func (m *StepMetrics) BeforeStep(ctx context.Context, execution *relmigrate.StepExecution) relmigrate.BatchError {
	m.setProgress(execution)
	return nil
}

func (m *StepMetrics) AfterStep(ctx context.Context, execution *relmigrate.StepExecution) relmigrate.BatchError {
	m.setProgress(execution)
	m.stepsTotal.WithLabelValues(execution.JobName, execution.StepName, string(execution.StepStatus)).Inc()
	if !execution.StartTime.IsZero() {
		end := execution.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		m.stepDuration.WithLabelValues(execution.JobName, execution.StepName).Observe(end.Sub(execution.StartTime).Seconds())
	}
	return nil
}

func (m *StepMetrics) AfterChunk(ctx context.Context, execution *relmigrate.StepExecution) {
	m.setProgress(execution)
	m.commitsTotal.WithLabelValues(execution.JobName, execution.StepName).Inc()
}

func (m *StepMetrics) OnChunkError(ctx context.Context, execution *relmigrate.StepExecution, err relmigrate.BatchError) {
	code := relmigrate.ErrCodeGeneral
	if err != nil {
		code = err.Code()
	}
	m.chunkErrors.WithLabelValues(execution.JobName, execution.StepName, code).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *StepMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Serve exposes the metrics on addr until ctx is done.
func (m *StepMetrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	relmigrate.DefaultLogger.Info(ctx, "serving metrics, addr:%v, path:%v", addr, metricsPath)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "serve metrics on %s", addr)
	}
	return nil
}
