package relmigrate

import (
	"context"
	"strings"
	"sync"
)

// ProgressReporter logs a progress line for a step each time its read count has grown by
// at least the stride since the last line. It never fails a step.
type ProgressReporter struct {
	strides       map[string]int64
	defaultStride int64
	logger        Logger

	mu        sync.Mutex
	watermark map[string]int64
}

// NewProgressReporter creates a reporter. strides is keyed by step name; partitions of a
// step ("books:0001") use the stride of their parent step.
func NewProgressReporter(defaultStride int64, strides map[string]int64) *ProgressReporter {
	return &ProgressReporter{
		strides:       strides,
		defaultStride: defaultStride,
		watermark:     make(map[string]int64),
	}
}

// WithLogger sets the logger used for progress lines, DefaultLogger otherwise.
func (r *ProgressReporter) WithLogger(logger Logger) *ProgressReporter {
	r.logger = logger
	return r
}

func (r *ProgressReporter) stride(stepName string) int64 {
	name := stepName
	if i := strings.LastIndex(name, ":"); i > 0 {
		name = name[:i]
	}
	if s, ok := r.strides[name]; ok && s > 0 {
		return s
	}
	return r.defaultStride
}

func (r *ProgressReporter) log(ctx context.Context, msg string, args ...interface{}) {
	logger := r.logger
	if logger == nil {
		logger = DefaultLogger
	}
	logger.Info(ctx, msg, args...)
}

// BeforeStep starts the watermark at the progress the step resumes from.
func (r *ProgressReporter) BeforeStep(ctx context.Context, execution *StepExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watermark[execution.StepName] = execution.Progress.ReadCount
	return nil
}

func (r *ProgressReporter) AfterStep(ctx context.Context, execution *StepExecution) BatchError {
	r.mu.Lock()
	delete(r.watermark, execution.StepName)
	r.mu.Unlock()
	p := execution.Progress
	r.log(ctx, "[%s] finished %s: read=%d written=%d filtered=%d commits=%d", execution.StepName, execution.StepStatus, p.ReadCount, p.WriteCount, p.FilterCount, p.CommitCount)
	return nil
}

func (r *ProgressReporter) AfterChunk(ctx context.Context, execution *StepExecution) {
	p := execution.Progress
	stride := r.stride(execution.StepName)
	r.mu.Lock()
	mark, ok := r.watermark[execution.StepName]
	if !ok {
		// partitions are not announced through BeforeStep
		mark = p.ReadCount - p.ReadCount%max(stride, 1)
		r.watermark[execution.StepName] = mark
	}
	emit := stride > 0 && p.ReadCount-mark >= stride
	if emit {
		r.watermark[execution.StepName] = p.ReadCount
	}
	r.mu.Unlock()
	if emit {
		r.log(ctx, "[%s] progress: read=%d written=%d filtered=%d commits=%d", execution.StepName, p.ReadCount, p.WriteCount, p.FilterCount, p.CommitCount)
	}
}

func (r *ProgressReporter) OnChunkError(ctx context.Context, execution *StepExecution, err BatchError) {
}
