package relmigrate

import (
	"context"
)

// JobListener job listener
type JobListener interface {
	BeforeJob(ctx context.Context, execution *JobExecution) BatchError
	AfterJob(ctx context.Context, execution *JobExecution) BatchError
}

// StepListener step listener. An error from BeforeStep fails the step, errors from
// AfterStep are only logged.
type StepListener interface {
	BeforeStep(ctx context.Context, execution *StepExecution) BatchError
	AfterStep(ctx context.Context, execution *StepExecution) BatchError
}

// ChunkListener observes committed and failed chunks. It cannot influence the step.
type ChunkListener interface {
	AfterChunk(ctx context.Context, execution *StepExecution)
	OnChunkError(ctx context.Context, execution *StepExecution, err BatchError)
}
