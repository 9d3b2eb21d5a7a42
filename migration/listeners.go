package migration

import (
	"context"
	"time"

	"github.com/bookshelf/relmigrate"
)

type jobLoggingListener struct{}

func (jobLoggingListener) BeforeJob(ctx context.Context, execution *relmigrate.JobExecution) relmigrate.BatchError {
	relmigrate.DefaultLogger.Info(ctx, "migration started, jobExecutionId:%v, restartOf:%v", execution.JobExecutionId, execution.RestartOf)
	return nil
}

func (jobLoggingListener) AfterJob(ctx context.Context, execution *relmigrate.JobExecution) relmigrate.BatchError {
	took := execution.EndTime.Sub(execution.StartTime).Round(time.Millisecond)
	if execution.JobStatus == relmigrate.COMPLETED {
		relmigrate.DefaultLogger.Info(ctx, "migration completed in %v, jobExecutionId:%v", took, execution.JobExecutionId)
	} else {
		relmigrate.DefaultLogger.Error(ctx, "migration %v after %v, jobExecutionId:%v, exit:%v", execution.JobStatus, took, execution.JobExecutionId, execution.ExitMessage)
	}
	return nil
}

type stepLoggingListener struct{}

func (stepLoggingListener) BeforeStep(ctx context.Context, execution *relmigrate.StepExecution) relmigrate.BatchError {
	relmigrate.DefaultLogger.Info(ctx, "step %v started at offset %v", execution.StepName, execution.Progress.LastCommittedOffset)
	return nil
}

func (stepLoggingListener) AfterStep(ctx context.Context, execution *relmigrate.StepExecution) relmigrate.BatchError {
	relmigrate.DefaultLogger.Info(ctx, "step %v %v, exit:%v", execution.StepName, execution.StepStatus, execution.ExitMessage)
	return nil
}

// chunkErrorListener warns about every failed chunk; the step itself fails afterwards.
type chunkErrorListener struct{}

func (chunkErrorListener) AfterChunk(ctx context.Context, execution *relmigrate.StepExecution) {}

func (chunkErrorListener) OnChunkError(ctx context.Context, execution *relmigrate.StepExecution, err relmigrate.BatchError) {
	relmigrate.DefaultLogger.Warn(ctx, "chunk failed, step:%v, offset:%v, code:%v, err:%v", execution.StepName, execution.Progress.LastCommittedOffset, err.Code(), err)
}
