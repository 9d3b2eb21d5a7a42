package relmigrate

import (
	"context"
)

// Repository persists job instances, job executions and step executions.
// Find methods return a nil value and a nil error when nothing matches.
type Repository interface {
	CreateJobInstance(ctx context.Context, jobName string) (*JobInstance, BatchError)
	FindLastJobInstanceByName(ctx context.Context, jobName string) (*JobInstance, BatchError)

	SaveJobExecution(ctx context.Context, execution *JobExecution) BatchError
	FindJobExecution(ctx context.Context, jobExecutionId int64) (*JobExecution, BatchError)
	FindLastJobExecutionByInstance(ctx context.Context, jobInstanceId int64) (*JobExecution, BatchError)

	SaveStepExecution(ctx context.Context, execution *StepExecution) BatchError
	FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionId int64) ([]*StepExecution, BatchError)
	FindLastStepExecution(ctx context.Context, jobInstanceId int64, stepName string) (*StepExecution, BatchError)
}
