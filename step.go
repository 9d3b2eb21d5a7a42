package relmigrate

import (
	"context"
	"time"
)

// Partition restricts a window to source rows whose id satisfies id % Modulus == Remainder.
// A zero Modulus selects every row.
type Partition struct {
	Modulus   int64
	Remainder int64
}

// Window is an offset-addressed slice of the ordered source rows of one step.
type Window struct {
	Offset    int64
	Limit     int64
	Partition Partition
}

// Reader reads one window of source items. Rows must be returned in a stable order so
// that offsets stay valid across restarts; fewer than Limit rows means the end was reached.
type Reader interface {
	ReadWindow(ctx context.Context, window Window) ([]interface{}, BatchError)
}

// Processor translates an item. Returning a nil item filters it out.
type Processor interface {
	Process(ctx context.Context, item interface{}) (interface{}, BatchError)
}

// Writer writes a chunk of translated items as one batch. Writes must be idempotent.
type Writer interface {
	Write(ctx context.Context, items []interface{}) BatchError
}

// Task is the body of a simple, non-chunked step.
type Task func(ctx context.Context, execution *StepExecution) BatchError

// Step is one stage of a job.
type Step interface {
	Name() string
	Exec(ctx context.Context, execution *StepExecution) BatchError
	addListener(listener StepListener)
	getListeners() []StepListener
}

type baseStep struct {
	name       string
	repository Repository
	txMgr      TransactionManager
	listeners  []StepListener
}

func (step *baseStep) Name() string {
	return step.name
}

func (step *baseStep) addListener(listener StepListener) {
	step.listeners = append(step.listeners, listener)
}

func (step *baseStep) getListeners() []StepListener {
	return step.listeners
}

// execStep runs step within jobExecution. A step whose last execution in the same job
// instance completed is skipped and that execution is returned; a step whose last
// execution did not complete resumes from its committed progress.
func execStep(ctx context.Context, repository Repository, jobExecution *JobExecution, step Step) (*StepExecution, BatchError) {
	last, err := repository.FindLastStepExecution(ctx, jobExecution.JobInstanceId, step.Name())
	if err != nil {
		DefaultLogger.Error(ctx, "find last StepExecution error, step:%v, jobInstanceId:%v, err:%v", step.Name(), jobExecution.JobInstanceId, err)
		return nil, err
	}
	if last != nil && last.StepStatus == COMPLETED {
		DefaultLogger.Info(ctx, "step already completed, skipping, step:%v, stepExecutionId:%v", step.Name(), last.StepExecutionId)
		return last, nil
	}
	if ctx.Err() != nil {
		return nil, NewBatchError(ErrCodeStopped, "step:%v not started, execution stopped", step.Name())
	}

	execution := newStepExecution(jobExecution, step.Name())
	if last != nil {
		execution.Progress = last.Progress
		DefaultLogger.Info(ctx, "step resumes, step:%v, fromStepExecutionId:%v, offset:%v", step.Name(), last.StepExecutionId, last.Progress.LastCommittedOffset)
	}
	execution.StepStatus = RUNNING
	execution.StartTime = time.Now()
	if err = repository.SaveStepExecution(ctx, execution); err != nil {
		DefaultLogger.Error(ctx, "save StepExecution error, step:%v, err:%v", step.Name(), err)
		return nil, err
	}
	jobExecution.AddStepExecution(execution)

	for _, listener := range step.getListeners() {
		if err = listener.BeforeStep(ctx, execution); err != nil {
			DefaultLogger.Error(ctx, "step listener BeforeStep error, step:%v, err:%v", step.Name(), err)
			break
		}
	}
	if err == nil {
		err = step.Exec(ctx, execution)
	}

	execution.EndTime = time.Now()
	if err != nil {
		execution.StepStatus = FAILED
		execution.ExitMessage = err.Error()
	} else {
		execution.StepStatus = COMPLETED
	}
	for _, listener := range step.getListeners() {
		if er := listener.AfterStep(ctx, execution); er != nil {
			DefaultLogger.Warn(ctx, "step listener AfterStep error, step:%v, err:%v", step.Name(), er)
		}
	}
	// the status must land even when ctx was cancelled
	if er := repository.SaveStepExecution(context.WithoutCancel(ctx), execution); er != nil {
		DefaultLogger.Error(ctx, "save StepExecution error, step:%v, err:%v", step.Name(), er)
		if err == nil {
			err = er
		}
	}
	return execution, err
}

type simpleStep struct {
	baseStep
	task Task
}

func newSimpleStep(base baseStep, task Task, listeners []StepListener) *simpleStep {
	base.listeners = append(base.listeners, listeners...)
	return &simpleStep{baseStep: base, task: task}
}

func (step *simpleStep) Exec(ctx context.Context, execution *StepExecution) (err BatchError) {
	defer func() {
		if r := recover(); r != nil {
			err = NewBatchError(ErrCodeGeneral, "panic in step:%v, err:%v", step.name, r)
		}
	}()
	return step.task(ctx, execution)
}
