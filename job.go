package relmigrate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is a named sequence of stages. Steps within a stage run in parallel, stages run
// one after another.
type Job interface {
	Name() string
	Start(ctx context.Context, execution *JobExecution) BatchError
	GetSteps() []Step
}

type simpleJob struct {
	name       string
	stages     [][]Step
	listeners  []JobListener
	repository Repository
}

func newSimpleJob(name string, stages [][]Step, listeners []JobListener, repository Repository) *simpleJob {
	return &simpleJob{
		name:       name,
		stages:     stages,
		listeners:  listeners,
		repository: repository,
	}
}

func (job *simpleJob) Name() string {
	return job.name
}

func (job *simpleJob) GetSteps() []Step {
	steps := make([]Step, 0)
	for _, stage := range job.stages {
		steps = append(steps, stage...)
	}
	return steps
}

func (job *simpleJob) Start(ctx context.Context, execution *JobExecution) (err BatchError) {
	ctx = WithLogFields(ctx, "job", job.name, "jobExecutionId", execution.JobExecutionId)
	execution.JobStatus = RUNNING
	execution.StartTime = time.Now()
	if err = job.repository.SaveJobExecution(ctx, execution); err != nil {
		DefaultLogger.Error(ctx, "save job execution failed, jobName:%v, err:%v", job.name, err)
		return err
	}

	for _, listener := range job.listeners {
		if err = listener.BeforeJob(ctx, execution); err != nil {
			DefaultLogger.Error(ctx, "job listener BeforeJob error, jobName:%v, err:%v", job.name, err)
			break
		}
	}
	if err == nil {
		for _, stage := range job.stages {
			if err = job.runStage(ctx, execution, stage); err != nil {
				break
			}
		}
	}

	execution.EndTime = time.Now()
	if err != nil {
		execution.JobStatus = FAILED
		execution.ExitMessage = err.Error()
		if err.Code() == ErrCodeStopped {
			execution.ExitMessage = "stopped"
		}
	} else {
		execution.JobStatus = COMPLETED
		execution.ExitMessage = ""
	}
	for _, listener := range job.listeners {
		if er := listener.AfterJob(ctx, execution); er != nil {
			DefaultLogger.Warn(ctx, "job listener AfterJob error, jobName:%v, err:%v", job.name, er)
		}
	}
	if er := job.repository.SaveJobExecution(context.WithoutCancel(ctx), execution); er != nil {
		DefaultLogger.Error(ctx, "save job execution failed, jobName:%v, err:%v", job.name, er)
		if err == nil {
			err = er
		}
	}
	DefaultLogger.Info(ctx, "job finished, jobName:%v, status:%v", job.name, execution.JobStatus)
	return err
}

func (job *simpleJob) runStage(ctx context.Context, execution *JobExecution, stage []Step) BatchError {
	if len(stage) == 1 {
		_, err := execStep(WithLogFields(ctx, "step", stage[0].Name()), job.repository, execution, stage[0])
		return err
	}
	// a failing branch does not cancel its siblings; each stops at its own chunk boundary
	var g errgroup.Group
	errs := make([]BatchError, len(stage))
	for i, step := range stage {
		i, step := i, step
		g.Go(func() error {
			_, errs[i] = execStep(WithLogFields(ctx, "step", step.Name()), job.repository, execution, step)
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
