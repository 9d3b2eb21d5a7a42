package relmigrate

import (
	"context"
	"sync"
	"time"
)

type Engine interface {
	Register(job Job) error
	Unregister(job Job)
	Start(ctx context.Context, jobName string) (int64, error)
	StartAsync(ctx context.Context, jobName string) (int64, error)
	Stop(ctx context.Context, jobId interface{}) error
	Restart(ctx context.Context, jobId interface{}) (int64, error)
	// LastExecution returns the latest execution of a job with its step executions, nil when the job never ran.
	LastExecution(ctx context.Context, jobName string) (*JobExecution, error)
}

func NewEngine(repository Repository) Engine {
	return &engine{
		jobRegistry: map[string]Job{},
		running:     map[int64]*liveExecution{},
		reserved:    map[string]bool{},
		repository:  repository,
	}
}

type liveExecution struct {
	jobName string
	cancel  context.CancelFunc
	done    chan struct{}
}

type engine struct {
	repository  Repository
	mu          sync.Mutex
	jobRegistry map[string]Job
	running     map[int64]*liveExecution
	// reserved holds job names whose execution is being prepared but not yet running
	reserved map[string]bool
}

// Register register job
func (e *engine) Register(job Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.jobRegistry[job.Name()]; ok {
		return NewBatchError(ErrCodeGeneral, "job with name:%v has already been registered", job.Name())
	}
	e.jobRegistry[job.Name()] = job
	return nil
}

// Unregister unregister job
func (e *engine) Unregister(job Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.jobRegistry, job.Name())
}

func (e *engine) lookup(jobName string) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobRegistry[jobName]
	return job, ok
}

// reserve claims jobName for one new execution. It fails while another execution of the
// job is running or being prepared. The claim is dropped by release once the execution
// is registered as running or its preparation failed.
func (e *engine) reserve(jobName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reserved[jobName] {
		return false
	}
	for _, live := range e.running {
		if live.jobName == jobName {
			return false
		}
	}
	e.reserved[jobName] = true
	return true
}

func (e *engine) release(jobName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.reserved, jobName)
}

// Start starts a fresh execution of the job under a new job instance.
func (e *engine) Start(ctx context.Context, jobName string) (int64, error) {
	return e.doStart(ctx, jobName, false)
}

// StartAsync is Start without waiting for the execution to finish.
func (e *engine) StartAsync(ctx context.Context, jobName string) (int64, error) {
	return e.doStart(ctx, jobName, true)
}

func (e *engine) doStart(ctx context.Context, jobName string, async bool) (int64, error) {
	job, ok := e.lookup(jobName)
	if !ok {
		DefaultLogger.Error(ctx, "can not find job with name:%v", jobName)
		return -1, NewBatchError(ErrCodeJobNotFound, "can not find job with name:%v", jobName)
	}
	if !e.reserve(jobName) {
		DefaultLogger.Error(ctx, "job is running, jobName:%v", jobName)
		return -1, NewBatchError(ErrCodeJobRunning, "job:%v is running", jobName)
	}
	defer e.release(jobName)
	if last, err := e.lastExecution(ctx, jobName); err != nil {
		return -1, err
	} else if last != nil && last.JobStatus == RUNNING {
		if err = e.abandon(ctx, last); err != nil {
			return -1, err
		}
	}
	jobInstance, err := e.repository.CreateJobInstance(ctx, jobName)
	if err != nil {
		DefaultLogger.Error(ctx, "create JobInstance error, jobName:%v, err:%v", jobName, err)
		return -1, err
	}
	execution := &JobExecution{
		JobInstanceId:  jobInstance.JobInstanceId,
		JobName:        jobName,
		JobStatus:      NEW,
		StepExecutions: make([]*StepExecution, 0),
		CreateTime:     time.Now(),
	}
	return e.launch(ctx, job, execution, async)
}

// Restart resumes the latest failed execution of a job and waits for it to finish. jobId
// is either the job name or the id of the failed execution, which must be the latest of
// its job instance.
func (e *engine) Restart(ctx context.Context, jobId interface{}) (int64, error) {
	var last *JobExecution
	var err BatchError
	switch id := jobId.(type) {
	case string:
		if _, ok := e.lookup(id); !ok {
			DefaultLogger.Error(ctx, "can not find job with name:%v", id)
			return -1, NewBatchError(ErrCodeJobNotFound, "can not find job with name:%v", id)
		}
		if !e.reserve(id) {
			DefaultLogger.Error(ctx, "job is running, jobName:%v", id)
			return -1, NewBatchError(ErrCodeJobRunning, "job:%v is running", id)
		}
		defer e.release(id)
		if last, err = e.lastExecution(ctx, id); err != nil {
			return -1, err
		}
	case int64:
		execution, er := e.repository.FindJobExecution(ctx, id)
		if er != nil {
			DefaultLogger.Error(ctx, "find JobExecution by jobExecutionId error, jobExecutionId:%v, err:%v", id, er)
			return -1, er
		}
		if execution == nil {
			DefaultLogger.Error(ctx, "can not find job execution with execution id:%v", id)
			return -1, NewBatchError(ErrCodeJobNotFound, "can not find job execution with execution id:%v", id)
		}
		if !e.reserve(execution.JobName) {
			DefaultLogger.Error(ctx, "job is running, jobName:%v", execution.JobName)
			return -1, NewBatchError(ErrCodeJobRunning, "job:%v is running, execution:%v can not be restarted", execution.JobName, id)
		}
		defer e.release(execution.JobName)
		latest, er := e.repository.FindLastJobExecutionByInstance(ctx, execution.JobInstanceId)
		if er != nil {
			return -1, er
		}
		if latest == nil || latest.JobExecutionId != execution.JobExecutionId {
			DefaultLogger.Error(ctx, "job execution:%v is not the latest execution of its job instance", id)
			return -1, NewBatchError(ErrCodeNoFailedExecution, "job execution:%v has been superseded", id)
		}
		last = execution
	default:
		DefaultLogger.Error(ctx, "job identifier:%v is either job name or job execution id", jobId)
		return -1, NewBatchError(ErrCodeGeneral, "job identifier:%v is either job name or job execution id", jobId)
	}
	if last == nil {
		return -1, NewBatchError(ErrCodeNoFailedExecution, "job:%v has no execution to restart", jobId)
	}
	job, ok := e.lookup(last.JobName)
	if !ok {
		DefaultLogger.Error(ctx, "can not find job with name:%v", last.JobName)
		return -1, NewBatchError(ErrCodeJobNotFound, "can not find job with name:%v", last.JobName)
	}
	if last.JobStatus == RUNNING {
		if err = e.abandon(ctx, last); err != nil {
			return -1, err
		}
	}
	if last.JobStatus != FAILED {
		DefaultLogger.Info(ctx, "nothing to restart, jobName:%v, jobExecutionId:%v, status:%v", last.JobName, last.JobExecutionId, last.JobStatus)
		return -1, NewBatchError(ErrCodeNoFailedExecution, "latest execution:%v of job:%v is %v", last.JobExecutionId, last.JobName, last.JobStatus)
	}
	execution := &JobExecution{
		JobInstanceId:  last.JobInstanceId,
		JobName:        last.JobName,
		JobStatus:      NEW,
		RestartOf:      last.JobExecutionId,
		StepExecutions: make([]*StepExecution, 0),
		CreateTime:     time.Now(),
	}
	return e.launch(ctx, job, execution, false)
}

// abandon marks an execution that is RUNNING in the repository but not in this engine
// as FAILED, together with its running steps.
func (e *engine) abandon(ctx context.Context, execution *JobExecution) BatchError {
	DefaultLogger.Warn(ctx, "job execution is RUNNING but not live, marking abandoned, jobName:%v, jobExecutionId:%v", execution.JobName, execution.JobExecutionId)
	steps, err := e.repository.FindStepExecutionsByJobExecution(ctx, execution.JobExecutionId)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.StepStatus == RUNNING || step.StepStatus == NEW {
			step.StepStatus = FAILED
			step.ExitMessage = "abandoned"
			step.EndTime = time.Now()
			if err = e.repository.SaveStepExecution(ctx, step); err != nil {
				return err
			}
		}
	}
	execution.JobStatus = FAILED
	execution.ExitMessage = "abandoned"
	execution.EndTime = time.Now()
	return e.repository.SaveJobExecution(ctx, execution)
}

func (e *engine) launch(ctx context.Context, job Job, execution *JobExecution, async bool) (int64, error) {
	if err := e.repository.SaveJobExecution(ctx, execution); err != nil {
		DefaultLogger.Error(ctx, "save job execution failed, jobName:%v, err:%v", job.Name(), err)
		return -1, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	live := &liveExecution{jobName: job.Name(), cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.running[execution.JobExecutionId] = live
	e.mu.Unlock()

	future := jobPool.Submit(runCtx, func() (interface{}, error) {
		defer func() {
			e.mu.Lock()
			delete(e.running, execution.JobExecutionId)
			e.mu.Unlock()
			cancel()
			close(live.done)
		}()
		if er := job.Start(runCtx, execution); er != nil {
			return nil, er
		}
		return nil, nil
	})
	DefaultLogger.Info(ctx, "job started, jobName:%v, jobExecutionId:%v, restartOf:%v", job.Name(), execution.JobExecutionId, execution.RestartOf)
	if async {
		return execution.JobExecutionId, nil
	}
	if _, er := future.Get(); er != nil {
		return execution.JobExecutionId, er
	}
	return execution.JobExecutionId, nil
}

// Stop requests a running execution to stop. The chunk in flight finishes and is
// committed; the execution then ends FAILED and can be restarted.
func (e *engine) Stop(ctx context.Context, jobId interface{}) error {
	var targets []*liveExecution
	e.mu.Lock()
	switch id := jobId.(type) {
	case string:
		for _, live := range e.running {
			if live.jobName == id {
				targets = append(targets, live)
			}
		}
	case int64:
		if live, ok := e.running[id]; ok {
			targets = append(targets, live)
		}
	default:
		e.mu.Unlock()
		return NewBatchError(ErrCodeGeneral, "job identifier:%v is either job name or job execution id", jobId)
	}
	e.mu.Unlock()
	if len(targets) == 0 {
		DefaultLogger.Error(ctx, "there is no running job execution:%v to stop", jobId)
		return NewBatchError(ErrCodeJobNotFound, "there is no running job execution:%v to stop", jobId)
	}
	for _, live := range targets {
		DefaultLogger.Info(ctx, "job will be stopped, jobName:%v", live.jobName)
		live.cancel()
	}
	for _, live := range targets {
		select {
		case <-live.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *engine) LastExecution(ctx context.Context, jobName string) (*JobExecution, error) {
	execution, err := e.lastExecution(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if execution == nil {
		return nil, nil
	}
	steps, err := e.repository.FindStepExecutionsByJobExecution(ctx, execution.JobExecutionId)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		step.JobExecution = execution
		execution.AddStepExecution(step)
	}
	return execution, nil
}

func (e *engine) lastExecution(ctx context.Context, jobName string) (*JobExecution, BatchError) {
	jobInstance, err := e.repository.FindLastJobInstanceByName(ctx, jobName)
	if err != nil {
		DefaultLogger.Error(ctx, "find last JobInstance error, jobName:%v, err:%v", jobName, err)
		return nil, err
	}
	if jobInstance == nil {
		return nil, nil
	}
	execution, err := e.repository.FindLastJobExecutionByInstance(ctx, jobInstance.JobInstanceId)
	if err != nil {
		DefaultLogger.Error(ctx, "find last JobExecution error, jobName:%v, jobInstanceId:%v, err:%v", jobName, jobInstance.JobInstanceId, err)
		return nil, err
	}
	return execution, nil
}
