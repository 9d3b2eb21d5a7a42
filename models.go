package relmigrate

import (
	"sync"
	"time"
)

// BatchStatus status of a job or step execution
type BatchStatus string

const (
	NEW       BatchStatus = "NEW"
	RUNNING   BatchStatus = "RUNNING"
	COMPLETED BatchStatus = "COMPLETED"
	FAILED    BatchStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s BatchStatus) IsTerminal() bool {
	return s == COMPLETED || s == FAILED
}

type JobInstance struct {
	JobInstanceId int64
	JobName       string
	CreateTime    time.Time
}

// StepProgress counters of a step; LastCommittedOffset is the resume point.
type StepProgress struct {
	ReadCount           int64
	WriteCount          int64
	FilterCount         int64
	CommitCount         int64
	LastCommittedOffset int64
}

// Add returns the sum of two progress records. Offsets are not additive and are zeroed.
func (p StepProgress) Add(o StepProgress) StepProgress {
	return StepProgress{
		ReadCount:   p.ReadCount + o.ReadCount,
		WriteCount:  p.WriteCount + o.WriteCount,
		FilterCount: p.FilterCount + o.FilterCount,
		CommitCount: p.CommitCount + o.CommitCount,
	}
}

type JobExecution struct {
	JobExecutionId int64
	JobInstanceId  int64
	JobName        string
	JobStatus      BatchStatus
	// RestartOf is the failed execution this one resumes, 0 for a fresh start.
	RestartOf      int64
	StepExecutions []*StepExecution
	CreateTime     time.Time
	StartTime      time.Time
	EndTime        time.Time
	ExitMessage    string

	mu sync.Mutex
}

func (e *JobExecution) AddStepExecution(execution *StepExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StepExecutions = append(e.StepExecutions, execution)
}

// PerStep returns a snapshot of step progress keyed by step name.
func (e *JobExecution) PerStep() map[string]StepProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	ret := make(map[string]StepProgress, len(e.StepExecutions))
	for _, se := range e.StepExecutions {
		ret[se.StepName] = se.Progress
	}
	return ret
}

// FindStepExecution returns the step execution with the given name, nil when absent.
func (e *JobExecution) FindStepExecution(stepName string) *StepExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, se := range e.StepExecutions {
		if se.StepName == stepName {
			return se
		}
	}
	return nil
}

type StepExecution struct {
	StepExecutionId int64
	StepName        string
	StepStatus      BatchStatus
	JobExecution    *JobExecution
	JobExecutionId  int64
	JobInstanceId   int64
	JobName         string
	Progress        StepProgress
	CreateTime      time.Time
	StartTime       time.Time
	EndTime         time.Time
	ExitMessage     string
}

func newStepExecution(jobExecution *JobExecution, stepName string) *StepExecution {
	return &StepExecution{
		StepName:       stepName,
		StepStatus:     NEW,
		JobExecution:   jobExecution,
		JobExecutionId: jobExecution.JobExecutionId,
		JobInstanceId:  jobExecution.JobInstanceId,
		JobName:        jobExecution.JobName,
		CreateTime:     time.Now(),
	}
}
