package relmigrate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memRepository keeps copies of everything it saves, like a database would.
type memRepository struct {
	mu         sync.Mutex
	instances  []*JobInstance
	executions []*JobExecution
	steps      []*StepExecution
}

func newMemRepository() *memRepository {
	return &memRepository{}
}

func copyJobExecution(e *JobExecution) *JobExecution {
	return &JobExecution{
		JobExecutionId: e.JobExecutionId,
		JobInstanceId:  e.JobInstanceId,
		JobName:        e.JobName,
		JobStatus:      e.JobStatus,
		RestartOf:      e.RestartOf,
		CreateTime:     e.CreateTime,
		StartTime:      e.StartTime,
		EndTime:        e.EndTime,
		ExitMessage:    e.ExitMessage,
	}
}

func copyStepExecution(e *StepExecution) *StepExecution {
	c := *e
	c.JobExecution = nil
	return &c
}

func (r *memRepository) CreateJobInstance(ctx context.Context, jobName string) (*JobInstance, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance := &JobInstance{JobInstanceId: int64(len(r.instances) + 1), JobName: jobName, CreateTime: time.Now()}
	r.instances = append(r.instances, instance)
	return instance, nil
}

func (r *memRepository) FindLastJobInstanceByName(ctx context.Context, jobName string) (*JobInstance, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.instances) - 1; i >= 0; i-- {
		if r.instances[i].JobName == jobName {
			c := *r.instances[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepository) SaveJobExecution(ctx context.Context, execution *JobExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if execution.JobExecutionId == 0 {
		execution.JobExecutionId = int64(len(r.executions) + 1)
		r.executions = append(r.executions, copyJobExecution(execution))
		return nil
	}
	r.executions[execution.JobExecutionId-1] = copyJobExecution(execution)
	return nil
}

func (r *memRepository) FindJobExecution(ctx context.Context, jobExecutionId int64) (*JobExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if jobExecutionId <= 0 || jobExecutionId > int64(len(r.executions)) {
		return nil, nil
	}
	return copyJobExecution(r.executions[jobExecutionId-1]), nil
}

func (r *memRepository) FindLastJobExecutionByInstance(ctx context.Context, jobInstanceId int64) (*JobExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.executions) - 1; i >= 0; i-- {
		if r.executions[i].JobInstanceId == jobInstanceId {
			return copyJobExecution(r.executions[i]), nil
		}
	}
	return nil, nil
}

func (r *memRepository) SaveStepExecution(ctx context.Context, execution *StepExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if execution.StepExecutionId == 0 {
		execution.StepExecutionId = int64(len(r.steps) + 1)
		r.steps = append(r.steps, copyStepExecution(execution))
		return nil
	}
	r.steps[execution.StepExecutionId-1] = copyStepExecution(execution)
	return nil
}

func (r *memRepository) FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionId int64) ([]*StepExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []*StepExecution
	for _, se := range r.steps {
		if se.JobExecutionId == jobExecutionId {
			ret = append(ret, copyStepExecution(se))
		}
	}
	return ret, nil
}

func (r *memRepository) FindLastStepExecution(ctx context.Context, jobInstanceId int64, stepName string) (*StepExecution, BatchError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.steps) - 1; i >= 0; i-- {
		if r.steps[i].JobInstanceId == jobInstanceId && r.steps[i].StepName == stepName {
			return copyStepExecution(r.steps[i]), nil
		}
	}
	return nil, nil
}

func (r *memRepository) stepExecutions(stepName string) []*StepExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []*StepExecution
	for _, se := range r.steps {
		if se.StepName == stepName {
			ret = append(ret, copyStepExecution(se))
		}
	}
	return ret
}

func (r *memRepository) instanceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

func (r *memRepository) executionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executions)
}

// memTxManager records commit units and persists the progress they carry.
type memTxManager struct {
	repository *memRepository
	mu         sync.Mutex
	units      []CommitUnit
	failAt     map[int64]bool
}

func newMemTxManager(repository *memRepository) *memTxManager {
	return &memTxManager{repository: repository, failAt: map[int64]bool{}}
}

func (tm *memTxManager) Commit(ctx context.Context, unit *CommitUnit) BatchError {
	tm.mu.Lock()
	if tm.failAt[unit.Offset] {
		tm.mu.Unlock()
		return NewBatchError(ErrCodeDbFail, "commit at offset:%v refused", unit.Offset)
	}
	tm.units = append(tm.units, *unit)
	tm.mu.Unlock()
	se := copyStepExecution(unit.StepExecution)
	se.Progress = unit.Progress
	return tm.repository.SaveStepExecution(ctx, se)
}

func (tm *memTxManager) offsets(stepName string) []int64 {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	var ret []int64
	for _, u := range tm.units {
		if u.StepExecution.StepName == stepName {
			ret = append(ret, u.Offset)
		}
	}
	return ret
}

// rangeReader serves the integers [0, total) as items.
type rangeReader struct {
	total int64
	delay func(offset int64) time.Duration
	fail  func(offset int64) BatchError

	mu    sync.Mutex
	reads []Window
}

func (r *rangeReader) ReadWindow(ctx context.Context, window Window) ([]interface{}, BatchError) {
	r.mu.Lock()
	r.reads = append(r.reads, window)
	r.mu.Unlock()
	if r.delay != nil {
		time.Sleep(r.delay(window.Offset))
	}
	if r.fail != nil {
		if err := r.fail(window.Offset); err != nil {
			return nil, err
		}
	}
	var items []interface{}
	for i := int64(0); ; i++ {
		offset := window.Offset + i
		if int64(len(items)) >= window.Limit {
			break
		}
		var id int64
		if window.Partition.Modulus > 1 {
			id = offset*window.Partition.Modulus + window.Partition.Remainder
		} else {
			id = offset
		}
		if id >= r.total {
			break
		}
		items = append(items, id)
	}
	return items, nil
}

func (r *rangeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]int64, 0, len(r.reads))
	for _, w := range r.reads {
		ret = append(ret, w.Offset)
	}
	return ret
}

// collectingWriter keeps every written item.
type collectingWriter struct {
	mu    sync.Mutex
	items []interface{}
	fail  func(items []interface{}) BatchError
}

func (w *collectingWriter) Write(ctx context.Context, items []interface{}) BatchError {
	if w.fail != nil {
		if err := w.fail(items); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, items...)
	return nil
}

func (w *collectingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// recordingLogger keeps formatted info lines.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(ctx context.Context, msg string, args ...interface{}) {}
func (l *recordingLogger) Warn(ctx context.Context, msg string, args ...interface{})  {}
func (l *recordingLogger) Error(ctx context.Context, msg string, args ...interface{}) {}

func (l *recordingLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(msg, args...))
}

func (l *recordingLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
