package relmigrate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
)

type orderRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *orderRecorder) task(name string, fn func() BatchError) Task {
	return func(ctx context.Context, execution *StepExecution) BatchError {
		r.mu.Lock()
		r.names = append(r.names, name)
		r.mu.Unlock()
		if fn != nil {
			return fn()
		}
		return nil
	}
}

func (r *orderRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

// countingListener implements every listener interface.
type countingListener struct {
	beforeJob, afterJob, beforeStep, afterStep, afterChunk, chunkErrors int32
}

func (l *countingListener) BeforeJob(ctx context.Context, execution *JobExecution) BatchError {
	atomic.AddInt32(&l.beforeJob, 1)
	return nil
}

func (l *countingListener) AfterJob(ctx context.Context, execution *JobExecution) BatchError {
	atomic.AddInt32(&l.afterJob, 1)
	return nil
}

func (l *countingListener) BeforeStep(ctx context.Context, execution *StepExecution) BatchError {
	atomic.AddInt32(&l.beforeStep, 1)
	return nil
}

func (l *countingListener) AfterStep(ctx context.Context, execution *StepExecution) BatchError {
	atomic.AddInt32(&l.afterStep, 1)
	return nil
}

func (l *countingListener) AfterChunk(ctx context.Context, execution *StepExecution) {
	atomic.AddInt32(&l.afterChunk, 1)
}

func (l *countingListener) OnChunkError(ctx context.Context, execution *StepExecution, err BatchError) {
	atomic.AddInt32(&l.chunkErrors, 1)
}

func newTestEngine(t *testing.T, repo *memRepository, job Job) Engine {
	t.Helper()
	engine := NewEngine(repo)
	assert.Equal(t, nil, engine.Register(job))
	return engine
}

func TestJobRunsStagesInOrder(t *testing.T) {
	repo := newMemRepository()
	steps := NewStepBuilderFactory(repo, newMemTxManager(repo))
	rec := &orderRecorder{}
	job := NewJobBuilderFactory(repo).Get("job").
		Start(steps.Get("first").Task(rec.task("first", nil)).Build()).
		Split(steps.Get("left").Task(rec.task("left", nil)).Build(), steps.Get("right").Task(rec.task("right", nil)).Build()).
		Next(steps.Get("last").Task(rec.task("last", nil)).Build()).
		Build()
	engine := newTestEngine(t, repo, job)

	id, err := engine.Start(context.Background(), "job")
	assert.Equal(t, nil, err)
	names := rec.snapshot()
	assert.Equal(t, 4, len(names))
	assert.Equal(t, "first", names[0])
	assert.Equal(t, "last", names[3])

	last, err := engine.LastExecution(context.Background(), "job")
	assert.Equal(t, nil, err)
	assert.Equal(t, id, last.JobExecutionId)
	assert.Equal(t, COMPLETED, last.JobStatus)
	assert.Equal(t, 4, len(last.PerStep()))
}

func TestStartUnknownJob(t *testing.T) {
	engine := NewEngine(newMemRepository())
	_, err := engine.Start(context.Background(), "absent")
	assert.T(t, errors.Is(err, ErrJobNotFound))
	_, err = engine.Restart(context.Background(), "absent")
	assert.T(t, errors.Is(err, ErrJobNotFound))
}

func TestRegisterTwiceFails(t *testing.T) {
	repo := newMemRepository()
	job := NewJobBuilderFactory(repo).Get("job").Start(NewStepBuilderFactory(repo, nil).Get("only").Task((&orderRecorder{}).task("only", nil)).Build()).Build()
	engine := newTestEngine(t, repo, job)
	assert.NotEqual(t, nil, engine.Register(job))
}

func TestRestartRequiresFailedExecution(t *testing.T) {
	repo := newMemRepository()
	rec := &orderRecorder{}
	job := NewJobBuilderFactory(repo).Get("job").Start(NewStepBuilderFactory(repo, nil).Get("only").Task(rec.task("only", nil)).Build()).Build()
	engine := newTestEngine(t, repo, job)

	_, err := engine.Restart(context.Background(), "job")
	assert.T(t, errors.Is(err, ErrNoFailedExecution))

	_, err = engine.Start(context.Background(), "job")
	assert.Equal(t, nil, err)
	count := repo.executionCount()

	_, err = engine.Restart(context.Background(), "job")
	assert.T(t, errors.Is(err, ErrNoFailedExecution))
	assert.Equal(t, count, repo.executionCount())
	assert.Equal(t, 1, len(rec.snapshot()))
}

func TestRestartSkipsCompletedSteps(t *testing.T) {
	repo := newMemRepository()
	steps := NewStepBuilderFactory(repo, nil)
	rec := &orderRecorder{}
	attempts := 0
	job := NewJobBuilderFactory(repo).Get("job").
		Start(steps.Get("one").Task(rec.task("one", nil)).Build()).
		Next(steps.Get("two").Task(rec.task("two", func() BatchError {
			attempts++
			if attempts == 1 {
				return NewBatchError(ErrCodeGeneral, "first attempt fails")
			}
			return nil
		})).Build()).
		Build()
	engine := newTestEngine(t, repo, job)

	firstId, err := engine.Start(context.Background(), "job")
	assert.NotEqual(t, nil, err)
	last, _ := engine.LastExecution(context.Background(), "job")
	assert.Equal(t, FAILED, last.JobStatus)

	secondId, err := engine.Restart(context.Background(), "job")
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"one", "two", "two"}, rec.snapshot())

	last, _ = engine.LastExecution(context.Background(), "job")
	assert.Equal(t, secondId, last.JobExecutionId)
	assert.Equal(t, firstId, last.RestartOf)
	assert.Equal(t, COMPLETED, last.JobStatus)
	assert.Equal(t, 1, len(last.StepExecutions))
	assert.Equal(t, "two", last.StepExecutions[0].StepName)
}

func TestRestartByExecutionIdMustBeLatest(t *testing.T) {
	repo := newMemRepository()
	attempts := 0
	job := NewJobBuilderFactory(repo).Get("job").
		Start(NewStepBuilderFactory(repo, nil).Get("flaky").Task(func(ctx context.Context, execution *StepExecution) BatchError {
			attempts++
			if attempts < 3 {
				return NewBatchError(ErrCodeGeneral, "attempt %v fails", attempts)
			}
			return nil
		}).Build()).
		Build()
	engine := newTestEngine(t, repo, job)

	firstId, _ := engine.Start(context.Background(), "job")
	secondId, err := engine.Restart(context.Background(), firstId)
	assert.NotEqual(t, nil, err)

	_, err = engine.Restart(context.Background(), firstId)
	assert.T(t, errors.Is(err, ErrNoFailedExecution))

	_, err = engine.Restart(context.Background(), secondId)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, attempts)

	_, err = engine.Restart(context.Background(), int64(999))
	assert.T(t, errors.Is(err, ErrJobNotFound))
}

func TestAbandonedExecutionIsRestartable(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepository()
	instance, _ := repo.CreateJobInstance(ctx, "job")
	stale := &JobExecution{JobInstanceId: instance.JobInstanceId, JobName: "job", JobStatus: RUNNING, StartTime: time.Now()}
	assert.Equal(t, nil, repo.SaveJobExecution(ctx, stale))
	staleStep := newStepExecution(stale, "only")
	staleStep.StepStatus = RUNNING
	assert.Equal(t, nil, repo.SaveStepExecution(ctx, staleStep))

	rec := &orderRecorder{}
	job := NewJobBuilderFactory(repo).Get("job").Start(NewStepBuilderFactory(repo, nil).Get("only").Task(rec.task("only", nil)).Build()).Build()
	engine := newTestEngine(t, repo, job)

	id, err := engine.Restart(ctx, "job")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(rec.snapshot()))

	old, _ := repo.FindJobExecution(ctx, stale.JobExecutionId)
	assert.Equal(t, FAILED, old.JobStatus)
	assert.Equal(t, "abandoned", old.ExitMessage)
	assert.Equal(t, FAILED, repo.stepExecutions("only")[0].StepStatus)

	current, _ := repo.FindJobExecution(ctx, id)
	assert.Equal(t, stale.JobExecutionId, current.RestartOf)
	assert.Equal(t, COMPLETED, current.JobStatus)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepository()
	release := make(chan struct{})
	started := make(chan struct{})
	job := NewJobBuilderFactory(repo).Get("job").Start(NewStepBuilderFactory(repo, nil).Get("blocking").Task(func(ctx context.Context, execution *StepExecution) BatchError {
		close(started)
		<-release
		return nil
	}).Build()).Build()
	engine := newTestEngine(t, repo, job)

	id, err := engine.StartAsync(ctx, "job")
	assert.Equal(t, nil, err)
	<-started

	_, err = engine.Start(ctx, "job")
	assert.T(t, errors.Is(err, ErrJobRunning))
	_, err = engine.Restart(ctx, id)
	assert.T(t, errors.Is(err, ErrJobRunning))

	close(release)
	waitTerminal(t, repo, id)
}

func TestConcurrentStartsLaunchOneExecution(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepository()
	release := make(chan struct{})
	job := NewJobBuilderFactory(repo).Get("job").Start(NewStepBuilderFactory(repo, nil).Get("blocking").Task(func(ctx context.Context, execution *StepExecution) BatchError {
		<-release
		return nil
	}).Build()).Build()
	engine := newTestEngine(t, repo, job)

	const callers = 8
	gate := make(chan struct{})
	ids := make(chan int64, callers)
	var rejected int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			id, err := engine.StartAsync(ctx, "job")
			if err != nil {
				if errors.Is(err, ErrJobRunning) {
					atomic.AddInt32(&rejected, 1)
				}
				return
			}
			ids <- id
		}()
	}
	close(gate)
	wg.Wait()
	close(ids)

	assert.Equal(t, int32(callers-1), atomic.LoadInt32(&rejected))
	assert.Equal(t, 1, len(ids))
	assert.Equal(t, 1, repo.instanceCount())
	assert.Equal(t, 1, repo.executionCount())

	close(release)
	waitTerminal(t, repo, <-ids)
}

func waitTerminal(t *testing.T, repo *memRepository, id int64) *JobExecution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		execution, _ := repo.FindJobExecution(context.Background(), id)
		if execution != nil && execution.JobStatus.IsTerminal() {
			return execution
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job execution %v did not finish", id)
	return nil
}

type signallingListener struct {
	once  sync.Once
	first chan struct{}
}

func (l *signallingListener) AfterChunk(ctx context.Context, execution *StepExecution) {
	l.once.Do(func() { close(l.first) })
}

func (l *signallingListener) OnChunkError(ctx context.Context, execution *StepExecution, err BatchError) {
}

func TestStopEndsExecutionRestartable(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepository()
	tm := newMemTxManager(repo)
	reader := &rangeReader{total: 400, delay: func(offset int64) time.Duration { return 5 * time.Millisecond }}
	writer := &collectingWriter{}
	signal := &signallingListener{first: make(chan struct{})}
	job := NewJobBuilderFactory(repo).Get("job").
		Start(NewStepBuilderFactory(repo, tm).Get("numbers").Reader(reader).Writer(writer).ChunkSize(10).Concurrency(2).Build()).
		Listener(signal).
		Build()
	engine := newTestEngine(t, repo, job)

	id, err := engine.StartAsync(ctx, "job")
	assert.Equal(t, nil, err)
	<-signal.first
	assert.Equal(t, nil, engine.Stop(ctx, "job"))

	stopped := waitTerminal(t, repo, id)
	assert.Equal(t, FAILED, stopped.JobStatus)
	assert.Equal(t, "stopped", stopped.ExitMessage)
	se := repo.stepExecutions("numbers")[0]
	assert.Equal(t, FAILED, se.StepStatus)
	offset := se.Progress.LastCommittedOffset
	assert.T(t, offset > 0 && offset < 400, offset)

	_, err = engine.Restart(ctx, "job")
	assert.Equal(t, nil, err)
	offsets := tm.offsets("numbers")
	for i := range offsets {
		assert.Equal(t, int64(i*10), offsets[i])
	}
	assert.Equal(t, 40, len(offsets))
	last := repo.stepExecutions("numbers")
	assert.Equal(t, int64(400), last[len(last)-1].Progress.ReadCount)
}

func TestStopWithoutRunningExecution(t *testing.T) {
	engine := NewEngine(newMemRepository())
	err := engine.Stop(context.Background(), "job")
	assert.T(t, errors.Is(err, ErrJobNotFound))
}

func TestListenersAreNotified(t *testing.T) {
	repo := newMemRepository()
	steps := NewStepBuilderFactory(repo, newMemTxManager(repo))
	listener := &countingListener{}
	job := NewJobBuilderFactory(repo).Get("job").
		Start(steps.Get("task").Task((&orderRecorder{}).task("task", nil)).Build()).
		Next(steps.Get("numbers").Reader(&rangeReader{total: 25}).ChunkSize(10).Build()).
		Listener(listener).
		Build()
	engine := newTestEngine(t, repo, job)

	_, err := engine.Start(context.Background(), "job")
	assert.Equal(t, nil, err)
	assert.Equal(t, int32(1), listener.beforeJob)
	assert.Equal(t, int32(1), listener.afterJob)
	assert.Equal(t, int32(2), listener.beforeStep)
	assert.Equal(t, int32(2), listener.afterStep)
	assert.Equal(t, int32(3), listener.afterChunk)
	assert.Equal(t, int32(0), listener.chunkErrors)
}

func TestBuilderRejectsDuplicateStepNames(t *testing.T) {
	repo := newMemRepository()
	steps := NewStepBuilderFactory(repo, nil)
	defer func() {
		assert.NotEqual(t, nil, recover())
	}()
	NewJobBuilderFactory(repo).Get("job").
		Start(steps.Get("same").Task((&orderRecorder{}).task("a", nil)).Build()).
		Next(steps.Get("same").Task((&orderRecorder{}).task("b", nil)).Build()).
		Build()
}
