package relmigrate

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"
)

// Future is the handle of a task submitted to a taskPool.
type Future interface {
	Get() (interface{}, error)
}

type futureImpl struct {
	done      chan struct{}
	result    interface{}
	err       error
	submitErr error
}

func (f *futureImpl) Get() (interface{}, error) {
	<-f.done
	return f.result, f.err
}

type taskPool struct {
	mu   sync.RWMutex
	pool *ants.Pool
	// slots caps running plus queued tasks when the queue is bounded, nil otherwise
	slots *semaphore.Weighted
}

// newTaskPool creates a pool of size workers. With queue > 0 at most size+queue tasks are
// accepted at once and any further Submit waits for a slot. The pool itself stays in
// blocking mode, so a saturated pool slows submitters down instead of rejecting them.
func newTaskPool(size int, queue int) *taskPool {
	pool, err := ants.NewPool(size, ants.WithPreAlloc(false))
	if err != nil {
		panic(err)
	}
	p := &taskPool{pool: pool}
	if queue > 0 {
		p.slots = semaphore.NewWeighted(int64(size + queue))
	}
	return p
}

// Submit runs task in the pool. A submission rejected by the pool completes the
// future immediately with the rejection error.
func (p *taskPool) Submit(ctx context.Context, task func() (interface{}, error)) Future {
	f := &futureImpl{done: make(chan struct{})}
	p.mu.RLock()
	pool, slots := p.pool, p.slots
	p.mu.RUnlock()
	if slots != nil {
		if err := slots.Acquire(ctx, 1); err != nil {
			f.submitErr = err
			f.err = err
			close(f.done)
			return f
		}
	}
	err := pool.Submit(func() {
		defer close(f.done)
		if slots != nil {
			defer slots.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				DefaultLogger.Error(ctx, "panic in pool task, err:%v", r)
				f.err = NewBatchError(ErrCodeGeneral, "panic in pool task: %v", r)
			}
		}()
		f.result, f.err = task()
	})
	if err != nil {
		if slots != nil {
			slots.Release(1)
		}
		DefaultLogger.Error(ctx, "submit task to pool error, err:%v", err)
		f.submitErr = err
		f.err = err
		close(f.done)
	}
	return f
}

func (p *taskPool) SetMaxSize(size int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.pool.Tune(size)
}

// replace swaps the underlying pool. Tasks already running in the old pool finish there.
func (p *taskPool) replace(size int, queue int) {
	fresh := newTaskPool(size, queue)
	p.mu.Lock()
	old := p.pool
	p.pool, p.slots = fresh.pool, fresh.slots
	p.mu.Unlock()
	old.Release()
}

func (p *taskPool) Running() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool.Running()
}
