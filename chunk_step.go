package relmigrate

import (
	"context"

	"github.com/pkg/errors"
)

type chunkStep struct {
	baseStep
	reader         Reader
	processor      Processor
	writer         Writer
	chunkSize      int64
	concurrency    int
	strict         bool
	partition      Partition
	chunkListeners []ChunkListener
}

type chunkResult struct {
	window   Window
	read     int64
	written  int64
	filtered int64
	err      BatchError
}

func newChunkStep(base baseStep, reader Reader, processor Processor, writer Writer, chunkSize uint, concurrency uint, strict bool, listeners []StepListener, chunkListeners []ChunkListener) *chunkStep {
	base.listeners = append(base.listeners, listeners...)
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if concurrency == 0 {
		concurrency = 1
	}
	return &chunkStep{
		baseStep:       base,
		reader:         reader,
		processor:      processor,
		writer:         writer,
		chunkSize:      int64(chunkSize),
		concurrency:    int(concurrency),
		strict:         strict,
		chunkListeners: chunkListeners,
	}
}

func (step *chunkStep) addChunkListener(listener ChunkListener) {
	step.chunkListeners = append(step.chunkListeners, listener)
}

// Exec reads windows starting at the execution's last committed offset. Up to
// concurrency windows are processed at once in the chunk pool; their progress is
// committed strictly in offset order so that LastCommittedOffset never skips a chunk.
func (step *chunkStep) Exec(ctx context.Context, execution *StepExecution) BatchError {
	committed := execution.Progress.LastCommittedOffset
	next := committed
	results := make(chan *chunkResult, step.concurrency)
	pending := make(map[int64]*chunkResult)
	inflight := 0
	exhausted := false
	var failure BatchError

	for {
		for failure == nil && !exhausted && inflight < step.concurrency && ctx.Err() == nil {
			step.dispatch(ctx, Window{Offset: next, Limit: step.chunkSize, Partition: step.partition}, results)
			next += step.chunkSize
			inflight++
		}
		if inflight == 0 {
			break
		}
		r := <-results
		inflight--
		pending[r.window.Offset] = r

		for failure == nil && !exhausted {
			r, ok := pending[committed]
			if !ok {
				break
			}
			delete(pending, committed)
			if r.err != nil {
				failure = r.err
				step.notifyChunkError(ctx, execution, r.err)
				break
			}
			if r.read == 0 {
				exhausted = true
				break
			}
			if err := step.commit(ctx, execution, r); err != nil {
				failure = err
				step.notifyChunkError(ctx, execution, err)
				break
			}
			committed += r.read
			if r.read < step.chunkSize {
				exhausted = true
			}
		}
	}

	if failure != nil {
		return failure
	}
	if !exhausted && ctx.Err() != nil {
		DefaultLogger.Info(ctx, "step stopped between chunks, step:%v, offset:%v", step.name, committed)
		return NewBatchError(ErrCodeStopped, "step:%v stopped at offset:%v", step.name, committed)
	}
	return nil
}

func (step *chunkStep) dispatch(ctx context.Context, window Window, results chan<- *chunkResult) {
	// an in-flight chunk finishes even when the run is cancelled
	chunkCtx := context.WithoutCancel(ctx)
	future := chunkPool.Submit(chunkCtx, func() (interface{}, error) {
		results <- step.process(chunkCtx, window)
		return nil, nil
	})
	if f, ok := future.(*futureImpl); ok && f.submitErr != nil {
		results <- &chunkResult{window: window, err: NewBatchError(ErrCodeGeneral, "submit chunk of step:%v at offset:%v failed", step.name, window.Offset, f.submitErr)}
	}
}

func (step *chunkStep) process(ctx context.Context, window Window) (result *chunkResult) {
	result = &chunkResult{window: window}
	defer func() {
		if r := recover(); r != nil {
			result.err = NewBatchError(ErrCodeGeneral, "panic processing chunk of step:%v at offset:%v, err:%v", step.name, window.Offset, r)
		}
	}()

	items, err := step.reader.ReadWindow(ctx, window)
	if err != nil {
		result.err = err
		return result
	}
	result.read = int64(len(items))
	docs := make([]interface{}, 0, len(items))
	for _, item := range items {
		doc, err := step.processor.Process(ctx, item)
		if err != nil {
			if errors.Is(err, ErrDanglingForeignKey) && !step.strict {
				DefaultLogger.Warn(ctx, "item filtered, step:%v, offset:%v, reason:%v", step.name, window.Offset, err)
				result.filtered++
				continue
			}
			result.err = err
			return result
		}
		if doc == nil {
			result.filtered++
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) > 0 {
		if err := step.writer.Write(ctx, docs); err != nil {
			if err.Code() == ErrCodeGeneral {
				err = NewBatchError(ErrCodeTargetWriteFailure, "write chunk of step:%v at offset:%v failed", step.name, window.Offset, err)
			}
			result.err = err
			return result
		}
	}
	result.written = int64(len(docs))
	return result
}

func (step *chunkStep) commit(ctx context.Context, execution *StepExecution, r *chunkResult) BatchError {
	progress := execution.Progress
	progress.ReadCount += r.read
	progress.WriteCount += r.written
	progress.FilterCount += r.filtered
	progress.CommitCount++
	progress.LastCommittedOffset = r.window.Offset + r.read
	unit := &CommitUnit{
		StepExecution: execution,
		Offset:        r.window.Offset,
		ReadCount:     r.read,
		WriteCount:    r.written,
		FilterCount:   r.filtered,
		Progress:      progress,
	}
	if err := step.txMgr.Commit(context.WithoutCancel(ctx), unit); err != nil {
		DefaultLogger.Error(ctx, "commit chunk error, step:%v, offset:%v, err:%v", step.name, r.window.Offset, err)
		return err
	}
	execution.Progress = progress
	for _, listener := range step.chunkListeners {
		listener.AfterChunk(ctx, execution)
	}
	return nil
}

func (step *chunkStep) notifyChunkError(ctx context.Context, execution *StepExecution, err BatchError) {
	for _, listener := range step.chunkListeners {
		listener.OnChunkError(ctx, execution, err)
	}
}
