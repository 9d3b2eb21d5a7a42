package relmigrate

import (
	"context"
	"fmt"
)

type partitionStep struct {
	baseStep
	subSteps []*chunkStep
}

func newPartitionStep(base baseStep, template *chunkStep, partitions uint, listeners []StepListener) *partitionStep {
	base.listeners = append(base.listeners, listeners...)
	subSteps := make([]*chunkStep, 0, partitions)
	for i := uint(0); i < partitions; i++ {
		sub := *template
		sub.baseStep = baseStep{
			name:       fmt.Sprintf("%s:%04d", base.name, i),
			repository: base.repository,
			txMgr:      base.txMgr,
		}
		sub.partition = Partition{Modulus: int64(partitions), Remainder: int64(i)}
		sub.chunkListeners = append([]ChunkListener(nil), template.chunkListeners...)
		subSteps = append(subSteps, &sub)
	}
	return &partitionStep{baseStep: base, subSteps: subSteps}
}

func (step *partitionStep) addChunkListener(listener ChunkListener) {
	for _, sub := range step.subSteps {
		sub.addChunkListener(listener)
	}
}

// Exec runs every partition as its own step execution in the step pool and aggregates
// their progress. Partitions are tracked independently, so a restart only re-runs the
// partitions that did not complete.
func (step *partitionStep) Exec(ctx context.Context, execution *StepExecution) BatchError {
	jobExecution := execution.JobExecution
	futures := make([]Future, 0, len(step.subSteps))
	for _, sub := range step.subSteps {
		sub := sub
		futures = append(futures, stepPool.Submit(ctx, func() (interface{}, error) {
			subCtx := WithLogFields(ctx, "partition", sub.name)
			se, err := execStep(subCtx, step.repository, jobExecution, sub)
			if err != nil {
				return se, err
			}
			return se, nil
		}))
	}

	var failure BatchError
	var total StepProgress
	for i, future := range futures {
		ret, err := future.Get()
		if se, ok := ret.(*StepExecution); ok && se != nil {
			total = total.Add(se.Progress)
		}
		if err != nil && failure == nil {
			failure = AsBatchError(ErrCodeGeneral, err)
			DefaultLogger.Error(ctx, "partition failed, step:%v, partition:%v, err:%v", step.name, step.subSteps[i].name, err)
		}
	}
	execution.Progress = total
	if failure != nil {
		return failure
	}
	return nil
}
