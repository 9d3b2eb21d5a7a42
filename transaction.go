package relmigrate

import (
	"context"
)

// CommitUnit is one chunk's written batch together with the progress update it advances.
// The batch has already been written to the target when the unit is committed; target
// writes are idempotent, so a batch whose unit never commits is simply written again
// after a restart.
type CommitUnit struct {
	StepExecution *StepExecution
	// Offset is the first source row of the chunk window.
	Offset      int64
	ReadCount   int64
	WriteCount  int64
	FilterCount int64
	// Progress is the step progress once this unit is visible.
	Progress StepProgress
}

// TransactionManager applies commit units with all-or-nothing visibility.
type TransactionManager interface {
	Commit(ctx context.Context, unit *CommitUnit) BatchError
}
