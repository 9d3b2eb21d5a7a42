package txn

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/adapters/repository"
)

// GormTxManager commits chunk progress and the chunk ledger row in one database
// transaction. The chunk's documents are written before Commit; a crash between the two
// leaves the progress unchanged and the idempotent write is simply repeated on restart.
type GormTxManager struct {
	db *gorm.DB
}

// NewTransactionManager create a TransactionManager instance
func NewTransactionManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{
		db: db,
	}
}

// Commit applies the unit
func (tm *GormTxManager) Commit(ctx context.Context, unit *relmigrate.CommitUnit) relmigrate.BatchError {
	execution := unit.StepExecution
	p := unit.Progress
	err := tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commit := &repository.ChunkCommit{
			StepExecutionId: execution.StepExecutionId,
			StepName:        execution.StepName,
			WindowOffset:    unit.Offset,
			ReadCount:       unit.ReadCount,
			WriteCount:      unit.WriteCount,
			FilterCount:     unit.FilterCount,
			CommitTime:      time.Now(),
		}
		if err := tx.Create(commit).Error; err != nil {
			return err
		}
		return tx.Table("batch_step_execution").
			Where("step_execution_id = ?", execution.StepExecutionId).
			Updates(map[string]interface{}{
				"read_count":            p.ReadCount,
				"write_count":           p.WriteCount,
				"filter_count":          p.FilterCount,
				"commit_count":          p.CommitCount,
				"last_committed_offset": p.LastCommittedOffset,
				"last_updated":          time.Now(),
			}).Error
	})
	if err != nil {
		return relmigrate.NewBatchError(relmigrate.ErrCodeDbFail, "commit chunk of step:%v at offset:%v failed", execution.StepName, unit.Offset, err)
	}
	return nil
}
