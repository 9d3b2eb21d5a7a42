// Package repository persists job instances and executions with gorm.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/bookshelf/relmigrate"
)

type Repository struct {
	db *gorm.DB
}

// New creates the repository tables when missing.
func New(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&jobInstanceDBModel{}, &jobExecutionDBModel{}, &stepExecutionDBModel{}, &ChunkCommit{}); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func dbFail(op string, err error) relmigrate.BatchError {
	return relmigrate.NewBatchError(relmigrate.ErrCodeDbFail, "%s failed", op, err)
}

func (r *Repository) CreateJobInstance(ctx context.Context, jobName string) (*relmigrate.JobInstance, relmigrate.BatchError) {
	m := &jobInstanceDBModel{JobName: jobName, CreateTime: time.Now()}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, dbFail("create job instance", err)
	}
	return &relmigrate.JobInstance{JobInstanceId: m.JobInstanceId, JobName: m.JobName, CreateTime: m.CreateTime}, nil
}

func (r *Repository) FindLastJobInstanceByName(ctx context.Context, jobName string) (*relmigrate.JobInstance, relmigrate.BatchError) {
	var m jobInstanceDBModel
	err := r.db.WithContext(ctx).Where("job_name = ?", jobName).Order("job_instance_id desc").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbFail("find last job instance", err)
	}
	return &relmigrate.JobInstance{JobInstanceId: m.JobInstanceId, JobName: m.JobName, CreateTime: m.CreateTime}, nil
}

func (r *Repository) SaveJobExecution(ctx context.Context, execution *relmigrate.JobExecution) relmigrate.BatchError {
	m := &jobExecutionDBModel{
		JobExecutionId: execution.JobExecutionId,
		JobInstanceId:  execution.JobInstanceId,
		JobName:        execution.JobName,
		RestartOf:      execution.RestartOf,
		Status:         string(execution.JobStatus),
		CreateTime:     execution.CreateTime,
		StartTime:      timePtr(execution.StartTime),
		EndTime:        timePtr(execution.EndTime),
		ExitMessage:    execution.ExitMessage,
		LastUpdated:    time.Now(),
	}
	if m.CreateTime.IsZero() {
		m.CreateTime = m.LastUpdated
		execution.CreateTime = m.CreateTime
	}
	db := r.db.WithContext(ctx)
	if m.JobExecutionId == 0 {
		if err := db.Create(m).Error; err != nil {
			return dbFail("create job execution", err)
		}
		execution.JobExecutionId = m.JobExecutionId
		return nil
	}
	err := db.Model(m).Select("*").Omit("job_execution_id", "create_time").Updates(m).Error
	if err != nil {
		return dbFail("update job execution", err)
	}
	return nil
}

func toJobExecution(m *jobExecutionDBModel) *relmigrate.JobExecution {
	return &relmigrate.JobExecution{
		JobExecutionId: m.JobExecutionId,
		JobInstanceId:  m.JobInstanceId,
		JobName:        m.JobName,
		RestartOf:      m.RestartOf,
		JobStatus:      relmigrate.BatchStatus(m.Status),
		CreateTime:     m.CreateTime,
		StartTime:      timeVal(m.StartTime),
		EndTime:        timeVal(m.EndTime),
		ExitMessage:    m.ExitMessage,
	}
}

func (r *Repository) FindJobExecution(ctx context.Context, jobExecutionId int64) (*relmigrate.JobExecution, relmigrate.BatchError) {
	var m jobExecutionDBModel
	err := r.db.WithContext(ctx).Where("job_execution_id = ?", jobExecutionId).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbFail("find job execution", err)
	}
	return toJobExecution(&m), nil
}

func (r *Repository) FindLastJobExecutionByInstance(ctx context.Context, jobInstanceId int64) (*relmigrate.JobExecution, relmigrate.BatchError) {
	var m jobExecutionDBModel
	err := r.db.WithContext(ctx).Where("job_instance_id = ?", jobInstanceId).Order("job_execution_id desc").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbFail("find last job execution", err)
	}
	return toJobExecution(&m), nil
}

func (r *Repository) SaveStepExecution(ctx context.Context, execution *relmigrate.StepExecution) relmigrate.BatchError {
	p := execution.Progress
	m := &stepExecutionDBModel{
		StepExecutionId:     execution.StepExecutionId,
		JobExecutionId:      execution.JobExecutionId,
		JobInstanceId:       execution.JobInstanceId,
		JobName:             execution.JobName,
		StepName:            execution.StepName,
		Status:              string(execution.StepStatus),
		ReadCount:           p.ReadCount,
		WriteCount:          p.WriteCount,
		FilterCount:         p.FilterCount,
		CommitCount:         p.CommitCount,
		LastCommittedOffset: p.LastCommittedOffset,
		CreateTime:          execution.CreateTime,
		StartTime:           timePtr(execution.StartTime),
		EndTime:             timePtr(execution.EndTime),
		ExitMessage:         execution.ExitMessage,
		LastUpdated:         time.Now(),
	}
	if m.CreateTime.IsZero() {
		m.CreateTime = m.LastUpdated
		execution.CreateTime = m.CreateTime
	}
	db := r.db.WithContext(ctx)
	if m.StepExecutionId == 0 {
		if err := db.Create(m).Error; err != nil {
			return dbFail("create step execution", err)
		}
		execution.StepExecutionId = m.StepExecutionId
		return nil
	}
	err := db.Model(m).Select("*").Omit("step_execution_id", "create_time").Updates(m).Error
	if err != nil {
		return dbFail("update step execution", err)
	}
	return nil
}

func toStepExecution(m *stepExecutionDBModel) *relmigrate.StepExecution {
	return &relmigrate.StepExecution{
		StepExecutionId: m.StepExecutionId,
		StepName:        m.StepName,
		StepStatus:      relmigrate.BatchStatus(m.Status),
		JobExecutionId:  m.JobExecutionId,
		JobInstanceId:   m.JobInstanceId,
		JobName:         m.JobName,
		Progress: relmigrate.StepProgress{
			ReadCount:           m.ReadCount,
			WriteCount:          m.WriteCount,
			FilterCount:         m.FilterCount,
			CommitCount:         m.CommitCount,
			LastCommittedOffset: m.LastCommittedOffset,
		},
		CreateTime:  m.CreateTime,
		StartTime:   timeVal(m.StartTime),
		EndTime:     timeVal(m.EndTime),
		ExitMessage: m.ExitMessage,
	}
}

func (r *Repository) FindStepExecutionsByJobExecution(ctx context.Context, jobExecutionId int64) ([]*relmigrate.StepExecution, relmigrate.BatchError) {
	var models []stepExecutionDBModel
	err := r.db.WithContext(ctx).Where("job_execution_id = ?", jobExecutionId).Order("step_execution_id").Find(&models).Error
	if err != nil {
		return nil, dbFail("find step executions", err)
	}
	ret := make([]*relmigrate.StepExecution, 0, len(models))
	for i := range models {
		ret = append(ret, toStepExecution(&models[i]))
	}
	return ret, nil
}

func (r *Repository) FindLastStepExecution(ctx context.Context, jobInstanceId int64, stepName string) (*relmigrate.StepExecution, relmigrate.BatchError) {
	var m stepExecutionDBModel
	err := r.db.WithContext(ctx).Where("job_instance_id = ? AND step_name = ?", jobInstanceId, stepName).
		Order("step_execution_id desc").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbFail("find last step execution", err)
	}
	return toStepExecution(&m), nil
}

// FindChunkCommits returns the ledger of a step execution in offset order.
func (r *Repository) FindChunkCommits(ctx context.Context, stepExecutionId int64) ([]ChunkCommit, error) {
	var commits []ChunkCommit
	err := r.db.WithContext(ctx).Where("step_execution_id = ?", stepExecutionId).Order("window_offset").Find(&commits).Error
	return commits, err
}
