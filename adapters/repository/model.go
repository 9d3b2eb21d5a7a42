package repository

import "time"

type jobInstanceDBModel struct {
	JobInstanceId int64  `gorm:"column:job_instance_id;primaryKey;autoIncrement"`
	JobName       string `gorm:"column:job_name;size:128;index"`
	CreateTime    time.Time
}

func (jobInstanceDBModel) TableName() string {
	return "batch_job_instance"
}

type jobExecutionDBModel struct {
	JobExecutionId int64  `gorm:"column:job_execution_id;primaryKey;autoIncrement"`
	JobInstanceId  int64  `gorm:"column:job_instance_id;index"`
	JobName        string `gorm:"column:job_name;size:128"`
	RestartOf      int64  `gorm:"column:restart_of"`
	Status         string `gorm:"column:status;size:16"`
	CreateTime     time.Time
	StartTime      *time.Time
	EndTime        *time.Time
	ExitMessage    string `gorm:"size:2500"`
	LastUpdated    time.Time
}

func (jobExecutionDBModel) TableName() string {
	return "batch_job_execution"
}

type stepExecutionDBModel struct {
	StepExecutionId     int64  `gorm:"column:step_execution_id;primaryKey;autoIncrement"`
	JobExecutionId      int64  `gorm:"column:job_execution_id;index"`
	JobInstanceId       int64  `gorm:"column:job_instance_id;index:idx_step_instance_name"`
	JobName             string `gorm:"column:job_name;size:128"`
	StepName            string `gorm:"column:step_name;size:128;index:idx_step_instance_name"`
	Status              string `gorm:"column:status;size:16"`
	ReadCount           int64
	WriteCount          int64
	FilterCount         int64
	CommitCount         int64
	LastCommittedOffset int64
	CreateTime          time.Time
	StartTime           *time.Time
	EndTime             *time.Time
	ExitMessage         string `gorm:"size:2500"`
	LastUpdated         time.Time
}

func (stepExecutionDBModel) TableName() string {
	return "batch_step_execution"
}

// ChunkCommit is the ledger row written in the same transaction as the progress of a
// committed chunk.
type ChunkCommit struct {
	Id              int64  `gorm:"column:id;primaryKey;autoIncrement"`
	StepExecutionId int64  `gorm:"column:step_execution_id;uniqueIndex:idx_chunk_step_offset"`
	StepName        string `gorm:"column:step_name;size:128"`
	WindowOffset    int64  `gorm:"column:window_offset;uniqueIndex:idx_chunk_step_offset"`
	ReadCount       int64
	WriteCount      int64
	FilterCount     int64
	CommitTime      time.Time
}

func (ChunkCommit) TableName() string {
	return "batch_chunk_commit"
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
