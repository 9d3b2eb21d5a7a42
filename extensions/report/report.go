// Package report writes a JSON summary of every finished job execution.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/extensions/files"
)

// DefaultNamePattern names one report per execution.
const DefaultNamePattern = "{job}/{date,yyyyMMdd}/execution-{execution}.json"

type StepSummary struct {
	Name                string `json:"name"`
	Status              string `json:"status"`
	ReadCount           int64  `json:"readCount"`
	WriteCount          int64  `json:"writeCount"`
	FilterCount         int64  `json:"filterCount"`
	CommitCount         int64  `json:"commitCount"`
	LastCommittedOffset int64  `json:"lastCommittedOffset"`
	ExitMessage         string `json:"exitMessage,omitempty"`
}

type Summary struct {
	JobName        string        `json:"jobName"`
	JobInstanceId  int64         `json:"jobInstanceId"`
	JobExecutionId int64         `json:"jobExecutionId"`
	RestartOf      int64         `json:"restartOf,omitempty"`
	Status         string        `json:"status"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	DurationMillis int64         `json:"durationMillis"`
	ExitMessage    string        `json:"exitMessage,omitempty"`
	Steps          []StepSummary `json:"steps"`
}

// Summarize builds the report of execution.
func Summarize(execution *relmigrate.JobExecution) *Summary {
	s := &Summary{
		JobName:        execution.JobName,
		JobInstanceId:  execution.JobInstanceId,
		JobExecutionId: execution.JobExecutionId,
		RestartOf:      execution.RestartOf,
		Status:         string(execution.JobStatus),
		StartTime:      execution.StartTime,
		EndTime:        execution.EndTime,
		ExitMessage:    execution.ExitMessage,
		Steps:          make([]StepSummary, 0),
	}
	if !execution.EndTime.IsZero() && !execution.StartTime.IsZero() {
		s.DurationMillis = execution.EndTime.Sub(execution.StartTime).Milliseconds()
	}
	progress := execution.PerStep()
	for _, name := range stepNames(execution) {
		se := execution.FindStepExecution(name)
		p := progress[name]
		s.Steps = append(s.Steps, StepSummary{
			Name:                name,
			Status:              string(se.StepStatus),
			ReadCount:           p.ReadCount,
			WriteCount:          p.WriteCount,
			FilterCount:         p.FilterCount,
			CommitCount:         p.CommitCount,
			LastCommittedOffset: p.LastCommittedOffset,
			ExitMessage:         se.ExitMessage,
		})
	}
	return s
}

func stepNames(execution *relmigrate.JobExecution) []string {
	seen := make(map[string]bool)
	var names []string
	for _, se := range execution.StepExecutions {
		if !seen[se.StepName] {
			seen[se.StepName] = true
			names = append(names, se.StepName)
		}
	}
	return names
}

// Listener writes the summary to Store when a job ends and copies it to every archive store.
type Listener struct {
	Store    files.FileStore
	Path     files.FilePath
	Archives []files.FileStore
}

func NewListener(store files.FileStore, namePattern string, archives ...files.FileStore) *Listener {
	if namePattern == "" {
		namePattern = DefaultNamePattern
	}
	return &Listener{Store: store, Path: files.FilePath{NamePattern: namePattern}, Archives: archives}
}

func (l *Listener) BeforeJob(ctx context.Context, execution *relmigrate.JobExecution) relmigrate.BatchError {
	return nil
}

// AfterJob never fails the job; report errors are only logged.
func (l *Listener) AfterJob(ctx context.Context, execution *relmigrate.JobExecution) relmigrate.BatchError {
	name := l.Path.Format(execution)
	if err := l.write(name, Summarize(execution)); err != nil {
		relmigrate.DefaultLogger.Error(ctx, "write run report error, file:%v, err:%v", name, err)
		return nil
	}
	if len(l.Archives) > 0 {
		moves := make([]files.FileMove, 0, len(l.Archives))
		for _, archive := range l.Archives {
			moves = append(moves, files.FileMove{FromFileName: name, FromFileStore: l.Store, ToFileName: name, ToFileStore: archive})
		}
		if err := files.Copy(ctx, moves...); err != nil {
			relmigrate.DefaultLogger.Error(ctx, "archive run report error, file:%v, err:%v", name, err)
		}
	}
	relmigrate.DefaultLogger.Info(ctx, "run report written, file:%v", name)
	return nil
}

func (l *Listener) write(name string, summary *Summary) error {
	w, err := l.Store.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err = enc.Encode(summary); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
