package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookshelf/relmigrate"
	"github.com/bookshelf/relmigrate/extensions/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedExecution() *relmigrate.JobExecution {
	start := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	execution := &relmigrate.JobExecution{
		JobExecutionId: 7,
		JobInstanceId:  3,
		JobName:        "library-migration",
		JobStatus:      relmigrate.FAILED,
		RestartOf:      5,
		StartTime:      start,
		EndTime:        start.Add(1500 * time.Millisecond),
		ExitMessage:    "books failed",
	}
	execution.AddStepExecution(&relmigrate.StepExecution{StepName: "authors", StepStatus: relmigrate.COMPLETED,
		Progress: relmigrate.StepProgress{ReadCount: 10, WriteCount: 10, CommitCount: 1, LastCommittedOffset: 10}})
	execution.AddStepExecution(&relmigrate.StepExecution{StepName: "books", StepStatus: relmigrate.FAILED,
		Progress:    relmigrate.StepProgress{ReadCount: 400, WriteCount: 398, FilterCount: 2, CommitCount: 2, LastCommittedOffset: 400},
		ExitMessage: "write failed"})
	return execution
}

func TestSummarize(t *testing.T) {
	s := Summarize(finishedExecution())
	assert.Equal(t, "FAILED", s.Status)
	assert.Equal(t, int64(1500), s.DurationMillis)
	assert.Equal(t, int64(5), s.RestartOf)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "books", s.Steps[1].Name)
	assert.Equal(t, int64(2), s.Steps[1].FilterCount)
	assert.Equal(t, int64(400), s.Steps[1].LastCommittedOffset)
	assert.Equal(t, "write failed", s.Steps[1].ExitMessage)
}

func TestListenerWritesAndArchivesReport(t *testing.T) {
	dir := t.TempDir()
	local := &files.LocalFileSystem{Root: filepath.Join(dir, "reports")}
	archive := &files.LocalFileSystem{Root: filepath.Join(dir, "archive")}
	l := NewListener(local, "", archive)

	assert.Nil(t, l.AfterJob(context.Background(), finishedExecution()))

	name := "library-migration/20240309/execution-7.json"
	for _, root := range []string{local.Root, archive.Root} {
		data, err := os.ReadFile(filepath.Join(root, name))
		require.NoError(t, err)
		var s Summary
		require.NoError(t, json.Unmarshal(data, &s))
		assert.Equal(t, int64(7), s.JobExecutionId)
		assert.Len(t, s.Steps, 2)
	}
}

func TestListenerIgnoresStoreFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	l := NewListener(&files.LocalFileSystem{Root: blocker}, "report.json")
	assert.Nil(t, l.AfterJob(context.Background(), finishedExecution()))
}
