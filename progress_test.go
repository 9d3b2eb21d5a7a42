package relmigrate

import (
	"context"
	"strings"
	"testing"

	"github.com/bmizerany/assert"
)

func progressLines(lines []string) []string {
	var ret []string
	for _, line := range lines {
		if strings.Contains(line, "progress:") {
			ret = append(ret, line)
		}
	}
	return ret
}

func TestProgressReporterHonoursStride(t *testing.T) {
	logger := &recordingLogger{}
	reporter := NewProgressReporter(1000, map[string]int64{"books": 100}).WithLogger(logger)
	ctx := context.Background()
	execution := &StepExecution{StepName: "books"}

	assert.Equal(t, nil, reporter.BeforeStep(ctx, execution))
	for _, read := range []int64{40, 80, 120, 160, 200, 250} {
		execution.Progress = StepProgress{ReadCount: read, WriteCount: read, CommitCount: read / 40}
		reporter.AfterChunk(ctx, execution)
	}
	lines := progressLines(logger.snapshot())
	assert.Equal(t, 2, len(lines))
	assert.Equal(t, "[books] progress: read=120 written=120 filtered=0 commits=3", lines[0])
	assert.Equal(t, "[books] progress: read=250 written=250 filtered=0 commits=6", lines[1])

	execution.StepStatus = COMPLETED
	assert.Equal(t, nil, reporter.AfterStep(ctx, execution))
	all := logger.snapshot()
	assert.T(t, strings.HasPrefix(all[len(all)-1], "[books] finished COMPLETED"), all[len(all)-1])
}

func TestProgressReporterStartsFromResumedProgress(t *testing.T) {
	logger := &recordingLogger{}
	reporter := NewProgressReporter(1000, map[string]int64{"books": 100}).WithLogger(logger)
	ctx := context.Background()
	execution := &StepExecution{StepName: "books", Progress: StepProgress{ReadCount: 400}}

	reporter.BeforeStep(ctx, execution)
	execution.Progress.ReadCount = 480
	reporter.AfterChunk(ctx, execution)
	assert.Equal(t, 0, len(progressLines(logger.snapshot())))
	execution.Progress.ReadCount = 500
	reporter.AfterChunk(ctx, execution)
	assert.Equal(t, 1, len(progressLines(logger.snapshot())))
}

func TestProgressReporterPartitionsUseParentStride(t *testing.T) {
	logger := &recordingLogger{}
	reporter := NewProgressReporter(1000, map[string]int64{"comments": 50}).WithLogger(logger)
	ctx := context.Background()
	execution := &StepExecution{StepName: "comments:0001"}

	for _, read := range []int64{20, 40, 60, 80, 100, 120} {
		execution.Progress.ReadCount = read
		reporter.AfterChunk(ctx, execution)
	}
	lines := progressLines(logger.snapshot())
	assert.Equal(t, 2, len(lines))
	assert.T(t, strings.HasPrefix(lines[0], "[comments:0001] progress: read=60"), lines[0])
}

func TestProgressReporterDefaultStride(t *testing.T) {
	logger := &recordingLogger{}
	reporter := NewProgressReporter(10, nil).WithLogger(logger)
	ctx := context.Background()
	execution := &StepExecution{StepName: "genres"}
	reporter.BeforeStep(ctx, execution)
	for read := int64(5); read <= 30; read += 5 {
		execution.Progress.ReadCount = read
		reporter.AfterChunk(ctx, execution)
	}
	assert.Equal(t, 3, len(progressLines(logger.snapshot())))
}
