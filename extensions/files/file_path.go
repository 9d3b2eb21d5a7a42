package files

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bookshelf/relmigrate"
)

var datePlaceholder = regexp.MustCompile(`\{date(?:,([^}]*))?\}`)

// FilePath is a file name pattern. {job} and {execution} are replaced by the job name and
// execution id, {date,yyyyMMdd} by the execution start date in the given layout.
type FilePath struct {
	NamePattern string
}

func (f *FilePath) Format(execution *relmigrate.JobExecution) string {
	name := strings.ReplaceAll(f.NamePattern, "{job}", execution.JobName)
	name = strings.ReplaceAll(name, "{execution}", strconv.FormatInt(execution.JobExecutionId, 10))
	start := execution.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	return datePlaceholder.ReplaceAllStringFunc(name, func(m string) string {
		layout := "yyyyMMdd"
		if sub := datePlaceholder.FindStringSubmatch(m); len(sub) > 1 && sub[1] != "" {
			layout = sub[1]
		}
		return start.Format(goLayout(layout))
	})
}

var layoutReplacer = strings.NewReplacer(
	"yyyy", "2006",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func goLayout(layout string) string {
	return layoutReplacer.Replace(layout)
}
