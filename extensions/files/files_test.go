package files

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookshelf/relmigrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePathFormat(t *testing.T) {
	execution := &relmigrate.JobExecution{
		JobExecutionId: 42,
		JobName:        "library-migration",
		StartTime:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	cases := map[string]string{
		"{job}/{execution}.json":               "library-migration/42.json",
		"report-{date}.json":                   "report-20240102.json",
		"report-{date,yyyy-MM-dd_HHmmss}.json": "report-2024-01-02_030405.json",
		"static.json":                          "static.json",
	}
	for pattern, expected := range cases {
		fp := FilePath{NamePattern: pattern}
		assert.Equal(t, expected, fp.Format(execution), pattern)
	}
}

func TestLocalFileSystemCreatesDirectories(t *testing.T) {
	fs := &LocalFileSystem{Root: t.TempDir()}
	w, err := fs.Create("a/b/c.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := fs.Open("a/b/c.txt")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestCopy(t *testing.T) {
	from := &LocalFileSystem{Root: t.TempDir()}
	to := &LocalFileSystem{Root: t.TempDir()}
	require.NoError(t, os.WriteFile(filepath.Join(from.Root, "src.json"), []byte(`{"ok":true}`), 0o644))

	err := Copy(context.Background(), FileMove{FromFileName: "src.json", FromFileStore: from, ToFileName: "out/dst.json", ToFileStore: to})
	assert.Nil(t, err)
	data, er := os.ReadFile(filepath.Join(to.Root, "out", "dst.json"))
	require.NoError(t, er)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestCopyMissingSource(t *testing.T) {
	from := &LocalFileSystem{Root: t.TempDir()}
	to := &LocalFileSystem{Root: t.TempDir()}
	err := Copy(context.Background(), FileMove{FromFileName: "absent", FromFileStore: from, ToFileName: "x", ToFileStore: to})
	require.NotNil(t, err)
	assert.Equal(t, relmigrate.ErrCodeGeneral, err.Code())
}

func TestFTPFileSystemUnreachable(t *testing.T) {
	fs := &FTPFileSystem{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond}
	w, err := fs.Create("x.json")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	assert.Error(t, w.Close())
	_, err = fs.Open("x.json")
	assert.Error(t, err)
}
