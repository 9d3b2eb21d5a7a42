// Package files stores run artifacts on the local filesystem or an FTP server.
package files

import (
	"bytes"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

// FileStore opens and creates files by name.
type FileStore interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
}

// LocalFileSystem stores files under Root.
type LocalFileSystem struct {
	Root string
}

func (fs *LocalFileSystem) resolve(name string) string {
	if fs.Root == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(fs.Root, name)
}

func (fs *LocalFileSystem) Open(name string) (io.ReadCloser, error) {
	return os.Open(fs.resolve(name))
}

func (fs *LocalFileSystem) Create(name string) (io.WriteCloser, error) {
	p := fs.resolve(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create directory of %s", p)
	}
	return os.Create(p)
}

// FTPFileSystem stores files on an FTP server. Every operation uses its own connection.
type FTPFileSystem struct {
	Addr     string
	User     string
	Password string
	Timeout  time.Duration
	// Root is prefixed to relative names.
	Root string
}

func (fs *FTPFileSystem) resolve(name string) string {
	if fs.Root == "" || strings.HasPrefix(name, "/") {
		return name
	}
	return path.Join(fs.Root, name)
}

func (fs *FTPFileSystem) connect() (*ftp.ServerConn, error) {
	timeout := fs.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := ftp.Dial(fs.Addr, ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, errors.Wrapf(err, "dial ftp %s", fs.Addr)
	}
	if err = conn.Login(fs.User, fs.Password); err != nil {
		_ = conn.Quit()
		return nil, errors.Wrapf(err, "login ftp %s", fs.Addr)
	}
	return conn, nil
}

func (fs *FTPFileSystem) Open(name string) (io.ReadCloser, error) {
	conn, err := fs.connect()
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(fs.resolve(name))
	if err != nil {
		_ = conn.Quit()
		return nil, errors.Wrapf(err, "retrieve %s", name)
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}

// Create buffers the content and uploads it on Close.
func (fs *FTPFileSystem) Create(name string) (io.WriteCloser, error) {
	return &ftpWriter{fs: fs, name: fs.resolve(name)}, nil
}

type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	err := r.resp.Close()
	if er := r.conn.Quit(); err == nil {
		err = er
	}
	return err
}

type ftpWriter struct {
	fs   *FTPFileSystem
	name string
	buf  bytes.Buffer
}

func (w *ftpWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *ftpWriter) Close() error {
	conn, err := w.fs.connect()
	if err != nil {
		return err
	}
	defer conn.Quit()
	// intermediate directories may already exist
	dir := path.Dir(w.name)
	if dir != "." && dir != "/" {
		current := ""
		if strings.HasPrefix(dir, "/") {
			current = "/"
		}
		for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
			current = path.Join(current, part)
			_ = conn.MakeDir(current)
		}
	}
	if err = conn.Stor(w.name, &w.buf); err != nil {
		return errors.Wrapf(err, "store %s", w.name)
	}
	return nil
}
