package protocols

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"sxfer/pathsafe"
)

// FTPFileSystem serves a directory on an FTP server. A ServerConn handles
// one command at a time, so each instance must stay within one goroutine.
type FTPFileSystem struct {
	Host     string
	Port     int
	User     string
	Password string
	RootPath string
	conn     *ftp.ServerConn
}

func (f *FTPFileSystem) Init() error {
	addr := fmt.Sprintf("%s:%d", f.Host, f.Port)
	c, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return err
	}

	if err := c.Login(f.User, f.Password); err != nil {
		c.Quit()
		return err
	}
	f.conn = c
	return nil
}

func (f *FTPFileSystem) Close() error {
	if f.conn != nil {
		return f.conn.Quit()
	}
	return nil
}

func (f *FTPFileSystem) Root() string {
	return f.RootPath
}

func (f *FTPFileSystem) Resolve(rel string) (string, error) {
	return pathsafe.ResolveLexical(f.RootPath, rel)
}

func (f *FTPFileSystem) Join(name string) string {
	return path.Join(f.RootPath, name)
}

func (f *FTPFileSystem) List(dir string) ([]FileEntry, error) {
	entries, err := f.conn.List(dir)
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		files = append(files, toFileEntry(entry, path.Join(dir, entry.Name)))
	}
	return files, nil
}

func toFileEntry(entry *ftp.Entry, p string) FileEntry {
	return FileEntry{
		Name:    entry.Name,
		Size:    int64(entry.Size),
		ModTime: entry.Time,
		IsDir:   entry.Type == ftp.EntryTypeFolder,
		Path:    p,
	}
}

func (f *FTPFileSystem) Open(p string) (io.ReadCloser, error) {
	return f.conn.Retr(p)
}

// ftpUpload adapts STOR, which consumes a reader, to a writer. Close waits
// for the server to acknowledge the upload.
type ftpUpload struct {
	w    *io.PipeWriter
	done chan error
}

func (u *ftpUpload) Write(p []byte) (int, error) {
	return u.w.Write(p)
}

func (u *ftpUpload) Close() error {
	u.w.Close()
	return <-u.done
}

func (f *FTPFileSystem) Create(p string) (io.WriteCloser, error) {
	r, w := io.Pipe()
	u := &ftpUpload{w: w, done: make(chan error, 1)}
	go func() {
		err := f.conn.Stor(p, r)
		r.CloseWithError(err)
		u.done <- err
	}()
	return u, nil
}

func (f *FTPFileSystem) MkdirAll(p string) error {
	dirs := []string{}
	curr := p
	for curr != "." && curr != "/" && curr != "" {
		dirs = append(dirs, curr)
		curr = path.Dir(curr)
	}

	// root to leaf; existing directories make MakeDir fail harmlessly
	for i := len(dirs) - 1; i >= 0; i-- {
		f.conn.MakeDir(dirs[i])
	}
	return nil
}

// Stat lists the parent directory, since LIST is the one listing command
// every server supports.
func (f *FTPFileSystem) Stat(p string) (*FileEntry, error) {
	parent := path.Dir(p)
	name := path.Base(p)

	entries, err := f.conn.List(parent)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Name == name {
			fe := toFileEntry(entry, p)
			return &fe, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
}

func (f *FTPFileSystem) Remove(p string) error {
	return f.conn.Delete(p)
}

func (f *FTPFileSystem) Rename(from, to string) error {
	return f.conn.Rename(from, to)
}
