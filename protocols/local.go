package protocols

import (
	"io"
	"os"
	"path/filepath"

	"sxfer/pathsafe"
)

type LocalFileSystem struct {
	RootPath string
}

func (l *LocalFileSystem) Init() error {
	return os.MkdirAll(l.RootPath, 0755)
}

func (l *LocalFileSystem) Close() error {
	return nil
}

func (l *LocalFileSystem) Root() string {
	return l.RootPath
}

func (l *LocalFileSystem) Resolve(rel string) (string, error) {
	return pathsafe.Resolve(l.RootPath, rel)
}

func (l *LocalFileSystem) Join(name string) string {
	return filepath.Join(l.RootPath, name)
}

// List keeps the order the directory yields its entries in; os.ReadDir
// would sort them by name.
func (l *LocalFileSystem) List(dir string) ([]FileEntry, error) {
	d, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	entries, err := d.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		// Stat follows symlinks so a link to a directory lists as one.
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		files = append(files, FileEntry{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
			Path:    full,
		})
	}
	return files, nil
}

func (l *LocalFileSystem) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (l *LocalFileSystem) Create(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func (l *LocalFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (l *LocalFileSystem) Stat(path string) (*FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Path:    path,
	}, nil
}

func (l *LocalFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (l *LocalFileSystem) Rename(from, to string) error {
	return os.Rename(from, to)
}
