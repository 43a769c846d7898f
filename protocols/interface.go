package protocols

import (
	"fmt"
	"io"
	"time"

	"sxfer/config"
)

type FileEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	Path    string // resolved path inside the backend
}

// FileSystem is a served root. Every path argument except Resolve's is a
// path previously returned by Resolve or derived from one; backends do not
// re-check confinement.
type FileSystem interface {
	Init() error
	Close() error
	Root() string
	// Resolve confines a client supplied relative path to Root.
	Resolve(rel string) (string, error)
	// Join places a sanitized base name directly below Root.
	Join(name string) string
	// List returns the immediate children of dir in enumeration order.
	List(dir string) ([]FileEntry, error)
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	MkdirAll(path string) error
	Stat(path string) (*FileEntry, error)
	Remove(path string) error
	Rename(from, to string) error
}

// Exists reports whether path can be stat'ed.
func Exists(fsys FileSystem, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}

// New builds the backend named in cfg. The caller must Init it before use and
// Close it afterwards.
func New(cfg config.ServerConfig) (FileSystem, error) {
	switch cfg.Backend {
	case "", "local":
		return &LocalFileSystem{RootPath: cfg.Directory}, nil
	case "sftp":
		if cfg.BackendAuth == nil {
			return nil, fmt.Errorf("auth required for sftp")
		}
		return &SFTPFileSystem{
			Host:       cfg.BackendAuth.Host,
			Port:       cfg.BackendAuth.Port,
			User:       cfg.BackendAuth.User,
			Password:   cfg.BackendAuth.Password,
			KnownHosts: cfg.BackendAuth.KnownHosts,
			RootPath:   cfg.Directory,
		}, nil
	case "ftp":
		if cfg.BackendAuth == nil {
			return nil, fmt.Errorf("auth required for ftp")
		}
		return &FTPFileSystem{
			Host:     cfg.BackendAuth.Host,
			Port:     cfg.BackendAuth.Port,
			User:     cfg.BackendAuth.User,
			Password: cfg.BackendAuth.Password,
			RootPath: cfg.Directory,
		}, nil
	default:
		return nil, fmt.Errorf("unknown fs type: %s", cfg.Backend)
	}
}
