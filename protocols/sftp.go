package protocols

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"sxfer/pathsafe"
)

// SFTPFileSystem serves a directory on a remote host over SFTP.
type SFTPFileSystem struct {
	Host       string
	Port       int
	User       string
	Password   string
	KnownHosts string
	RootPath   string
	client     *sftp.Client
	sshConn    *ssh.Client
}

// NewSFTPFileSystemFromClient wraps an established SFTP session. Init is a
// no-op and Close closes the client.
func NewSFTPFileSystemFromClient(client *sftp.Client, root string) *SFTPFileSystem {
	return &SFTPFileSystem{RootPath: root, client: client}
}

func (s *SFTPFileSystem) Init() error {
	if s.client != nil {
		return nil
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if s.KnownHosts != "" {
		cb, err := knownhosts.New(s.KnownHosts)
		if err != nil {
			return fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKey = cb
	}
	config := &ssh.ClientConfig{
		User: s.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(s.Password),
		},
		HostKeyCallback: hostKey,
		Timeout:         30 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return err
	}
	s.sshConn = conn

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return err
	}
	s.client = client
	return nil
}

func (s *SFTPFileSystem) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	if s.sshConn != nil {
		s.sshConn.Close()
	}
	return nil
}

func (s *SFTPFileSystem) Root() string {
	return s.RootPath
}

func (s *SFTPFileSystem) Resolve(rel string) (string, error) {
	return pathsafe.ResolveLexical(s.RootPath, rel)
}

func (s *SFTPFileSystem) Join(name string) string {
	return path.Join(s.RootPath, name)
}

func (s *SFTPFileSystem) List(dir string) ([]FileEntry, error) {
	entries, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for _, entry := range entries {
		files = append(files, FileEntry{
			Name:    entry.Name(),
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
			IsDir:   entry.IsDir(),
			Path:    path.Join(dir, entry.Name()),
		})
	}
	return files, nil
}

func (s *SFTPFileSystem) Open(p string) (io.ReadCloser, error) {
	return s.client.Open(p)
}

func (s *SFTPFileSystem) Create(p string) (io.WriteCloser, error) {
	return s.client.Create(p)
}

func (s *SFTPFileSystem) MkdirAll(p string) error {
	return s.client.MkdirAll(p)
}

func (s *SFTPFileSystem) Stat(p string) (*FileEntry, error) {
	info, err := s.client.Stat(p)
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Path:    p,
	}, nil
}

func (s *SFTPFileSystem) Remove(p string) error {
	return s.client.Remove(p)
}

func (s *SFTPFileSystem) Rename(from, to string) error {
	return s.client.Rename(from, to)
}
