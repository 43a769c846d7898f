package protocols

import (
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sxfer/config"
	"sxfer/pathsafe"
)

func writeAll(t *testing.T, fsys FileSystem, p, content string) {
	t.Helper()
	w, err := fsys.Create(p)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readAll(t *testing.T, fsys FileSystem, p string) string {
	t.Helper()
	r, err := fsys.Open(p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func names(entries []FileEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}

func TestLocalFileSystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "serve")
	fsys := &LocalFileSystem{RootPath: root}
	require.NoError(t, fsys.Init())
	defer fsys.Close()

	require.NoError(t, fsys.MkdirAll(filepath.Join(root, "docs")))
	writeAll(t, fsys, fsys.Join("a.txt.tmp"), "hello")
	require.NoError(t, fsys.Rename(fsys.Join("a.txt.tmp"), fsys.Join("a.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "docs"), filepath.Join(root, "docs-link")))

	entries, err := fsys.List(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "docs", "docs-link"}, names(entries))
	for _, e := range entries {
		assert.Equal(t, e.Name != "a.txt", e.IsDir, e.Name)
	}

	info, err := fsys.Stat(fsys.Join("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "hello", readAll(t, fsys, fsys.Join("a.txt")))

	_, err = fsys.Stat(fsys.Join("a.txt.tmp"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, Exists(fsys, fsys.Join("missing")))

	_, err = fsys.Resolve("../outside")
	assert.ErrorIs(t, err, pathsafe.ErrPathSecurity)

	require.NoError(t, fsys.Remove(fsys.Join("a.txt")))
	assert.False(t, Exists(fsys, fsys.Join("a.txt")))
}

func newInMemSFTP(t *testing.T) *sftp.Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client
}

func TestSFTPFileSystem(t *testing.T) {
	client := newInMemSFTP(t)
	require.NoError(t, client.Mkdir("/srv"))

	fsys := NewSFTPFileSystemFromClient(client, "/srv")
	require.NoError(t, fsys.Init())

	resolved, err := fsys.Resolve(`docs\report.txt`)
	require.NoError(t, err)
	assert.Equal(t, "/srv/docs/report.txt", resolved)
	_, err = fsys.Resolve("../etc/passwd")
	assert.ErrorIs(t, err, pathsafe.ErrPathSecurity)

	require.NoError(t, fsys.MkdirAll("/srv/docs"))
	writeAll(t, fsys, "/srv/notes.txt.tmp", "0123456789")
	require.NoError(t, fsys.Rename("/srv/notes.txt.tmp", "/srv/notes.txt"))

	info, err := fsys.Stat("/srv/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.False(t, info.IsDir)
	assert.Equal(t, "0123456789", readAll(t, fsys, "/srv/notes.txt"))

	entries, err := fsys.List("/srv")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "notes.txt"}, names(entries))

	_, err = fsys.Stat("/srv/missing.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, fsys.Remove("/srv/notes.txt"))
	assert.False(t, Exists(fsys, "/srv/notes.txt"))
}

func TestFTPUploadCloseWaitsForStore(t *testing.T) {
	r, w := io.Pipe()
	u := &ftpUpload{w: w, done: make(chan error, 1)}
	var stored strings.Builder
	go func() {
		_, err := io.Copy(&stored, r)
		u.done <- err
	}()

	_, err := u.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, u.Close())
	assert.Equal(t, "payload", stored.String())
}

func TestNew(t *testing.T) {
	fsys, err := New(config.ServerConfig{Backend: "local", Directory: "/srv"})
	require.NoError(t, err)
	assert.IsType(t, &LocalFileSystem{}, fsys)

	_, err = New(config.ServerConfig{Backend: "ftp", Directory: "/srv"})
	assert.Error(t, err)

	fsys, err = New(config.ServerConfig{Backend: "sftp", Directory: "/srv", BackendAuth: &config.Auth{Host: "h", Port: 22}})
	require.NoError(t, err)
	assert.Equal(t, "/srv", fsys.Root())

	_, err = New(config.ServerConfig{Backend: "nfs"})
	assert.Error(t, err)
}
