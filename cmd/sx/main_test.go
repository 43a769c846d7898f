package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sxfer/config"
	"sxfer/wire"
)

func TestPrintListing(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	listing := wire.Listing{Entries: []wire.Entry{
		{Type: wire.EntryDir, Name: "docs", ModifyDate: now.Add(-2 * time.Hour)},
		{Type: wire.EntryFile, Name: "notes.txt", Size: 1536, ModifyDate: now.Add(-30 * time.Hour)},
	}}

	var out bytes.Buffer
	printListing(&out, listing, now)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"TYPE", "NAME", "SIZE", "MODIFIED"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"dir", "docs", "-", "2h", "ago"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"file", "notes.txt", "1.5", "KB", "yesterday"}, strings.Fields(lines[2]))
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	configPath := filepath.Join(t.TempDir(), "none.toml")

	assert.Equal(t, exitFailure, run([]string{"sx", "-config", configPath}, &stdout, &stderr))
	assert.Equal(t, exitFailure, run([]string{"sx", "-config", configPath, "bogus"}, &stdout, &stderr))
	assert.Equal(t, exitFailure, run([]string{"sx", "-config", configPath, "upload"}, &stdout, &stderr))
	assert.Equal(t, exitFailure, run([]string{"sxd", "-config", configPath}, &stdout, &stderr))
}

func TestRunNoServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wire.ReadLine(conn, wire.MaxHeaderLength)
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	t.Setenv(config.PortEnv, strconv.Itoa(port))

	var stdout, stderr bytes.Buffer
	code := run([]string{"sxls", "-config", filepath.Join(t.TempDir(), "none.toml")}, &stdout, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "failed to establish connection to server on port "+strconv.Itoa(port))
}

func TestRunUploadMissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "missing.txt")
	code := run([]string{"sx", "-config", filepath.Join(t.TempDir(), "none.toml"), "upload", missing}, &stdout, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "file not found")
	_, err := os.Stat(missing)
	assert.True(t, os.IsNotExist(err))
}
