package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	var tests = []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"100", 100, false},
		{"512KB", 512 * KB, false},
		{"100mb", 100 * MB, false},
		{"1GB", GB, false},
		{"2 TB", 2 * TB, false},
		{"10B", 10, false},
		{"0", 0, true},
		{"-5MB", 0, true},
		{"lots", 0, true},
		{"8388607TB", 8388607 * TB, false},
		{"8388608TB", 0, true},
		{"16777216TB", 0, true},
		{"9999999999TB", 0, true},
	}

	for _, test := range tests {
		got, err := ParseSize(test.in)
		if test.wantErr {
			assert.Error(t, err, "ParseSize(%q)", test.in)
			continue
		}
		require.NoError(t, err, "ParseSize(%q)", test.in)
		assert.Equal(t, test.want, got, "ParseSize(%q)", test.in)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, 10*GB, cfg.Server.MaxFileSize)
	assert.True(t, cfg.Server.AllowOverwrite)
	assert.Equal(t, time.Second, cfg.Server.WriteTimeout.Duration)
	assert.Equal(t, 3*time.Second, cfg.Client.ResponseTimeout.Duration)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sx.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9999
directory = "/srv/files"
max_file_size = "100MB"
allow_overwrite = false
write_timeout = "2s"
backend = "sftp"

[server.backend_auth]
host = "files.internal"
port = 22
user = "sx"
password = "secret"

[client]
port = 9999
progress_threshold = 4096

[janitor]
cron = "*/5 * * * *"
tmp_max_age = "30m"
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/srv/files", cfg.Server.Directory)
	assert.Equal(t, 100*MB, cfg.Server.MaxFileSize)
	assert.False(t, cfg.Server.AllowOverwrite)
	assert.Equal(t, 2*time.Second, cfg.Server.WriteTimeout.Duration)
	assert.Equal(t, "sftp", cfg.Server.Backend)
	require.NotNil(t, cfg.Server.BackendAuth)
	assert.Equal(t, "files.internal", cfg.Server.BackendAuth.Host)
	assert.Equal(t, ByteSize(4096), cfg.Client.ProgressThreshold)
	assert.Equal(t, "*/5 * * * *", cfg.Janitor.Cron)
	assert.Equal(t, 30*time.Minute, cfg.Janitor.TmpMaxAge.Duration)
	// untouched keys keep their defaults
	assert.Equal(t, "127.0.0.1", cfg.Server.ListenAddress)
}

func TestLoadConfigValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sx.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nbackend = \"ftp\"\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "backend_auth")
}

func TestClientPortFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv(PortEnv, "40000")
	require.NoError(t, cfg.ClientPortFromEnv())
	assert.Equal(t, 40000, cfg.Client.Port)

	t.Setenv(PortEnv, "nope")
	assert.Error(t, cfg.ClientPortFromEnv())
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sx.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 1000\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	go func() {
		_ = Watch(ctx, path, func(c *Config) { changes <- c })
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-changes:
			assert.Equal(t, 2000, cfg.Server.Port)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 2000\n"), 0644))
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
