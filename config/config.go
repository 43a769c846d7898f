package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultPort    = 53690
	PortEnv        = "SX_PORT"
	DefaultBackend = "local"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Janitor JanitorConfig `toml:"janitor"`
}

type ServerConfig struct {
	ListenAddress    string   `toml:"listen_address"`
	Port             int      `toml:"port"`
	Directory        string   `toml:"directory"` // served and uploaded-to root
	MaxFileSize      ByteSize `toml:"max_file_size"`
	AllowOverwrite   bool     `toml:"allow_overwrite"`
	MaxConnections   int      `toml:"max_connections"` // 0 = unbounded
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	WriteTimeout     Duration `toml:"write_timeout"`
	IdleTimeout      Duration `toml:"idle_timeout"`
	ShutdownGrace    Duration `toml:"shutdown_grace"`
	Backend          string   `toml:"backend"` // local, sftp, ftp
	BackendAuth      *Auth    `toml:"backend_auth,omitempty"`
}

type ClientConfig struct {
	Host              string        `toml:"host"`
	Port              int           `toml:"port"`
	ResponseTimeout   Duration      `toml:"response_timeout"`
	DataTimeout       Duration      `toml:"data_timeout"`
	WriteTimeout      Duration      `toml:"write_timeout"`
	ProgressThreshold ByteSize      `toml:"progress_threshold"`
	Tunnel            *TunnelConfig `toml:"tunnel,omitempty"`
}

// TunnelConfig makes the client reach the server through an SSH connection
// instead of a pre-established port forward.
type TunnelConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	KeyFile    string `toml:"key_file"`
	KnownHosts string `toml:"known_hosts"`
	RemoteHost string `toml:"remote_host"` // as seen from the SSH server
}

type JanitorConfig struct {
	Cron      string   `toml:"cron"` // empty disables the sweep
	TmpMaxAge Duration `toml:"tmp_max_age"`
}

type Auth struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	KnownHosts string `toml:"known_hosts"` // sftp only; empty skips host key checks
}

func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Server: ServerConfig{
			ListenAddress:    "127.0.0.1",
			Port:             DefaultPort,
			Directory:        filepath.Join(home, "Downloads"),
			MaxFileSize:      10 * GB,
			AllowOverwrite:   true,
			HandshakeTimeout: Duration{30 * time.Second},
			WriteTimeout:     Duration{time.Second},
			IdleTimeout:      Duration{5 * time.Minute},
			ShutdownGrace:    Duration{2 * time.Second},
			Backend:          DefaultBackend,
		},
		Client: ClientConfig{
			Host:              "127.0.0.1",
			Port:              DefaultPort,
			ResponseTimeout:   Duration{3 * time.Second},
			DataTimeout:       Duration{time.Second},
			WriteTimeout:      Duration{time.Second},
			ProgressThreshold: 100 * KB,
		},
		Janitor: JanitorConfig{
			Cron:      "@every 1h",
			TmpMaxAge: Duration{24 * time.Hour},
		},
	}
}

// LoadConfig reads path on top of the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	s := c.Server
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid server port %d", s.Port)
	}
	if s.Directory == "" {
		return fmt.Errorf("server directory is required")
	}
	if s.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	switch s.Backend {
	case "local":
	case "sftp", "ftp":
		if s.BackendAuth == nil {
			return fmt.Errorf("backend_auth required for %s backend", s.Backend)
		}
	default:
		return fmt.Errorf("unknown backend: %s", s.Backend)
	}
	if c.Client.Port <= 0 || c.Client.Port > 65535 {
		return fmt.Errorf("invalid client port %d", c.Client.Port)
	}
	return nil
}

// ClientPortFromEnv applies SX_PORT when it is set.
func (c *Config) ClientPortFromEnv() error {
	v := os.Getenv(PortEnv)
	if v == "" {
		return nil
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %q", PortEnv, v)
	}
	c.Client.Port = port
	return nil
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ByteSize accepts plain integers or sizes such as "512KB", "100MB", "1GB".
type ByteSize int64

const (
	B  ByteSize = 1
	KB          = 1024 * B
	MB          = 1024 * KB
	GB          = 1024 * MB
	TB          = 1024 * GB
)

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseSize parses a positive size with an optional B/KB/MB/GB/TB suffix.
func ParseSize(s string) (ByteSize, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	mult := B
	for _, unit := range []struct {
		suffix string
		mult   ByteSize
	}{{"TB", TB}, {"GB", GB}, {"MB", MB}, {"KB", KB}, {"B", B}} {
		if strings.HasSuffix(str, unit.suffix) {
			mult = unit.mult
			str = strings.TrimSpace(strings.TrimSuffix(str, unit.suffix))
			break
		}
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q (e.g. 100MB, 1GB)", s)
	}
	if n > math.MaxInt64/int64(mult) {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return ByteSize(n) * mult, nil
}
