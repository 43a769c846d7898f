// Package tunnel lets the client reach a server port through an SSH
// connection, as an alternative to a port forward set up by hand.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	"sxfer/config"
)

const DefaultSSHPort = 22

type Tunnel struct {
	client     *ssh.Client
	remoteHost string
}

// Dial connects and authenticates to the SSH server described by cfg.
func Dial(cfg config.TunnelConfig, logger *log.Logger) (*Tunnel, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg.KnownHosts, logger)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	user := cfg.User
	if user == "" {
		user = os.Getenv("USER")
	}
	sshConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         30 * time.Second,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	remote := cfg.RemoteHost
	if remote == "" {
		remote = "127.0.0.1"
	}
	return &Tunnel{client: client, remoteHost: remote}, nil
}

// DialContext opens a channel to port on the remote host as seen from the
// SSH server. The returned conn supports deadlines.
func (t *Tunnel) DialContext(ctx context.Context, port int) (net.Conn, error) {
	conn, err := t.client.DialContext(ctx, "tcp", net.JoinHostPort(t.remoteHost, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return newDeadlineConn(conn), nil
}

func (t *Tunnel) Close() error {
	return t.client.Close()
}

func authMethods(cfg config.TunnelConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(expandHome(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file %s: %w", cfg.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	} else if term.IsTerminal(int(os.Stdin.Fd())) {
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			fmt.Fprintf(os.Stderr, "%s@%s's password: ", cfg.User, cfg.Host)
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			return string(pw), err
		}))
	}
	if len(methods) == 0 {
		return nil, errors.New("no SSH authentication method: set a key file or password")
	}
	return methods, nil
}

// hostKeyCallback verifies against knownHostsPath, or ~/.ssh/known_hosts
// when that is empty. Without any known_hosts file host keys are accepted
// unchecked.
func hostKeyCallback(knownHostsPath string, logger *log.Logger) (ssh.HostKeyCallback, error) {
	if knownHostsPath != "" {
		cb, err := knownhosts.New(expandHome(knownHostsPath))
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		return cb, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		def := filepath.Join(home, ".ssh", "known_hosts")
		if _, err := os.Stat(def); err == nil {
			return knownhosts.New(def)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	logger.Println("warning: no known_hosts file, SSH host key is not verified")
	return ssh.InsecureIgnoreHostKey(), nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// ParseTarget splits "[user@]host[:port]" into a tunnel configuration.
func ParseTarget(target string) (config.TunnelConfig, error) {
	var cfg config.TunnelConfig
	hostPort := target
	if i := strings.LastIndex(target, "@"); i >= 0 {
		cfg.User = target[:i]
		hostPort = target[i+1:]
	}

	cfg.Host = hostPort
	if host, port, err := net.SplitHostPort(hostPort); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return cfg, fmt.Errorf("invalid SSH port in %q", target)
		}
		cfg.Host, cfg.Port = host, p
	}
	if cfg.Host == "" {
		return cfg, fmt.Errorf("missing SSH host in %q", target)
	}
	return cfg, nil
}
