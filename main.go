package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"sxfer/config"
	"sxfer/core"
	"sxfer/protocols"
)

// overrides holds the command line flags that take precedence over the
// config file, including after a reload.
type overrides struct {
	set         map[string]bool
	port        int
	dir         string
	maxSize     string
	noOverwrite bool
	listen      string
	backend     string
}

func (o *overrides) apply(cfg *config.Config) error {
	s := &cfg.Server
	if o.set["port"] || o.set["p"] {
		s.Port = o.port
	}
	if o.set["dir"] || o.set["d"] {
		s.Directory = o.dir
	}
	if o.set["max-size"] {
		size, err := config.ParseSize(o.maxSize)
		if err != nil {
			return err
		}
		s.MaxFileSize = size
	}
	if o.set["no-overwrite"] {
		s.AllowOverwrite = !o.noOverwrite
	}
	if o.set["listen"] {
		s.ListenAddress = o.listen
	}
	if o.set["backend"] {
		s.Backend = o.backend
	}
	if s.Backend == "" || s.Backend == config.DefaultBackend {
		dir, err := prepareRoot(s.Directory)
		if err != nil {
			return err
		}
		s.Directory = dir
	}
	return cfg.Validate()
}

// prepareRoot expands ~, creates the directory and returns its canonical
// absolute path.
func prepareRoot(dir string) (string, error) {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", abs, err)
	}
	return filepath.EvalSymlinks(abs)
}

func main() {
	var o overrides
	configPath := flag.String("config", "config.toml", "Path to config file")
	flag.IntVar(&o.port, "port", config.DefaultPort, "Port to listen on")
	flag.IntVar(&o.port, "p", config.DefaultPort, "Port to listen on (shorthand)")
	flag.StringVar(&o.dir, "dir", "", "Directory to serve and receive into")
	flag.StringVar(&o.dir, "d", "", "Directory to serve and receive into (shorthand)")
	flag.StringVar(&o.maxSize, "max-size", "", "Maximum file size, e.g. 500MB or 10GB")
	flag.BoolVar(&o.noOverwrite, "no-overwrite", false, "Keep existing files, saving uploads as name_1.ext")
	flag.StringVar(&o.listen, "listen", "", "Address to listen on")
	flag.StringVar(&o.backend, "backend", "", "Storage backend: local, sftp or ftp")
	flag.Parse()

	o.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	// 1. Load Config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := o.apply(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init Server
	logger := log.Default()
	srv := core.NewServer(cfg.Server, logger)

	// 3. Init Janitor
	janitor := core.NewJanitor(cfg.Janitor, srv.Active, func() (protocols.FileSystem, error) {
		return protocols.New(srv.Config())
	}, logger)
	if err := janitor.Start(); err != nil {
		log.Fatalf("Failed to start janitor: %v", err)
	}
	defer janitor.Stop()

	// 4. Watch Config
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			if err := o.apply(next); err != nil {
				log.Printf("Ignoring reloaded config: %v", err)
				return
			}
			srv.SetConfig(next.Server)
			log.Printf("Config reloaded: directory %s, max file size %d bytes, overwrite %t",
				next.Server.Directory, next.Server.MaxFileSize, next.Server.AllowOverwrite)
		})
		if err != nil {
			log.Printf("Config watcher stopped: %v", err)
		}
	}()

	s := cfg.Server
	log.Printf("SX server starting: directory %s, max file size %d bytes, overwrite %t, backend %s",
		s.Directory, s.MaxFileSize, s.AllowOverwrite, s.Backend)

	// 5. Serve until signal
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Shutting down...")
}
