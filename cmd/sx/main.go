package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"sxfer/config"
	"sxfer/core"
	"sxfer/progress"
	"sxfer/tunnel"
	"sxfer/wire"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// aliases map an executable name to the verb it runs.
var aliases = map[string]string{
	"sxd":  "download",
	"sxu":  "upload",
	"sxls": "list",
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage:
  sx [flags] download <remote_path> [local_name]
  sx [flags] upload <local_file>
  sx [flags] list [remote_path]

The server port is read from SX_PORT (default 53690).`)
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "", 0)

	fset := flag.NewFlagSet("sx", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.Usage = func() {
		usage(stderr)
		fset.PrintDefaults()
	}
	configPath := fset.String("config", defaultConfigPath(), "Path to config file")
	sshTarget := fset.String("ssh", "", "Reach the server through SSH, as user@host[:port]")
	identity := fset.String("identity", "", "SSH private key file")
	if err := fset.Parse(args[1:]); err != nil {
		return exitFailure
	}

	rest := fset.Args()
	verb, ok := aliases[filepath.Base(args[0])]
	if !ok {
		if len(rest) == 0 {
			fset.Usage()
			return exitFailure
		}
		verb, rest = rest[0], rest[1:]
		if v, ok := aliases[verb]; ok {
			verb = v
		}
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Printf("❌ %v", err)
		return exitFailure
	}
	if err := cfg.ClientPortFromEnv(); err != nil {
		logger.Printf("❌ %v", err)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dial, closeDialer, err := dialer(cfg.Client, *sshTarget, *identity, logger)
	if err != nil {
		logger.Printf("❌ %v", err)
		return exitFailure
	}
	defer closeDialer()

	client := core.NewClient(cfg.Client, dial)
	client.NewTracker = func(label string, total int64) core.Tracker {
		return progress.NewBar(os.Stderr, label, total)
	}

	switch verb {
	case "download":
		if len(rest) < 1 || len(rest) > 2 {
			fset.Usage()
			return exitFailure
		}
		local := ""
		if len(rest) == 2 {
			local = rest[1]
		}
		err = download(ctx, client, rest[0], local, stdout)
	case "upload":
		if len(rest) != 1 {
			fset.Usage()
			return exitFailure
		}
		err = upload(ctx, client, rest[0], stdout)
	case "list", "ls":
		if len(rest) > 1 {
			fset.Usage()
			return exitFailure
		}
		remote := ""
		if len(rest) == 1 {
			remote = rest[0]
		}
		err = list(ctx, client, remote, stdout)
	default:
		logger.Printf("unknown command %q", verb)
		fset.Usage()
		return exitFailure
	}

	switch {
	case err == nil:
		return exitOK
	case ctx.Err() != nil:
		logger.Println("⚠️  Cancelled")
		return exitInterrupted
	default:
		logger.Printf("❌ %s", core.Describe(err))
		return exitFailure
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sx", "config.toml")
}

// dialer connects directly to the configured host, or through SSH when a
// tunnel is configured or requested with -ssh.
func dialer(cfg config.ClientConfig, sshTarget, identity string, logger *log.Logger) (core.Dialer, func(), error) {
	tcfg := cfg.Tunnel
	if sshTarget != "" {
		parsed, err := tunnel.ParseTarget(sshTarget)
		if err != nil {
			return nil, nil, err
		}
		if tcfg != nil {
			parsed.KnownHosts = tcfg.KnownHosts
			parsed.RemoteHost = tcfg.RemoteHost
			parsed.Password = tcfg.Password
			parsed.KeyFile = tcfg.KeyFile
		}
		tcfg = &parsed
	}
	if tcfg != nil && identity != "" {
		tcfg.KeyFile = identity
	}

	if tcfg == nil {
		addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
		return func(ctx context.Context) (net.Conn, error) {
			d := net.Dialer{Timeout: 10 * time.Second}
			return d.DialContext(ctx, "tcp", addr)
		}, func() {}, nil
	}

	t, err := tunnel.Dial(*tcfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return func(ctx context.Context) (net.Conn, error) {
		return t.DialContext(ctx, cfg.Port)
	}, func() { t.Close() }, nil
}

func download(ctx context.Context, client *core.Client, remote, local string, out io.Writer) error {
	fmt.Fprintf(out, "📥 Requesting download of: %s\n", remote)
	saved, err := client.Download(ctx, remote, local)
	if err != nil {
		return err
	}
	if info, err := os.Stat(saved); err == nil {
		fmt.Fprintf(out, "📊 Size: %s\n", progress.FormatBytes(info.Size()))
	}
	fmt.Fprintf(out, "✅ Download completed successfully! File saved as: %s\n", saved)
	return nil
}

func upload(ctx context.Context, client *core.Client, local string, out io.Writer) error {
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("file not found: %s", local)
	}
	fmt.Fprintf(out, "📤 Requesting upload of: %s\n", filepath.Base(local))
	fmt.Fprintf(out, "📊 Size: %s\n", progress.FormatBytes(info.Size()))
	if err := client.Upload(ctx, local); err != nil {
		return err
	}
	fmt.Fprintln(out, "✅ Upload completed successfully!")
	return nil
}

func list(ctx context.Context, client *core.Client, remote string, out io.Writer) error {
	listing, err := client.List(ctx, remote)
	if err != nil {
		return err
	}
	title := "/" + remote
	if len(listing.Entries) == 0 {
		fmt.Fprintf(out, "%s is empty\n", title)
		return nil
	}
	fmt.Fprintf(out, "📁 %s\n", title)
	printListing(out, listing, time.Now())
	return nil
}

func printListing(out io.Writer, listing wire.Listing, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tSIZE\tMODIFIED")
	for _, e := range listing.Entries {
		size := progress.FormatBytes(e.Size)
		kind := "file"
		if e.Type == wire.EntryDir {
			kind, size = "dir", "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, e.Name, size, progress.FormatRelativeDate(e.ModifyDate, now))
	}
	w.Flush()
}
