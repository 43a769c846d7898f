package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"sxfer/config"
	"sxfer/wire"
)

// Dialer opens a fresh connection to the server.
type Dialer func(ctx context.Context) (net.Conn, error)

// Tracker follows the progress of one transfer.
type Tracker interface {
	Update(transferred int64)
	Done()
}

type TrackerFactory func(label string, total int64) Tracker

// Client runs one operation per connection against a server.
type Client struct {
	Dial Dialer
	// Port is only used in messages.
	Port int

	ResponseTimeout   time.Duration
	DataTimeout       time.Duration
	WriteTimeout      time.Duration
	ProgressThreshold int64
	// NewTracker may be nil.
	NewTracker TrackerFactory
}

func NewClient(cfg config.ClientConfig, dial Dialer) *Client {
	if dial == nil {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		dial = func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &Client{
		Dial:              dial,
		Port:              cfg.Port,
		ResponseTimeout:   cfg.ResponseTimeout.Duration,
		DataTimeout:       cfg.DataTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
		ProgressThreshold: int64(cfg.ProgressThreshold),
	}
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	conn, err := c.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server on port %d: %w", c.Port, err)
	}
	return conn, nil
}

// send writes msg, bounded by the write timeout.
func (c *Client) send(ctx context.Context, conn net.Conn, msg wire.Message) error {
	if err := setWriteDeadline(ctx, conn, c.ResponseTimeout); err != nil {
		return err
	}
	if err := wire.WriteMessage(conn, msg); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return setWriteDeadline(ctx, conn, 0)
}

// readLine reads one response line within timeout. The connection counts as
// dead when the line does not arrive in time or the peer hangs up first.
func (c *Client) readLine(ctx context.Context, conn net.Conn, timeout time.Duration) (string, error) {
	if err := setReadDeadline(ctx, conn, timeout); err != nil {
		return "", err
	}
	line, err := wire.ReadLine(conn, wire.MaxListingLength)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, wire.ErrClosed) {
		return "", fmt.Errorf("%w: failed to establish connection to server on port %d", ErrNoServer, c.Port)
	}
	if err != nil {
		return "", err
	}
	return line, setReadDeadline(ctx, conn, 0)
}

func (c *Client) tracker(label string, total int64) Tracker {
	if c.NewTracker == nil || total < c.ProgressThreshold {
		return nil
	}
	return c.NewTracker(label, total)
}

// Download fetches remotePath into localName, or into the base name of
// remotePath when localName is empty. It returns the final local path.
func (c *Client) Download(ctx context.Context, remotePath, localName string) (string, error) {
	if localName == "" {
		localName = path.Base(strings.ReplaceAll(remotePath, `\`, "/"))
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	stop := bindContext(ctx, conn)
	defer stop()

	if err := c.send(ctx, conn, wire.Request{Path: remotePath}); err != nil {
		return "", err
	}

	line, err := c.readLine(ctx, conn, c.ResponseTimeout)
	if err != nil {
		return "", err
	}
	msg, err := wire.Decode(line)
	if err != nil {
		return "", fmt.Errorf("invalid server response: %w", err)
	}
	var hdr wire.Send
	switch m := msg.(type) {
	case wire.Failure:
		return "", &RemoteError{Message: m.Message}
	case wire.Send:
		hdr = m
	default:
		return "", &wire.ProtocolError{Reason: fmt.Sprintf("unexpected %s response", msg.Command())}
	}

	marker, err := c.readLine(ctx, conn, c.DataTimeout)
	if err != nil {
		return "", err
	}
	if marker != wire.DataMarker {
		return "", &wire.ProtocolError{Reason: "expected DATA separator"}
	}

	tmp := localName + TempSuffix
	if err := c.receiveFile(ctx, conn, tmp, localName, hdr.Size); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = multierror.Append(err, rmErr)
		}
		return "", err
	}
	if err := os.Rename(tmp, localName); err != nil {
		return "", multierror.Append(err, os.Remove(tmp))
	}
	return localName, nil
}

func (c *Client) receiveFile(ctx context.Context, conn net.Conn, tmp, label string, size int64) error {
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	var opts CopyOptions
	if t := c.tracker("Downloading "+filepath.Base(label), size); t != nil {
		opts.Progress = t.Update
		defer t.Done()
	}
	_, err = Copy(ctx, f, conn, size, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Upload streams localFile to the server under its base name. Rejections
// are not answered by the server; they surface as a closed connection.
func (c *Client) Upload(ctx context.Context, localFile string) error {
	f, err := os.Open(localFile)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", localFile)
	}
	name := filepath.Base(localFile)

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := bindContext(ctx, conn)
	defer stop()

	if err := setWriteDeadline(ctx, conn, c.ResponseTimeout); err != nil {
		return err
	}
	if err := wire.WriteSend(conn, wire.Send{Filename: name, Size: info.Size()}); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	opts := CopyOptions{WriteTimeout: c.WriteTimeout}
	if t := c.tracker("Uploading "+name, info.Size()); t != nil {
		opts.Progress = t.Update
		defer t.Done()
	}
	_, err = Copy(ctx, conn, f, info.Size(), opts)
	return err
}

// List fetches the listing of remotePath; an empty path lists the root.
func (c *Client) List(ctx context.Context, remotePath string) (wire.Listing, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return wire.Listing{}, err
	}
	defer conn.Close()
	stop := bindContext(ctx, conn)
	defer stop()

	if err := c.send(ctx, conn, wire.ListDir{Path: remotePath}); err != nil {
		return wire.Listing{}, err
	}
	line, err := c.readLine(ctx, conn, c.ResponseTimeout)
	if err != nil {
		return wire.Listing{}, err
	}

	listing, err := wire.DecodeListing(line)
	var failure wire.Failure
	if errors.As(err, &failure) {
		return wire.Listing{}, &RemoteError{Message: failure.Message}
	}
	return listing, err
}
