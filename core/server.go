package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/netutil"

	"sxfer/config"
	"sxfer/pathsafe"
	"sxfer/progress"
	"sxfer/protocols"
	"sxfer/wire"
)

// Server accepts connections and runs one command per connection against
// the served root.
type Server struct {
	Logger *log.Logger
	Active *ActiveTransfers
	// NewFileSystem opens the served root for one connection.
	NewFileSystem func(config.ServerConfig) (protocols.FileSystem, error)

	cfg atomic.Pointer[config.ServerConfig]
	wg  sync.WaitGroup
}

func NewServer(cfg config.ServerConfig, logger *log.Logger) *Server {
	s := &Server{
		Logger:        logger,
		Active:        NewActiveTransfers(),
		NewFileSystem: protocols.New,
	}
	s.SetConfig(cfg)
	return s
}

// Config returns the configuration new connections will use.
func (s *Server) Config() config.ServerConfig {
	return *s.cfg.Load()
}

// SetConfig replaces the configuration for connections accepted from now on.
func (s *Server) SetConfig(cfg config.ServerConfig) {
	s.cfg.Store(&cfg)
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.Config()
	addr := net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done. Handlers still running then get
// ShutdownGrace to finish; after that their transfers are cancelled and
// Serve waits for them to clean up.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.Logger.Printf("listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.Logger.Printf("error accepting connection: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(connCtx, conn)
		}()
	}
	ln.Close()

	grace := s.Config().ShutdownGrace.Duration
	if !s.waitHandlers(grace) {
		s.Logger.Printf("shutdown grace of %s elapsed, aborting %d in-flight uploads", grace, s.Active.Len())
		cancelConns()
		s.wg.Wait()
	}
	s.Logger.Println("server stopped")
	return nil
}

func (s *Server) waitHandlers(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()[:8]
	sess := &session{
		id:     id,
		conn:   conn,
		cfg:    s.Config(),
		active: s.Active,
		newFS:  s.NewFileSystem,
		log:    log.New(s.Logger.Writer(), fmt.Sprintf("%s[%s] ", s.Logger.Prefix(), id), s.Logger.Flags()|log.Lmsgprefix),
	}
	sess.log.Printf("client connected from %s", conn.RemoteAddr())

	if err := sess.run(ctx); err != nil {
		sess.log.Print(Describe(err))
	}
}

// session is the state of one connection. Nothing in it is shared with
// other connections except the registry.
type session struct {
	id     string
	conn   net.Conn
	cfg    config.ServerConfig
	active *ActiveTransfers
	newFS  func(config.ServerConfig) (protocols.FileSystem, error)
	log    *log.Logger
}

func (s *session) run(ctx context.Context) error {
	stop := bindContext(ctx, s.conn)
	defer stop()

	if err := setReadDeadline(ctx, s.conn, s.cfg.HandshakeTimeout.Duration); err != nil {
		return err
	}
	msg, err := wire.ReadMessage(s.conn)
	if errors.Is(err, wire.ErrClosed) {
		s.log.Println("client disconnected before sending a header")
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("invalid protocol header: %w", err)
	}
	if _, ok := msg.(wire.Send); ok {
		if err := wire.ReadDataMarker(s.conn); err != nil {
			return fmt.Errorf("invalid protocol header: %w", err)
		}
	}
	if err := setReadDeadline(ctx, s.conn, 0); err != nil {
		return err
	}

	fsys, err := s.newFS(s.cfg)
	if err != nil {
		return err
	}
	if err := fsys.Init(); err != nil {
		return fmt.Errorf("failed to open %s: %w", s.cfg.Directory, err)
	}
	defer fsys.Close()

	switch m := msg.(type) {
	case wire.ListDir:
		return s.list(ctx, fsys, m)
	case wire.Request:
		return s.serveFile(ctx, fsys, m)
	case wire.Send:
		return s.receive(ctx, fsys, m)
	default:
		return &wire.ProtocolError{Reason: fmt.Sprintf("unexpected %s command from client", msg.Command())}
	}
}

// reply writes an Error response, bounded by the handshake timeout.
func (s *session) reply(ctx context.Context, message string) {
	if err := setWriteDeadline(ctx, s.conn, s.cfg.HandshakeTimeout.Duration); err != nil {
		return
	}
	if err := wire.WriteMessage(s.conn, wire.Failure{Message: message}); err != nil {
		s.log.Printf("failed to send error response: %v", err)
	}
}

func (s *session) list(ctx context.Context, fsys protocols.FileSystem, m wire.ListDir) error {
	s.log.Printf("directory listing requested: /%s", m.Path)

	listing, err := List(fsys, m.Path, s.active)
	if err != nil {
		if errors.Is(err, pathsafe.ErrPathSecurity) {
			s.reply(ctx, "Access denied: path is outside the served directory")
		} else {
			s.reply(ctx, fmt.Sprintf("Cannot list directory: %s", m.Path))
		}
		return err
	}

	s.log.Printf("sending directory listing (%d items)", len(listing.Entries))
	if err := setWriteDeadline(ctx, s.conn, s.cfg.HandshakeTimeout.Duration); err != nil {
		return err
	}
	if err := wire.WriteListing(s.conn, listing); err != nil {
		return err
	}
	s.log.Println("directory listing sent successfully")
	return nil
}

func (s *session) serveFile(ctx context.Context, fsys protocols.FileSystem, m wire.Request) error {
	s.log.Printf("file requested: %s", m.Path)

	full, err := fsys.Resolve(m.Path)
	if err != nil {
		if errors.Is(err, pathsafe.ErrPathSecurity) {
			s.reply(ctx, "Access denied: path is outside the served directory")
			return err
		}
		s.reply(ctx, fmt.Sprintf("File not found: %s", m.Path))
		return fmt.Errorf("%w: %s: %v", ErrNotFound, m.Path, err)
	}
	s.log.Printf("resolved path: %s", full)

	info, err := fsys.Stat(full)
	if err != nil || info.IsDir {
		s.reply(ctx, fmt.Sprintf("File not found: %s", m.Path))
		return fmt.Errorf("%w: %s", ErrNotFound, full)
	}

	limit := int64(s.cfg.MaxFileSize)
	if info.Size > limit {
		sizeErr := &SizeLimitError{Size: info.Size, Limit: limit}
		s.reply(ctx, sizeErr.Error())
		return sizeErr
	}

	r, err := fsys.Open(full)
	if err != nil {
		s.reply(ctx, fmt.Sprintf("Cannot read file: %s", m.Path))
		return err
	}
	defer r.Close()

	name := path.Base(strings.ReplaceAll(m.Path, `\`, "/"))
	s.log.Printf("sending file: %s (%s)", m.Path, progress.FormatBytes(info.Size))

	if err := setWriteDeadline(ctx, s.conn, s.cfg.HandshakeTimeout.Duration); err != nil {
		return err
	}
	if err := wire.WriteSend(s.conn, wire.Send{Filename: name, Size: info.Size}); err != nil {
		return err
	}

	opts := CopyOptions{WriteTimeout: s.cfg.WriteTimeout.Duration}
	if info.Size >= ProgressThreshold {
		opts.Progress = progress.NewLog(s.log, "sending "+name, info.Size)
	}
	if _, err := Copy(ctx, s.conn, r, info.Size, opts); err != nil {
		return err
	}
	s.log.Printf("file sent successfully: %s", m.Path)
	return nil
}

func (s *session) receive(ctx context.Context, fsys protocols.FileSystem, m wire.Send) error {
	limit := int64(s.cfg.MaxFileSize)
	if m.Size > limit {
		return &SizeLimitError{Size: m.Size, Limit: limit}
	}

	name, err := pathsafe.SanitizeFilename(m.Filename)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(fsys.Root()); err != nil {
		return fmt.Errorf("failed to create %s: %w", fsys.Root(), err)
	}
	exists := func(p string) bool { return protocols.Exists(fsys, p) }
	final := pathsafe.UniqueDestination(fsys.Join(name), s.cfg.AllowOverwrite, exists)
	tmp := UploadTempPath(final, s.id)

	s.log.Printf("receiving file: %s (%s)", m.Filename, progress.FormatBytes(m.Size))
	s.log.Printf("saving to: %s", final)

	s.active.Add(tmp)
	defer s.active.Remove(tmp)

	if err := s.receiveInto(ctx, fsys, tmp, m.Size); err != nil {
		return discard(fsys, tmp, err)
	}
	if err := finalize(fsys, tmp, final, s.cfg.AllowOverwrite); err != nil {
		return discard(fsys, tmp, err)
	}

	s.log.Printf("file received successfully: %s", path.Base(strings.ReplaceAll(final, `\`, "/")))
	return nil
}

func (s *session) receiveInto(ctx context.Context, fsys protocols.FileSystem, tmp string, size int64) error {
	w, err := fsys.Create(tmp)
	if err != nil {
		return err
	}

	opts := CopyOptions{ReadTimeout: s.cfg.IdleTimeout.Duration}
	if size >= ProgressThreshold {
		opts.Progress = progress.NewLog(s.log, "receiving "+path.Base(tmp), size)
	}
	_, err = Copy(ctx, w, s.conn, size, opts)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

// finalize moves tmp over final. Where the backend renames over an existing
// file atomically the old file is never removed first. A directory at final
// is never replaced.
func finalize(fsys protocols.FileSystem, tmp, final string, allowOverwrite bool) error {
	info, err := fsys.Stat(final)
	exists := err == nil
	if exists && info.IsDir {
		return fmt.Errorf("%w: %s is a directory", ErrAlreadyExists, final)
	}
	if exists && !allowOverwrite {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, final)
	}
	err = fsys.Rename(tmp, final)
	if err == nil || !exists {
		return err
	}
	// without the source a retry cannot succeed, so keep what is at final
	if errors.Is(err, fs.ErrNotExist) || !protocols.Exists(fsys, tmp) {
		return err
	}
	if rmErr := fsys.Remove(final); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return multierror.Append(err, rmErr)
	}
	return fsys.Rename(tmp, final)
}

// discard removes a temporary file after a failed transfer and returns the
// original error, joined with the removal error if that failed too.
func discard(fsys protocols.FileSystem, tmp string, err error) error {
	if rmErr := fsys.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return multierror.Append(err, fmt.Errorf("failed to remove %s: %w", tmp, rmErr))
	}
	return err
}

// Describe renders a per-connection or per-operation failure for humans.
func Describe(err error) string {
	var (
		incomplete *TransferIncompleteError
		stall      *StallError
		sizeErr    *SizeLimitError
		protoErr   *wire.ProtocolError
		remote     *RemoteError
		opErr      *net.OpError
	)
	switch {
	case errors.As(err, &remote):
		return remote.Message
	case errors.As(err, &stall):
		return "transfer interrupted - peer stopped responding"
	case errors.Is(err, context.Canceled):
		return "transfer cancelled"
	case errors.As(err, &incomplete):
		return fmt.Sprintf("transfer interrupted - connection lost (%s of %s received)",
			progress.FormatBytes(incomplete.Received), progress.FormatBytes(incomplete.Expected))
	case errors.As(err, &sizeErr):
		return sizeErr.Error()
	case errors.As(err, &protoErr):
		return protoErr.Error()
	case errors.Is(err, os.ErrDeadlineExceeded):
		return "timed out waiting for peer"
	case errors.As(err, &opErr), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Sprintf("connection lost - network error: %v", err)
	default:
		return err.Error()
	}
}
