package core

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"regexp"
	"time"
)

const (
	// ChunkSize is the unit of every read and write in the data phase.
	ChunkSize = 8 << 10
	// ProgressThreshold is the payload size below which progress is not reported.
	ProgressThreshold = 100 << 10
	// TempSuffix marks a destination that is still being written.
	TempSuffix = ".tmp"
)

// uploadTempPattern matches the names UploadTempPath produces.
var uploadTempPattern = regexp.MustCompile(`\.[0-9a-f]{8}\.tmp$`)

// UploadTempPath names the file a connection writes an upload to before it
// is moved to final. connID is 8 lowercase hex digits, so uploads of one name
// over different connections never share a temporary file.
func UploadTempPath(final, connID string) string {
	return final + "." + connID + TempSuffix
}

// IsUploadTemp reports whether name looks like a temporary upload file
// rather than a file that merely ends in .tmp.
func IsUploadTemp(name string) bool {
	return uploadTempPattern.MatchString(name)
}

// ProgressFunc receives the running byte count after every chunk.
type ProgressFunc func(transferred int64)

type CopyOptions struct {
	Progress ProgressFunc
	// WriteTimeout bounds each write to dst when dst supports write
	// deadlines. A write that does not finish in time aborts the copy.
	WriteTimeout time.Duration
	// ReadTimeout bounds each read from src when src supports read deadlines.
	ReadTimeout time.Duration
}

// Copy moves exactly expected bytes from src to dst, one chunk at a time.
// It stops early only on EOF, an error or ctx being done; stopping short of
// expected yields a *TransferIncompleteError.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, expected int64, opts CopyOptions) (int64, error) {
	var (
		buf   = make([]byte, ChunkSize)
		total int64
		wd    = newDeadline(dst, "write", opts.WriteTimeout)
		rd    = newDeadline(src, "read", opts.ReadTimeout)
	)
	defer func() {
		if ctx.Err() == nil {
			wd.clear()
			rd.clear()
		}
	}()

	for total < expected {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n := int64(len(buf))
		if rem := expected - total; rem < n {
			n = rem
		}

		if err := rd.arm(ctx); err != nil {
			return total, err
		}
		r, rerr := src.Read(buf[:n])
		if r > 0 {
			if err := wd.arm(ctx); err != nil {
				return total, err
			}
			w, werr := dst.Write(buf[:r])
			total += int64(w)
			if werr == nil && w < r {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return total, wd.classify(ctx, werr)
			}
			if opts.Progress != nil {
				opts.Progress(total)
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			err := rd.classify(ctx, rerr)
			var stall *StallError
			if ctx.Err() != nil || errors.As(err, &stall) {
				return total, err
			}
			return total, &TransferIncompleteError{Received: total, Expected: expected, Err: rerr}
		}
	}

	if total < expected {
		return total, &TransferIncompleteError{Received: total, Expected: expected}
	}
	return total, nil
}

// deadline arms a per-operation deadline on a reader or writer that supports
// one. A nil *deadline does nothing.
type deadline struct {
	op      string
	timeout time.Duration
	set     func(time.Time) error
}

func newDeadline(v any, op string, timeout time.Duration) *deadline {
	if timeout <= 0 {
		return nil
	}
	d := &deadline{op: op, timeout: timeout}
	switch op {
	case "write":
		if w, ok := v.(interface{ SetWriteDeadline(time.Time) error }); ok {
			d.set = w.SetWriteDeadline
		}
	case "read":
		if r, ok := v.(interface{ SetReadDeadline(time.Time) error }); ok {
			d.set = r.SetReadDeadline
		}
	}
	if d.set == nil {
		return nil
	}
	return d
}

// arm sets the deadline, never later than ctx's own, then re-checks ctx so
// a cancellation that raced with the call is not overwritten.
func (d *deadline) arm(ctx context.Context) error {
	if d == nil || d.set == nil {
		return ctx.Err()
	}
	t := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(t) {
		t = dl
	}
	if err := d.set(t); err != nil {
		// regular files report os.ErrNoDeadline
		d.set = nil
	}
	return ctx.Err()
}

func (d *deadline) clear() {
	if d != nil && d.set != nil {
		d.set(time.Time{})
	}
}

func (d *deadline) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if d != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return &StallError{Op: d.op, Timeout: d.timeout, Err: err}
	}
	return err
}

// bindContext interrupts blocked I/O on conn once ctx is done by moving its
// deadline into the past. The returned stop reports whether it prevented that.
func bindContext(ctx context.Context, conn net.Conn) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
}

// setReadDeadline sets a read deadline d from now, or clears it for d <= 0,
// and reports a cancellation of ctx that happened meanwhile.
func setReadDeadline(ctx context.Context, conn net.Conn, d time.Duration) error {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	conn.SetReadDeadline(t)
	return ctx.Err()
}

func setWriteDeadline(ctx context.Context, conn net.Conn, d time.Duration) error {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	conn.SetWriteDeadline(t)
	return ctx.Err()
}
