package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sxfer/progress"
)

var (
	ErrNotFound          = errors.New("file not found")
	ErrAlreadyExists     = errors.New("file already exists")
	ErrSizeLimitExceeded = errors.New("file too large")
	ErrStallTimeout      = errors.New("peer stopped responding")
	// ErrNoServer means the port accepted the connection but nothing answered,
	// which is what a forwarded port without a server behind it looks like.
	ErrNoServer = errors.New("no server answered")
)

// TransferIncompleteError is returned when the data phase ended before the
// announced number of bytes was transferred.
type TransferIncompleteError struct {
	Received int64
	Expected int64
	Err      error // read error that ended the transfer, nil on a clean EOF
}

func (e *TransferIncompleteError) Error() string {
	msg := fmt.Sprintf("transfer incomplete - received %d of %d bytes", e.Received, e.Expected)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferIncompleteError) Unwrap() error { return e.Err }

// SizeLimitError reports a payload larger than the configured maximum.
type SizeLimitError struct {
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("File too large: %s (max: %s)", progress.FormatBytes(e.Size), progress.FormatBytes(e.Limit))
}

func (e *SizeLimitError) Is(target error) bool { return target == ErrSizeLimitExceeded }

// StallError reports a single read or write that did not complete in time.
// It counts as a cancellation: errors.Is(err, context.DeadlineExceeded) holds.
type StallError struct {
	Op      string // "read" or "write"
	Timeout time.Duration
	Err     error
}

func (e *StallError) Error() string {
	return fmt.Sprintf("peer stopped responding: %s blocked for more than %s", e.Op, e.Timeout)
}

func (e *StallError) Unwrap() error { return e.Err }

func (e *StallError) Is(target error) bool {
	return target == ErrStallTimeout || target == context.DeadlineExceeded
}

// RemoteError carries the message of an Error response from the server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
