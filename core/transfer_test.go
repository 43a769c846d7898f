package core

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyExact(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 2000)
	src := bytes.NewReader(append(payload, "trailing"...))
	var dst bytes.Buffer
	var seen []int64

	n, err := Copy(context.Background(), &dst, src, int64(len(payload)), CopyOptions{
		Progress: func(transferred int64) { seen = append(seen, transferred) },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, dst.Bytes())
	// bytes after the announced size stay unread
	assert.Equal(t, len("trailing"), src.Len())

	require.NotEmpty(t, seen)
	assert.Equal(t, int64(len(payload)), seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
		assert.LessOrEqual(t, seen[i]-seen[i-1], int64(ChunkSize))
	}
}

func TestCopyZeroBytes(t *testing.T) {
	var dst bytes.Buffer
	n, err := Copy(context.Background(), &dst, strings.NewReader("ignored"), 0, CopyOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, dst.Len())
}

func TestCopyIncomplete(t *testing.T) {
	var dst bytes.Buffer
	n, err := Copy(context.Background(), &dst, strings.NewReader("short"), 100, CopyOptions{})

	var incomplete *TransferIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, int64(5), incomplete.Received)
	assert.Equal(t, int64(100), incomplete.Expected)
	assert.Contains(t, err.Error(), "5 of 100")
}

func TestCopyWriteStall(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	start := time.Now()
	_, err := Copy(context.Background(), a, bytes.NewReader(make([]byte, 1024)), 1024, CopyOptions{
		WriteTimeout: 50 * time.Millisecond,
	})

	var stall *StallError
	require.ErrorAs(t, err, &stall)
	assert.Equal(t, "write", stall.Op)
	assert.ErrorIs(t, err, ErrStallTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCopyReadStall(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	var dst bytes.Buffer
	_, err := Copy(context.Background(), &dst, a, 10, CopyOptions{ReadTimeout: 50 * time.Millisecond})

	var stall *StallError
	require.ErrorAs(t, err, &stall)
	assert.Equal(t, "read", stall.Op)
}

func TestCopyPeerClosed(t *testing.T) {
	a, b := net.Pipe()
	go func() {
		b.Write([]byte("abc"))
		b.Close()
	}()
	defer a.Close()

	var dst bytes.Buffer
	_, err := Copy(context.Background(), &dst, a, 10, CopyOptions{})

	var incomplete *TransferIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, int64(3), incomplete.Received)
}

func TestCopyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	n, err := Copy(ctx, &dst, strings.NewReader("data"), 4, CopyOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestCopyCancelInterruptsBlockedRead(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stop := bindContext(ctx, a)
	defer stop()
	time.AfterFunc(50*time.Millisecond, cancel)

	var dst bytes.Buffer
	_, err := Copy(ctx, &dst, a, 10, CopyOptions{})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
