package tunnel

import (
	"net"
	"os"
	"sync"
	"time"
)

// deadlineConn emulates deadlines on a conn that does not support them,
// such as an SSH channel. An expired deadline closes the underlying conn, so
// unlike net.Conn deadlines it is not recoverable.
type deadlineConn struct {
	net.Conn

	mu    sync.Mutex
	read  deadlineTimer
	write deadlineTimer
}

type deadlineTimer struct {
	timer   *time.Timer
	gen     uint64
	expired bool
}

func newDeadlineConn(conn net.Conn) *deadlineConn {
	return &deadlineConn{Conn: conn}
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.expired(&c.read) {
		return 0, os.ErrDeadlineExceeded
	}
	n, err := c.Conn.Read(b)
	if err != nil && c.expired(&c.read) {
		err = os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.expired(&c.write) {
		return 0, os.ErrDeadlineExceeded
	}
	n, err := c.Conn.Write(b)
	if err != nil && c.expired(&c.write) {
		err = os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *deadlineConn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)
	return c.SetWriteDeadline(t)
}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	c.set(&c.read, t)
	return nil
}

func (c *deadlineConn) SetWriteDeadline(t time.Time) error {
	c.set(&c.write, t)
	return nil
}

func (c *deadlineConn) expired(d *deadlineTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return d.expired
}

func (c *deadlineConn) set(d *deadlineTimer, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	if d.expired {
		// the conn is already closed
		return
	}
	if t.IsZero() {
		return
	}

	wait := time.Until(t)
	if wait <= 0 {
		d.expired = true
		c.Conn.Close()
		return
	}
	gen := d.gen
	d.timer = time.AfterFunc(wait, func() {
		c.mu.Lock()
		if d.gen != gen {
			c.mu.Unlock()
			return
		}
		d.expired = true
		c.mu.Unlock()
		c.Conn.Close()
	})
}
