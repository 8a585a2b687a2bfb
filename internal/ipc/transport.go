package ipc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("ipc: transport closed")

// Transport is one connected socket to the companion app.
type Transport interface {
	// Write sends p with a single write call.
	Write(p []byte) error
	// TryRead reads up to len(p) bytes without waiting past the poll timeout.
	// A quiet socket returns 0, nil.
	TryRead(p []byte) (int, error)
	// ReadFull fills p, bounded by the read timeout.
	ReadFull(p []byte) error
	// Alive reports false once the peer hung up or Close was called.
	Alive() bool
	Close() error
}

// Dialer opens a Transport to one socket path.
type Dialer interface {
	Dial(ctx context.Context, path string) (Transport, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context, path string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, path string) (Transport, error) {
	return f(ctx, path)
}

// Timeouts bound each socket operation.
type Timeouts struct {
	Dial  time.Duration
	Poll  time.Duration
	Read  time.Duration
	Write time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Dial:  time.Second,
		Poll:  time.Millisecond,
		Read:  2 * time.Second,
		Write: 2 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Dial <= 0 {
		t.Dial = d.Dial
	}
	if t.Poll <= 0 {
		t.Poll = d.Poll
	}
	if t.Read <= 0 {
		t.Read = d.Read
	}
	if t.Write <= 0 {
		t.Write = d.Write
	}
	return t
}

// UnixDialer dials unix domain sockets.
type UnixDialer struct {
	Timeouts Timeouts
}

func (d UnixDialer) Dial(ctx context.Context, path string) (Transport, error) {
	timeouts := d.Timeouts.withDefaults()
	dialer := net.Dialer{Timeout: timeouts.Dial}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return NewConnTransport(conn, timeouts), nil
}

// ConnTransport adapts a net.Conn into a Transport using per-call deadlines.
type ConnTransport struct {
	conn     net.Conn
	timeouts Timeouts

	readMu  sync.Mutex
	writeMu sync.Mutex
	alive   atomic.Bool
	closeMu sync.Once
}

func NewConnTransport(conn net.Conn, timeouts Timeouts) *ConnTransport {
	t := &ConnTransport{conn: conn, timeouts: timeouts.withDefaults()}
	t.alive.Store(true)
	return t
}

func (t *ConnTransport) Write(p []byte) error {
	if !t.alive.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeouts.Write)); err != nil {
		t.markDead(err)
		return err
	}
	n, err := t.conn.Write(p)
	if err != nil {
		t.markDead(err)
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func (t *ConnTransport) TryRead(p []byte) (int, error) {
	if !t.alive.Load() {
		return 0, ErrClosed
	}
	t.readMu.Lock()
	defer t.readMu.Unlock()
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeouts.Poll)); err != nil {
		t.markDead(err)
		return 0, err
	}
	n, err := t.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil || isTimeout(err) {
		return 0, nil
	}
	t.markDead(err)
	return 0, err
}

func (t *ConnTransport) ReadFull(p []byte) error {
	if !t.alive.Load() {
		return ErrClosed
	}
	t.readMu.Lock()
	defer t.readMu.Unlock()
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeouts.Read)); err != nil {
		t.markDead(err)
		return err
	}
	if _, err := io.ReadFull(t.conn, p); err != nil {
		t.markDead(err)
		return err
	}
	return nil
}

func (t *ConnTransport) Alive() bool {
	return t.alive.Load()
}

func (t *ConnTransport) Close() error {
	var err error
	t.closeMu.Do(func() {
		t.alive.Store(false)
		err = t.conn.Close()
	})
	return err
}

// markDead flags the transport unusable. A timed out write or full read leaves the stream
// mid-frame, so only a quiet poll is exempt.
func (t *ConnTransport) markDead(error) {
	t.alive.Store(false)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
