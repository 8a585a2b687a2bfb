// Package ipctest runs a fake companion app on a real unix socket.
package ipctest

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/presencectl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

const waitTimeout = 2 * time.Second

// Server listens on <Dir>/discord-ipc-<index>.
type Server struct {
	Dir  string
	Path string

	ln    net.Listener
	conns chan net.Conn
}

// NewServer listens in a fresh short temp dir so socket paths stay below the OS limit.
func NewServer(t *testing.T, index int) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "pipc")
	if err != nil {
		t.Fatalf("ipctest: mkdir: %v", err)
	}
	s := listen(t, dir, index)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return s
}

// NewServerIn listens in an existing dir.
func NewServerIn(t *testing.T, dir string, index int) *Server {
	t.Helper()
	return listen(t, dir, index)
}

func listen(t *testing.T, dir string, index int) *Server {
	t.Helper()
	path := filepath.Join(dir, "discord-ipc-"+strconv.Itoa(index))
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("ipctest: listen %s: %v", path, err)
	}
	s := &Server{Dir: dir, Path: path, ln: ln, conns: make(chan net.Conn, 4)}
	go s.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.conns <- conn
	}
}

// Accept waits for the next client connection.
func (s *Server) Accept(t *testing.T) *Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return &Conn{t: t, conn: conn}
	case <-time.After(waitTimeout):
		t.Fatalf("ipctest: no client connected to %s", s.Path)
	}
	return nil
}

// Conn is the companion app side of one client connection.
type Conn struct {
	t    *testing.T
	conn net.Conn
}

// ReadFrame waits for the next frame from the client.
func (c *Conn) ReadFrame() frame.Frame {
	c.t.Helper()
	f, err := c.TryReadFrame(waitTimeout)
	if err != nil {
		c.t.Fatalf("ipctest: read frame: %v", err)
	}
	return f
}

// TryReadFrame returns the next frame or the read error, including timeouts.
func (c *Conn) TryReadFrame(timeout time.Duration) (frame.Frame, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	f, err := frame.ReadFrame(c.conn, frame.DefaultLimits())
	if err == nil {
		log.Debug().Msgf("ipctest.Conn recv opcode=%s payload=%s", f.Opcode, f.Payload)
	}
	return f, err
}

// ReadMessage reads the next frame, requires a MESSAGE opcode and decodes its body.
func (c *Conn) ReadMessage() map[string]any {
	c.t.Helper()
	f := c.ReadFrame()
	if f.Opcode != frame.OpMessage {
		c.t.Fatalf("ipctest: expected message frame, got %s", f.Opcode)
	}
	var body map[string]any
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		c.t.Fatalf("ipctest: decode message: %v", err)
	}
	return body
}

// ExpectQuiet fails if the client sends a frame within d.
func (c *Conn) ExpectQuiet(d time.Duration) {
	c.t.Helper()
	f, err := c.TryReadFrame(d)
	if err == nil {
		c.t.Fatalf("ipctest: expected no frame, got %s %s", f.Opcode, f.Payload)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		c.t.Fatalf("ipctest: expected quiet socket, got %v", err)
	}
}

// ExpectEOF waits for the client to close its side.
func (c *Conn) ExpectEOF() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	buf := make([]byte, 64)
	for {
		_, err := c.conn.Read(buf)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.t.Fatalf("ipctest: client did not close the connection")
		}
		return
	}
}

func (c *Conn) Send(op frame.Opcode, payload []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(frame.Encode(op, payload)); err != nil {
		c.t.Fatalf("ipctest: send %s: %v", op, err)
	}
}

func (c *Conn) SendRaw(b []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("ipctest: send raw: %v", err)
	}
}

func (c *Conn) SendJSON(op frame.Opcode, v any) {
	c.t.Helper()
	b, err := frame.EncodeJSON(op, v)
	if err != nil {
		c.t.Fatalf("ipctest: encode %s: %v", op, err)
	}
	c.SendRaw(b)
}

// SendEvent sends a MESSAGE frame carrying one dispatched event.
func (c *Conn) SendEvent(evt string, data any) {
	c.t.Helper()
	c.SendJSON(frame.OpMessage, map[string]any{
		"cmd":  "DISPATCH",
		"evt":  evt,
		"data": data,
	})
}

// SendReady sends the READY event the companion app emits after a valid handshake.
func (c *Conn) SendReady() {
	c.t.Helper()
	c.SendEvent("READY", map[string]any{
		"v": 1,
		"user": map[string]any{
			"id":            "123456789",
			"username":      "tester",
			"discriminator": "0001",
		},
	})
}

func (c *Conn) Close() {
	_ = c.conn.Close()
}
