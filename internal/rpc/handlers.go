package rpc

import "github.com/danmuck/presencectl/internal/presence"

// DisconnectReason describes why a connection ended. HasCode is false when the
// transport died without a CLOSE frame or the CLOSE body could not be read.
type DisconnectReason struct {
	Code    int
	Message string
	HasCode bool
}

// Delegate receives every lifecycle and social event of a Client.
type Delegate interface {
	Connected(c *Client)
	Disconnected(c *Client, reason DisconnectReason)
	Error(c *Client, code int, message string)
	JoinGame(c *Client, secret string)
	SpectateGame(c *Client, secret string)
	JoinRequest(c *Client, req presence.JoinRequest, secret string)
}

// NopDelegate ignores every event. Embed it to implement only some callbacks.
type NopDelegate struct{}

func (NopDelegate) Connected(*Client)                                 {}
func (NopDelegate) Disconnected(*Client, DisconnectReason)            {}
func (NopDelegate) Error(*Client, int, string)                        {}
func (NopDelegate) JoinGame(*Client, string)                          {}
func (NopDelegate) SpectateGame(*Client, string)                      {}
func (NopDelegate) JoinRequest(*Client, presence.JoinRequest, string) {}

// Handlers holds optional per-event closures. Unset fields are skipped.
type Handlers struct {
	OnConnect      func(c *Client)
	OnDisconnect   func(c *Client, reason DisconnectReason)
	OnError        func(c *Client, code int, message string)
	OnJoinGame     func(c *Client, secret string)
	OnSpectateGame func(c *Client, secret string)
	OnJoinRequest  func(c *Client, req presence.JoinRequest, secret string)
}

func (h Handlers) Connected(c *Client) {
	if h.OnConnect != nil {
		h.OnConnect(c)
	}
}

func (h Handlers) Disconnected(c *Client, reason DisconnectReason) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(c, reason)
	}
}

func (h Handlers) Error(c *Client, code int, message string) {
	if h.OnError != nil {
		h.OnError(c, code, message)
	}
}

func (h Handlers) JoinGame(c *Client, secret string) {
	if h.OnJoinGame != nil {
		h.OnJoinGame(c, secret)
	}
}

func (h Handlers) SpectateGame(c *Client, secret string) {
	if h.OnSpectateGame != nil {
		h.OnSpectateGame(c, secret)
	}
}

func (h Handlers) JoinRequest(c *Client, req presence.JoinRequest, secret string) {
	if h.OnJoinRequest != nil {
		h.OnJoinRequest(c, req, secret)
	}
}

func (c *Client) OnConnect(fn func(c *Client)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.OnConnect = fn
}

func (c *Client) OnDisconnect(fn func(c *Client, reason DisconnectReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.OnDisconnect = fn
}

func (c *Client) OnError(fn func(c *Client, code int, message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.OnError = fn
}

func (c *Client) OnJoinGame(fn func(c *Client, secret string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.OnJoinGame = fn
}

func (c *Client) OnSpectateGame(fn func(c *Client, secret string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.OnSpectateGame = fn
}

func (c *Client) OnJoinRequest(fn func(c *Client, req presence.JoinRequest, secret string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.OnJoinRequest = fn
}

// SetDelegate installs d after the closure handlers in dispatch order. Nil removes it.
func (c *Client) SetDelegate(d Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = d
}

// sinks snapshots the dispatch targets: closure handlers first, then the delegate.
func (c *Client) sinks() []Delegate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []Delegate{c.handlers}
	if c.delegate != nil {
		out = append(out, c.delegate)
	}
	return out
}

var (
	_ Delegate = Handlers{}
	_ Delegate = NopDelegate{}
)
