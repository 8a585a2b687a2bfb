package rpc

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/presencectl/internal/ipc"
	"github.com/danmuck/presencectl/internal/observability"
	"github.com/danmuck/presencectl/internal/presence"
	"github.com/danmuck/presencectl/internal/protocol/frame"
	"github.com/danmuck/presencectl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Options configures a Client.
type Options struct {
	Config session.Config
	// Dialer opens endpoints. A nil Dialer makes Connect fail with ErrSocketUnavailable.
	Dialer ipc.Dialer
	// Endpoints are dialed in order; defaults to ipc.DefaultEndpoints.
	Endpoints []string
	PID       int

	dialerSet bool
}

type Option func(*Options)

func WithConfig(cfg session.Config) Option {
	return func(o *Options) { o.Config = cfg }
}

func WithDialer(d ipc.Dialer) Option {
	return func(o *Options) {
		o.Dialer = d
		o.dialerSet = true
	}
}

func WithEndpoints(paths ...string) Option {
	return func(o *Options) { o.Endpoints = append([]string(nil), paths...) }
}

// WithEndpointDir dials dir/discord-ipc-0..9 instead of the resolved temp dir.
func WithEndpointDir(dir string) Option {
	return func(o *Options) { o.Endpoints = ipc.Endpoints(dir) }
}

func WithPID(pid int) Option {
	return func(o *Options) { o.PID = pid }
}

// Status is a point-in-time view of a Client.
type Status struct {
	State           State
	AppID           string
	Endpoint        string
	User            *presence.User
	ConnectedAt     time.Time
	PresencePending bool
}

// Client is one rich-presence connection to the local companion app.
type Client struct {
	appID     string
	pid       int
	cfg       session.Config
	dialer    ipc.Dialer
	endpoints []string
	pending   *session.Mailbox[presence.Activity]

	mu         sync.Mutex
	state      State
	connecting bool
	link       *link
	user       *presence.User
	handlers   Handlers
	delegate   Delegate
}

// link is the state owned by one live transport.
type link struct {
	transport   ipc.Transport
	endpoint    string
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	sendMu        sync.Mutex
	schedulerOnce sync.Once
}

func New(appID string, opts ...Option) (*Client, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, ErrAppIDRequired
	}
	o := Options{
		Config: session.DefaultConfig(),
		PID:    os.Getpid(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !o.dialerSet {
		o.Dialer = ipc.UnixDialer{Timeouts: ipc.Timeouts{
			Dial:  cfg.DialTimeout,
			Poll:  cfg.PollTimeout,
			Read:  cfg.ReadTimeout,
			Write: cfg.WriteTimeout,
		}}
	}
	if len(o.Endpoints) == 0 {
		o.Endpoints = ipc.DefaultEndpoints()
	}
	return &Client{
		appID:     appID,
		pid:       o.PID,
		cfg:       cfg,
		dialer:    o.Dialer,
		endpoints: o.Endpoints,
		pending:   session.NewMailbox[presence.Activity](),
		state:     StateDisconnected,
	}, nil
}

func (c *Client) AppID() string { return c.appID }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:           c.state,
		AppID:           c.appID,
		PresencePending: c.pending.Pending(),
	}
	if c.user != nil {
		u := *c.user
		st.User = &u
	}
	if c.link != nil {
		st.Endpoint = c.link.endpoint
		st.ConnectedAt = c.link.connectedAt
	}
	return st
}

// Connect dials the candidate endpoints in order, performs the handshake and
// subscribes to the social events. ctx bounds discovery only; the connection
// lives until Disconnect, a CLOSE frame or a dead transport.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.link != nil || c.connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.dialer == nil {
		c.mu.Unlock()
		log.Error().Msgf("rpc.Client connect app_id=%s err=%v", c.appID, ErrSocketUnavailable)
		return ErrSocketUnavailable
	}
	c.connecting = true
	c.state = StateDiscovering
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	transport, endpoint, attempts, err := c.discover(ctx)
	if err != nil {
		c.setState(StateFailed)
		log.Warn().Msgf("rpc.Client discovery failed app_id=%s endpoints=%d err=%v", c.appID, len(c.endpoints), err)
		return err
	}
	c.setState(StateHandshaking)

	linkCtx, cancel := context.WithCancel(context.Background())
	l := &link{
		transport:   transport,
		endpoint:    endpoint,
		connectedAt: time.Now().UTC(),
		ctx:         linkCtx,
		cancel:      cancel,
	}

	hs, err := session.EncodeHandshakeFrame(c.appID)
	if err == nil {
		err = c.send(l, frame.OpHandshake, hs)
	}
	if err != nil {
		cancel()
		_ = transport.Close()
		c.setState(StateDisconnected)
		log.Error().Msgf("rpc.Client handshake failed endpoint=%s err=%v", endpoint, err)
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	c.mu.Lock()
	c.link = l
	c.user = nil
	c.mu.Unlock()

	go c.receiveLoop(l)

	for _, evt := range session.SubscribedEvents {
		payload, err := session.EncodeSubscribeFrame(evt, session.NewNonce())
		if err != nil {
			log.Error().Msgf("rpc.Client subscribe encode evt=%s err=%v", evt, err)
			continue
		}
		if err := c.send(l, frame.OpMessage, payload); err != nil {
			log.Warn().Msgf("rpc.Client subscribe send evt=%s err=%v", evt, err)
		}
	}

	c.mu.Lock()
	if c.link == l {
		c.state = StateReady
	}
	c.mu.Unlock()
	log.Info().Msgf("rpc.Client connected app_id=%s endpoint=%s attempts=%d", c.appID, endpoint, attempts)
	return nil
}

func (c *Client) discover(ctx context.Context) (ipc.Transport, string, int, error) {
	for i, path := range c.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, "", i, err
		}
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		transport, err := c.dialer.Dial(dialCtx, path)
		cancel()
		if err != nil {
			observability.RecordConnectAttempt("failed")
			log.Debug().Msgf("rpc.Client dial attempt=%d path=%q err=%v", i+1, path, err)
			continue
		}
		observability.RecordConnectAttempt("connected")
		return transport, path, i + 1, nil
	}
	return nil, "", len(c.endpoints), fmt.Errorf("%w: tried %d endpoints", ErrDiscordNotDetected, len(c.endpoints))
}

// Disconnect closes the live connection and notifies the disconnect sinks with
// code 0. It returns false and does nothing when no transport is held.
func (c *Client) Disconnect() bool {
	l := c.currentLink()
	if l == nil {
		log.Info().Msgf("rpc.Client disconnect skipped app_id=%s: already disconnected", c.appID)
		return false
	}
	return c.teardown(l, DisconnectReason{HasCode: true}, StateClosed)
}

// SetPresence replaces the pending presence. The scheduler sends it on its next tick.
func (c *Client) SetPresence(doc presence.Activity) {
	c.pending.Store(doc.Clone())
}

// ClearPresence drops an unsent presence and reports whether one was pending.
func (c *Client) ClearPresence() bool {
	return c.pending.Clear()
}

// PendingPresence returns the presence waiting for the next flush.
func (c *Client) PendingPresence() (presence.Activity, bool) {
	doc, ok := c.pending.Peek()
	if !ok {
		return presence.Activity{}, false
	}
	return doc.Clone(), true
}

// Reply answers a join request. Failures are logged, never returned.
func (c *Client) Reply(req presence.JoinRequest, reply presence.JoinReply) {
	l := c.currentLink()
	if l == nil {
		log.Warn().Msgf("rpc.Client reply dropped user_id=%s reply=%s: not connected", req.UserID, reply)
		return
	}
	payload, err := session.EncodeJoinReplyFrame(req, reply, session.NewNonce())
	if err != nil {
		log.Warn().Msgf("rpc.Client reply encode user_id=%s err=%v", req.UserID, err)
		return
	}
	if err := c.send(l, frame.OpMessage, payload); err != nil {
		log.Warn().Msgf("rpc.Client reply send user_id=%s err=%v", req.UserID, err)
		return
	}
	log.Debug().Msgf("rpc.Client reply sent user_id=%s reply=%s", req.UserID, reply)
}

func (c *Client) currentLink() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// send writes one whole frame under the link's send lock.
func (c *Client) send(l *link, op frame.Opcode, payload []byte) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if err := l.ctx.Err(); err != nil {
		return ipc.ErrClosed
	}
	if err := l.transport.Write(payload); err != nil {
		return err
	}
	observability.RecordFrameSent(op.String())
	return nil
}

// teardown ends l exactly once. Later callers for the same link get false.
func (c *Client) teardown(l *link, reason DisconnectReason, final State) bool {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return false
	}
	c.link = nil
	c.user = nil
	c.state = final
	c.mu.Unlock()

	l.cancel()
	l.sendMu.Lock()
	_ = l.transport.Close()
	l.sendMu.Unlock()

	log.Info().Msgf("rpc.Client disconnected endpoint=%s code=%d has_code=%t message=%q",
		l.endpoint, reason.Code, reason.HasCode, reason.Message)
	for _, sink := range c.sinks() {
		sink.Disconnected(c, reason)
	}
	return true
}
