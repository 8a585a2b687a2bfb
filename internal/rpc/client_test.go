package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/presencectl/internal/ipc"
	"github.com/danmuck/presencectl/internal/presence"
	"github.com/danmuck/presencectl/internal/protocol/frame"
	"github.com/danmuck/presencectl/internal/protocol/session"
	"github.com/danmuck/presencectl/internal/testutil/ipctest"
	"github.com/danmuck/presencectl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

const testAppID = "1234567890"

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.PresenceInterval = 40 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func recv[T any](t *testing.T, what string, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

// connectFake connects a client to a fresh fake companion app and drains the
// handshake and subscriptions.
func connectFake(t *testing.T, opts ...Option) (*Client, *ipctest.Conn) {
	t.Helper()
	srv := ipctest.NewServer(t, 0)
	base := []Option{WithConfig(testConfig()), WithEndpointDir(srv.Dir)}
	c, err := New(testAppID, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })

	conn := srv.Accept(t)
	if hs := conn.ReadFrame(); hs.Opcode != frame.OpHandshake {
		t.Fatalf("expected handshake first, got %s", hs.Opcode)
	}
	for range session.SubscribedEvents {
		conn.ReadMessage()
	}
	return c, conn
}

type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	onWrite  func()
	closed   bool
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	hook := f.onWrite
	err := f.writeErr
	if err == nil {
		f.writes = append(f.writes, append([]byte(nil), p...))
	}
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeTransport) TryRead([]byte) (int, error) { return 0, nil }
func (f *fakeTransport) ReadFull([]byte) error       { return ipc.ErrClosed }

func (f *fakeTransport) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestNewRequiresAppID(t *testing.T) {
	testlog.Start(t)
	if _, err := New("  "); !errors.Is(err, ErrAppIDRequired) {
		t.Fatalf("expected ErrAppIDRequired, got %v", err)
	}
}

func TestConnectWithoutDialerReturnsSocketUnavailable(t *testing.T) {
	testlog.Start(t)
	c, err := New(testAppID, WithDialer(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrSocketUnavailable) {
		t.Fatalf("expected ErrSocketUnavailable, got %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("unexpected state: %s", got)
	}
}

func TestConnectTriesEveryEndpointInOrder(t *testing.T) {
	testlog.Start(t)
	var (
		mu    sync.Mutex
		tried []string
	)
	dialer := ipc.DialerFunc(func(_ context.Context, path string) (ipc.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		tried = append(tried, path)
		return nil, errors.New("connection refused")
	})
	c, err := New(testAppID, WithDialer(dialer), WithEndpointDir("/nowhere"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	err = c.Connect(context.Background())
	if !errors.Is(err, ErrDiscordNotDetected) {
		t.Fatalf("expected ErrDiscordNotDetected, got %v", err)
	}
	want := ipc.Endpoints("/nowhere")
	if len(tried) != len(want) {
		t.Fatalf("expected %d dial attempts, got %d", len(want), len(tried))
	}
	for i := range want {
		if tried[i] != want[i] {
			t.Fatalf("attempt %d: got=%q want=%q", i, tried[i], want[i])
		}
	}
	if got := c.State(); got != StateFailed {
		t.Fatalf("unexpected state: %s", got)
	}
	log.Info().Msgf("rpc/discovery: attempts=%d", len(tried))
}

func TestConnectFirstReachableEndpointWins(t *testing.T) {
	testlog.Start(t)
	dir, err := os.MkdirTemp("", "pipc")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	third := ipctest.NewServerIn(t, dir, 3)
	ipctest.NewServerIn(t, dir, 5)

	c, err := New(testAppID, WithConfig(testConfig()), WithEndpointDir(dir))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })

	if got := c.Status().Endpoint; got != third.Path {
		t.Fatalf("connected to %q, want %q", got, third.Path)
	}
	third.Accept(t)
}

func TestHandshakeAndSubscriptionsOnConnect(t *testing.T) {
	testlog.Start(t)
	srv := ipctest.NewServer(t, 0)
	c, err := New(testAppID, WithConfig(testConfig()), WithEndpointDir(srv.Dir))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	conn := srv.Accept(t)

	hs := conn.ReadFrame()
	if hs.Opcode != frame.OpHandshake {
		t.Fatalf("expected handshake opcode, got %s", hs.Opcode)
	}
	var body map[string]any
	if err := json.Unmarshal(hs.Payload, &body); err != nil {
		t.Fatalf("decode handshake: %v", err)
	}
	if body["v"] != float64(1) || body["client_id"] != testAppID || len(body) != 2 {
		t.Fatalf("unexpected handshake body: %v", body)
	}

	for _, want := range []string{"ACTIVITY_JOIN", "ACTIVITY_SPECTATE", "ACTIVITY_JOIN_REQUEST"} {
		msg := conn.ReadMessage()
		if msg["cmd"] != "SUBSCRIBE" || msg["evt"] != want {
			t.Fatalf("expected SUBSCRIBE %s, got %v", want, msg)
		}
		if nonce, _ := msg["nonce"].(string); nonce == "" {
			t.Fatalf("subscribe without nonce: %v", msg)
		}
	}
	if got := c.State(); got != StateReady {
		t.Fatalf("expected ready after subscriptions, got %s", got)
	}
}

func TestConnectWhileConnectedFails(t *testing.T) {
	testlog.Start(t)
	c, _ := connectFake(t)
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestHandshakeFailureClosesTransport(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{writeErr: errors.New("broken pipe")}
	dialer := ipc.DialerFunc(func(context.Context, string) (ipc.Transport, error) {
		return tr, nil
	})
	c, err := New(testAppID, WithDialer(dialer), WithEndpoints("/tmp/discord-ipc-0"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	err = c.Connect(context.Background())
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
	if !tr.isClosed() {
		t.Fatalf("transport left open after failed handshake")
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("unexpected state: %s", got)
	}
	if c.Disconnect() {
		t.Fatalf("disconnect after failed handshake must be a no-op")
	}
}

func TestPingIsEchoedAsPong(t *testing.T) {
	testlog.Start(t)
	_, conn := connectFake(t)

	payload := []byte(`{"nonce":"ping-1"}`)
	conn.Send(frame.OpPing, payload)
	pong := conn.ReadFrame()
	if pong.Opcode != frame.OpPong {
		t.Fatalf("expected pong, got %s", pong.Opcode)
	}
	if string(pong.Payload) != string(payload) {
		t.Fatalf("pong payload mismatch: got=%s want=%s", pong.Payload, payload)
	}
}

func TestCloseFrameTearsDownWithCode(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	reasons := make(chan DisconnectReason, 4)
	c.OnDisconnect(func(_ *Client, r DisconnectReason) { notify(reasons, r) })

	conn.SendJSON(frame.OpClose, map[string]any{"code": 4000, "message": "Invalid Client ID"})

	got := recv(t, "disconnect callback", reasons)
	if !got.HasCode || got.Code != 4000 || got.Message != "Invalid Client ID" {
		t.Fatalf("unexpected reason: %+v", got)
	}
	if st := c.State(); st != StateClosed {
		t.Fatalf("unexpected state: %s", st)
	}
	conn.ExpectEOF()
	if c.Disconnect() {
		t.Fatalf("disconnect after remote close must be a no-op")
	}
	select {
	case extra := <-reasons:
		t.Fatalf("disconnect sinks notified twice: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedCloseStillTearsDown(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	reasons := make(chan DisconnectReason, 4)
	c.OnDisconnect(func(_ *Client, r DisconnectReason) { notify(reasons, r) })

	conn.Send(frame.OpClose, []byte(`{"message":"no code here"}`))

	got := recv(t, "disconnect callback", reasons)
	if got.HasCode {
		t.Fatalf("expected reason without code, got %+v", got)
	}
	conn.ExpectEOF()
}

func TestPeerHangupNotifiesWithoutCode(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	reasons := make(chan DisconnectReason, 4)
	c.OnDisconnect(func(_ *Client, r DisconnectReason) { notify(reasons, r) })

	conn.Close()

	got := recv(t, "disconnect callback", reasons)
	if got.HasCode || got.Message != "" {
		t.Fatalf("expected empty reason, got %+v", got)
	}
	if st := c.State(); st != StateDisconnected {
		t.Fatalf("unexpected state: %s", st)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	var (
		mu    sync.Mutex
		calls []DisconnectReason
	)
	c.OnDisconnect(func(_ *Client, r DisconnectReason) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r)
	})

	if !c.Disconnect() {
		t.Fatalf("first disconnect reported no transport")
	}
	if c.Disconnect() {
		t.Fatalf("second disconnect must be a no-op")
	}
	conn.ExpectEOF()

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one disconnect callback, got %d", len(calls))
	}
	if !calls[0].HasCode || calls[0].Code != 0 || calls[0].Message != "" {
		t.Fatalf("unexpected local disconnect reason: %+v", calls[0])
	}
	if st := c.State(); st != StateClosed {
		t.Fatalf("unexpected state: %s", st)
	}
}

func TestUnknownEventIgnoredWhileReady(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	errorsSeen := make(chan int, 4)
	c.OnError(func(_ *Client, code int, _ string) { notify(errorsSeen, code) })

	conn.SendEvent("GUILD_STATUS", map[string]any{"guild": "x"})
	conn.SendJSON(frame.OpMessage, map[string]any{"cmd": "SET_ACTIVITY", "data": map[string]any{}, "nonce": "n1"})
	conn.Send(frame.OpPing, []byte(`{}`))

	if pong := conn.ReadFrame(); pong.Opcode != frame.OpPong {
		t.Fatalf("receive loop stalled after unknown event, got %s", pong.Opcode)
	}
	if st := c.State(); st != StateReady {
		t.Fatalf("unknown event changed state to %s", st)
	}
	select {
	case code := <-errorsSeen:
		t.Fatalf("unknown event reached a handler: code=%d", code)
	default:
	}
}

func TestUnknownOpcodeAndEmptyFramesAreDropped(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)

	conn.Send(frame.Opcode(9), []byte(`{"cmd":"FUTURE"}`))
	conn.Send(frame.OpMessage, nil)
	conn.Send(frame.OpPing, []byte(`{"n":1}`))

	pong := conn.ReadFrame()
	if pong.Opcode != frame.OpPong || string(pong.Payload) != `{"n":1}` {
		t.Fatalf("stream desynced after dropped frames: %s %s", pong.Opcode, pong.Payload)
	}
	if st := c.State(); st != StateReady {
		t.Fatalf("dropped frames changed state to %s", st)
	}
}

func TestOversizedFrameTearsDown(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.MaxPayloadBytes = 64
	c, conn := connectFake(t, WithConfig(cfg))
	reasons := make(chan DisconnectReason, 2)
	c.OnDisconnect(func(_ *Client, r DisconnectReason) { notify(reasons, r) })

	conn.Send(frame.OpMessage, make([]byte, 65))
	r := recv(t, "disconnect", reasons)
	if r.HasCode {
		t.Fatalf("oversized frame must tear down without a code, got %+v", r)
	}
	conn.ExpectEOF()
	if st := c.State(); st != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", st)
	}
}

func TestMalformedEventDoesNotStopLoop(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	codes := make(chan int, 4)
	c.OnError(func(_ *Client, code int, _ string) { notify(codes, code) })

	conn.SendEvent("ERROR", map[string]any{"message": "missing code"})
	conn.Send(frame.OpMessage, []byte(`{not json`))
	conn.SendEvent("ERROR", map[string]any{"code": 1000, "message": "boom"})

	if got := recv(t, "error callback", codes); got != 1000 {
		t.Fatalf("expected the well-formed error, got code=%d", got)
	}
	select {
	case extra := <-codes:
		t.Fatalf("malformed event dispatched: code=%d", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

type orderDelegate struct {
	NopDelegate
	order chan string
}

func (d orderDelegate) JoinGame(_ *Client, secret string) {
	notify(d.order, "delegate:"+secret)
}

func TestDispatchOrderHandlersBeforeDelegate(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	order := make(chan string, 4)
	c.OnJoinGame(func(_ *Client, secret string) { notify(order, "handler:"+secret) })
	c.SetDelegate(orderDelegate{order: order})

	conn.SendEvent("ACTIVITY_JOIN", map[string]any{"secret": "s1"})

	first := recv(t, "first sink", order)
	second := recv(t, "second sink", order)
	if first != "handler:s1" || second != "delegate:s1" {
		t.Fatalf("unexpected dispatch order: %q then %q", first, second)
	}
}

func TestJoinRequestAndSpectateDispatch(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	requests := make(chan presence.JoinRequest, 2)
	secrets := make(chan string, 4)
	c.OnJoinRequest(func(_ *Client, req presence.JoinRequest, secret string) {
		notify(requests, req)
		notify(secrets, "join_request:"+secret)
	})
	c.OnSpectateGame(func(_ *Client, secret string) { notify(secrets, "spectate:"+secret) })

	conn.SendEvent("ACTIVITY_JOIN_REQUEST", map[string]any{
		"user": map[string]any{
			"id":            "42",
			"username":      "friend",
			"discriminator": "0007",
			"avatar":        "abc",
		},
		"secret": "party-secret",
	})
	req := recv(t, "join request", requests)
	if req.UserID != "42" || req.Username != "friend" || req.Discriminator != "0007" || req.Avatar != "abc" {
		t.Fatalf("unexpected join request: %+v", req)
	}
	if got := recv(t, "join request secret", secrets); got != "join_request:party-secret" {
		t.Fatalf("unexpected secret: %q", got)
	}

	conn.SendEvent("ACTIVITY_SPECTATE", map[string]any{"secret": "watch"})
	if got := recv(t, "spectate", secrets); got != "spectate:watch" {
		t.Fatalf("unexpected spectate dispatch: %q", got)
	}
}

func TestReadyStartsSchedulerAndDebouncesPresence(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t, WithPID(4242))
	connected := make(chan struct{}, 2)
	c.OnConnect(func(*Client) { notify(connected, struct{}{}) })

	for _, details := range []string{"one", "two", "three"} {
		doc := presence.NewActivity()
		doc.Details = details
		c.SetPresence(doc)
	}
	conn.ExpectQuiet(120 * time.Millisecond)

	conn.SendReady()
	recv(t, "connect callback", connected)
	if user := c.Status().User; user == nil || user.Username != "tester" {
		t.Fatalf("READY user not retained: %+v", user)
	}

	msg := conn.ReadMessage()
	if msg["cmd"] != "SET_ACTIVITY" {
		t.Fatalf("expected SET_ACTIVITY, got %v", msg)
	}
	args, _ := msg["args"].(map[string]any)
	if args["pid"] != float64(4242) {
		t.Fatalf("SET_ACTIVITY pid mismatch: %v", args)
	}
	activity, _ := args["activity"].(map[string]any)
	if activity["details"] != "three" {
		t.Fatalf("expected last stored presence, got %v", activity)
	}
	if nonce, _ := msg["nonce"].(string); nonce == "" {
		t.Fatalf("SET_ACTIVITY without nonce")
	}

	conn.ExpectQuiet(150 * time.Millisecond)
	if c.Status().PresencePending {
		t.Fatalf("presence still pending after flush")
	}

	doc := presence.NewActivity()
	doc.Details = "four"
	c.SetPresence(doc)
	next := conn.ReadMessage()
	args, _ = next["args"].(map[string]any)
	activity, _ = args["activity"].(map[string]any)
	if activity["details"] != "four" {
		t.Fatalf("expected updated presence, got %v", activity)
	}
}

func TestReplySendsInviteOrClose(t *testing.T) {
	testlog.Start(t)
	c, conn := connectFake(t)
	req := presence.JoinRequest{UserID: "42", Username: "friend"}

	cases := []struct {
		reply presence.JoinReply
		cmd   string
	}{
		{presence.ReplyYes, "SEND_ACTIVITY_JOIN_INVITE"},
		{presence.ReplyNo, "CLOSE_ACTIVITY_JOIN_REQUEST"},
		{presence.ReplyIgnore, "CLOSE_ACTIVITY_JOIN_REQUEST"},
	}
	for _, tc := range cases {
		c.Reply(req, tc.reply)
		msg := conn.ReadMessage()
		if msg["cmd"] != tc.cmd {
			t.Fatalf("reply %s: got cmd %v want %s", tc.reply, msg["cmd"], tc.cmd)
		}
		args, _ := msg["args"].(map[string]any)
		if args["user_id"] != "42" {
			t.Fatalf("reply %s: unexpected args %v", tc.reply, args)
		}
	}
}

func TestReplyWithoutConnectionIsSwallowed(t *testing.T) {
	testlog.Start(t)
	c, err := New(testAppID, WithEndpointDir(t.TempDir()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.Reply(presence.JoinRequest{UserID: "42"}, presence.ReplyYes)
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("reply changed state to %s", got)
	}
}

func newLinkForTest(t *testing.T, tr ipc.Transport) *link {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &link{transport: tr, endpoint: "fake", ctx: ctx, cancel: cancel}
}

func TestFlushPresenceRestoresOnSendFailure(t *testing.T) {
	testlog.Start(t)
	c, err := New(testAppID, WithDialer(nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tr := &fakeTransport{writeErr: errors.New("write timeout")}
	l := newLinkForTest(t, tr)

	doc := presence.NewActivity()
	doc.Details = "retry me"
	c.SetPresence(doc)
	if c.flushPresence(l) {
		t.Fatalf("flush reported success on failed send")
	}
	got, ok := c.PendingPresence()
	if !ok || got.Details != "retry me" {
		t.Fatalf("failed flush lost presence: ok=%v got=%+v", ok, got)
	}

	newer := presence.NewActivity()
	newer.Details = "newer"
	tr.onWrite = func() { c.SetPresence(newer) }
	c.flushPresence(l)
	got, ok = c.PendingPresence()
	if !ok || got.Details != "newer" {
		t.Fatalf("restore overwrote a newer presence: ok=%v got=%+v", ok, got)
	}
}

func TestFlushPresenceSendsOnceAndEmptiesSlot(t *testing.T) {
	testlog.Start(t)
	c, err := New(testAppID, WithDialer(nil), WithPID(7))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tr := &fakeTransport{}
	l := newLinkForTest(t, tr)

	if c.flushPresence(l) {
		t.Fatalf("flush with empty slot must not send")
	}
	c.SetPresence(presence.NewActivity())
	if !c.flushPresence(l) {
		t.Fatalf("flush failed")
	}
	if c.flushPresence(l) {
		t.Fatalf("unchanged presence resent")
	}
	if len(tr.writes) != 1 {
		t.Fatalf("expected one frame, got %d", len(tr.writes))
	}
	h, err := frame.DecodeHeader(tr.writes[0])
	if err != nil || h.Opcode != frame.OpMessage || int(h.Length) != len(tr.writes[0])-frame.HeaderLen {
		t.Fatalf("bad frame header: %+v err=%v", h, err)
	}
}
