package session

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/presencectl/internal/presence"
	"github.com/danmuck/presencectl/internal/protocol/frame"
	"github.com/oklog/ulid/v2"
)

const HandshakeVersion = 1

const (
	CmdSubscribe                = "SUBSCRIBE"
	CmdSetActivity              = "SET_ACTIVITY"
	CmdSendActivityJoinInvite   = "SEND_ACTIVITY_JOIN_INVITE"
	CmdCloseActivityJoinRequest = "CLOSE_ACTIVITY_JOIN_REQUEST"
)

var (
	ErrInvalidHandshake = errors.New("session: invalid handshake")
	ErrInvalidCommand   = errors.New("session: invalid command")
)

// Handshake is the first frame sent on a fresh transport.
type Handshake struct {
	Version  int    `json:"v"`
	ClientID string `json:"client_id"`
}

func (h Handshake) Validate() error {
	if h.Version != HandshakeVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidHandshake, h.Version)
	}
	if strings.TrimSpace(h.ClientID) == "" {
		return fmt.Errorf("%w: missing client_id", ErrInvalidHandshake)
	}
	return nil
}

// Command is the outbound MESSAGE envelope.
type Command struct {
	Cmd   string    `json:"cmd"`
	Args  any       `json:"args,omitempty"`
	Evt   EventName `json:"evt,omitempty"`
	Nonce string    `json:"nonce,omitempty"`
}

// SetActivityArgs carries the presence document for SET_ACTIVITY.
type SetActivityArgs struct {
	PID      int                `json:"pid"`
	Activity *presence.Activity `json:"activity"`
}

// UserArgs addresses one remote user.
type UserArgs struct {
	UserID string `json:"user_id"`
}

func EncodeHandshakeFrame(clientID string) ([]byte, error) {
	h := Handshake{Version: HandshakeVersion, ClientID: strings.TrimSpace(clientID)}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return frame.EncodeJSON(frame.OpHandshake, h)
}

func EncodeSubscribeFrame(evt EventName, nonce string) ([]byte, error) {
	if !evt.Known() {
		return nil, fmt.Errorf("%w: subscribe to unknown event %q", ErrInvalidCommand, evt)
	}
	return frame.EncodeJSON(frame.OpMessage, Command{
		Cmd:   CmdSubscribe,
		Evt:   evt,
		Nonce: nonce,
	})
}

func EncodeSetActivityFrame(pid int, activity presence.Activity, nonce string) ([]byte, error) {
	return frame.EncodeJSON(frame.OpMessage, Command{
		Cmd:   CmdSetActivity,
		Args:  SetActivityArgs{PID: pid, Activity: &activity},
		Nonce: nonce,
	})
}

// EncodeJoinReplyFrame accepts the request only for ReplyYes; every other reply closes it.
func EncodeJoinReplyFrame(req presence.JoinRequest, reply presence.JoinReply, nonce string) ([]byte, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: join reply missing user_id", ErrInvalidCommand)
	}
	cmd := CmdCloseActivityJoinRequest
	if reply == presence.ReplyYes {
		cmd = CmdSendActivityJoinInvite
	}
	return frame.EncodeJSON(frame.OpMessage, Command{
		Cmd:   cmd,
		Args:  UserArgs{UserID: userID},
		Nonce: nonce,
	})
}

var (
	nonceMu      sync.Mutex
	nonceEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewNonce returns a unique, time-ordered request id.
func NewNonce() string {
	nonceMu.Lock()
	defer nonceMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), nonceEntropy).String()
}
