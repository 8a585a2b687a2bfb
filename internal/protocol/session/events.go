package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/presencectl/internal/presence"
	"github.com/danmuck/presencectl/internal/protocol/frame"
)

// EventName is the `evt` field of an inbound MESSAGE.
type EventName string

const (
	EventError               EventName = "ERROR"
	EventActivityJoin        EventName = "ACTIVITY_JOIN"
	EventActivityJoinRequest EventName = "ACTIVITY_JOIN_REQUEST"
	EventReady               EventName = "READY"
	EventActivitySpectate    EventName = "ACTIVITY_SPECTATE"
)

// SubscribedEvents are subscribed to right after the handshake, in this order.
var SubscribedEvents = []EventName{
	EventActivityJoin,
	EventActivitySpectate,
	EventActivityJoinRequest,
}

func (e EventName) Known() bool {
	switch e {
	case EventError, EventActivityJoin, EventActivityJoinRequest, EventReady, EventActivitySpectate:
		return true
	}
	return false
}

var (
	ErrUnknownEvent   = errors.New("session: unknown event")
	ErrMalformedEvent = errors.New("session: malformed event")
)

// Envelope is the inbound MESSAGE body.
type Envelope struct {
	Cmd   string          `json:"cmd"`
	Evt   EventName       `json:"evt"`
	Data  json.RawMessage `json:"data"`
	Nonce string          `json:"nonce"`
}

// Event is one decoded, recognised inbound event. Only the fields of Name are set.
type Event struct {
	Name EventName

	// ERROR
	Code    int
	Message string

	// ACTIVITY_JOIN, ACTIVITY_SPECTATE, ACTIVITY_JOIN_REQUEST
	Secret  string
	Request presence.JoinRequest

	// READY, when the companion app reports the logged-in user.
	User *presence.User
}

// Close is the CLOSE frame body.
type Close struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func DecodeClose(payload []byte) (Close, error) {
	var in struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	}
	if err := frame.DecodePayload(payload, &in); err != nil {
		return Close{}, err
	}
	if in.Code == nil {
		return Close{}, fmt.Errorf("%w: close missing code", ErrMalformedEvent)
	}
	return Close{Code: *in.Code, Message: in.Message}, nil
}

// DecodeEvent decodes one MESSAGE payload. Command responses without `evt` and events outside
// the taxonomy return ErrUnknownEvent; recognised events with a bad shape return ErrMalformedEvent.
func DecodeEvent(payload []byte) (Event, error) {
	var env Envelope
	if err := frame.DecodePayload(payload, &env); err != nil {
		return Event{}, err
	}
	name := EventName(strings.TrimSpace(string(env.Evt)))
	if !name.Known() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Evt)
	}
	ev := Event{Name: name}
	data := env.Data
	if name == EventReady {
		decodeReady(data, &ev)
		return ev, nil
	}
	if isNull(data) {
		return Event{}, fmt.Errorf("%w: %s missing data", ErrMalformedEvent, name)
	}

	switch name {
	case EventError:
		var in struct {
			Code    *int    `json:"code"`
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
		}
		if in.Code == nil || in.Message == nil {
			return Event{}, fmt.Errorf("%w: %s missing code or message", ErrMalformedEvent, name)
		}
		ev.Code, ev.Message = *in.Code, *in.Message
	case EventActivityJoin, EventActivitySpectate:
		secret, err := decodeSecret(name, data)
		if err != nil {
			return Event{}, err
		}
		ev.Secret = secret
	case EventActivityJoinRequest:
		var in struct {
			User   *presence.JoinRequest `json:"user"`
			Secret *string               `json:"secret"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
		}
		if in.User == nil || strings.TrimSpace(in.User.UserID) == "" {
			return Event{}, fmt.Errorf("%w: %s missing user", ErrMalformedEvent, name)
		}
		if in.Secret == nil {
			return Event{}, fmt.Errorf("%w: %s missing secret", ErrMalformedEvent, name)
		}
		ev.Request, ev.Secret = *in.User, *in.Secret
	}
	return ev, nil
}

func decodeSecret(name EventName, data json.RawMessage) (string, error) {
	var in struct {
		Secret *string `json:"secret"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedEvent, name, err)
	}
	if in.Secret == nil {
		return "", fmt.Errorf("%w: %s missing secret", ErrMalformedEvent, name)
	}
	return *in.Secret, nil
}

// READY is accepted with any data shape; the user is only picked up when it parses.
func decodeReady(data json.RawMessage, ev *Event) {
	if isNull(data) {
		return
	}
	var in struct {
		User *presence.User `json:"user"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	if in.User != nil && strings.TrimSpace(in.User.ID) != "" {
		ev.User = in.User
	}
}

func isNull(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v == "" || v == "null"
}
