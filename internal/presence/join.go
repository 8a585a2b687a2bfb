package presence

import (
	"fmt"
	"strings"
)

// User is the account the companion app reports as logged in.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
}

// JoinRequest describes a remote user asking to join the current activity.
type JoinRequest struct {
	Avatar        string `json:"avatar"`
	Discriminator string `json:"discriminator"`
	UserID        string `json:"id"`
	Username      string `json:"username"`
}

// JoinReply answers a JoinRequest.
type JoinReply int

const (
	ReplyNo JoinReply = iota
	ReplyYes
	ReplyIgnore
)

func (r JoinReply) String() string {
	switch r {
	case ReplyNo:
		return "no"
	case ReplyYes:
		return "yes"
	case ReplyIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("reply(%d)", int(r))
	}
}

func ParseJoinReply(raw string) (JoinReply, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "accept", "1":
		return ReplyYes, nil
	case "no", "deny", "0":
		return ReplyNo, nil
	case "ignore", "2":
		return ReplyIgnore, nil
	default:
		return ReplyIgnore, fmt.Errorf("presence: unknown join reply %q", raw)
	}
}
