package control

import (
	"sync"
	"time"

	"github.com/danmuck/presencectl/internal/presence"
	"github.com/danmuck/presencectl/internal/rpc"
)

const DefaultEventCapacity = 128

// Event is one dispatched engine event as reported by GET /events.
type Event struct {
	Seq      uint64    `json:"seq"`
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Code     *int      `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Username string    `json:"username,omitempty"`
}

// Recorder keeps the most recent events in a ring and tracks open join requests.
// It is installed on the engine as its Delegate.
type Recorder struct {
	mu      sync.Mutex
	ring    []Event
	next    int
	full    bool
	seq     uint64
	pending map[string]presence.JoinRequest
	now     func() time.Time
}

var _ rpc.Delegate = (*Recorder)(nil)

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &Recorder{
		ring:    make([]Event, capacity),
		pending: make(map[string]presence.JoinRequest),
		now:     time.Now,
	}
}

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.Seq = r.seq
	ev.At = r.now().UTC()
	r.ring[r.next] = ev
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (r *Recorder) Recent(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.next
	if r.full {
		count = len(r.ring)
	}
	if limit <= 0 || limit > count {
		limit = count
	}
	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// TakeJoinRequest removes and returns the open join request from userID.
func (r *Recorder) TakeJoinRequest(userID string) (presence.JoinRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[userID]
	if ok {
		delete(r.pending, userID)
	}
	return req, ok
}

func (r *Recorder) PendingJoinRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Recorder) Connected(*rpc.Client) {
	r.record(Event{Kind: "ready"})
}

func (r *Recorder) Disconnected(_ *rpc.Client, reason rpc.DisconnectReason) {
	ev := Event{Kind: "disconnected", Message: reason.Message}
	if reason.HasCode {
		code := reason.Code
		ev.Code = &code
	}
	r.mu.Lock()
	clear(r.pending)
	r.mu.Unlock()
	r.record(ev)
}

func (r *Recorder) Error(_ *rpc.Client, code int, message string) {
	r.record(Event{Kind: "error", Code: &code, Message: message})
}

func (r *Recorder) JoinGame(*rpc.Client, string) {
	r.record(Event{Kind: "join_game"})
}

func (r *Recorder) SpectateGame(*rpc.Client, string) {
	r.record(Event{Kind: "spectate_game"})
}

func (r *Recorder) JoinRequest(_ *rpc.Client, req presence.JoinRequest, _ string) {
	r.mu.Lock()
	r.pending[req.UserID] = req
	r.mu.Unlock()
	r.record(Event{Kind: "join_request", UserID: req.UserID, Username: req.Username})
}
