package rpc

import (
	"github.com/danmuck/presencectl/internal/observability"
	"github.com/danmuck/presencectl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// dispatch fans ev out to every sink in order. READY also starts the presence scheduler.
func (c *Client) dispatch(l *link, ev session.Event) {
	observability.RecordEvent(string(ev.Name))
	log.Debug().Msgf("rpc.Client event=%s endpoint=%s", ev.Name, l.endpoint)

	if ev.Name == session.EventReady {
		c.mu.Lock()
		if c.link == l {
			c.user = ev.User
		}
		c.mu.Unlock()
	}

	for _, sink := range c.sinks() {
		switch ev.Name {
		case session.EventReady:
			sink.Connected(c)
		case session.EventError:
			sink.Error(c, ev.Code, ev.Message)
		case session.EventActivityJoin:
			sink.JoinGame(c, ev.Secret)
		case session.EventActivitySpectate:
			sink.SpectateGame(c, ev.Secret)
		case session.EventActivityJoinRequest:
			sink.JoinRequest(c, ev.Request, ev.Secret)
		}
	}

	if ev.Name == session.EventReady {
		c.startScheduler(l)
	}
}
