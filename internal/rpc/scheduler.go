package rpc

import (
	"time"

	"github.com/danmuck/presencectl/internal/observability"
	"github.com/danmuck/presencectl/internal/protocol/frame"
	"github.com/danmuck/presencectl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// startScheduler runs the presence loop for l at most once.
func (c *Client) startScheduler(l *link) {
	l.schedulerOnce.Do(func() {
		go c.presenceLoop(l)
	})
}

func (c *Client) presenceLoop(l *link) {
	ticker := time.NewTicker(c.cfg.PresenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
		}
		c.flushPresence(l)
	}
}

// flushPresence sends the pending presence, if any. A failed send puts it back
// unless SetPresence stored a newer one meanwhile.
func (c *Client) flushPresence(l *link) bool {
	doc, ok := c.pending.Take()
	if !ok {
		return false
	}
	payload, err := session.EncodeSetActivityFrame(c.pid, doc, session.NewNonce())
	if err != nil {
		observability.RecordPresenceFlush("encode_failed")
		log.Error().Msgf("rpc.Client presence encode err=%v", err)
		return false
	}
	if err := c.send(l, frame.OpMessage, payload); err != nil {
		restored := c.pending.Restore(doc)
		observability.RecordPresenceFlush("send_failed")
		log.Warn().Msgf("rpc.Client presence send endpoint=%s restored=%t err=%v", l.endpoint, restored, err)
		return false
	}
	observability.RecordPresenceFlush("sent")
	log.Debug().Msgf("rpc.Client presence sent endpoint=%s bytes=%d", l.endpoint, len(payload))
	return true
}
