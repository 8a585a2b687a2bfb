package rpc

import (
	"errors"
	"time"

	"github.com/danmuck/presencectl/internal/observability"
	"github.com/danmuck/presencectl/internal/protocol/frame"
	"github.com/danmuck/presencectl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// receiveLoop polls l for one frame per tick until the link is cancelled or the
// transport dies. Per-tick failures never end the loop.
func (c *Client) receiveLoop(l *link) {
	ticker := time.NewTicker(c.cfg.ReceiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
		}
		if !l.transport.Alive() {
			log.Warn().Msgf("rpc.Client transport lost endpoint=%s", l.endpoint)
			c.teardown(l, DisconnectReason{}, StateDisconnected)
			return
		}
		c.receiveTick(l)
	}
}

func (c *Client) receiveTick(l *link) {
	var hdr [frame.HeaderLen]byte
	n, err := l.transport.TryRead(hdr[:])
	if err != nil {
		log.Debug().Msgf("rpc.Client poll endpoint=%s err=%v", l.endpoint, err)
		return
	}
	if n == 0 {
		return
	}
	if n < frame.HeaderLen {
		if err := l.transport.ReadFull(hdr[n:]); err != nil {
			log.Warn().Msgf("rpc.Client header read endpoint=%s got=%d err=%v", l.endpoint, n, err)
			return
		}
	}

	h, err := frame.DecodeHeader(hdr[:])
	unknown := errors.Is(err, frame.ErrUnknownOpcode)
	if err != nil && !unknown {
		observability.RecordFrameDropped("malformed_header")
		return
	}
	if h.Length == 0 {
		observability.RecordFrameDropped("empty")
		return
	}
	if h.Length > c.cfg.MaxPayloadBytes {
		// the oversized body cannot be skipped without reading it, so the stream is lost
		observability.RecordFrameDropped("too_large")
		log.Error().Msgf("rpc.Client frame too large endpoint=%s length=%d max=%d", l.endpoint, h.Length, c.cfg.MaxPayloadBytes)
		c.teardown(l, DisconnectReason{}, StateDisconnected)
		return
	}

	payload := make([]byte, h.Length)
	if err := l.transport.ReadFull(payload); err != nil {
		log.Warn().Msgf("rpc.Client payload read endpoint=%s opcode=%s length=%d err=%v", l.endpoint, h.Opcode, h.Length, err)
		return
	}
	if unknown {
		observability.RecordFrameDropped("unknown_opcode")
		log.Debug().Msgf("rpc.Client dropped frame opcode=%d length=%d", uint32(h.Opcode), h.Length)
		return
	}
	observability.RecordFrameReceived(h.Opcode.String())
	c.handleFrame(l, frame.Frame{Opcode: h.Opcode, Payload: payload})
}

func (c *Client) handleFrame(l *link, f frame.Frame) {
	switch f.Opcode {
	case frame.OpClose:
		reason := DisconnectReason{}
		closeMsg, err := session.DecodeClose(f.Payload)
		if err != nil {
			log.Warn().Msgf("rpc.Client close frame unreadable endpoint=%s err=%v", l.endpoint, err)
		} else {
			reason = DisconnectReason{Code: closeMsg.Code, Message: closeMsg.Message, HasCode: true}
		}
		c.teardown(l, reason, StateClosed)
	case frame.OpPing:
		if err := c.send(l, frame.OpPong, frame.Encode(frame.OpPong, f.Payload)); err != nil {
			log.Warn().Msgf("rpc.Client pong send endpoint=%s err=%v", l.endpoint, err)
		}
	case frame.OpMessage:
		ev, err := session.DecodeEvent(f.Payload)
		if err != nil {
			if errors.Is(err, session.ErrUnknownEvent) {
				observability.RecordFrameDropped("unknown_event")
				log.Debug().Msgf("rpc.Client ignored message err=%v", err)
				return
			}
			observability.RecordFrameDropped("malformed_event")
			log.Warn().Msgf("rpc.Client dropped event err=%v", err)
			return
		}
		c.dispatch(l, ev)
	default:
		observability.RecordFrameDropped("unexpected_opcode")
	}
}
