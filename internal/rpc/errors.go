package rpc

import "errors"

var (
	ErrDiscordNotDetected = errors.New("rpc: discord not detected")
	ErrSocketUnavailable  = errors.New("rpc: socket unavailable")
	ErrHandshakeFailed    = errors.New("rpc: handshake failed")
	ErrAlreadyConnected   = errors.New("rpc: already connected")
	ErrAppIDRequired      = errors.New("rpc: app id required")
)
