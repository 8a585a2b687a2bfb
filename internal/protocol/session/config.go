package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/presencectl/internal/protocol/frame"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines engine cadence and transport bounds.
type Config struct {
	// ReceiveInterval is the pause between receive loop ticks.
	ReceiveInterval time.Duration
	// PresenceInterval is the pause between presence flushes.
	PresenceInterval time.Duration
	// PollTimeout bounds the non-blocking header poll of one receive tick.
	PollTimeout time.Duration
	// ReadTimeout bounds reading the rest of a frame once its header arrived.
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	DialTimeout     time.Duration
	MaxPayloadBytes uint32
	Backoff         BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ReceiveInterval:  time.Millisecond,
		PresenceInterval: 5 * time.Second,
		PollTimeout:      time.Millisecond,
		ReadTimeout:      2 * time.Second,
		WriteTimeout:     2 * time.Second,
		DialTimeout:      time.Second,
		MaxPayloadBytes:  frame.DefaultLimits().MaxPayloadBytes,
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     time.Minute,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every zero field from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ReceiveInterval <= 0 {
		c.ReceiveInterval = d.ReceiveInterval
	}
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = d.PresenceInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = d.MaxPayloadBytes
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.ReceiveInterval <= 0 {
		return fmt.Errorf("%w: receive interval must be positive", ErrInvalidConfig)
	}
	if c.PresenceInterval <= 0 {
		return fmt.Errorf("%w: presence interval must be positive", ErrInvalidConfig)
	}
	if c.PollTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.DialTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.MaxDelay < c.Backoff.InitialDelay {
		return fmt.Errorf("%w: backoff max delay below initial delay", ErrInvalidConfig)
	}
	return nil
}

func (c Config) Limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}
