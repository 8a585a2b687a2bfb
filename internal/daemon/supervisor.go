package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/presencectl/internal/protocol/session"
	"github.com/danmuck/presencectl/internal/rpc"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// Connector is the engine surface the supervisor drives.
type Connector interface {
	Connect(ctx context.Context) error
}

type SupervisorConfig struct {
	Backoff         session.BackoffConfig
	BreakerFailures uint32
	BreakerCooldown time.Duration
	ConnectTimeout  time.Duration
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Backoff:         session.DefaultConfig().Backoff,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		ConnectTimeout:  5 * time.Second,
	}
}

// Supervisor reconnects the engine after failed connects and observed disconnects.
// Consecutive failures open a circuit during which attempts are skipped.
type Supervisor struct {
	conn    Connector
	cfg     SupervisorConfig
	backoff *session.Backoff
	breaker *gobreaker.CircuitBreaker[struct{}]

	wake    chan struct{}
	paused  atomic.Bool
	attempt atomic.Int64

	mu       sync.Mutex
	lastErr  error
	attempts int64
}

func NewSupervisor(conn Connector, cfg SupervisorConfig) *Supervisor {
	d := DefaultSupervisorConfig()
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = d.Backoff
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = d.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = d.BreakerCooldown
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "rpc.connect",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Msgf("daemon.Supervisor breaker=%s from=%s to=%s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, rpc.ErrAlreadyConnected)
		},
	})
	return &Supervisor{
		conn:    conn,
		cfg:     cfg,
		backoff: session.NewBackoff(cfg.Backoff),
		breaker: breaker,
		wake:    make(chan struct{}, 1),
	}
}

// NotifyDisconnected wakes the supervisor to reconnect.
func (s *Supervisor) NotifyDisconnected() {
	s.signal()
}

// NotifyReady resets the failure streak once the companion app accepted the handshake.
func (s *Supervisor) NotifyReady() {
	s.attempt.Store(0)
}

// Pause stops reconnecting until Resume, e.g. after an operator disconnect.
func (s *Supervisor) Pause() {
	s.paused.Store(true)
}

func (s *Supervisor) Resume() {
	if s.paused.Swap(false) {
		s.signal()
	}
}

func (s *Supervisor) Paused() bool {
	return s.paused.Load()
}

func (s *Supervisor) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// Attempts is the total number of connect attempts that reached the engine.
func (s *Supervisor) Attempts() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Supervisor) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) drain() {
	select {
	case <-s.wake:
	default:
	}
}

// Run blocks until ctx is cancelled. Both a failed connect and a later
// disconnect back off before the next attempt.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.paused.Load() {
			if !s.waitWake(ctx) {
				return nil
			}
			continue
		}

		s.drain()
		err := s.connectOnce(ctx)
		if err == nil || errors.Is(err, rpc.ErrAlreadyConnected) {
			if !s.waitWake(ctx) {
				return nil
			}
			if s.paused.Load() {
				continue
			}
		} else if ctx.Err() != nil {
			return nil
		}

		attempt := int(s.attempt.Add(1))
		delay := s.backoff.Next(attempt)
		if err != nil && !errors.Is(err, rpc.ErrAlreadyConnected) {
			log.Warn().Msgf("daemon.Supervisor connect failed attempt=%d retry_in=%s breaker=%s err=%v",
				attempt, delay, s.breaker.State(), err)
		} else {
			log.Info().Msgf("daemon.Supervisor reconnect attempt=%d retry_in=%s", attempt, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
	}
}

func (s *Supervisor) connectOnce(ctx context.Context) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()
		connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
		return struct{}{}, s.conn.Connect(connectCtx)
	})
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func (s *Supervisor) waitWake(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
		return true
	}
}
