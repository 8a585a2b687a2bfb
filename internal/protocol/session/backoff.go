package session

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes exponential retry delays. Safe for concurrent use.
type Backoff struct {
	cfg BackoffConfig
	mu  sync.Mutex
	rng *rand.Rand
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before attempt N (1-based).
func (b *Backoff) Next(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return NextBackoffDelay(b.cfg, attempt, b.rng)
}

// NextBackoffDelay returns the retry delay for attempt N (1-based). A nil rng uses the
// midpoint of the jitter window.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 1.0
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
