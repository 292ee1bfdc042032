package provider

import (
	"time"

	"github.com/jpillora/backoff"
	"github.com/spooky-finn/go-orderbook-mirror/config"
)

const (
	DefaultMaxReconnects  = 10
	DefaultReconnectDelay = 3 * time.Second
)

// ReconnectPolicy decides whether reconnect attempt number attempt (0-based count of
// consecutive failures so far) may run, and after which delay.
type ReconnectPolicy interface {
	Next(attempt int) (time.Duration, bool)
}

type FixedReconnect struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultReconnect() FixedReconnect {
	return FixedReconnect{MaxAttempts: DefaultMaxReconnects, Delay: DefaultReconnectDelay}
}

func (p FixedReconnect) Next(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}

type ExponentialReconnect struct {
	MaxAttempts int
	backoff     *backoff.Backoff
}

func NewExponentialReconnect(maxAttempts int, min, max time.Duration, factor float64) *ExponentialReconnect {
	return &ExponentialReconnect{
		MaxAttempts: maxAttempts,
		backoff: &backoff.Backoff{
			Min:    min,
			Max:    max,
			Factor: factor,
			Jitter: true,
		},
	}
}

func (p *ExponentialReconnect) Next(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.backoff.ForAttempt(float64(attempt)), true
}

func NewReconnectPolicy(cfg config.ReconnectConfig) ReconnectPolicy {
	if cfg.Policy == "exponential" {
		return NewExponentialReconnect(cfg.MaxAttempts, cfg.Delay, cfg.MaxDelay, cfg.Factor)
	}
	return FixedReconnect{MaxAttempts: cfg.MaxAttempts, Delay: cfg.Delay}
}
