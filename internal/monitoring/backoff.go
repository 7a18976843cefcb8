package monitoring

import (
	"math"
	"time"
)

const (
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = 30 * time.Second
)

// BackoffConfig controls the wait between push stream reconnect attempts.
type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Jitter     float64
	Max        time.Duration
}

// DefaultBackoff returns 1s doubling to a 30s cap with 10% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    defaultReconnectInitial,
		Multiplier: 2,
		Jitter:     0.1,
		Max:        defaultReconnectMax,
	}
}

// maxJitter keeps the lowest jittered wait above zero.
const maxJitter = 0.99

// nextDelay returns the wait before reconnect attempt number attempt
// (zero based). prev is the previous wait of the same outage, zero after a
// successful connection. rng is a uniform sample in [0,1); 0.5 means no
// jitter. The result is never below prev and never above Max.
func (cfg BackoffConfig) nextDelay(attempt int, prev time.Duration, rng float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(cfg.Initial)
	if base <= 0 {
		base = float64(defaultReconnectInitial)
	}
	// A multiplier of exactly 1 keeps the delay constant.
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt))
	if cfg.Jitter > 0 {
		j := min(cfg.Jitter, maxJitter)
		delay = delay * (1 + (rng*2-1)*j)
	}
	if cfg.Max > 0 && delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}
	return max(time.Duration(delay), prev)
}
