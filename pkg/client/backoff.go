package client

import (
	"math/rand/v2"
	"time"
)

// Options controls reconnect behaviour of a Manager
type Options struct {
	InitialDelay time.Duration // delay before the first reconnect, doubled per attempt
	MaxDelay     time.Duration // ceiling applied after jitter
	MaxAttempts  int           // consecutive failures before giving up
	MaxJitter    time.Duration // jitter is drawn uniformly from [0, MaxJitter)
}

// DefaultOptions returns 1s initial delay, 30s cap, 10 attempts, 1s jitter
func DefaultOptions() Options {
	return Options{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
		MaxJitter:    1 * time.Second,
	}
}

// maxShift keeps InitialDelay << attempt from overflowing time.Duration
const maxShift = 30

// BaseDelay returns InitialDelay * 2^attempt capped at MaxDelay, without jitter
func (o Options) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		return o.MaxDelay
	}
	d := o.InitialDelay << uint(attempt)
	if d > o.MaxDelay || d < 0 {
		return o.MaxDelay
	}
	return d
}

// ReconnectDelay returns min(InitialDelay * 2^attempt + jitter, MaxDelay)
func (o Options) ReconnectDelay(attempt int, jitter time.Duration) time.Duration {
	d := o.BaseDelay(attempt) + jitter
	if d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// RandomJitter returns a jitter source drawing uniformly from [0, max)
func RandomJitter(max time.Duration) func() time.Duration {
	return func() time.Duration {
		if max <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(max)))
	}
}
