// Package ratelimit provides a non-blocking token bucket rate limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a token bucket.
type Config struct {
	// Capacity is the bucket size: the number of calls allowed in a burst.
	Capacity int
	// RefillPerSecond is the sustained rate at which tokens return.
	RefillPerSecond float64
}

// DefaultConfig returns sensible defaults: bursts of 10, 1 req/sec sustained.
func DefaultConfig() Config {
	return Config{
		Capacity:        10,
		RefillPerSecond: 1,
	}
}

// Bucket is a token bucket. It never blocks: TryConsume reports whether the
// caller may proceed, and the caller must abort with a rate-limit error when
// it returns false.
type Bucket struct {
	mu        sync.Mutex
	tokens    float64
	lastCheck time.Time
	cfg       Config
}

// New creates a full bucket.
func New(cfg Config) *Bucket {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.RefillPerSecond <= 0 {
		cfg.RefillPerSecond = DefaultConfig().RefillPerSecond
	}
	return &Bucket{
		tokens:    float64(cfg.Capacity),
		lastCheck: time.Now(),
		cfg:       cfg,
	}
}

// TryConsume takes one token if available. It refills continuously based on
// elapsed time, capped at capacity.
func (b *Bucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * b.cfg.RefillPerSecond
	if b.tokens > float64(b.cfg.Capacity) {
		b.tokens = float64(b.cfg.Capacity)
	}
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current token count, for diagnostics.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
