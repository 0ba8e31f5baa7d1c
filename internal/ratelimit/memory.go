package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Eviction cadence for idle buckets. A bucket untouched for idleFor is full
// again anyway, so dropping it loses nothing.
const (
	evictEvery = time.Minute
	idleFor    = 10 * time.Minute
)

// bucket tracks the remaining tokens for one key.
type bucket struct {
	tokens float64
	seen   time.Time // last Allow for this key
}

// refill credits tokens for the time elapsed since the bucket was last seen,
// capped at the burst capacity.
func (b *bucket) refill(now time.Time, perSec, capacity float64) {
	b.tokens += now.Sub(b.seen).Seconds() * perSec
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.seen = now
}

// take consumes one token if available.
func (b *bucket) take() bool {
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// MemoryLimiter is a per-key token bucket held entirely in process memory.
//
// It throttles the unauthenticated surfaces: API-key guessing against
// /auth/token and webhook floods from a misbehaving chat service, keyed by
// client IP. State is per process — with several replicas each carries its
// own buckets, which over-admits by the replica count at worst. That is
// acceptable for abuse damping, and it keeps the hot path free of network
// calls.
type MemoryLimiter struct {
	perSec   float64 // sustained tokens credited per second
	capacity float64 // burst size

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter admitting perSec requests per second
// per key with bursts up to burst. A background goroutine evicts idle keys;
// call Close to stop it.
func NewMemoryLimiter(perSec float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		perSec:   perSec,
		capacity: float64(burst),
		buckets:  make(map[string]*bucket),
		done:     make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Allow reports whether one request for key may proceed.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		// New key: full bucket minus the request being admitted.
		m.buckets[key] = &bucket{tokens: m.capacity - 1, seen: now}
		return true, nil
	}

	b.refill(now, m.perSec, m.capacity)
	return b.take(), nil
}

// Close stops the eviction goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-idleFor)
	for key, b := range m.buckets {
		if b.seen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
