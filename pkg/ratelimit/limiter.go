package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meftunca/courier/pkg/types"
)

// Limiter implements per-sender token bucket admission control.
// Buckets refill lazily on access; there is no background refill timer.
type Limiter struct {
	capacity     float64
	refillPerSec float64
	idleEviction time.Duration

	buckets map[string]*bucket
	mu      sync.RWMutex

	allowed atomic.Int64
	blocked atomic.Int64

	cleanupTicker *time.Ticker
	done          chan struct{}
}

// bucket tracks the token budget for one sender identity
type bucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// Status describes the current budget of one sender.
type Status struct {
	Sender          string    `json:"sender"`
	TokensRemaining float64   `json:"tokens_remaining"`
	ResetAt         time.Time `json:"reset_at"`
}

// Stats aggregates limiter-wide counters.
type Stats struct {
	ActiveSenders int   `json:"active_senders"`
	AllowedTotal  int64 `json:"allowed_total"`
	BlockedTotal  int64 `json:"blocked_total"`
}

// NewLimiter creates a limiter. cleanupPeriod controls how often idle
// buckets older than idleEviction are dropped to bound memory.
func NewLimiter(capacity, refillPerSec float64, idleEviction, cleanupPeriod time.Duration) *Limiter {
	if cleanupPeriod <= 0 {
		cleanupPeriod = time.Minute
	}
	rl := &Limiter{
		capacity:      capacity,
		refillPerSec:  refillPerSec,
		idleEviction:  idleEviction,
		buckets:       make(map[string]*bucket),
		cleanupTicker: time.NewTicker(cleanupPeriod),
		done:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Check consumes one token for the sender if available. Rejections are not
// retried here; the caller surfaces RATE_LIMIT_EXCEEDED with a retry hint.
func (rl *Limiter) Check(senderID string) bool {
	b := rl.bucket(senderID)

	b.mu.Lock()
	defer b.mu.Unlock()

	rl.refillLocked(b)

	if b.tokens >= 1 {
		b.tokens--
		rl.allowed.Add(1)
		return true
	}
	rl.blocked.Add(1)
	return false
}

// CheckErr is Check with the structured rejection attached.
func (rl *Limiter) CheckErr(senderID string) error {
	if rl.Check(senderID) {
		return nil
	}
	return types.ErrRateLimited(senderID, rl.retryAfter(senderID))
}

// Status reports the sender's remaining budget and when a full token is
// next available.
func (rl *Limiter) Status(senderID string) Status {
	b := rl.bucket(senderID)

	b.mu.Lock()
	defer b.mu.Unlock()

	rl.refillLocked(b)

	resetAt := time.Now()
	if b.tokens < 1 && rl.refillPerSec > 0 {
		wait := (1 - b.tokens) / rl.refillPerSec
		resetAt = resetAt.Add(time.Duration(wait * float64(time.Second)))
	}

	return Status{
		Sender:          senderID,
		TokensRemaining: b.tokens,
		ResetAt:         resetAt,
	}
}

// Reset clears the sender's bucket state. Admin operation.
func (rl *Limiter) Reset(senderID string) {
	rl.mu.Lock()
	delete(rl.buckets, senderID)
	rl.mu.Unlock()
}

// Stats returns limiter-wide counters.
func (rl *Limiter) Stats() Stats {
	rl.mu.RLock()
	active := len(rl.buckets)
	rl.mu.RUnlock()

	return Stats{
		ActiveSenders: active,
		AllowedTotal:  rl.allowed.Load(),
		BlockedTotal:  rl.blocked.Load(),
	}
}

// Stop stops the cleanup loop.
func (rl *Limiter) Stop() {
	rl.cleanupTicker.Stop()
	close(rl.done)
}

func (rl *Limiter) bucket(senderID string) *bucket {
	rl.mu.RLock()
	b, exists := rl.buckets[senderID]
	rl.mu.RUnlock()
	if exists {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, exists = rl.buckets[senderID]; exists {
		return b
	}
	b = &bucket{
		tokens:     rl.capacity,
		lastRefill: time.Now(),
	}
	rl.buckets[senderID] = b
	return b
}

// refillLocked applies lazy refill. Caller holds b.mu.
func (rl *Limiter) refillLocked(b *bucket) {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(rl.capacity, b.tokens+elapsed*rl.refillPerSec)
		b.lastRefill = now
	}
}

func (rl *Limiter) retryAfter(senderID string) time.Duration {
	if rl.refillPerSec <= 0 {
		// No refill configured; only an admin reset can unblock the sender.
		return rl.idleEviction
	}
	b := rl.bucket(senderID)
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := (1 - b.tokens) / rl.refillPerSec
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait * float64(time.Second))
}

func (rl *Limiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			cutoff := time.Now().Add(-rl.idleEviction)
			rl.mu.Lock()
			for senderID, b := range rl.buckets {
				b.mu.Lock()
				idle := b.lastRefill.Before(cutoff)
				b.mu.Unlock()
				if idle {
					delete(rl.buckets, senderID)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}
