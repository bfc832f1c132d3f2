package httpapi

import (
	"sync"
	"time"
)

// senderLimits tunes the per-sender webhook rate limiter. The zero
// value is not usable; start from defaultSenderLimits.
type senderLimits struct {
	// Window is the fixed counting window per sender.
	Window time.Duration
	// MaxHits is the webhook budget per sender within one window.
	MaxHits int
	// MaxTracked caps the tracked-sender map so rotating source
	// numbers cannot exhaust memory.
	MaxTracked int
}

func defaultSenderLimits() senderLimits {
	return senderLimits{
		Window:     60 * time.Second,
		MaxHits:    30,
		MaxTracked: 4096,
	}
}

type senderWindow struct {
	start time.Time
	hits  int
}

// senderRateLimiter bounds inbound webhook volume per sender number.
// Safe for concurrent use; tests inject now.
type senderRateLimiter struct {
	limits senderLimits
	now    func() time.Time

	mu      sync.Mutex
	senders map[string]*senderWindow
}

func newSenderRateLimiter(limits senderLimits) *senderRateLimiter {
	return &senderRateLimiter{
		limits:  limits,
		now:     time.Now,
		senders: make(map[string]*senderWindow),
	}
}

// Allow reports whether the sender is within its budget. When the
// tracked set hits the cap, expired windows are pruned first and
// arbitrary entries evicted as the backstop.
func (r *senderRateLimiter) Allow(sender string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.senders) >= r.limits.MaxTracked {
		r.evict(now)
	}

	w, ok := r.senders[sender]
	if !ok || now.Sub(w.start) >= r.limits.Window {
		r.senders[sender] = &senderWindow{start: now, hits: 1}
		return true
	}

	w.hits++
	return w.hits <= r.limits.MaxHits
}

func (r *senderRateLimiter) evict(now time.Time) {
	for k, w := range r.senders {
		if now.Sub(w.start) >= r.limits.Window {
			delete(r.senders, k)
		}
	}
	for len(r.senders) >= r.limits.MaxTracked {
		for k := range r.senders {
			delete(r.senders, k)
			break
		}
	}
}
