package exchange

import (
	"sync"
	"time"
)

// endpointWeights approximates the exchange's per-endpoint request weights.
var endpointWeights = map[string]int{
	"/api/swap/v3/market/ticker":        1,
	"/api/swap/v3/market/current_fundRate": 1,
	"/api/swap/v3/market/candles":       5,
	"/api/swap/v3/market/contracts":     1,
	"/api/swap/v3/position/allPosition": 5,
	"/api/swap/v3/account/accounts":     5,
	"/api/swap/v3/order/placeOrder":     2,
	"/api/swap/v3/order/closeAll":       10,
	"/api/swap/v3/order/uploadAILog":    1,
}

// RateLimiter is a proactive weight-window limiter with a ban-aware
// circuit. A single instance is shared by all Client requests.
type RateLimiter struct {
	mu sync.Mutex

	currentWeight int
	weightResetAt time.Time
	maxWeight     int

	banUntil time.Time
}

// NewRateLimiter creates a limiter with the given per-minute weight budget.
func NewRateLimiter(maxWeightPerMinute int) *RateLimiter {
	return &RateLimiter{
		maxWeight:     maxWeightPerMinute,
		weightResetAt: time.Now().Add(time.Minute),
	}
}

func weightFor(endpoint string) int {
	if w, ok := endpointWeights[endpoint]; ok {
		return w
	}
	return 1
}

// WaitForSlot blocks until the endpoint's weight fits the current window or
// maxWait elapses. Returns false when the request must be dropped.
func (r *RateLimiter) WaitForSlot(endpoint string, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)

	for {
		r.mu.Lock()
		now := time.Now()

		if now.After(r.weightResetAt) {
			r.currentWeight = 0
			r.weightResetAt = now.Add(time.Minute)
		}

		banned := now.Before(r.banUntil)
		fits := r.currentWeight+weightFor(endpoint) <= r.maxWeight

		if !banned && fits {
			r.currentWeight += weightFor(endpoint)
			r.mu.Unlock()
			return true
		}

		wait := r.weightResetAt.Sub(now)
		if banned && r.banUntil.Sub(now) > wait {
			wait = r.banUntil.Sub(now)
		}
		r.mu.Unlock()

		if time.Now().Add(wait).After(deadline) {
			return false
		}
		if wait > time.Second {
			wait = time.Second
		}
		time.Sleep(wait)
	}
}

// RecordRateLimitError opens the circuit until the given time (or for one
// minute when the exchange gave no ban horizon).
func (r *RateLimiter) RecordRateLimitError(banUntil time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if banUntil.IsZero() {
		banUntil = time.Now().Add(time.Minute)
	}
	if banUntil.After(r.banUntil) {
		r.banUntil = banUntil
	}
}

// Banned reports whether the circuit is currently open.
func (r *RateLimiter) Banned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.banUntil)
}
