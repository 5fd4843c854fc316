package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"collab-trading-bot/internal/logging"
)

const (
	sseTokenTTL      = 60 * time.Second
	sseTokenCapacity = 10000
	sseSweepInterval = 30 * time.Second
)

type sseToken struct {
	userID    string
	createdAt time.Time
}

// sseTokenRegistry issues short-lived single-use tokens that bridge the
// JWT-authenticated REST surface to the EventSource endpoint, which cannot
// set an Authorization header.
type sseTokenRegistry struct {
	mu     sync.Mutex
	tokens map[string]sseToken
	logger *logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

func newSSETokenRegistry() *sseTokenRegistry {
	r := &sseTokenRegistry{
		tokens: make(map[string]sseToken),
		logger: logging.Default().WithComponent("sse"),
		stop:   make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Issue mints a new token bound to the user. At capacity the oldest 10%
// are evicted so a burst of dashboard reloads cannot wedge the registry.
func (r *sseTokenRegistry) Issue(userID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate sse token: %w", err)
	}
	token := fmt.Sprintf("sse_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tokens) >= sseTokenCapacity {
		r.evictOldestLocked(sseTokenCapacity / 10)
	} else if len(r.tokens) >= sseTokenCapacity*8/10 {
		r.logger.Warn("SSE token registry nearing capacity", "count", len(r.tokens), "capacity", sseTokenCapacity)
	}

	r.tokens[token] = sseToken{userID: userID, createdAt: time.Now()}
	return token, nil
}

// Claim consumes a token, returning the bound user. A token can be
// claimed exactly once and only within its TTL.
func (r *sseTokenRegistry) Claim(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.tokens[token]
	if !ok {
		return "", false
	}
	delete(r.tokens, token)

	if time.Since(entry.createdAt) > sseTokenTTL {
		return "", false
	}
	return entry.userID, true
}

// Count returns the number of live tokens.
func (r *sseTokenRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// Stop ends the background sweeper.
func (r *sseTokenRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *sseTokenRegistry) sweepLoop() {
	ticker := time.NewTicker(sseSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *sseTokenRegistry) sweep() {
	cutoff := time.Now().Add(-sseTokenTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, entry := range r.tokens {
		if entry.createdAt.Before(cutoff) {
			delete(r.tokens, token)
		}
	}
}

func (r *sseTokenRegistry) evictOldestLocked(n int) {
	type aged struct {
		token     string
		createdAt time.Time
	}
	entries := make([]aged, 0, len(r.tokens))
	for token, entry := range r.tokens {
		entries = append(entries, aged{token, entry.createdAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		delete(r.tokens, e.token)
	}
	r.logger.Warn("SSE token registry at capacity, evicted oldest tokens", "evicted", n)
}
