// Package idempotency suppresses duplicate outbound sends. A Guard remembers
// fingerprints of recently dispatched messages for a short TTL so that
// near-simultaneous retries collapse into a single platform call.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// fingerprintContentPrefix bounds how much content feeds the fingerprint;
// two sends that agree on this prefix are treated as the same message.
// Counted in characters so the cut never splits a multibyte rune.
const fingerprintContentPrefix = 100

// Fingerprint derives the duplicate-detection key for an outbound message.
func Fingerprint(pageID, recipientID, content string) string {
	prefix := content
	if utf8.RuneCountInString(prefix) > fingerprintContentPrefix {
		prefix = string([]rune(prefix)[:fingerprintContentPrefix])
	}
	sum := sha256.Sum256([]byte(pageID + "|" + recipientID + "|" + prefix))
	return hex.EncodeToString(sum[:])
}

// Guard is the duplicate-send suppression store. Implementations are safe
// for concurrent use; an occasional race between Seen and Register is benign
// (at most one duplicate slips through or is suppressed imperfectly).
type Guard interface {
	// Seen reports whether the fingerprint was registered within the TTL.
	Seen(ctx context.Context, fingerprint string) (bool, error)

	// Register records the fingerprint, expiring it after the TTL.
	Register(ctx context.Context, fingerprint string) error

	// Sweep evicts expired entries and returns how many were removed.
	// Backends with native expiry may make this a no-op.
	Sweep(ctx context.Context) (int, error)
}

// MemoryGuard is a process-local Guard backed by a TTL-evicting,
// capacity-bounded map.
type MemoryGuard struct {
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryGuard creates an in-memory guard with the given TTL and capacity.
func NewMemoryGuard(ttl time.Duration, maxEntries int, logger *slog.Logger) *MemoryGuard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryGuard{
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger.With("component", "idempotency_guard"),
		entries:    make(map[string]time.Time),
	}
}

// Seen reports whether the fingerprint was registered within the TTL.
func (g *MemoryGuard) Seen(_ context.Context, fingerprint string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	registeredAt, ok := g.entries[fingerprint]
	if !ok {
		return false, nil
	}
	if time.Since(registeredAt) >= g.ttl {
		delete(g.entries, fingerprint)
		return false, nil
	}
	return true, nil
}

// Register records the fingerprint. When the map is at capacity, expired
// entries are evicted first, then the oldest live entry.
func (g *MemoryGuard) Register(_ context.Context, fingerprint string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.entries) >= g.maxEntries {
		g.evictLocked()
	}

	g.entries[fingerprint] = time.Now()
	return nil
}

// Sweep evicts expired entries and returns how many were removed.
func (g *MemoryGuard) Sweep(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	now := time.Now()
	for fp, registeredAt := range g.entries {
		if now.Sub(registeredAt) >= g.ttl {
			delete(g.entries, fp)
			removed++
		}
	}

	if removed > 0 {
		g.logger.DebugContext(ctx, "Swept expired idempotency entries",
			"removed", removed, "remaining", len(g.entries))
	}
	return removed, nil
}

// Len returns the number of live entries.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// evictLocked drops expired entries, falling back to the oldest entry when
// nothing has expired yet. Caller holds the lock.
func (g *MemoryGuard) evictLocked() {
	now := time.Now()
	evicted := false
	for fp, registeredAt := range g.entries {
		if now.Sub(registeredAt) >= g.ttl {
			delete(g.entries, fp)
			evicted = true
		}
	}
	if evicted {
		return
	}

	var oldestKey string
	var oldestAt time.Time
	for fp, registeredAt := range g.entries {
		if oldestKey == "" || registeredAt.Before(oldestAt) {
			oldestKey = fp
			oldestAt = registeredAt
		}
	}
	if oldestKey != "" {
		delete(g.entries, oldestKey)
	}
}
