// This module implements the far tier: a shared cache over Redis that sits between the near tier
// and the actual computation. Its availability is advisory, never required — when Redis is down or
// misbehaving, every operation degrades to a miss / no-op and the orchestrator simply recomputes.
// Failures are logged and counted, never surfaced to callers. Do not raise invariants here; a dead
// Redis is an external condition, not a bug.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanPageSize bounds how many keys one SCAN page asks for during pattern deletes.
const scanPageSize = 256

// Far is the shared cache tier. Values are JSON-encoded before transmission; a payload that fails
// to encode is not stored, and one that fails to decode reads as a miss.
type Far[V any] struct {
	address   string
	client    *redis.Client // Nil when the tier is configured off (empty address).
	connected atomic.Bool   // Set once Connect has verified the server responds.
}

// NewFar creates a far tier client for the given address. An empty address disables the tier
// entirely; all operations then behave as misses. No connection is made until Connect.
func NewFar[V any](address string) *Far[V] {
	far := &Far[V]{address: address}
	if address != "" {
		far.client = redis.NewClient(&redis.Options{Addr: address})
	}
	return far
}

// Connect verifies the shared tier is reachable. It returns false instead of an error on failure,
// in which case the tier stays in its degraded permanent-miss state until Connect succeeds.
func (f *Far[V]) Connect(ctx context.Context) bool {
	if f.client == nil {
		slog.Info("Far tier is disabled; running with the near tier only.")
		return false
	}
	if err := f.client.Ping(ctx).Err(); err != nil {
		slog.Warn("Far tier connection failed; lookups will recompute.", "address", f.address, "error", err)
		opsMetric.WithLabelValues(tierFar, "error").Inc()
		return false
	}
	f.connected.Store(true)
	slog.Info("Far tier connected.", "address", f.address)
	return true
}

// available reports whether calls should go out to the server at all.
func (f *Far[V]) available() bool {
	return f.client != nil && f.connected.Load()
}

// Get retrieves and decodes a value. Every failure mode — tier unavailable, network error,
// undecodable payload — reads as a miss.
func (f *Far[V]) Get(ctx context.Context, key string) (V, bool /*found*/) {
	if !f.available() {
		return *new(V), false
	}

	payload, err := f.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		opsMetric.WithLabelValues(tierFar, "miss").Inc()
		return *new(V), false
	}
	if err != nil {
		slog.Warn("Far tier read failed; treating as a miss.", "key", key, "error", err)
		opsMetric.WithLabelValues(tierFar, "error").Inc()
		return *new(V), false
	}

	var value V
	if err := json.Unmarshal(payload, &value); err != nil {
		slog.Warn("Far tier payload failed to decode; treating as a miss.", "key", key, "error", err)
		opsMetric.WithLabelValues(tierFar, "error").Inc()
		return *new(V), false
	}
	opsMetric.WithLabelValues(tierFar, "hit").Inc()
	return value, true
}

// Set encodes and stores a value with the given TTL. It returns whether the value was stored;
// callers never need to act on a false return, write-through is best effort.
func (f *Far[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) bool {
	if !f.available() {
		return false
	}

	payload, err := json.Marshal(value)
	if err != nil {
		slog.Warn("Value failed to encode for the far tier; not stored.", "key", key, "error", err)
		opsMetric.WithLabelValues(tierFar, "error").Inc()
		return false
	}
	if err := f.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		slog.Warn("Far tier write failed.", "key", key, "error", err)
		opsMetric.WithLabelValues(tierFar, "error").Inc()
		return false
	}
	opsMetric.WithLabelValues(tierFar, "set").Inc()
	return true
}

// Invalidate removes one key. Returns whether a key was actually deleted.
func (f *Far[V]) Invalidate(ctx context.Context, key string) bool {
	if !f.available() {
		return false
	}
	deleted, err := f.client.Del(ctx, key).Result()
	if err != nil {
		slog.Warn("Far tier invalidation failed.", "key", key, "error", err)
		opsMetric.WithLabelValues(tierFar, "error").Inc()
		return false
	}
	return deleted > 0
}

// ClearMatching deletes every key matching the given glob pattern via a scan-then-bulk-delete.
// The semantics are fire-and-forget: the scan is not atomic with concurrent writers, and a partial
// delete on error is acceptable — remaining entries age out via their TTLs. Returns how many keys
// were deleted.
func (f *Far[V]) ClearMatching(ctx context.Context, pattern string) int {
	if !f.available() {
		return 0
	}

	deleted := 0
	var cursor uint64
	for {
		page, next, err := f.client.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			slog.Warn("Far tier scan failed; pattern clear is partial.", "pattern", pattern, "error", err)
			opsMetric.WithLabelValues(tierFar, "error").Inc()
			return deleted
		}
		if len(page) > 0 {
			count, err := f.client.Del(ctx, page...).Result()
			if err != nil {
				slog.Warn("Far tier bulk delete failed; pattern clear is partial.",
					"pattern", pattern, "error", err)
				opsMetric.WithLabelValues(tierFar, "error").Inc()
				return deleted
			}
			deleted += int(count)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	slog.Info("Far tier pattern clear finished.", "pattern", pattern, "deleted", deleted)
	return deleted
}

// Close releases the underlying client. The tier reads as unavailable afterwards.
func (f *Far[V]) Close() error {
	f.connected.Store(false)
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
